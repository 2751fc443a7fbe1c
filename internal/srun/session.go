package srun

import (
	"fmt"
	"log/slog"
	"time"
)

// Protocol defaults used by the stock web portal.
const (
	DefaultACID       = 12
	DefaultN          = 200
	DefaultType       = 1
	DefaultOS         = "Windows 10"
	DefaultName       = "Windows"
	DefaultRetryTimes = 10
	DefaultRetryDelay = 300 * time.Millisecond
)

// Session is the configuration of one login or logout call.
// It is a plain value: the client never modifies it. Per-call state lives in Attempt.
type Session struct {
	Username string
	Password string

	// IP is the address being authenticated. It may be empty when DetectIP is set.
	IP string
	// DetectIP lets the controller's view of the client address replace IP.
	DetectIP bool
	// StrictBind makes every request originate from IP.
	StrictBind bool

	ACID        int
	N           int
	Type        int
	DoubleStack bool
	OS          string
	Name        string

	RetryTimes int
	RetryDelay time.Duration
}

// DefaultSession returns a Session with the stock protocol parameters.
func DefaultSession(username, password, ip string) Session {
	return Session{
		Username:   username,
		Password:   password,
		IP:         ip,
		ACID:       DefaultACID,
		N:          DefaultN,
		Type:       DefaultType,
		OS:         DefaultOS,
		Name:       DefaultName,
		RetryTimes: DefaultRetryTimes,
		RetryDelay: DefaultRetryDelay,
	}
}

// Validate checks the fields that do not depend on the network.
func (s Session) Validate() error {
	if s.Username == "" {
		return fmt.Errorf("username is empty: %w", ErrInvalidSession)
	}
	if s.RetryTimes < 1 {
		return fmt.Errorf("retry times %d < 1: %w", s.RetryTimes, ErrInvalidSession)
	}
	if s.RetryDelay < 0 {
		return fmt.Errorf("negative retry delay %s: %w", s.RetryDelay, ErrInvalidSession)
	}
	return nil
}

// LogValue keeps the password out of logs.
func (s Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", maskSecret(s.Password)),
		slog.String("ip", s.IP),
		slog.Bool("detect_ip", s.DetectIP),
		slog.Bool("strict_bind", s.StrictBind),
		slog.Int("acid", s.ACID),
	)
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "******"
}

func (s Session) doubleStack() string {
	if s.DoubleStack {
		return "1"
	}
	return "0"
}

// Attempt is the mutable state of a single Login or Logout call.
type Attempt struct {
	// Token is the challenge issued for this call. It is never reused by another call.
	Token string
	// IP starts as Session.IP and may be replaced by the controller-observed address.
	IP string
	// Time is the request timestamp, back-dated by two seconds and shared by every request of the call.
	Time int64
}

func newAttempt(s Session, now time.Time) *Attempt {
	return &Attempt{
		IP:   s.IP,
		Time: now.Unix() - 2,
	}
}
