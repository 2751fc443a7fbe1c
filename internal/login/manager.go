// Package login runs srun logins for a list of users: one-shot batches and the keep-alive loop.
package login

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/gosrun/internal/metrics"
	"github.com/udisondev/gosrun/internal/srun"
)

// Authenticator performs the portal actions for one session.
type Authenticator interface {
	Login(ctx context.Context, s srun.Session) (srun.Result, error)
	Logout(ctx context.Context, s srun.Session) (srun.Result, error)
}

// StatusRecorder keeps the last known state per user.
type StatusRecorder interface {
	SetStatus(user string, st metrics.UserStatus)
}

// Report is the result of one user's call in a batch.
type Report struct {
	Username string
	Result   srun.Result
	Err      error
}

// Online reports whether the user has network access after the call.
func (r Report) Online() bool {
	return r.Err == nil && r.Result.Outcome.Online()
}

// ManagerOption is a functional option for Manager configuration.
type ManagerOption func(*Manager)

// WithParallel limits how many users are processed at once. Values below 1 mean 1.
func WithParallel(n int) ManagerOption {
	return func(m *Manager) { m.parallel = max(n, 1) }
}

// WithStatusRecorder records per-user state after every login.
func WithStatusRecorder(r StatusRecorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// Manager drives one Authenticator over a fixed list of sessions.
type Manager struct {
	auth     Authenticator
	sessions []srun.Session
	parallel int
	recorder StatusRecorder
	logger   *slog.Logger
}

// NewManager creates a manager for sessions. Sessions are processed sequentially unless
// WithParallel says otherwise.
func NewManager(auth Authenticator, sessions []srun.Session, opts ...ManagerOption) *Manager {
	m := &Manager{
		auth:     auth,
		sessions: sessions,
		parallel: 1,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// LoginAll logs in every session. A failing user does not stop the others;
// reports come back in session order.
func (m *Manager) LoginAll(ctx context.Context) []Report {
	reports := m.each(ctx, m.auth.Login)
	for _, r := range reports {
		m.record(r)
	}
	return reports
}

// LogoutAll logs out every session, same rules as LoginAll.
func (m *Manager) LogoutAll(ctx context.Context) []Report {
	return m.each(ctx, m.auth.Logout)
}

func (m *Manager) each(ctx context.Context, call func(context.Context, srun.Session) (srun.Result, error)) []Report {
	reports := make([]Report, len(m.sessions))

	var g errgroup.Group
	g.SetLimit(m.parallel)

	for i, s := range m.sessions {
		g.Go(func() error {
			res, err := call(ctx, s)
			reports[i] = Report{Username: s.Username, Result: res, Err: err}
			if err != nil {
				m.logger.Error("srun call failed", "user", s.Username, "action", res.Action, "error", err)
			}
			// Ошибка одного пользователя не отменяет остальных
			return nil
		})
	}
	_ = g.Wait()

	return reports
}

func (m *Manager) record(r Report) {
	if m.recorder == nil {
		return
	}
	st := metrics.UserStatus{
		Online:  r.Online(),
		IP:      r.Result.IP,
		Outcome: r.Result.Outcome.String(),
	}
	if r.Err != nil {
		st.Outcome = "error"
		st.Error = r.Err.Error()
	}
	m.recorder.SetStatus(r.Username, st)
}

// Watch runs LoginAll now and then every interval until ctx is done.
// With a prober on the client, users that are still online are not logged in again.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("watch interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		reports := m.LoginAll(ctx)

		online := 0
		for _, r := range reports {
			if r.Online() {
				online++
			}
		}
		m.logger.Info("watch check finished", "users", len(reports), "online", online)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Errored returns how many reports carry an error.
func Errored(reports []Report) int {
	n := 0
	for _, r := range reports {
		if r.Err != nil {
			n++
		}
	}
	return n
}
