package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"

	"github.com/udisondev/gosrun/internal/netutil"
	"github.com/udisondev/gosrun/internal/srun"
)

// DefaultServer is the controller used when neither config nor flags name one.
const DefaultServer = "http://202.194.15.87"

// Config holds the client configuration: controller, protocol parameters and the users to log in.
// JSON files are valid input too, since YAML is a superset of JSON.
type Config struct {
	// Controller
	Server string `yaml:"server" env:"SRUN_SERVER" validate:"required"`

	// Network identity
	DetectIP    bool `yaml:"detect_ip" env:"SRUN_DETECT_IP"`
	StrictBind  bool `yaml:"strict_bind" env:"SRUN_STRICT_BIND"`
	DoubleStack bool `yaml:"double_stack" env:"SRUN_DOUBLE_STACK"`

	// Protocol parameters
	N    int    `yaml:"n" env:"SRUN_N" validate:"gte=0"`
	Type int    `yaml:"type" env:"SRUN_TYPE" validate:"gte=0"`
	ACID int    `yaml:"acid" env:"SRUN_ACID" validate:"gte=0"`
	OS   string `yaml:"os" env:"SRUN_OS"`
	Name string `yaml:"name" env:"SRUN_NAME"`

	// Retry policy
	RetryDelay int `yaml:"retry_delay" env:"SRUN_RETRY_DELAY" validate:"gte=0"` // ms
	RetryTimes int `yaml:"retry_times" env:"SRUN_RETRY_TIMES" validate:"gte=1"`

	// Transport
	Timeout        time.Duration `yaml:"timeout" env:"SRUN_TIMEOUT" validate:"gte=0"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"SRUN_CONNECT_TIMEOUT" validate:"gte=0"`

	// Batch
	Parallel int `yaml:"parallel" env:"SRUN_PARALLEL" validate:"gte=1"`

	LogLevel string `yaml:"log_level" env:"SRUN_LOG_LEVEL" validate:"oneof=debug info warn error"`

	Probe ProbeConfig `yaml:"probe"`
	Watch WatchConfig `yaml:"watch"`

	Users []User `yaml:"users" validate:"dive"`
}

// ProbeConfig controls the pre-flight reachability check. Empty Address disables it.
type ProbeConfig struct {
	Address string        `yaml:"address" env:"SRUN_PROBE_ADDRESS" validate:"omitempty,hostname_port"`
	Timeout time.Duration `yaml:"timeout" env:"SRUN_PROBE_TIMEOUT" validate:"gte=0"`
}

// WatchConfig controls the keep-alive loop.
type WatchConfig struct {
	Interval    time.Duration `yaml:"interval" env:"SRUN_WATCH_INTERVAL" validate:"gte=0"`
	MetricsAddr string        `yaml:"metrics_addr" env:"SRUN_METRICS_ADDR" validate:"omitempty,hostname_port"`
}

// User is one account from the users list.
// The address comes from IP, else from the interface named IfName, else from detection.
type User struct {
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	IP       string `yaml:"ip" validate:"omitempty,ip"`
	IfName   string `yaml:"if_name"`
}

// Default returns Config with the stock protocol parameters.
func Default() Config {
	return Config{
		Server:         DefaultServer,
		N:              srun.DefaultN,
		Type:           srun.DefaultType,
		ACID:           srun.DefaultACID,
		OS:             srun.DefaultOS,
		Name:           srun.DefaultName,
		RetryDelay:     int(srun.DefaultRetryDelay / time.Millisecond),
		RetryTimes:     srun.DefaultRetryTimes,
		Timeout:        netutil.DefaultHTTPTimeout,
		ConnectTimeout: netutil.DefaultConnectTimeout,
		Parallel:       1,
		LogLevel:       "info",
		Probe: ProbeConfig{
			Timeout: netutil.DefaultProbeTimeout,
		},
		Watch: WatchConfig{
			Interval: time.Minute,
		},
	}
}

// Load reads the config file at path (skipped when path is empty), applies SRUN_* environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HTTPOptions returns the transport settings for the srun client.
func (c Config) HTTPOptions() netutil.HTTPOptions {
	return netutil.HTTPOptions{
		ConnectTimeout: c.ConnectTimeout,
		Timeout:        c.Timeout,
	}
}

// Session builds the srun session for u with the global protocol parameters.
// The address is taken as is; see Sessions for interface resolution.
func (c Config) Session(u User) srun.Session {
	return srun.Session{
		Username:    u.Username,
		Password:    u.Password,
		IP:          u.IP,
		DetectIP:    c.DetectIP,
		StrictBind:  c.StrictBind,
		ACID:        c.ACID,
		N:           c.N,
		Type:        c.Type,
		DoubleStack: c.DoubleStack,
		OS:          c.OS,
		Name:        c.Name,
		RetryTimes:  c.RetryTimes,
		RetryDelay:  time.Duration(c.RetryDelay) * time.Millisecond,
	}
}

// IPResolver maps an interface name to a local address.
type IPResolver func(ifName string) (string, error)

// Sessions builds one session per user, in file order. Users with if_name and no ip get the
// interface address from resolve (netutil.IPByInterface when nil).
func (c Config) Sessions(resolve IPResolver) ([]srun.Session, error) {
	if resolve == nil {
		resolve = netutil.IPByInterface
	}

	sessions := make([]srun.Session, 0, len(c.Users))
	for _, u := range c.Users {
		if u.IP == "" && u.IfName != "" {
			ip, err := resolve(u.IfName)
			if err != nil {
				return nil, fmt.Errorf("resolving address of %s for %s: %w", u.IfName, u.Username, err)
			}
			u.IP = ip
		}
		sessions = append(sessions, c.Session(u))
	}
	return sessions, nil
}
