// Package srun implements the SRUN captive-portal authentication exchange:
// challenge fetch, credential derivation and the bounded-retry portal submission.
package srun

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/udisondev/gosrun/internal/netutil"
)

const (
	PathChallenge = "/cgi-bin/get_challenge"
	PathPortal    = "/cgi-bin/srun_portal"

	userAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"
	maxBodySize = 64 << 10
)

// HTTPDoer sends a single HTTP request.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFactory returns the doer for requests that must originate from bindIP.
// bindIP is empty when the session does not ask for strict binding.
type HTTPFactory func(bindIP string) (HTTPDoer, error)

// Prober answers whether the host already has network access.
type Prober interface {
	Reachable(ctx context.Context, bindIP string) bool
}

// Observer receives per-request and per-call events, e.g. for metrics.
type Observer interface {
	ObserveRequest(endpoint string, err error)
	ObserveResult(action Action, outcome Outcome, err error)
}

// Option is a functional option for Client configuration.
type Option func(*Client)

// WithHTTPFactory replaces the transport used for controller requests.
func WithHTTPFactory(f HTTPFactory) Option {
	return func(c *Client) { c.httpFactory = f }
}

// WithHTTPOptions sets the timeouts of the default transport.
func WithHTTPOptions(opts netutil.HTTPOptions) Option {
	return func(c *Client) { c.httpOpts = opts }
}

// WithProber enables the pre-flight reachability check before login.
func WithProber(p Prober) Option {
	return func(c *Client) { c.prober = p }
}

// WithObserver attaches an event observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides the time source for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithSleep overrides how the client waits between login attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithCallback changes the JSONP callback name.
func WithCallback(name string) Option {
	return func(c *Client) { c.callback = name }
}

// Client talks to one SRUN controller. It holds no per-call state and is safe for concurrent use.
type Client struct {
	baseURL  *url.URL
	callback string

	httpFactory HTTPFactory
	httpOpts    netutil.HTTPOptions
	prober      Prober
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewClient creates a client for the controller at server.
// A server without scheme ("10.0.0.1") is reached over plain http.
func NewClient(server string, opts ...Option) (*Client, error) {
	base, err := ParseServer(server)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:  base,
		callback: DefaultCallback,
		logger:   slog.Default(),
		now:      time.Now,
		sleep:    sleepContext,
		clients:  make(map[string]*http.Client),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.httpFactory == nil {
		c.httpFactory = c.cachedHTTPClient
	}
	return c, nil
}

// ParseServer normalizes a controller address into a base URL.
func ParseServer(server string) (*url.URL, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return nil, fmt.Errorf("empty server address")
	}
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("parsing server %q: %w", server, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server %q has no host", server)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// BaseURL returns the controller base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// cachedHTTPClient keeps one *http.Client per source address so connections are reused.
func (c *Client) cachedHTTPClient(bindIP string) (HTTPDoer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[bindIP]; ok {
		return hc, nil
	}
	opts := c.httpOpts
	opts.BindIP = bindIP
	hc, err := netutil.NewHTTPClient(opts)
	if err != nil {
		return nil, err
	}
	c.clients[bindIP] = hc
	return hc, nil
}

func bindIP(s Session, at *Attempt) string {
	if !s.StrictBind {
		return ""
	}
	return at.IP
}

// get issues one GET against path and decodes the JSONP body into out.
func (c *Client) get(ctx context.Context, s Session, at *Attempt, path string, params url.Values, out any) (err error) {
	defer func() {
		if c.observer != nil {
			c.observer.ObserveRequest(path, err)
		}
	}()

	params.Set("callback", c.callback)
	u := c.baseURL.JoinPath(path)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("building request %s: %w", path, err)
	}
	req.Header.Set("User-Agent", userAgent)

	doer, err := c.httpFactory(bindIP(s, at))
	if err != nil {
		return fmt.Errorf("creating http client: %w", err)
	}

	c.logger.Debug("controller request", "path", path, "action", params.Get("action"), "ip", params.Get("ip"))
	resp, err := doer.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d: %w", path, resp.StatusCode, ErrUnexpectedStatus)
	}

	payload, err := unwrapJSONP(body, c.callback)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decoding %s response: %v: %w", path, err, ErrMalformedResponse)
	}
	return nil
}

func (c *Client) observeResult(action Action, outcome Outcome, err error) {
	if c.observer != nil {
		c.observer.ObserveResult(action, outcome, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
