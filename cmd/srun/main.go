package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/udisondev/gosrun/internal/config"
	"github.com/udisondev/gosrun/internal/crypto"
	"github.com/udisondev/gosrun/internal/login"
	"github.com/udisondev/gosrun/internal/metrics"
	"github.com/udisondev/gosrun/internal/netutil"
	"github.com/udisondev/gosrun/internal/srun"
)

const usage = `usage: srun ACTION [flags]

actions:
  login    log in the configured users
  logout   log out the configured users
  watch    keep users online, re-login when the probe fails
  decode   decode a captured info value: srun decode -t TOKEN INFO
  ifaces   list local interface addresses

flags:
`

const selectTries = 3

// errUsersFailed means at least one user call failed; details are already logged.
var errUsersFailed = errors.New("some users failed")

// terminal is the process' interaction surface, replaced in tests.
type terminal struct {
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	interactive bool
	password    func() (string, error)
}

func osTerminal() terminal {
	fd := int(os.Stdin.Fd())
	return terminal{
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		interactive: term.IsTerminal(fd),
		password: func() (string, error) {
			fmt.Fprint(os.Stderr, "password: ")
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			return string(b), err
		},
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, os.Args[1:], osTerminal()); err != nil {
		if !errors.Is(err, errUsersFailed) && !errors.Is(err, flag.ErrHelp) {
			slog.Error("fatal", "err", err)
		}
		os.Exit(1)
	}
}

type options struct {
	configPath string
	server     string
	username   string
	password   string
	ip         string
	token      string
	detectIP   bool
	strictBind bool
	verbose    bool
}

func parseArgs(args []string, stderr io.Writer) (string, options, []string, error) {
	var opts options
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		fmt.Fprint(stderr, usage)
		return "", opts, nil, errors.New("missing action")
	}
	action := args[0]

	fs := flag.NewFlagSet(action, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "c", "", "config file (YAML or JSON)")
	fs.StringVar(&opts.server, "s", "", "controller address (default "+config.DefaultServer+")")
	fs.StringVar(&opts.username, "u", "", "username")
	fs.StringVar(&opts.password, "p", "", "password, prompted when omitted on a terminal")
	fs.StringVar(&opts.ip, "i", "", "address to authenticate")
	fs.StringVar(&opts.token, "t", "", "challenge token (decode)")
	fs.BoolVar(&opts.detectIP, "d", false, "use the address seen by the controller")
	fs.BoolVar(&opts.strictBind, "b", false, "send requests from the authenticated address")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")

	if err := fs.Parse(args[1:]); err != nil {
		return "", opts, nil, err
	}
	return action, opts, fs.Args(), nil
}

func run(ctx context.Context, args []string, tm terminal) error {
	action, opts, rest, err := parseArgs(args, tm.stderr)
	if err != nil {
		return err
	}

	switch action {
	case "decode":
		return runDecode(opts, rest, tm.stdout)
	case "ifaces":
		return runIfaces(tm.stdout)
	case "login", "logout", "watch":
	default:
		fmt.Fprint(tm.stderr, usage)
		return fmt.Errorf("unknown action %q", action)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := cfg.SlogLevel()
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(tm.stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := applyFlags(&cfg, opts, tm); err != nil {
		return err
	}

	sessions, err := cfg.Sessions(netutil.IPByInterface)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return errors.New("no users: pass -u or list users in the config file")
	}
	logger.Debug("config loaded", "server", cfg.Server, "users", len(sessions), "detect_ip", cfg.DetectIP)

	m := metrics.New()
	clientOpts := []srun.Option{
		srun.WithHTTPOptions(cfg.HTTPOptions()),
		srun.WithLogger(logger),
		srun.WithObserver(m),
	}
	if cfg.Probe.Address != "" {
		clientOpts = append(clientOpts, srun.WithProber(netutil.TCPProber{
			Address: cfg.Probe.Address,
			Timeout: cfg.Probe.Timeout,
		}))
	}
	client, err := srun.NewClient(cfg.Server, clientOpts...)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}

	mgr := login.NewManager(client, sessions,
		login.WithParallel(cfg.Parallel),
		login.WithStatusRecorder(m),
		login.WithLogger(logger),
	)

	switch action {
	case "login":
		return report(tm.stdout, mgr.LoginAll(ctx))
	case "logout":
		return report(tm.stdout, mgr.LogoutAll(ctx))
	default:
		return runWatch(ctx, cfg, mgr, m)
	}
}

// applyFlags lets command-line values override the loaded config. A -u user replaces the
// users from the file.
func applyFlags(cfg *config.Config, opts options, tm terminal) error {
	if opts.server != "" {
		cfg.Server = opts.server
	}
	if opts.detectIP {
		cfg.DetectIP = true
	}
	if opts.strictBind {
		cfg.StrictBind = true
	}
	if opts.username == "" {
		return nil
	}

	user := config.User{Username: opts.username, Password: opts.password, IP: opts.ip}
	if user.Password == "" {
		if !tm.interactive || tm.password == nil {
			return errors.New("password is required: pass -p")
		}
		pw, err := tm.password()
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		user.Password = pw
	}
	if user.IP == "" && !cfg.DetectIP && tm.interactive {
		addrs, err := netutil.InterfaceAddrs()
		if err != nil {
			return err
		}
		ip, err := selectIP(tm.stdin, tm.stderr, addrs)
		if err != nil {
			return err
		}
		user.IP = ip
	}

	cfg.Users = []config.User{user}
	return cfg.Validate()
}

// selectIP asks which local address to authenticate, up to selectTries times.
func selectIP(in io.Reader, out io.Writer, addrs []netutil.InterfaceAddr) (string, error) {
	if len(addrs) == 0 {
		return "", errors.New("no usable local addresses, pass -i or -d")
	}
	if len(addrs) == 1 {
		return addrs[0].IP.String(), nil
	}

	for i, a := range addrs {
		fmt.Fprintf(out, "%2d. %s\n", i+1, a)
	}

	sc := bufio.NewScanner(in)
	for range selectTries {
		fmt.Fprintf(out, "select address [1-%d]: ", len(addrs))
		if !sc.Scan() {
			break
		}
		n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err == nil && n >= 1 && n <= len(addrs) {
			return addrs[n-1].IP.String(), nil
		}
		fmt.Fprintln(out, "invalid choice")
	}
	return "", errors.New("no address selected")
}

func report(w io.Writer, reports []login.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range reports {
		if r.Err != nil {
			fmt.Fprintf(tw, "%s\terror\t%s\t%v\n", r.Username, r.Result.IP, r.Err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Username, r.Result.Outcome, r.Result.IP, r.Result.Response.Message())
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if login.Errored(reports) > 0 {
		return errUsersFailed
	}
	return nil
}

func runWatch(ctx context.Context, cfg config.Config, mgr *login.Manager, m *metrics.Metrics) error {
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Watch.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.Watch.MetricsAddr, m)
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("watching users", "interval", cfg.Watch.Interval, "probe", cfg.Probe.Address)
		return mgr.Watch(gctx, cfg.Watch.Interval)
	})

	return g.Wait()
}

func runDecode(opts options, rest []string, w io.Writer) error {
	if opts.token == "" || len(rest) != 1 {
		return errors.New("usage: srun decode -t TOKEN INFO")
	}
	info, err := crypto.DecodeInfo(rest[0], opts.token)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(info)
}

func runIfaces(w io.Writer) error {
	addrs, err := netutil.InterfaceAddrs()
	if err != nil {
		return err
	}
	for _, a := range addrs {
		fmt.Fprintln(w, a)
	}
	return nil
}
