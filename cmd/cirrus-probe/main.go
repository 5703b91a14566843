// Command cirrus-probe connects to a backend and measures ping round trips.
//
// Usage:
//
//	cirrus-probe [flags]
//
// Flags:
//
//	-config string        YAML configuration file
//	-addr string          Backend URL (cirrus://host:port/org?rvk=...)
//	-ca-file string       PEM bundle of trusted CAs (default: $SSL_CAFILE)
//	-device string        Authenticate as this device (user@device)
//	-seed string          Device signing key seed (base64url)
//	-admin-token string   Authenticate with an administration token
//	-count int            Number of pings (default 1)
//	-concurrency int      Pings in flight (default 1)
//	-attempts int         Connection attempts (default 3)
//	-log-level string     Log level: debug, info, warn, error (default "warn")
//	-protocol-log string  Write protocol events to this file
//	-trace                Also log protocol events to stderr
//	-interactive          Start an interactive shell
//
// Examples:
//
//	# Ping a local mock backend as administrator
//	cirrus-probe -addr 'cirrus://127.0.0.1:6777?no_ssl=true' -admin-token secret
//
//	# 100 pings through a device pool, 8 at a time
//	cirrus-probe -config probe.yaml -count 100 -concurrency 8
//
// Configuration file:
//
//	address: cirrus://backend.example.com/acme?rvk=...
//	identity:
//	  device: alice@laptop
//	  seed: AAECAwQF...
//	retry:
//	  attempts: 5
//	  initial: 500ms
//	pool:
//	  capacity: 4
//	  keepalive: 30s
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cirrusvault/cirrus-go/cmd/cirrus-probe/interactive"
	"github.com/cirrusvault/cirrus-go/cmd/cirrus-probe/probe"
	"github.com/cirrusvault/cirrus-go/pkg/backend"
	"github.com/cirrusvault/cirrus-go/pkg/log"
)

var (
	configFile  string
	addr        string
	caFile      string
	device      string
	seed        string
	adminToken  string
	count       int
	concurrency int
	attempts    int
	logLevel    string
	protocolLog string
	trace       bool
	interact    bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "YAML configuration file")
	flag.StringVar(&addr, "addr", "", "Backend URL (cirrus://host:port/org?rvk=...)")
	flag.StringVar(&caFile, "ca-file", "", "PEM bundle of trusted CAs (default: $"+backend.EnvCAFile+")")
	flag.StringVar(&device, "device", "", "Authenticate as this device (user@device)")
	flag.StringVar(&seed, "seed", "", "Device signing key seed (base64url)")
	flag.StringVar(&adminToken, "admin-token", "", "Authenticate with an administration token")
	flag.IntVar(&count, "count", 0, "Number of pings (default 1)")
	flag.IntVar(&concurrency, "concurrency", 0, "Pings in flight (default 1)")
	flag.IntVar(&attempts, "attempts", 0, "Connection attempts (default 3)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default \"warn\")")
	flag.StringVar(&protocolLog, "protocol-log", "", "Write protocol events to this file")
	flag.BoolVar(&trace, "trace", false, "Also log protocol events to stderr")
	flag.BoolVar(&interact, "interactive", false, "Start an interactive shell")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig(configFile)
	if err != nil {
		fatal(err)
	}
	applyFlags(&cfg)

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		fatal(fmt.Errorf("invalid log level %q", cfg.LogLevel))
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts, err := cfg.options()
	if err != nil {
		fatal(err)
	}
	opts.Backend.Logger = logger

	closeLog, err := setupProtocolLog(&opts.Backend, cfg, logger)
	if err != nil {
		fatal(err)
	}
	defer closeLog()

	p, err := probe.New(opts)
	if err != nil {
		fatal(err)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interact {
		runInteractive(ctx, p, cfg.Timeout, logger, level)
		return
	}

	if err := runBatch(ctx, p, cfg); err != nil {
		closeLog()
		p.Close()
		fatal(err)
	}
}

// applyFlags overlays explicitly set flags on the configuration file.
func applyFlags(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Address = addr
		case "ca-file":
			cfg.CAFile = caFile
		case "device":
			cfg.Identity.Device = device
		case "seed":
			cfg.Identity.Seed = seed
		case "admin-token":
			cfg.Identity.AdminToken = adminToken
		case "count":
			cfg.Count = count
		case "concurrency":
			cfg.Concurrency = concurrency
		case "attempts":
			cfg.Retry.Attempts = attempts
		case "log-level":
			cfg.LogLevel = logLevel
		case "protocol-log":
			cfg.ProtocolLog = protocolLog
		case "trace":
			cfg.TraceProtocol = trace
		}
	})
}

// setupProtocolLog wires the file and trace protocol loggers into bc.
func setupProtocolLog(bc *backend.Config, cfg Config, logger *slog.Logger) (func(), error) {
	var loggers []log.Logger
	closeFn := func() {}

	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, fmt.Errorf("open protocol log: %w", err)
		}
		loggers = append(loggers, fl)
		closeFn = func() { _ = fl.Close() }
	}
	if cfg.TraceProtocol {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}

	switch len(loggers) {
	case 0:
	case 1:
		bc.ProtocolLogger = loggers[0]
	default:
		bc.ProtocolLogger = log.NewMultiLogger(loggers...)
	}
	return closeFn, nil
}

func runBatch(ctx context.Context, p *probe.Prober, cfg Config) error {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	fmt.Printf("Probing %s\n", p.Describe())

	if cfg.Count <= 1 {
		res, err := p.Ping(ctx, "cirrus-probe")
		if err != nil {
			return err
		}
		fmt.Printf("%q from %s in %s\n", res.Reply, res.ConnID, res.RTT.Round(time.Microsecond))
		return nil
	}

	report, err := p.Burst(ctx, cfg.Count, cfg.Concurrency)
	interactive.PrintReport(os.Stdout, report)
	if err != nil {
		return err
	}
	if stats, ok := p.PoolStats(); ok {
		fmt.Printf("pool: created=%d discarded=%d idle=%d\n", stats.Created, stats.Discarded, stats.Idle)
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d pings failed", report.Failed, report.Count)
	}
	return nil
}

func runInteractive(ctx context.Context, p *probe.Prober, timeout time.Duration, logger *slog.Logger, level slog.Level) {
	shell, err := interactive.New(p, timeout)
	if err != nil {
		logger.Error("interactive mode unavailable", "error", err)
		return
	}
	// Route logs through readline so they do not garble the prompt.
	slog.SetDefault(slog.New(slog.NewTextHandler(shell.Stdout(), &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	shell.Run(ctx, cancel)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
