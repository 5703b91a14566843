// Command cirrus-mockbackend runs an in-process backend for manual testing
// of clients such as cirrus-probe.
//
// The backend serves the handshake for the organizations and devices
// declared in the configuration file, plus the ping command.
//
// Usage:
//
//	cirrus-mockbackend [flags]
//
// Flags:
//
//	-config string        YAML configuration file
//	-listen string        Listen address (default "127.0.0.1:6777")
//	-tls                  Serve TLS with a generated CA
//	-admin-token string   Accepted administration token
//	-org string           Organization to create (repeatable: comma separated)
//	-device string        Device to create in the first organization (user@device)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  Write protocol events to this file
//
// Example configuration:
//
//	listen: 127.0.0.1:6777
//	admin_token: s3cr3t
//	organizations:
//	  - id: acme
//	    devices:
//	      - id: alice@laptop
//	    revoked: [bob@phone]
//	behavior:
//	  challenge_delay: 100ms
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cirrusvault/cirrus-go/internal/backendtest"
	"github.com/cirrusvault/cirrus-go/pkg/identity"
	"github.com/cirrusvault/cirrus-go/pkg/log"
)

var (
	configFile  string
	listen      string
	useTLS      bool
	adminToken  string
	orgs        string
	device      string
	logLevel    string
	protocolLog string
)

func init() {
	flag.StringVar(&configFile, "config", "", "YAML configuration file")
	flag.StringVar(&listen, "listen", "", "Listen address (default \"127.0.0.1:6777\")")
	flag.BoolVar(&useTLS, "tls", false, "Serve TLS with a generated CA")
	flag.StringVar(&adminToken, "admin-token", "", "Accepted administration token")
	flag.StringVar(&orgs, "org", "", "Organizations to create (comma separated)")
	flag.StringVar(&device, "device", "", "Device to create in the first organization (user@device)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default \"info\")")
	flag.StringVar(&protocolLog, "protocol-log", "", "Write protocol events to this file")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&cfg)

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("mock backend failed", "error", err)
		os.Exit(1)
	}
}

// applyFlags overlays explicitly set flags on the configuration file.
func applyFlags(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = listen
		case "tls":
			cfg.TLS = useTLS
		case "admin-token":
			cfg.AdminToken = adminToken
		case "log-level":
			cfg.LogLevel = logLevel
		case "protocol-log":
			cfg.ProtocolLog = protocolLog
		case "org":
			for _, id := range strings.Split(orgs, ",") {
				if id = strings.TrimSpace(id); id != "" {
					cfg.Organizations = append(cfg.Organizations, OrganizationConfig{ID: id})
				}
			}
		}
	})
	if device != "" && len(cfg.Organizations) > 0 {
		cfg.Organizations[0].Devices = append(cfg.Organizations[0].Devices, DeviceConfig{ID: device})
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if level != "" {
		if err := l.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q", level)
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	opts := []backendtest.Option{
		backendtest.WithAddress(cfg.Listen),
		backendtest.WithLogger(logger),
		backendtest.WithBehavior(cfg.Behavior.behavior()),
	}
	if cfg.TLS {
		opts = append(opts, backendtest.WithTLS())
	}
	if cfg.AdminToken != "" {
		opts = append(opts, backendtest.WithAdministrationToken(cfg.AdminToken))
	}
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		defer fl.Close()
		opts = append(opts, backendtest.WithProtocolLogger(fl))
	}

	b, err := backendtest.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer b.Close()

	devices, err := provision(b, cfg.Organizations)
	if err != nil {
		return err
	}

	printBanner(b, cfg, devices)
	<-ctx.Done()

	stats := b.Stats()
	logger.Info("shutting down",
		"accepted", stats.Accepted,
		"handshakes_ok", stats.HandshakesAccepted,
		"handshakes_rejected", stats.HandshakesRejected,
		"requests", stats.Requests)
	return nil
}

func printBanner(b *backendtest.Backend, cfg Config, devices []Provisioned) {
	fmt.Println("Cirrus Mock Backend")
	fmt.Println("===================")
	fmt.Printf("Server:  %s\n", b.ServerAddr())
	if b.UseTLS() {
		fmt.Printf("CA file: %s\n", b.CAFile())
	}
	if cfg.AdminToken != "" {
		fmt.Printf("Admin token: %s\n", cfg.AdminToken)
	}

	for _, oc := range cfg.Organizations {
		org, err := b.OrganizationAddr(identity.OrganizationID(oc.ID))
		if err != nil {
			continue
		}
		boot, _ := b.BootstrapAddr(identity.OrganizationID(oc.ID))
		fmt.Printf("\nOrganization %s\n", oc.ID)
		fmt.Printf("  Address:   %s\n", org)
		fmt.Printf("  Bootstrap: %s\n", boot)
	}

	if len(devices) > 0 {
		fmt.Println("\nDevices:")
		for _, d := range devices {
			fmt.Printf("  %s/%s seed=%s\n", d.Organization, d.Device, d.Seed)
		}
	}
	fmt.Println()
}
