package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cirrusvault/cirrus-go/cmd/cirrus-probe/probe"
	"github.com/cirrusvault/cirrus-go/pkg/backend"
	"github.com/cirrusvault/cirrus-go/pkg/backendaddr"
	"github.com/cirrusvault/cirrus-go/pkg/connection"
	"github.com/cirrusvault/cirrus-go/pkg/identity"
)

// Config is the probe configuration file.
type Config struct {
	Address     string        `yaml:"address"`
	CAFile      string        `yaml:"ca_file"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	LogLevel    string        `yaml:"log_level"`
	ProtocolLog string        `yaml:"protocol_log"`

	// TraceProtocol also logs protocol events through the operational logger.
	TraceProtocol bool `yaml:"trace_protocol"`

	Identity IdentityConfig `yaml:"identity"`
	Retry    RetryConfig    `yaml:"retry"`
	Pool     PoolConfig     `yaml:"pool"`

	Count       int           `yaml:"count"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// IdentityConfig selects the identity. An administration token wins over
// a device; neither means anonymous.
type IdentityConfig struct {
	Device     string `yaml:"device"`
	Seed       string `yaml:"seed"`
	AdminToken string `yaml:"admin_token"`
}

// RetryConfig configures connection attempts.
type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Initial  time.Duration `yaml:"initial"`
	Max      time.Duration `yaml:"max"`
}

// PoolConfig sizes the device transport pool.
type PoolConfig struct {
	Capacity  int           `yaml:"capacity"`
	Keepalive time.Duration `yaml:"keepalive"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:    "warn",
		Count:       1,
		Concurrency: 1,
		Timeout:     30 * time.Second,
		Retry: RetryConfig{
			Attempts: connection.DefaultMaxAttempts,
		},
	}
}

// loadConfig reads path over the defaults. An empty path returns the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// options converts the configuration into probe options. The backend
// logger and protocol logger are left to the caller.
func (c Config) options() (probe.Options, error) {
	if c.Address == "" {
		return probe.Options{}, errors.New("no backend address (use -addr or address:)")
	}
	addr, err := backendaddr.Parse(c.Address)
	if err != nil {
		return probe.Options{}, err
	}
	id, err := c.Identity.material()
	if err != nil {
		return probe.Options{}, err
	}

	return probe.Options{
		Backend: backend.Config{
			CAFile:      c.CAFile,
			DialTimeout: c.DialTimeout,
		},
		Addr:     addr,
		Identity: id,
		Retry: connection.RetryConfig{
			MaxAttempts: c.Retry.Attempts,
			Backoff: connection.BackoffConfig{
				Initial: c.Retry.Initial,
				Max:     c.Retry.Max,
				Jitter:  connection.JitterFactor,
			},
		},
		Pool: backend.PoolConfig{
			Capacity:  c.Pool.Capacity,
			Keepalive: c.Pool.Keepalive,
		},
	}, nil
}

func (c IdentityConfig) material() (identity.Material, error) {
	switch {
	case c.AdminToken != "":
		return identity.Administration(c.AdminToken), nil
	case c.Device != "":
		dev, err := identity.ParseDeviceID(c.Device)
		if err != nil {
			return identity.Material{}, err
		}
		if c.Seed == "" {
			return identity.Material{}, fmt.Errorf("device %s needs a seed", dev)
		}
		seed, err := base64.RawURLEncoding.DecodeString(c.Seed)
		if err != nil {
			return identity.Material{}, fmt.Errorf("bad seed: %w", err)
		}
		key, err := identity.SigningKeyFromSeed(seed)
		if err != nil {
			return identity.Material{}, err
		}
		return identity.Device(dev, key), nil
	default:
		return identity.Anonymous(), nil
	}
}
