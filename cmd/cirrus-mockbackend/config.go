package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cirrusvault/cirrus-go/internal/backendtest"
	"github.com/cirrusvault/cirrus-go/pkg/identity"
	"github.com/cirrusvault/cirrus-go/pkg/wire"
)

// Config is the mock backend configuration file.
type Config struct {
	Listen      string `yaml:"listen"`
	TLS         bool   `yaml:"tls"`
	AdminToken  string `yaml:"admin_token"`
	LogLevel    string `yaml:"log_level"`
	ProtocolLog string `yaml:"protocol_log"`

	Organizations []OrganizationConfig `yaml:"organizations"`
	Behavior      BehaviorConfig       `yaml:"behavior"`
}

// OrganizationConfig declares one organization and its devices.
type OrganizationConfig struct {
	ID      string         `yaml:"id"`
	Devices []DeviceConfig `yaml:"devices"`
	Revoked []string       `yaml:"revoked"`
}

// DeviceConfig declares one device. Seed is the base64url signing key
// seed; a key is generated when it is empty.
type DeviceConfig struct {
	ID   string `yaml:"id"`
	Seed string `yaml:"seed"`
}

// BehaviorConfig mirrors backendtest.Behavior.
type BehaviorConfig struct {
	CloseBeforeChallenge bool          `yaml:"close_before_challenge"`
	ChallengeDelay       time.Duration `yaml:"challenge_delay"`
	ForceResult          string        `yaml:"force_result"`
	ServerAPIVersion     string        `yaml:"server_api_version"`
	SupportedAPIVersions []string      `yaml:"supported_api_versions"`
	CloseAfterHandshake  bool          `yaml:"close_after_handshake"`
}

func defaultConfig() Config {
	return Config{
		Listen:   "127.0.0.1:6777",
		LogLevel: "info",
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

func (b BehaviorConfig) behavior() backendtest.Behavior {
	return backendtest.Behavior{
		CloseBeforeChallenge: b.CloseBeforeChallenge,
		ChallengeDelay:       b.ChallengeDelay,
		ForceResult:          wire.ResultCode(b.ForceResult),
		ServerAPIVersion:     b.ServerAPIVersion,
		SupportedAPIVersions: b.SupportedAPIVersions,
		CloseAfterHandshake:  b.CloseAfterHandshake,
	}
}

// Provisioned is a device registered at startup.
type Provisioned struct {
	Organization identity.OrganizationID
	Device       identity.DeviceID
	Seed         string
}

// provision registers the configured organizations and devices.
func provision(b *backendtest.Backend, orgs []OrganizationConfig) ([]Provisioned, error) {
	var out []Provisioned
	for _, oc := range orgs {
		org := identity.OrganizationID(oc.ID)
		if _, err := b.AddOrganization(org); err != nil {
			return nil, err
		}

		for _, dc := range oc.Devices {
			key, err := deviceKey(dc)
			if err != nil {
				return nil, fmt.Errorf("device %s: %w", dc.ID, err)
			}
			dev := identity.DeviceID(dc.ID)
			if err := b.RegisterDevice(org, dev, key.VerifyKey()); err != nil {
				return nil, err
			}
			out = append(out, Provisioned{
				Organization: org,
				Device:       dev,
				Seed:         base64.RawURLEncoding.EncodeToString(key.Seed()),
			})
		}

		for _, r := range oc.Revoked {
			b.RevokeDevice(org, identity.DeviceID(r))
		}
	}
	return out, nil
}

func deviceKey(dc DeviceConfig) (*identity.SigningKey, error) {
	if dc.Seed == "" {
		return identity.GenerateSigningKey()
	}
	seed, err := base64.RawURLEncoding.DecodeString(dc.Seed)
	if err != nil {
		return nil, fmt.Errorf("bad seed: %w", err)
	}
	return identity.SigningKeyFromSeed(seed)
}
