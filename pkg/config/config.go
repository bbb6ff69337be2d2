// Package config provides configuration structures and loading logic for the
// governance engine and its command line.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/polisai/polis-dao/pkg/domain"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "POLIS_DAO_"

// Config holds the global configuration.
type Config struct {
	Governance GovernanceConfig `yaml:"governance" envPrefix:"GOVERNANCE_"`
	Council    []CouncilMember  `yaml:"council"`
	Storage    StorageConfig    `yaml:"storage" envPrefix:"STORAGE_"`
	Admission  AdmissionConfig  `yaml:"admission" envPrefix:"ADMISSION_"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOGGING_"`
}

// GovernanceConfig seeds the settings of a fresh store.
type GovernanceConfig struct {
	VotePeriod  time.Duration `yaml:"vote_period" env:"VOTE_PERIOD"`
	GracePeriod time.Duration `yaml:"grace_period" env:"GRACE_PERIOD"`
	Policy      Policy        `yaml:"policy" env:"POLICY"`
}

// CouncilMember is an initial council seat.
type CouncilMember struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// StorageConfig selects the store backend.
type StorageConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" env:"PATH"`
}

// AdmissionConfig points at an optional Rego admission policy.
type AdmissionConfig struct {
	PolicyFile string `yaml:"policy_file" env:"POLICY_FILE"`
	Entrypoint string `yaml:"entrypoint" env:"ENTRYPOINT"`
	Watch      bool   `yaml:"watch" env:"WATCH"`
}

// TelemetryConfig holds configuration for OpenTelemetry and the metrics endpoint.
type TelemetryConfig struct {
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	Insecure    bool    `yaml:"insecure" env:"INSECURE"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
	MetricsAddr string  `yaml:"metrics_addr" env:"METRICS_ADDR"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Governance: GovernanceConfig{
			VotePeriod:  7 * 24 * time.Hour,
			GracePeriod: 24 * time.Hour,
			Policy:      Policy(domain.DefaultPolicy()),
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "polis-dao.db",
		},
		Admission: AdmissionConfig{
			Entrypoint: "governance/admission",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "polis-dao",
			Insecure:    true,
			SampleRatio: 1,
			MetricsAddr: ":9464",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
// An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ParseEnv overlays POLIS_DAO_* variables onto target. Unset variables leave
// the existing value alone.
func ParseEnv(target *Config) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Settings converts the governance section into engine settings.
func (c *Config) Settings() domain.Settings {
	return domain.Settings{
		VotePeriod:  c.Governance.VotePeriod,
		GracePeriod: c.Governance.GracePeriod,
		Policy:      domain.PolicyTable(c.Governance.Policy).Clone(),
	}
}

// Members returns the initial council.
func (c *Config) Members() []domain.Member {
	members := make([]domain.Member, 0, len(c.Council))
	for _, m := range c.Council {
		members = append(members, domain.Member{ID: domain.Identity(m.ID), Name: m.Name})
	}
	return members
}

// Validate performs validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Governance.Validate(); err != nil {
		return fmt.Errorf("governance configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Council))
	for i, m := range c.Council {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			return fmt.Errorf("council member %d: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("duplicate council member %q", id)
		}
		seen[id] = true
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage configuration: %w", err)
	}

	if err := c.Admission.Validate(); err != nil {
		return fmt.Errorf("admission configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate checks the governance settings with the same rules the engine uses.
func (c *GovernanceConfig) Validate() error {
	settings := domain.Settings{
		VotePeriod:  c.VotePeriod,
		GracePeriod: c.GracePeriod,
		Policy:      domain.PolicyTable(c.Policy),
	}
	return settings.Validate()
}

// Validate normalizes the driver name.
func (c *StorageConfig) Validate() error {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	switch driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("sqlite driver requires a path")
		}
	default:
		return fmt.Errorf("unknown storage driver %q (expected memory or sqlite)", c.Driver)
	}
	c.Driver = driver
	return nil
}

func (c *AdmissionConfig) Validate() error {
	if c.PolicyFile != "" && strings.TrimSpace(c.Entrypoint) == "" {
		return fmt.Errorf("entrypoint is required when policy_file is set")
	}
	if c.Watch && c.PolicyFile == "" {
		return fmt.Errorf("watch requires policy_file")
	}
	return nil
}

func (c *TelemetryConfig) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sample_ratio must be between 0 and 1, got %v", c.SampleRatio)
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = "polis-dao"
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q (expected debug, info, warn or error)", c.Level)
	}
}

// Policy is a policy table in its configuration form. In YAML each tier is
// {max_amount, votes} where votes is an integer (fixed count) or a two
// element list (ratio). From the environment it is the JSON encoding of
// domain.PolicyTable.
type Policy domain.PolicyTable

type policyItemYAML struct {
	MaxAmount uint64    `yaml:"max_amount"`
	Votes     yaml.Node `yaml:"votes"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	var items []policyItemYAML
	if err := node.Decode(&items); err != nil {
		return err
	}
	table := make(Policy, 0, len(items))
	for i, item := range items {
		votes, err := decodeVotes(&item.Votes)
		if err != nil {
			return fmt.Errorf("policy tier %d: %w", i, err)
		}
		table = append(table, domain.PolicyItem{MaxAmount: domain.Amount(item.MaxAmount), Votes: votes})
	}
	*p = table
	return nil
}

func decodeVotes(node *yaml.Node) (domain.VoteRequirement, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		var n uint64
		if err := node.Decode(&n); err != nil {
			return nil, fmt.Errorf("votes: %w", err)
		}
		return domain.Number{N: n}, nil
	case yaml.SequenceNode:
		var pair []uint64
		if err := node.Decode(&pair); err != nil {
			return nil, fmt.Errorf("votes: %w", err)
		}
		if len(pair) != 2 {
			return nil, fmt.Errorf("votes: ratio needs exactly two numbers, got %d", len(pair))
		}
		return domain.Ratio{Num: pair[0], Den: pair[1]}, nil
	case 0:
		return nil, fmt.Errorf("votes is required")
	default:
		return nil, fmt.Errorf("votes: expected integer or [numerator, denominator] at line %d", node.Line)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (p Policy) MarshalYAML() (any, error) {
	out := make([]map[string]any, 0, len(p))
	for _, item := range p {
		var votes any
		switch v := item.Votes.(type) {
		case domain.Number:
			votes = v.N
		case domain.Ratio:
			votes = []uint64{v.Num, v.Den}
		default:
			return nil, fmt.Errorf("unsupported vote requirement %T", item.Votes)
		}
		out = append(out, map[string]any{"max_amount": uint64(item.MaxAmount), "votes": votes})
	}
	return out, nil
}

// UnmarshalText decodes the JSON form used by POLIS_DAO_GOVERNANCE_POLICY.
func (p *Policy) UnmarshalText(text []byte) error {
	var table domain.PolicyTable
	if err := json.Unmarshal(text, &table); err != nil {
		return fmt.Errorf("decode policy: %w", err)
	}
	*p = Policy(table)
	return nil
}
