package relayer

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for the logistics relayer.
type Config struct {
	HostEndpoint  string        `yaml:"host"`
	ChainID       uint64        `yaml:"chain_id"`
	Keystore      string        `yaml:"keystore"`
	PassphraseEnv string        `yaml:"passphrase_env"`
	PollInterval  Duration      `yaml:"poll_interval"`
	DedupTTL      Duration      `yaml:"dedup_ttl"`
	AutoDeliver   bool          `yaml:"auto_deliver"`
	Environment   string        `yaml:"environment"`
	Carrier       CarrierConfig `yaml:"carrier"`
}

// CarrierConfig points at the carrier tracking API.
type CarrierConfig struct {
	BaseURL   string   `yaml:"base_url"`
	APIKeyEnv string   `yaml:"api_key_env"`
	RetryMax  int      `yaml:"retry_max"`
	Timeout   Duration `yaml:"timeout"`

	APIKey string `yaml:"-"`
}

const (
	defaultPollInterval = 30 * time.Second
	defaultDedupTTL     = 30 * time.Minute
	defaultRetryMax     = 3
	defaultTimeout      = 10 * time.Second
)

// LoadConfig reads path and fills defaults. Secrets are resolved from the
// environment variables the file names.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		PollInterval: Duration{defaultPollInterval},
		DedupTTL:     Duration{defaultDedupTTL},
		AutoDeliver:  true,
		Carrier: CarrierConfig{
			RetryMax: defaultRetryMax,
			Timeout:  Duration{defaultTimeout},
		},
	}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalise() error {
	c.HostEndpoint = strings.TrimRight(strings.TrimSpace(c.HostEndpoint), "/")
	if c.HostEndpoint == "" {
		return fmt.Errorf("host endpoint required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain_id required")
	}
	c.Keystore = strings.TrimSpace(c.Keystore)
	if c.Keystore == "" {
		return fmt.Errorf("keystore required")
	}
	c.Carrier.BaseURL = strings.TrimRight(strings.TrimSpace(c.Carrier.BaseURL), "/")
	if c.Carrier.BaseURL == "" {
		return fmt.Errorf("carrier base_url required")
	}
	if env := strings.TrimSpace(c.Carrier.APIKeyEnv); env != "" {
		value := strings.TrimSpace(os.Getenv(env))
		if value == "" {
			return fmt.Errorf("api_key_env %s is empty", env)
		}
		c.Carrier.APIKey = value
	}
	if c.PollInterval.Duration <= 0 {
		c.PollInterval.Duration = defaultPollInterval
	}
	if c.DedupTTL.Duration <= 0 {
		c.DedupTTL.Duration = defaultDedupTTL
	}
	if c.Carrier.RetryMax < 0 {
		c.Carrier.RetryMax = 0
	}
	if c.Carrier.Timeout.Duration <= 0 {
		c.Carrier.Timeout.Duration = defaultTimeout
	}
	return nil
}
