package config

import (
	"fmt"
	"os"
	"time"

	"github.com/WriteProRO/writeproro-backendv2/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all gateway configuration. It is read once at startup and
// passed by reference into component constructors; there is no runtime
// reconfiguration.
type Config struct {
	Listen      string             `yaml:"listen"`
	Environment string             `yaml:"environment"`
	DBPath      string             `yaml:"db_path"`
	Provider    ProviderConfig     `yaml:"provider"`
	Cache       CacheConfig        `yaml:"cache"`
	Rate        RateConfig         `yaml:"rate"`
	Audit       models.AuditConfig `yaml:"audit"`
	// ExportSecret verifies bearer tokens on the compliance export endpoint.
	ExportSecret string `yaml:"export_secret"`
}

// ProviderConfig defines the upstream text-generation provider.
// Type is "openai" (default) or "anthropic".
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	Type    string        `yaml:"type"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	// NotesPrefixLen is the number of Unicode code points of the normalized
	// notes included in the fingerprint. Near-duplicate notes sharing this
	// prefix intentionally collapse to one cache entry.
	NotesPrefixLen int `yaml:"notes_prefix_len"`
}

// RateConfig controls the two rate-governance tiers.
type RateConfig struct {
	GeneralLimit  int           `yaml:"general_limit"`
	ElevatedLimit int           `yaml:"elevated_limit"`
	Window        time.Duration `yaml:"window"`
	// ElevatedPrefix is the reserved path marker for compliance-sensitive
	// routes; requests under it are checked against both tiers.
	ElevatedPrefix string `yaml:"elevated_prefix"`
}

// IsProduction reports whether full error detail must be withheld from
// caller-visible failure bodies.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:      ":8080",
		Environment: "development",
		DBPath:      "writepro.db",
		Provider: ProviderConfig{
			Name:    "openai",
			Type:    "openai",
			URL:     "https://api.openai.com",
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:        true,
			TTL:            time.Hour,
			NotesPrefixLen: 120,
		},
		Rate: RateConfig{
			GeneralLimit:   100,
			ElevatedLimit:  50,
			Window:         15 * time.Minute,
			ElevatedPrefix: "/api/compliance/elevated/",
		},
		Audit: models.AuditConfig{
			Enabled:       true,
			DBPath:        "writepro_audit.db",
			RetentionDays: 365,
			QueueSize:     1024,
			Workers:       2,
			WriteTimeout:  2 * time.Second,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Rate.GeneralLimit <= 0 || c.Rate.ElevatedLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.Rate.Window <= 0 {
		return fmt.Errorf("rate window must be positive")
	}
	if c.Cache.NotesPrefixLen <= 0 {
		return fmt.Errorf("cache notes_prefix_len must be positive")
	}
	if c.Provider.URL == "" {
		return fmt.Errorf("provider url is required")
	}
	return nil
}
