package session

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/domatlas/history"
	"github.com/hazyhaar/domatlas/htmlscan"
	"github.com/hazyhaar/domatlas/rodscan"
)

// Scanner backends.
const (
	ScannerRod  = "rod"
	ScannerHTML = "html"
)

// Config is the top-level domatlas configuration.
type Config struct {
	// Scanner selects the backend: rod (live Chrome) or html (static).
	Scanner string `yaml:"scanner"`

	// Addr is the HTTP listen address when serving.
	Addr string `yaml:"addr"`

	// DBPath is the SQLite file for history export persistence. Empty
	// disables persistence.
	DBPath string `yaml:"db_path"`

	// CacheTTL bounds reuse of a built tree. Non-positive disables the
	// cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	History history.Config        `yaml:"history"`
	Browser rodscan.BrowserConfig `yaml:"browser"`
	Rod     rodscan.Config        `yaml:"rod"`
	HTML    htmlscan.Config       `yaml:"html"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.defaults()
	return cfg
}

func (c *Config) defaults() {
	if c.Scanner == "" {
		c.Scanner = ScannerRod
	}
	if c.Addr == "" {
		c.Addr = ":8470"
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Second
	}
}

// Validate checks field constraints after defaults are applied.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Scanner, validation.Required,
			validation.In(ScannerRod, ScannerHTML)),
		validation.Field(&c.Addr, validation.Required),
	)
}

// LoadConfig reads a YAML configuration file, applies defaults, and
// validates.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("session: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("session: parse config: %w", err)
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session: invalid config: %w", err)
	}
	return &cfg, nil
}
