package platform

import (
	"errors"
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/lignum/dpp/pkg/registry"
)

// Config is the process configuration, read from DPP_* environment
// variables. Command line flags override individual fields.
type Config struct {
	Dir            string   `env:"DPP_DIR" envDefault:"."`
	Addr           string   `env:"DPP_ADDR" envDefault:":8080"`
	IDDomain       string   `env:"DPP_ID_DOMAIN" envDefault:"dpp.local"`
	Pattern        string   `env:"DPP_PATTERN" envDefault:"**/*.{jsonld,json,yaml,yml}"`
	Persist        bool     `env:"DPP_PERSIST" envDefault:"false"`
	Watch          bool     `env:"DPP_WATCH" envDefault:"false"`
	SkipInvalid    bool     `env:"DPP_SKIP_INVALID" envDefault:"false"`
	RegistryPolicy string   `env:"DPP_REGISTRY_POLICY" envDefault:"last-write-wins"`
	SystemDir      string   `env:"DPP_SYSTEM_DIR" envDefault:".dpp"`
	HistoryLimit   int      `env:"DPP_HISTORY_LIMIT" envDefault:"64"`
	CORSOrigins    []string `env:"DPP_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// LoadEnv loads the env files that exist and returns how many were found.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// LoadConfig reads optional env files (variables already set win) and parses
// the environment into a validated Config.
func LoadConfig(envFiles ...string) (Config, error) {
	if _, err := LoadEnv(envFiles); err != nil {
		return Config{}, fmt.Errorf("failed to load env files: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c Config) Validate() error {
	if c.Dir == "" {
		return errors.New("passport directory must not be empty")
	}
	if !doublestar.ValidatePattern(c.Pattern) {
		return fmt.Errorf("invalid file pattern %q", c.Pattern)
	}
	if _, err := registry.ParsePolicy(c.RegistryPolicy); err != nil {
		return err
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history limit must be non-negative, got %d", c.HistoryLimit)
	}
	return nil
}
