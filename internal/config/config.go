// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/spetr/localrouter/pkg/provider"
	"github.com/spetr/localrouter/pkg/types"
)

// Config represents the complete configuration.
type Config struct {
	Mode      string                    `mapstructure:"mode" yaml:"mode"` // "auto" or a backend name
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Probe     ProbeConfig               `mapstructure:"probe" yaml:"probe"`
	History   HistoryConfig             `mapstructure:"history" yaml:"history"`
	Logging   LoggingConfig             `mapstructure:"logging" yaml:"logging"`
}

// ProviderConfig contains per-backend configuration.
type ProviderConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`     // API endpoint
	Model     string `mapstructure:"model" yaml:"model"`           // model name
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`       // API key, local servers ignore it
	Python    string `mapstructure:"python" yaml:"python"`         // interpreter executable (pyscript)
	Module    string `mapstructure:"module" yaml:"module"`         // bindings module (pyscript)
	ModelPath string `mapstructure:"model_path" yaml:"model_path"` // local model file (pyscript)
}

// ProbeConfig contains availability probing configuration.
type ProbeConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"` // per-backend probe timeout
}

// HistoryConfig contains probe history configuration.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Keep    int  `mapstructure:"keep" yaml:"keep"` // probe batches to retain
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// DefaultConfig returns the default configuration. Every known backend
// gets an entry with its registry defaults.
func DefaultConfig() *Config {
	providers := make(map[string]ProviderConfig, len(provider.Kinds()))
	for _, kind := range provider.Kinds() {
		info, _ := provider.Lookup(kind)
		pc := ProviderConfig{
			Endpoint: info.DefaultEndpoint,
			Model:    info.DefaultModel,
		}
		if info.Transport == provider.TransportSubprocess {
			pc.Python = "python3"
			pc.Module = "gpt4all"
		}
		providers[string(kind)] = pc
	}

	return &Config{
		Mode:      "auto",
		Providers: providers,
		Probe: ProbeConfig{
			Timeout: 1 * time.Second,
		},
		History: HistoryConfig{
			Enabled: true,
			Keep:    1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Dir returns the path to the .localrouter directory.
func Dir(baseDir string) string {
	return filepath.Join(baseDir, ".localrouter")
}

// Path returns the path to config.yaml.
func Path(baseDir string) string {
	return filepath.Join(Dir(baseDir), "config.yaml")
}

// HistoryDBPath returns the path to history.db.
func HistoryDBPath(baseDir string) string {
	return filepath.Join(Dir(baseDir), "history.db")
}

// DefaultBaseDir returns the user's home directory, falling back to the
// current directory when it cannot be determined.
func DefaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// Load loads configuration from file, falling back to defaults.
func Load(baseDir string) (*Config, []string, error) {
	cfg := DefaultConfig()
	warnings := []string{}

	configPath := Path(baseDir)

	// Check if config exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		warnings = append(warnings, "No config file found, using defaults")
		return cfg, warnings, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults for missing values
	if cfg.Mode == "" {
		cfg.Mode = "auto"
		warnings = append(warnings, "Using default mode: auto")
	}
	if cfg.Probe.Timeout == 0 {
		cfg.Probe.Timeout = 1 * time.Second
	}
	if cfg.History.Keep == 0 {
		cfg.History.Keep = 1000
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	for _, kind := range provider.Kinds() {
		info, _ := provider.Lookup(kind)
		pc := cfg.Providers[string(kind)]
		if pc.Endpoint == "" {
			pc.Endpoint = info.DefaultEndpoint
		}
		if pc.Model == "" {
			pc.Model = info.DefaultModel
		}
		if info.Transport == provider.TransportSubprocess {
			if pc.Python == "" {
				pc.Python = "python3"
			}
			if pc.Module == "" {
				pc.Module = "gpt4all"
			}
		}
		cfg.Providers[string(kind)] = pc
	}

	return cfg, warnings, nil
}

// Save saves configuration to file.
func Save(baseDir string, cfg *Config) error {
	configDir := Dir(baseDir)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(Path(baseDir))
	v.SetConfigType("yaml")

	// Set all values
	v.Set("mode", cfg.Mode)
	v.Set("providers", cfg.Providers)
	v.Set("probe", cfg.Probe)
	v.Set("history", cfg.History)
	v.Set("logging", cfg.Logging)

	return v.WriteConfig()
}

// Validate validates the configuration.
func Validate(cfg *Config) []error {
	var errs []error

	// Validate mode
	if cfg.Mode != "auto" {
		if !provider.Known(types.Kind(cfg.Mode)) {
			errs = append(errs, fmt.Errorf("%w: invalid mode: %s (valid: auto or a backend name)", types.ErrInvalidConfig, cfg.Mode))
		}
	}

	// Validate provider entries
	for name, pc := range cfg.Providers {
		info, known := provider.Lookup(types.Kind(name))
		if !known {
			errs = append(errs, fmt.Errorf("%w: unknown provider: %s", types.ErrInvalidConfig, name))
			continue
		}
		if info.Transport == provider.TransportSubprocess {
			continue
		}
		if pc.Endpoint != "" {
			if u, err := url.Parse(pc.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
				errs = append(errs, fmt.Errorf("%w: %s: malformed endpoint: %s", types.ErrInvalidConfig, name, pc.Endpoint))
			}
		}
	}

	if cfg.Probe.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%w: probe timeout must not be negative", types.ErrInvalidConfig))
	}
	if cfg.History.Keep < 0 {
		errs = append(errs, fmt.Errorf("%w: history keep must not be negative", types.ErrInvalidConfig))
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "": true,
	}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("%w: invalid log level: %s", types.ErrInvalidConfig, cfg.Logging.Level))
	}

	return errs
}

// Copy creates a deep copy of the config.
// Used for runtime modifications without affecting the original.
func (c *Config) Copy() *Config {
	copy := *c

	if c.Providers != nil {
		copy.Providers = make(map[string]ProviderConfig, len(c.Providers))
		for k, v := range c.Providers {
			copy.Providers[k] = v
		}
	}

	return &copy
}

// Provider returns the entry for a backend kind, or a zero value when
// the entry is absent.
func (c *Config) Provider(kind types.Kind) ProviderConfig {
	return c.Providers[string(kind)]
}

// SetProvider replaces the entry for a backend kind.
func (c *Config) SetProvider(kind types.Kind, pc ProviderConfig) {
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	c.Providers[string(kind)] = pc
}
