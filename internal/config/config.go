// Package config loads volumeguard settings from a YAML file, environment
// variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hed1ad/volumeguard/pkg/ensemble"
)

// Sentinel validation errors.
var (
	ErrInvalidStrength  = errors.New("strength must be in [0, 1]")
	ErrInvalidLogLevel  = errors.New("invalid log level")
	ErrInvalidLogFormat = errors.New("invalid log format")
	ErrInvalidWorkers   = errors.New("workers must not be negative")
)

// EnvPrefix prefixes environment overrides, e.g. VOLUMEGUARD_LOGGING_LEVEL.
const EnvPrefix = "VOLUMEGUARD"

// Config holds all configuration for volumeguard.
type Config struct {
	Strength float64                `mapstructure:"strength"`
	Seed     *int64                 `mapstructure:"seed"`
	Workers  int                    `mapstructure:"workers"`
	Ensemble ensemble.PartialConfig `mapstructure:"ensemble"`
	Output   OutputConfig           `mapstructure:"output"`
	Logging  LoggingConfig          `mapstructure:"logging"`
	Metrics  MetricsConfig          `mapstructure:"metrics"`
}

// OutputConfig controls how reports are printed.
type OutputConfig struct {
	Format string `mapstructure:"format"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// File, when set, receives logs instead of stderr and is rotated.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig controls metric export.
type MetricsConfig struct {
	// Textfile is written in the Prometheus text format after each run.
	Textfile string `mapstructure:"textfile"`
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"strength":     "strength",
	"seed":         "seed",
	"workers":      "workers",
	"mode":         "ensemble.mode",
	"format":       "output.format",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"log-file":     "logging.file",
	"metrics-file": "metrics.textfile",
}

// Load reads configuration from configPath (or the default search path when
// empty), the environment and any of flags that were set.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("volumeguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/volumeguard")
		v.AddConfigPath("/etc/volumeguard")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !v.IsSet("seed") {
		cfg.Seed = nil
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("strength", ensemble.DefaultStrength)
	v.SetDefault("workers", 0)

	v.SetDefault("output.format", "table")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("metrics.textfile", "")
}

func validate(cfg *Config) error {
	if cfg.Strength < 0 || cfg.Strength > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidStrength, cfg.Strength)
	}

	if cfg.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, cfg.Workers)
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, cfg.Logging.Format)
	}

	// surface ensemble errors at load time rather than on first use
	if _, err := ensemble.Merge(cfg.Ensemble); err != nil {
		return err
	}

	return nil
}
