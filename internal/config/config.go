// Package config loads engram configuration from defaults, an optional
// config file and environment variables, in ascending priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all engram settings.
type Config struct {
	// DataDir is the directory holding the five SQLite database files and
	// the process lock.
	DataDir string `mapstructure:"data_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// LogJSON switches log output from text to JSON.
	LogJSON bool `mapstructure:"log_json"`

	// WatchEnabled turns on the conversation-file importer.
	WatchEnabled bool `mapstructure:"watch_enabled"`

	// WatchDirs are the directories the importer monitors for transcripts.
	WatchDirs []string `mapstructure:"watch_dirs"`
}

// Load reads configuration with priority: env > config file > defaults.
// The config file (~/.engram/config.yaml) is optional.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".engram"))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	dataDir := "engram-data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".engram", "data")
	}

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("watch_enabled", false)
	v.SetDefault("watch_dirs", []string{})
}

func bindEnvVariables(v *viper.Viper) {
	mustBind(v, "data_dir", "ENGRAM_DATA_DIR")
	mustBind(v, "log_level", "ENGRAM_LOG_LEVEL")
	mustBind(v, "log_json", "ENGRAM_LOG_JSON")
	mustBind(v, "watch_enabled", "ENGRAM_WATCH_ENABLED")
	mustBind(v, "watch_dirs", "ENGRAM_WATCH_DIRS")
}

func mustBind(v *viper.Viper, key, env string) {
	if err := v.BindEnv(key, env); err != nil {
		panic(fmt.Sprintf("failed to bind env variable %s: %v", env, err))
	}
}

// Validate checks the configuration for fatal misconfiguration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (want debug, info, warn or error)", c.LogLevel)
	}

	if c.WatchEnabled && len(c.WatchDirs) == 0 {
		return errors.New("watch_enabled requires at least one watch_dirs entry")
	}

	return nil
}

// String renders the configuration for logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{DataDir: %s, LogLevel: %s, LogJSON: %t, WatchEnabled: %t, WatchDirs: %v}",
		c.DataDir, c.LogLevel, c.LogJSON, c.WatchEnabled, c.WatchDirs)
}
