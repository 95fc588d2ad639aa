// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`

	DBURL       string `mapstructure:"DB_URL"`
	GithubToken string `mapstructure:"GITHUB_TOKEN"`
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`

	WorkDir             string        `mapstructure:"WORKDIR"`
	GitBin              string        `mapstructure:"GIT_BIN"`
	FetchFreshness      time.Duration `mapstructure:"FETCH_FRESHNESS"`
	LockTimeout         time.Duration `mapstructure:"LOCK_TIMEOUT"`
	LockArtifactRetries int           `mapstructure:"LOCK_ARTIFACT_RETRIES"`

	ReposToSync      []string      `mapstructure:"REPOS_TO_SYNC"`
	SyncInterval     time.Duration `mapstructure:"SYNC_INTERVAL"`
	RepoPollAttempts int           `mapstructure:"REPO_POLL_ATTEMPTS"`
	RepoPollDelay    time.Duration `mapstructure:"REPO_POLL_DELAY"`
	StatsWorkers     int           `mapstructure:"STATS_WORKERS"`

	DefaultBranch string   `mapstructure:"DEFAULT_BRANCH"`
	IgnorePaths   []string `mapstructure:"IGNORE_PATHS"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Load from .env file if it exists
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE_MB", 50)
	v.SetDefault("LOG_MAX_BACKUPS", 3)
	v.SetDefault("DB_URL", "")
	v.SetDefault("GITHUB_TOKEN", "")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("WORKDIR", "./data/repos")
	v.SetDefault("GIT_BIN", "git")
	v.SetDefault("FETCH_FRESHNESS", "1m")
	v.SetDefault("LOCK_TIMEOUT", "5m")
	v.SetDefault("LOCK_ARTIFACT_RETRIES", 10)
	v.SetDefault("REPOS_TO_SYNC", []string{})
	v.SetDefault("SYNC_INTERVAL", "1h")
	v.SetDefault("REPO_POLL_ATTEMPTS", 5)
	v.SetDefault("REPO_POLL_DELAY", "200ms")
	v.SetDefault("STATS_WORKERS", 4)
	v.SetDefault("DEFAULT_BRANCH", "main")
	v.SetDefault("IGNORE_PATHS", []string{})
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	// Environment lists arrive as one comma separated string.
	cfg.ReposToSync = splitList(cfg.ReposToSync)
	cfg.IgnorePaths = splitList(cfg.IgnorePaths)

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.StatsWorkers < 1 {
		return nil, errors.New("STATS_WORKERS must be at least 1")
	}
	if cfg.RepoPollAttempts < 1 {
		return nil, errors.New("REPO_POLL_ATTEMPTS must be at least 1")
	}
	if cfg.LockTimeout <= 0 {
		return nil, errors.New("LOCK_TIMEOUT must be positive")
	}

	return &cfg, nil
}

func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}
