// Package config loads runtime configuration from file and environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration tree.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Data       DataConfig       `mapstructure:"data"`
	Scheduling SchedulingConfig `mapstructure:"scheduling"`
	OAuth      OAuthConfig      `mapstructure:"oauth"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DataConfig struct {
	// Dir holds the proxy state; account files live under Dir/accounts.
	Dir string `mapstructure:"dir"`
}

type SchedulingConfig struct {
	// StickyMode: cache_first | balance
	StickyMode          string `mapstructure:"sticky_mode"`
	StickyMaxWaitSeconds int64  `mapstructure:"sticky_max_wait_seconds"`
	// IOWorkers bounds the blocking file-I/O pool.
	IOWorkers int `mapstructure:"io_workers"`
}

type OAuthConfig struct {
	TokenURL            string   `mapstructure:"token_url"`
	ClientID            string   `mapstructure:"client_id"`
	ClientSecret        string   `mapstructure:"client_secret"`
	CodeAssistEndpoints []string `mapstructure:"code_assist_endpoints"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads config from the given file (optional) with ANTIPROXY_*
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8045")
	v.SetDefault("data.dir", "./data")
	v.SetDefault("scheduling.sticky_mode", "cache_first")
	v.SetDefault("scheduling.sticky_max_wait_seconds", 120)
	v.SetDefault("scheduling.io_workers", 8)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("ANTIPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
