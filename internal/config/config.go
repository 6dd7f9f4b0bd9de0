// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Research   ResearchConfig   `yaml:"research" mapstructure:"research"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// SQLitePath backs the research store when driver is sqlite.
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// DiscoveryConfig configures the ingestion and dedup pipeline.
type DiscoveryConfig struct {
	DuplicateThreshold float64 `yaml:"duplicate_threshold" mapstructure:"duplicate_threshold"`
	DefaultSource      string  `yaml:"default_source" mapstructure:"default_source"`
}

// ResearchConfig configures session execution.
type ResearchConfig struct {
	ToolTimeoutSecs int     `yaml:"tool_timeout_secs" mapstructure:"tool_timeout_secs"`
	LeaseTTLSecs    int     `yaml:"lease_ttl_secs" mapstructure:"lease_ttl_secs"`
	RatePerSec      float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxDepth        int     `yaml:"max_depth" mapstructure:"max_depth"`
}

// AnthropicConfig holds Anthropic API settings for the research planner.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	PlannerModel string `yaml:"planner_model" mapstructure:"planner_model"`
	MaxTokens    int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// MonitoringConfig configures background alerting. An empty webhook URL
// disables the checker.
type MonitoringConfig struct {
	WebhookURL               string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs        int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours      int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	SessionFailRateThreshold float64 `yaml:"session_fail_rate_threshold" mapstructure:"session_fail_rate_threshold"`
	QueueDepthThreshold      int     `yaml:"queue_depth_threshold" mapstructure:"queue_depth_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GRAPH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "research.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("discovery.duplicate_threshold", 0.8)
	v.SetDefault("discovery.default_source", "manual")
	v.SetDefault("research.tool_timeout_secs", 30)
	v.SetDefault("research.lease_ttl_secs", 300)
	v.SetDefault("research.rate_per_sec", 2)
	v.SetDefault("research.max_depth", 5)
	v.SetDefault("anthropic.planner_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.session_fail_rate_threshold", 0.5)
	v.SetDefault("monitoring.queue_depth_threshold", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
