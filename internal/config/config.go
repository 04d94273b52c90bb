package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all kernel configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat"`
	Bus        BusConfig        `mapstructure:"bus"`
	Decision   DecisionConfig   `mapstructure:"decision"`
	Governance GovernanceConfig `mapstructure:"governance"`
	Election   ElectionConfig   `mapstructure:"election"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Team       TeamConfig       `mapstructure:"team"`
	Blackboard BlackboardConfig `mapstructure:"blackboard"`
	API        APIConfig        `mapstructure:"api"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
	Enabled  bool   `mapstructure:"enabled"`
}

// RedisConfig contains Redis settings for the blackboard document store
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// NATSConfig contains control-plane messaging settings
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// HeartbeatConfig drives the kernel clock
type HeartbeatConfig struct {
	IntervalMS int `mapstructure:"interval_ms"`
}

// BusConfig configures the in-process message bus
type BusConfig struct {
	MaxQueueSize              int  `mapstructure:"max_queue_size"`
	TimeoutThresholdTicks     int  `mapstructure:"timeout_threshold_ticks"`
	EnableCompression         bool `mapstructure:"enable_compression"`
	CompressionThresholdBytes int  `mapstructure:"compression_threshold_bytes"`
}

// DecisionConfig configures the signature/veto protocol
type DecisionConfig struct {
	SignatureThreshold float64 `mapstructure:"signature_threshold"` // vote-based (appeals)
	TimeoutMS          int     `mapstructure:"decision_timeout_ms"`
	EnableReminders    bool    `mapstructure:"enable_reminders"`
}

// GovernanceConfig configures the accountability regime
type GovernanceConfig struct {
	WarningThreshold int `mapstructure:"warning_threshold"`
	FailureThreshold int `mapstructure:"failure_threshold"`
}

// ElectionConfig configures periodic layer elections
type ElectionConfig struct {
	IntervalTicks int `mapstructure:"interval_ticks"`
	Excellent     int `mapstructure:"excellent"`
	Good          int `mapstructure:"good"`
	Poor          int `mapstructure:"poor"`
	Failing       int `mapstructure:"failing"`
}

// AgentConfig holds per-agent runtime defaults
type AgentConfig struct {
	MaxRetries int `mapstructure:"max_retries"`
	TimeoutMS  int `mapstructure:"timeout_ms"`
}

// TeamConfig bounds team instantiation
type TeamConfig struct {
	MaxAgents int `mapstructure:"max_agents"`
}

// BlackboardConfig configures the shared whiteboard store
type BlackboardConfig struct {
	LockTTLMS    int `mapstructure:"lock_ttl_ms"`
	CacheTTLMS   int `mapstructure:"cache_ttl_ms"`
	CacheMaxDocs int `mapstructure:"cache_max_docs"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	Port    int  `mapstructure:"port"`
	Enabled bool `mapstructure:"enabled"`
}

// MonitoringConfig contains metrics server settings
type MonitoringConfig struct {
	MetricsPort int  `mapstructure:"metrics_port"`
	Enabled     bool `mapstructure:"enabled"`
}

// Load reads configuration from file and environment.
// Environment variables use the HIVEMIND_ prefix with underscores,
// e.g. HIVEMIND_BUS_MAX_QUEUE_SIZE.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("HIVEMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("hivemind")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional; defaults plus env are enough
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "hivemind")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")

	v.SetDefault("heartbeat.interval_ms", 4000)

	v.SetDefault("bus.max_queue_size", 1000)
	v.SetDefault("bus.timeout_threshold_ticks", 3)
	v.SetDefault("bus.enable_compression", false)
	v.SetDefault("bus.compression_threshold_bytes", 1024)

	v.SetDefault("decision.signature_threshold", 0.67)
	v.SetDefault("decision.decision_timeout_ms", 300000)
	v.SetDefault("decision.enable_reminders", true)

	v.SetDefault("governance.warning_threshold", 3)
	v.SetDefault("governance.failure_threshold", 1)

	v.SetDefault("election.interval_ticks", 50)
	v.SetDefault("election.excellent", 80)
	v.SetDefault("election.good", 60)
	v.SetDefault("election.poor", 40)
	v.SetDefault("election.failing", 20)

	v.SetDefault("agent.max_retries", 3)
	v.SetDefault("agent.timeout_ms", 30000)

	v.SetDefault("team.max_agents", 50)

	v.SetDefault("blackboard.lock_ttl_ms", 5000)
	v.SetDefault("blackboard.cache_ttl_ms", 30000)
	v.SetDefault("blackboard.cache_max_docs", 256)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 8090)

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_port", 9100)
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Heartbeat.IntervalMS <= 0 {
		return fmt.Errorf("heartbeat.interval_ms must be positive, got %d", c.Heartbeat.IntervalMS)
	}
	if c.Bus.MaxQueueSize <= 0 {
		return fmt.Errorf("bus.max_queue_size must be positive, got %d", c.Bus.MaxQueueSize)
	}
	if c.Bus.TimeoutThresholdTicks <= 0 {
		return fmt.Errorf("bus.timeout_threshold_ticks must be positive, got %d", c.Bus.TimeoutThresholdTicks)
	}
	if c.Decision.SignatureThreshold <= 0 || c.Decision.SignatureThreshold > 1 {
		return fmt.Errorf("decision.signature_threshold must be in (0,1], got %f", c.Decision.SignatureThreshold)
	}
	if c.Decision.TimeoutMS <= 0 {
		return fmt.Errorf("decision.decision_timeout_ms must be positive, got %d", c.Decision.TimeoutMS)
	}
	if c.Governance.WarningThreshold <= 0 {
		return fmt.Errorf("governance.warning_threshold must be positive, got %d", c.Governance.WarningThreshold)
	}
	if c.Election.IntervalTicks <= 0 {
		return fmt.Errorf("election.interval_ticks must be positive, got %d", c.Election.IntervalTicks)
	}
	if !(c.Election.Failing < c.Election.Poor && c.Election.Poor < c.Election.Good && c.Election.Good < c.Election.Excellent) {
		return fmt.Errorf("election thresholds must be strictly ascending: failing < poor < good < excellent")
	}
	if c.Team.MaxAgents <= 0 {
		return fmt.Errorf("team.max_agents must be positive, got %d", c.Team.MaxAgents)
	}
	if c.Database.Enabled && c.Database.URL == "" {
		return fmt.Errorf("database.url required when database.enabled")
	}
	return nil
}

// HeartbeatInterval returns the clock interval as a duration
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.IntervalMS) * time.Millisecond
}

// DecisionTimeout returns the decision timeout as a duration
func (c *Config) DecisionTimeout() time.Duration {
	return time.Duration(c.Decision.TimeoutMS) * time.Millisecond
}

// LockTTL returns the blackboard lock TTL as a duration
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Blackboard.LockTTLMS) * time.Millisecond
}
