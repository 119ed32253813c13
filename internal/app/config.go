package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/soulline/lifeline/internal/escalation"
	"github.com/soulline/lifeline/internal/roles"
)

// Config represents the runtime configuration for the Lifeline call engine.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Escalation  EscalationConfig  `mapstructure:"escalation"`
	Recording   RecordingConfig   `mapstructure:"recording"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int             `mapstructure:"port"`
	LogLevel  string          `mapstructure:"log_level"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig controls the API rate limiter.
type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures token settings. Authentication mechanics live in the
// platform; the engine only validates role-bearing tokens.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access token validation.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// EscalationConfig holds the static escalation chain.
type EscalationConfig struct {
	Chain []EscalationRuleConfig `mapstructure:"chain"`
}

// EscalationRuleConfig is one configured link of the chain.
type EscalationRuleConfig struct {
	Level          int    `mapstructure:"level"`
	TargetRole     string `mapstructure:"target_role"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RecordingConfig controls recording storage and retention.
type RecordingConfig struct {
	StorageDir    string `mapstructure:"storage_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// MaintenanceConfig controls the background cleaner.
type MaintenanceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("LIFELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Chain converts the configured escalation rules into a validated chain.
func (c *Config) Chain() (escalation.Chain, error) {
	chain := make(escalation.Chain, 0, len(c.Escalation.Chain))
	for _, rule := range c.Escalation.Chain {
		role, err := roles.Parse(rule.TargetRole)
		if err != nil {
			return nil, fmt.Errorf("config: escalation level %d: %w", rule.Level, err)
		}
		chain = append(chain, escalation.Rule{
			Level:      rule.Level,
			TargetRole: role,
			Timeout:    time.Duration(rule.TimeoutSeconds) * time.Second,
		})
	}
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	return chain, nil
}

// Validate checks the parts of the configuration the engine cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		return errors.New("config: auth.jwt.secret is required")
	}
	if _, err := c.Chain(); err != nil {
		return err
	}
	if c.Recording.RetentionDays < 0 {
		return errors.New("config: recording.retention_days must not be negative")
	}
	if strings.TrimSpace(c.Recording.StorageDir) == "" {
		return errors.New("config: recording.storage_dir is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.max_requests", 100)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/lifeline.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("escalation.chain", []map[string]interface{}{
		{"level": 0, "target_role": "reader", "timeout_seconds": 30},
		{"level": 1, "target_role": "monitor", "timeout_seconds": 30},
		{"level": 2, "target_role": "admin", "timeout_seconds": 60},
	})

	v.SetDefault("recording.storage_dir", "./data/recordings")
	v.SetDefault("recording.retention_days", 90)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "@every 1h")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// DatabaseSettings maps the configuration onto the database package's Config.
func (c *Config) DatabaseSettings() (driver, path, dsn, host string, port int, name, user, password string) {
	driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch driver {
	case "postgres", "postgresql":
		pg := c.Database.Postgres
		return "postgres", "", c.Database.DSN, pg.Host, pg.Port, pg.Database, pg.Username, pg.Password
	case "mysql", "mariadb":
		my := c.Database.MySQL
		return "mysql", "", c.Database.DSN, my.Host, my.Port, my.Database, my.Username, my.Password
	default:
		return "sqlite", c.Database.Path, c.Database.DSN, "", 0, "", "", ""
	}
}
