package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Auth        AuthConfig        `mapstructure:"auth"`
	ShortCode   ShortCodeConfig   `mapstructure:"short_code"`
	Reaper      ReaperConfig      `mapstructure:"reaper"`
	ClickEvents ClickEventsConfig `mapstructure:"click_events"`
	Bulk        BulkConfig        `mapstructure:"bulk"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`

	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
}

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type StorageConfig struct {
	Driver  string        `mapstructure:"driver"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	// AccessTokenSecret signs password access tokens; empty reuses JWTSecret.
	AccessTokenSecret string        `mapstructure:"access_token_secret"`
	AccessTokenTTL    time.Duration `mapstructure:"access_token_ttl"`
	BcryptCost        int           `mapstructure:"bcrypt_cost"`
}

type ShortCodeConfig struct {
	Length            int           `mapstructure:"length"`
	FallbackLength    int           `mapstructure:"fallback_length"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	AliasMinLength    int           `mapstructure:"alias_min_length"`
	AliasMaxLength    int           `mapstructure:"alias_max_length"`
	AliasAllowSymbols bool          `mapstructure:"alias_allow_symbols"`
	ReservedWords     []string      `mapstructure:"reserved_words"`
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	BloomCapacity     uint          `mapstructure:"bloom_capacity"`
}

type ReaperConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	Policy   string        `mapstructure:"policy"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type ClickEventsConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

type BulkConfig struct {
	MaxItems int `mapstructure:"max_items"`
}

type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

type PrometheusConfig struct {
	Port           int    `mapstructure:"port"`
	Retention      string `mapstructure:"retention"`
	ScrapeInterval string `mapstructure:"scrape_interval"`
	Target         string `mapstructure:"target"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

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
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("log.development", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")

	v.SetDefault("storage.driver", StorageDriverPostgres)
	v.SetDefault("storage.timeout", 5*time.Second)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_secret", "")
	v.SetDefault("auth.access_token_ttl", 10*time.Minute)
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("short_code.length", 7)
	v.SetDefault("short_code.fallback_length", 8)
	v.SetDefault("short_code.max_attempts", 10)
	v.SetDefault("short_code.alias_min_length", 3)
	v.SetDefault("short_code.alias_max_length", 50)
	v.SetDefault("short_code.alias_allow_symbols", true)
	v.SetDefault("short_code.reserved_words", []string{
		"api", "admin", "www", "mail", "ftp", "localhost", "dashboard",
		"login", "register", "signup", "signin", "auth", "oauth",
		"health", "metrics", "actuator", "static", "assets", "public",
	})
	v.SetDefault("short_code.default_expiration", time.Duration(0))
	v.SetDefault("short_code.bloom_capacity", 1_000_000)

	v.SetDefault("reaper.enabled", true)
	v.SetDefault("reaper.schedule", "@every 1h")
	v.SetDefault("reaper.policy", "delete")
	v.SetDefault("reaper.lock_ttl", 5*time.Minute)

	v.SetDefault("click_events.retention", 90*24*time.Hour)

	v.SetDefault("bulk.max_items", 100)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.max_requests", 100)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.host", "localhost")
	v.SetDefault("nats.port", 4222)

	v.SetDefault("prometheus.port", 9090)
}

func bindEnvVars(v *viper.Viper) {
	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")
	v.BindEnv("prometheus.retention", "PROM_RETENTION")
	v.BindEnv("prometheus.scrape_interval", "PROM_SCRAPE_INTERVAL")
	v.BindEnv("prometheus.target", "PROM_TARGET")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be %q or %q, got %q",
			StorageDriverPostgres, StorageDriverMemory, c.Storage.Driver))
	}
	if c.Storage.Timeout <= 0 {
		errs = append(errs, errors.New("storage.timeout must be positive"))
	}

	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("auth.access_token_ttl must be positive"))
	}

	sc := c.ShortCode
	if sc.Length < 3 || sc.Length > 10 {
		errs = append(errs, fmt.Errorf("short_code.length must be in [3,10], got %d", sc.Length))
	}
	if sc.FallbackLength < sc.Length || sc.FallbackLength > 10 {
		errs = append(errs, fmt.Errorf("short_code.fallback_length must be in [length,10], got %d", sc.FallbackLength))
	}
	if sc.MaxAttempts < 3 || sc.MaxAttempts > 20 {
		errs = append(errs, fmt.Errorf("short_code.max_attempts must be in [3,20], got %d", sc.MaxAttempts))
	}
	if sc.AliasMinLength < 1 || sc.AliasMaxLength < sc.AliasMinLength || sc.AliasMaxLength > 50 {
		errs = append(errs, fmt.Errorf("short_code alias length bounds [%d,%d] are invalid", sc.AliasMinLength, sc.AliasMaxLength))
	}
	if sc.DefaultExpiration < 0 {
		errs = append(errs, errors.New("short_code.default_expiration must not be negative"))
	}

	switch strings.ToLower(c.Reaper.Policy) {
	case "delete", "deactivate":
	default:
		errs = append(errs, fmt.Errorf("reaper.policy must be delete or deactivate, got %q", c.Reaper.Policy))
	}

	if c.ClickEvents.Retention < 0 {
		errs = append(errs, errors.New("click_events.retention must not be negative"))
	}

	if c.Bulk.MaxItems <= 0 {
		errs = append(errs, errors.New("bulk.max_items must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit needs positive max_requests and window"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
