package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// UpstreamConfig points the streaming proxy at the event backend
type UpstreamConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// WarehouseConfig describes the analytical database result rows are
// fetched from. Driver is a database/sql driver name.
type WarehouseConfig struct {
	Driver       string        `mapstructure:"driver"`
	DSN          string        `mapstructure:"dsn"`
	MaxRows      int           `mapstructure:"max_rows"`
	QueryTimeout time.Duration `mapstructure:"query_timeout"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	// PublicKeyPEM takes precedence; PublicKeyURL is fetched once and
	// cached for the process lifetime.
	PublicKeyPEM  string        `mapstructure:"public_key_pem"`
	PublicKeyURL  string        `mapstructure:"public_key_url"`
	PrivateKeyPEM string        `mapstructure:"private_key_pem"`
	Issuer        string        `mapstructure:"issuer"`
	GuestTokenTTL time.Duration `mapstructure:"guest_token_ttl"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
	GuestCookie   string        `mapstructure:"guest_cookie"`
}

type StreamConfig struct {
	Channel           string        `mapstructure:"channel"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server. No write timeout: the stream endpoints hold the response
	// open for the lifetime of the upstream connection.
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Upstream
	v.SetDefault("upstream.base_url", "http://localhost:8080")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "querydeck")
	v.SetDefault("database.database", "querydeck")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)

	// Warehouse
	v.SetDefault("warehouse.driver", "pgx")
	v.SetDefault("warehouse.max_rows", 1000)
	v.SetDefault("warehouse.query_timeout", "30s")

	// Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.issuer", "querydeck")
	v.SetDefault("auth.guest_token_ttl", "720h") // 30 days
	v.SetDefault("auth.verify_timeout", "3s")
	v.SetDefault("auth.guest_cookie", "qd_guest")

	// Stream
	v.SetDefault("stream.channel", "request_update")
	v.SetDefault("stream.heartbeat_interval", "15s")

	// Security
	v.SetDefault("security.rate_limit.requests_per_minute", 120)
	v.SetDefault("security.rate_limit.burst", 20)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	// Database
	v.BindEnv("database.password", "POSTGRES_PASSWORD")

	// Warehouse
	v.BindEnv("warehouse.driver", "WAREHOUSE_DRIVER")
	v.BindEnv("warehouse.dsn", "WAREHOUSE_DSN")

	// Redis
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Upstream
	v.BindEnv("upstream.base_url", "UPSTREAM_BASE_URL")

	// Auth keys
	v.BindEnv("auth.public_key_pem", "AUTH_PUBLIC_KEY_PEM")
	v.BindEnv("auth.public_key_url", "AUTH_PUBLIC_KEY_URL")
	v.BindEnv("auth.private_key_pem", "AUTH_PRIVATE_KEY_PEM")
}
