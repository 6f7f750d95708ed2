package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the server reads.
const EnvPrefix = "MCP_OAUTH"

// HTTP routers the server can be assembled with.
const (
	RouterGin  = "gin"
	RouterEcho = "echo"
)

// Storage drivers for clients and authorization records.
const (
	StoreMemory  = "memory"
	StoreMongoDB = "mongodb"
	StoreRedis   = "redis"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling.
type ServerConfig struct {
	HTTPPort   string `mapstructure:"HTTP_PORT"`
	HTTPRouter string `mapstructure:"HTTP_ROUTER"`
	IssuerURL  string `mapstructure:"ISSUER_URL"`

	StoreDriver   string `mapstructure:"STORE_DRIVER"`
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDBName   string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	// Spans go to stderr when set, otherwise they are dropped.
	TraceStdout bool `mapstructure:"TRACE_STDOUT"`

	AuthCodeTTL    time.Duration `mapstructure:"AUTH_CODE_TTL"`
	AccessTokenTTL time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	DefaultScope   string        `mapstructure:"DEFAULT_SCOPE"`
	BcryptCost     int           `mapstructure:"BCRYPT_COST"`

	// Per client IP, applied to token, revoke and introspect.
	RateLimitRPM   int `mapstructure:"RATE_LIMIT_RPM"`
	RateLimitBurst int `mapstructure:"RATE_LIMIT_BURST"`

	// Optional YAML file of clients registered at startup.
	BootstrapClientsFile string `mapstructure:"BOOTSTRAP_CLIENTS_FILE"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/mcp-oauth/")
	v.AddConfigPath("$HOME/.mcp-oauth")
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and env vars still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("HTTP_ROUTER", RouterGin)
	v.SetDefault("ISSUER_URL", "http://localhost:8080")
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "mcp_oauth")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "mcp-oauth")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("OTEL_SERVICE_NAME", "mcp-oauth")
	v.SetDefault("TRACE_STDOUT", false)
	v.SetDefault("AUTH_CODE_TTL", "10m")
	v.SetDefault("ACCESS_TOKEN_TTL", "1h")
	v.SetDefault("DEFAULT_SCOPE", "default")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("RATE_LIMIT_RPM", 120)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("BOOTSTRAP_CLIENTS_FILE", "")
}

// Validate rejects values the server cannot start with.
func (c *ServerConfig) Validate() error {
	switch c.HTTPRouter {
	case RouterGin, RouterEcho:
	default:
		return fmt.Errorf("unknown HTTP_ROUTER %q", c.HTTPRouter)
	}

	switch c.StoreDriver {
	case StoreMemory, StoreMongoDB, StoreRedis:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.AuthCodeTTL <= 0 || c.AccessTokenTTL <= 0 {
		return errors.New("AUTH_CODE_TTL and ACCESS_TOKEN_TTL must be positive")
	}

	if c.DefaultScope == "" {
		return errors.New("DEFAULT_SCOPE must not be empty")
	}

	return nil
}

// Addr is the listen address for the HTTP server.
func (c *ServerConfig) Addr() string {
	return ":" + c.HTTPPort
}
