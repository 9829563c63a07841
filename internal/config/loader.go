// Package config loads the server configuration from config.yaml, the
// environment and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/entityapi/internal/db"
)

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Store       StoreConfig       `mapstructure:"store"`
	Schema      SchemaConfig      `mapstructure:"schema"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Services    ServicesConfig    `mapstructure:"services"`
	Application ApplicationConfig `mapstructure:"application"`
	Log         LogConfig         `mapstructure:"log"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DB converts the section into the connection settings of package db.
func (c DatabaseConfig) DB() db.Config {
	return db.Config{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		DBName:          c.DBName,
		SSLMode:         c.SSLMode,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
	}
}

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type SchemaConfig struct {
	// Path of a schema YAML file. Empty selects the embedded schema.
	Path string `mapstructure:"path"`
}

// Cache backends.
const (
	CacheNone      = "none"
	CacheLRU       = "lru"
	CacheMemcached = "memcached"
)

type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Size    int           `mapstructure:"size"`
	Servers []string      `mapstructure:"servers"`
	Prefix  string        `mapstructure:"prefix"`
}

// ServicesConfig holds the collaborator endpoints. An empty URL selects the
// in-process implementation.
type ServicesConfig struct {
	UUIDAPIURL   string        `mapstructure:"uuid_api_url"`
	AuthURL      string        `mapstructure:"auth_url"`
	SearchAPIURL string        `mapstructure:"search_api_url"`
	FilesURL     string        `mapstructure:"files_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	IDPrefix     string        `mapstructure:"id_prefix"`
	// DevToken is accepted as a data-provider user when no auth_url is set.
	DevToken     string        `mapstructure:"dev_token"`
}

type ApplicationConfig struct {
	Header              string   `mapstructure:"header"`
	AllowedApplications []string `mapstructure:"allowed_applications"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type WorkerConfig struct {
	PoolSize int `mapstructure:"pool_size"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads config.yaml from configPath (or the default search paths when
// empty), applies environment overrides such as SERVER_PORT and
// CACHE_BACKEND, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/entityapi")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	def := db.DefaultConfig()
	v.SetDefault("database.host", def.Host)
	v.SetDefault("database.port", def.Port)
	v.SetDefault("database.user", def.User)
	v.SetDefault("database.password", def.Password)
	v.SetDefault("database.dbname", def.DBName)
	v.SetDefault("database.sslmode", def.SSLMode)
	v.SetDefault("database.max_conns", def.MaxConns)
	v.SetDefault("database.min_conns", def.MinConns)
	v.SetDefault("database.max_conn_lifetime", def.MaxConnLifetime)
	v.SetDefault("database.max_conn_idle_time", def.MaxConnIdleTime)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("schema.path", "")

	v.SetDefault("cache.backend", CacheLRU)
	v.SetDefault("cache.ttl", "4h")
	v.SetDefault("cache.size", 10000)
	v.SetDefault("cache.servers", []string{"localhost:11211"})
	v.SetDefault("cache.prefix", "entityapi:")

	v.SetDefault("services.uuid_api_url", "")
	v.SetDefault("services.auth_url", "")
	v.SetDefault("services.search_api_url", "")
	v.SetDefault("services.files_url", "")
	v.SetDefault("services.timeout", "20s")
	v.SetDefault("services.id_prefix", "SNT")
	v.SetDefault("services.dev_token", "")

	v.SetDefault("application.header", "X-SenNet-Application")
	v.SetDefault("application.allowed_applications", []string{"ingest-api", "portal-ui"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("worker.pool_size", 16)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks for configuration errors that would stop the server.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if c.Database.Host == "" || c.Database.DBName == "" {
			return errors.New("database.host and database.dbname are required for the postgres store")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", StoreMemory, StorePostgres, c.Store.Backend)
	}
	switch c.Cache.Backend {
	case CacheNone:
	case CacheLRU:
		if c.Cache.Size <= 0 {
			return errors.New("cache.size must be positive for the lru cache")
		}
	case CacheMemcached:
		if len(c.Cache.Servers) == 0 {
			return errors.New("cache.servers must list at least one server for memcached")
		}
	default:
		return fmt.Errorf("cache.backend must be one of none, lru, memcached, got %q", c.Cache.Backend)
	}
	if c.Application.Header == "" {
		return errors.New("application.header must not be empty")
	}
	if c.Worker.PoolSize <= 0 {
		return errors.New("worker.pool_size must be positive")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", c.Metrics.Path)
	}
	return nil
}
