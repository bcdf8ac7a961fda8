package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "DISPATCH"

	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Store   StoreConfig
	Sweeper SweeperConfig
}

// Load reads the DISPATCH_* environment. Callers load .env beforehand.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	switch c.Store.LockDriver {
	case DriverPostgres, DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("unsupported lock driver %q", c.Store.LockDriver)
	}
	if c.Store.Driver == DriverPostgres && c.DB.URL == "" {
		return fmt.Errorf("DISPATCH_DATABASE_URL is required for the postgres store")
	}
	if c.Store.LockDriver == DriverPostgres && c.Store.Driver != DriverPostgres {
		return fmt.Errorf("postgres lock driver requires the postgres store")
	}
	if c.Store.LockDriver == DriverRedis && c.Redis.URL == "" && c.Redis.Address == "" {
		return fmt.Errorf("redis lock driver requires DISPATCH_REDIS_URL or DISPATCH_REDIS_ADDR")
	}
	return nil
}

type AppConfig struct {
	Env       string `envconfig:"DISPATCH_APP_ENV" default:"dev"`
	Port      string `envconfig:"DISPATCH_PORT" default:"8080"`
	LogLevel  string `envconfig:"DISPATCH_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"DISPATCH_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, "dev")
}

type DBConfig struct {
	URL             string        `envconfig:"DISPATCH_DATABASE_URL"`
	MaxConns        int32         `envconfig:"DISPATCH_DB_MAX_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DISPATCH_DB_CONN_MAX_LIFETIME" default:"1h"`
	MigrationsDir   string        `envconfig:"DISPATCH_MIGRATIONS_DIR" default:"internal/adapter/postgres/migrations"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DISPATCH_REDIS_URL"`
	Address      string        `envconfig:"DISPATCH_REDIS_ADDR"`
	Password     string        `envconfig:"DISPATCH_REDIS_PASSWORD"`
	DB           int           `envconfig:"DISPATCH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DISPATCH_REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `envconfig:"DISPATCH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DISPATCH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DISPATCH_REDIS_WRITE_TIMEOUT" default:"5s"`
	LockTTL      time.Duration `envconfig:"DISPATCH_REDIS_LOCK_TTL" default:"30s"`
	LockRetry    time.Duration `envconfig:"DISPATCH_REDIS_LOCK_RETRY" default:"50ms"`
}

type StoreConfig struct {
	Driver         string        `envconfig:"DISPATCH_STORE_DRIVER" default:"postgres"`
	LockDriver     string        `envconfig:"DISPATCH_LOCK_DRIVER" default:"postgres"`
	IdempotencyTTL time.Duration `envconfig:"DISPATCH_IDEMPOTENCY_TTL" default:"24h"`
}

type SweeperConfig struct {
	// Interval <= 0 disables the background sweep; synchronous triggers still run.
	Interval         time.Duration `envconfig:"DISPATCH_SWEEP_INTERVAL" default:"30s"`
	HeartbeatTimeout time.Duration `envconfig:"DISPATCH_HEARTBEAT_TIMEOUT" default:"5m"`
}
