package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Store    StoreConfig    `mapstructure:"store"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Sharding ShardingConfig `mapstructure:"sharding"`
	Media    MediaConfig    `mapstructure:"media"`
	Signal   SignalConfig   `mapstructure:"signal"`
}

type StoreConfig struct {
	// Backend is one of memory, redis, postgres, sqlite.
	Backend   string `mapstructure:"backend"`
	RedisAddr string `mapstructure:"redis_addr"`
	DSN       string `mapstructure:"dsn"`
}

type QueueConfig struct {
	// Backend is memory or redis. The redis queue shares store.redis_addr.
	Backend      string        `mapstructure:"backend"`
	Concurrency  int           `mapstructure:"concurrency"`
	BatchSize    int           `mapstructure:"batch_size"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type ShardingConfig struct {
	WorkerBudget int64 `mapstructure:"worker_budget"`
}

type WorkerConfig struct {
	ID   string `mapstructure:"id"`
	Addr string `mapstructure:"addr"`
}

type MediaConfig struct {
	Workers []WorkerConfig `mapstructure:"workers"`
	// StubAddr is where cmd/mediastub listens.
	StubAddr string `mapstructure:"stub_addr"`
}

type SignalConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.concurrency", 8)
	v.SetDefault("queue.batch_size", 64)
	v.SetDefault("queue.retry_backoff", "200ms")
	v.SetDefault("sharding.worker_budget", 1000)
	v.SetDefault("media.stub_addr", ":7000")
	v.SetDefault("signal.rate_limit", 10)
	v.SetDefault("signal.rate_interval", "10s")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("VOICEMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("store", cfg.Store.Backend).
		Str("queue", cfg.Queue.Backend).
		Int("workers", len(cfg.Media.Workers)).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "redis":
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for %s", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	switch c.Queue.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown queue.backend %q", c.Queue.Backend)
	}
	for _, w := range c.Media.Workers {
		if w.ID == "" || w.Addr == "" {
			return fmt.Errorf("media worker needs id and addr, got %+v", w)
		}
	}
	if c.Sharding.WorkerBudget <= 0 {
		return fmt.Errorf("sharding.worker_budget must be positive")
	}
	return nil
}
