// Package config содержит логику чтения конфигурации движка лояльности.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress = "localhost:8080"
	defaultFanout     = 8
	minFanout         = 1
	maxFanout         = 32
	defaultPageSize   = 20
	defaultSessionTTL = 30 * time.Minute
)

// Config содержит параметры конфигурации движка лояльности.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	POSSystemAddress string `env:"POS_SYSTEM_ADDRESS"`
	FanoutLimit      int    `env:"FANOUT_LIMIT"`

	PageSize   int           `env:"PAGE_SIZE" envDefault:"20"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"30m"`

	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaStateTopic  string   `env:"KAFKA_STATE_TOPIC" envDefault:"customer-reward-state"`
	KafkaEventsTopic string   `env:"KAFKA_EVENTS_TOPIC" envDefault:"reward-events"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPOSAddress := cfg.POSSystemAddress
	envFanout := cfg.FanoutLimit

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, empty for in-memory store")
	flag.StringVar(&cfg.POSSystemAddress, "p", "", "POS system address")
	flag.IntVar(&cfg.FanoutLimit, "w", defaultFanout, "max concurrent per-customer lookups")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPOSAddress != "" {
		cfg.POSSystemAddress = envPOSAddress
	}
	if envFanout != 0 {
		cfg.FanoutLimit = envFanout
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.RunAddress == "" {
		c.RunAddress = defaultRunAddress
	}
	switch {
	case c.FanoutLimit < minFanout:
		c.FanoutLimit = minFanout
	case c.FanoutLimit > maxFanout:
		c.FanoutLimit = maxFanout
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
}
