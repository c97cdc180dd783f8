// Package config contains the configuration loading logic of the agent.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config contains the runtime parameters of the order-notification agent.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	BackendAddress string        `env:"BACKEND_ADDRESS"`
	PushAddress    string        `env:"PUSH_ADDRESS"`
	AuthToken      string        `env:"AUTH_TOKEN"`
	UserID         string        `env:"USER_ID"`
	StateDSN       string        `env:"STATE_DSN"`
	PollInterval   time.Duration `env:"POLL_INTERVAL"`
	HistoryLimit   int           `env:"HISTORY_LIMIT"`
}

// Parse reads the configuration from command-line flags and environment
// variables. Environment variables win over flags. A .env file in the working
// directory is loaded first if present.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envBackendAddress := cfg.BackendAddress
	envPushAddress := cfg.PushAddress
	envAuthToken := cfg.AuthToken
	envUserID := cfg.UserID
	envStateDSN := cfg.StateDSN
	envPollInterval := cfg.PollInterval
	envHistoryLimit := cfg.HistoryLimit

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8090", "address and port for the local HTTP API")
	flag.StringVar(&cfg.BackendAddress, "b", "", "ordering backend base URL")
	flag.StringVar(&cfg.PushAddress, "u", "", "push channel URL (ws://, wss://, amqp:// or amqps://)")
	flag.StringVar(&cfg.AuthToken, "t", "", "bearer token for the backend and the local API")
	flag.StringVar(&cfg.UserID, "i", "", "user identity announced on the push channel")
	flag.StringVar(&cfg.StateDSN, "s", ".ordernotify", "state storage DSN (directory path or postgres://)")
	flag.DurationVar(&cfg.PollInterval, "p", 10*time.Second, "active-orders poll interval")
	flag.IntVar(&cfg.HistoryLimit, "l", 50, "notification history cap")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envBackendAddress != "" {
		cfg.BackendAddress = envBackendAddress
	}
	if envPushAddress != "" {
		cfg.PushAddress = envPushAddress
	}
	if envAuthToken != "" {
		cfg.AuthToken = envAuthToken
	}
	if envUserID != "" {
		cfg.UserID = envUserID
	}
	if envStateDSN != "" {
		cfg.StateDSN = envStateDSN
	}
	if envPollInterval != 0 {
		cfg.PollInterval = envPollInterval
	}
	if envHistoryLimit != 0 {
		cfg.HistoryLimit = envHistoryLimit
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8090"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}

	return cfg, nil
}
