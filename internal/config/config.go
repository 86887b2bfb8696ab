package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	Hub        HubConfig        `yaml:"hub"`
	Registry   RegistryConfig   `yaml:"registry"`
	Reputation ReputationConfig `yaml:"reputation"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type HubConfig struct {
	HistorySize int `yaml:"history_size"`
}

type RegistryConfig struct {
	HeartbeatTimeoutSeconds int `yaml:"heartbeat_timeout_seconds"`
	CleanupIntervalSeconds  int `yaml:"cleanup_interval_seconds"`
}

type ReputationConfig struct {
	WindowDays          int `yaml:"window_days"`
	MinLeaderboardTasks int `yaml:"min_leaderboard_tasks"`
}

type APIConfig struct {
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Registry.HeartbeatTimeoutSeconds) * time.Second
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Registry.CleanupIntervalSeconds) * time.Second
}

func (c *Config) ReputationWindow() time.Duration {
	return time.Duration(c.Reputation.WindowDays) * 24 * time.Hour
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8610,
			MetricsPort: 8611,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Hub: HubConfig{
			HistorySize: 1000,
		},
		Registry: RegistryConfig{
			HeartbeatTimeoutSeconds: 300,
			CleanupIntervalSeconds:  60,
		},
		Reputation: ReputationConfig{
			WindowDays:          30,
			MinLeaderboardTasks: 5,
		},
		API: APIConfig{
			RateLimitPerMinute: 120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENTGRAPH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("AGENTGRAPH_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("AGENTGRAPH_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("AGENTGRAPH_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("AGENTGRAPH_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("AGENTGRAPH_HISTORY_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Hub.HistorySize = n
		}
	}
	if v := os.Getenv("AGENTGRAPH_HEARTBEAT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Registry.HeartbeatTimeoutSeconds = n
		}
	}
	if v := os.Getenv("AGENTGRAPH_CLEANUP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Registry.CleanupIntervalSeconds = n
		}
	}
	if v := os.Getenv("AGENTGRAPH_REPUTATION_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Reputation.WindowDays = n
		}
	}
	if v := os.Getenv("AGENTGRAPH_MIN_LEADERBOARD_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Reputation.MinLeaderboardTasks = n
		}
	}
	if v := os.Getenv("AGENTGRAPH_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.API.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("AGENTGRAPH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
