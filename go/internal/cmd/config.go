package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration. Timings come from an optional YAML
// file; connection settings come from the environment.
type Config struct {
	Auction struct {
		ExtendFloor        time.Duration `yaml:"extend_floor"`
		EndingSoonWindow   time.Duration `yaml:"ending_soon_window"`
		Tick               time.Duration `yaml:"tick"`
		ActivationInterval time.Duration `yaml:"activation_interval"`
		RecentBids         int           `yaml:"recent_bids"`
	} `yaml:"auction"`

	Port       string `yaml:"-"`
	CORSOrigin string `yaml:"-"`
	RedisURL   string `yaml:"-"`
	NATSURL    string `yaml:"-"`
	JWTSecret  string `yaml:"-"`
	LogLevel   string `yaml:"-"`
}

func defaultConfig() *Config {
	var c Config
	c.Auction.ExtendFloor = 15 * time.Second
	c.Auction.EndingSoonWindow = 10 * time.Second
	c.Auction.Tick = time.Second
	c.Auction.ActivationInterval = 60 * time.Second
	c.Auction.RecentBids = 10
	return &c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// loadConfig reads path when it is set, then applies environment overrides.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	a := &config.Auction
	a.ExtendFloor = getEnvAsDuration("AUCTION_EXTEND_FLOOR", a.ExtendFloor)
	a.EndingSoonWindow = getEnvAsDuration("AUCTION_ENDING_SOON", a.EndingSoonWindow)
	a.Tick = getEnvAsDuration("AUCTION_TICK", a.Tick)
	a.ActivationInterval = getEnvAsDuration("AUCTION_ACTIVATION_INTERVAL", a.ActivationInterval)
	a.RecentBids = getEnvAsInt("AUCTION_RECENT_BIDS", a.RecentBids)

	config.Port = getEnv("PORT", "8080")
	config.CORSOrigin = getEnv("CORS_ORIGIN", "*")
	config.RedisURL = getEnv("REDIS_URL", "")
	config.NATSURL = getEnv("NATS_URL", "")
	config.JWTSecret = getEnv("JWT_SECRET", "")
	config.LogLevel = getEnv("LOG_LEVEL", "info")

	if a.ExtendFloor <= 0 || a.Tick <= 0 {
		return nil, fmt.Errorf("auction timings must be positive")
	}
	return config, nil
}

func (c *Config) level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
