package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dibslive/dibs/go/internal/room/auction"
	"github.com/dibslive/dibs/go/internal/room/timer"
)

// Config is the yaml room configuration. Env vars cover infrastructure
// endpoints; yaml covers room behavior.
type Config struct {
	Rooms struct {
		AuctionDurationSec int   `yaml:"auction_duration_sec"`
		MinIncrement       int64 `yaml:"min_increment"`
		OvertimeWindowSec  int   `yaml:"overtime_window_sec"`
		MaxBonusSec        int   `yaml:"max_bonus_sec"`
		TopBidders         int   `yaml:"top_bidders"`
	} `yaml:"rooms"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// auctionConfig maps yaml values onto the state machine config, falling back
// to defaults for anything unset.
func (c *Config) auctionConfig() auction.Config {
	cfg := auction.DefaultConfig()
	if c.Rooms.AuctionDurationSec > 0 {
		cfg.Duration = time.Duration(c.Rooms.AuctionDurationSec) * time.Second
	}
	if c.Rooms.MinIncrement > 0 {
		cfg.MinIncrement = c.Rooms.MinIncrement
	}
	if c.Rooms.TopBidders > 0 {
		cfg.TopBidders = c.Rooms.TopBidders
	}
	return cfg
}

func (c *Config) timerConfig() timer.Config {
	cfg := timer.DefaultConfig()
	if c.Rooms.OvertimeWindowSec > 0 {
		cfg.OvertimeWindow = time.Duration(c.Rooms.OvertimeWindowSec) * time.Second
	}
	if c.Rooms.MaxBonusSec > 0 {
		cfg.MaxBonus = time.Duration(c.Rooms.MaxBonusSec) * time.Second
	}
	return cfg
}
