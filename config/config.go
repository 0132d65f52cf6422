/*
Package config loads process configuration from the environment.

A .env file next to the binary is honored when present (godotenv), then the
struct is decoded from the environment (envdecode). Configuration problems
are fatal at startup: the scheduler is never started with a missing anchor
hour or a nonsensical period.
*/
package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is everything the process needs from its environment.
type Config struct {
	// AnchorHourUTC is the hour of day (UTC) settlements run at.
	AnchorHourUTC int `env:"SCHEDULER_RUNS_UTC,required"`
	// PeriodDays is the settlement period length in days.
	PeriodDays int `env:"PAYOUT_STEP,required"`

	DBPath     string `env:"DB_PATH,default=countermeasure.db"`
	Port       int    `env:"PORT,default=8080"`
	WebhookURL string `env:"ANNOUNCE_WEBHOOK_URL"`

	Debug bool `env:"DEBUG,default=false"`
}

// Load reads the optional .env file and decodes the configuration.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.AnchorHourUTC < 0 || c.AnchorHourUTC > 23 {
		return fmt.Errorf("SCHEDULER_RUNS_UTC must be 0-23, got %d", c.AnchorHourUTC)
	}
	if c.PeriodDays < 1 {
		return fmt.Errorf("PAYOUT_STEP must be a positive number of days, got %d", c.PeriodDays)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 1-65535, got %d", c.Port)
	}
	return nil
}
