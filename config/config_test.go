package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/countermeasure/economy-engine/config"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SCHEDULER_RUNS_UTC", "18")
	t.Setenv("PAYOUT_STEP", "3")
}

func TestLoad_DefaultsApplied(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 18, cfg.AnchorHourUTC)
	assert.Equal(t, 3, cfg.PeriodDays)
	assert.Equal(t, "countermeasure.db", cfg.DBPath)
	assert.Equal(t, 8080, cfg.Port)
	assert.Empty(t, cfg.WebhookURL)
	assert.False(t, cfg.Debug)
}

func TestLoad_MissingRequiredFails(t *testing.T) {
	t.Setenv("SCHEDULER_RUNS_UTC", "18")
	os.Unsetenv("PAYOUT_STEP")

	_, err := config.Load("")
	assert.Error(t, err)
}

func TestLoad_EnvFileHonored(t *testing.T) {
	// Variables already in the environment win over the file; absent ones
	// come from it.
	t.Setenv("SCHEDULER_RUNS_UTC", "6")
	os.Unsetenv("PAYOUT_STEP")
	os.Unsetenv("DB_PATH")

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"SCHEDULER_RUNS_UTC=18\nPAYOUT_STEP=1\nDB_PATH=/tmp/test.db\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("PAYOUT_STEP")
		os.Unsetenv("DB_PATH")
	})

	cfg, err := config.Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.AnchorHourUTC)
	assert.Equal(t, 1, cfg.PeriodDays)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	setRequired(t)

	_, err := config.Load("/nonexistent/.env")
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"valid", func(*config.Config) {}, false},
		{"hour too low", func(c *config.Config) { c.AnchorHourUTC = -1 }, true},
		{"hour too high", func(c *config.Config) { c.AnchorHourUTC = 24 }, true},
		{"midnight anchor ok", func(c *config.Config) { c.AnchorHourUTC = 0 }, false},
		{"zero period", func(c *config.Config) { c.PeriodDays = 0 }, true},
		{"negative period", func(c *config.Config) { c.PeriodDays = -2 }, true},
		{"port zero", func(c *config.Config) { c.Port = 0 }, true},
		{"port too high", func(c *config.Config) { c.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{AnchorHourUTC: 18, PeriodDays: 3, Port: 8080}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
