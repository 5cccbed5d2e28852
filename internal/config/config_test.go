package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("sleepwell", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sleepwell.yaml")
	yaml := `
db: from-file.db
backend:
  url: https://sleep.example.com
  timeout: 3s
reminder:
  preferred_time: "22:30"
  poll_interval: 2s
game:
  cooldown: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("SLEEPWELL_DB", "from-env.db")
	t.Setenv("SLEEPWELL_BACKEND__TOKEN", "secret")
	t.Setenv("SLEEPWELL_LOG__FORMAT", "json")

	cfg, err := Load(newFlags(t, "--config", path, "--db", "from-flag.db", "--game.cooldown", "250ms"))
	require.NoError(t, err)

	assert.Equal(t, "from-flag.db", cfg.DB)
	assert.Equal(t, "https://sleep.example.com", cfg.Backend.URL)
	assert.Equal(t, 3*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "secret", cfg.Backend.Token)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "22:30", cfg.Reminder.PreferredTime)
	assert.Equal(t, 2*time.Second, cfg.Reminder.PollInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Game.Cooldown)
	// Untouched keys keep their defaults.
	assert.Equal(t, Default().Listen, cfg.Listen)
	assert.True(t, cfg.Reminder.RequireInteraction)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad backend url", func(c *Config) { c.Backend.URL = "not a url" }},
		{"bad preferred time", func(c *Config) { c.Reminder.PreferredTime = "25:00" }},
		{"zero poll interval", func(c *Config) { c.Reminder.PollInterval = 0 }},
		{"token and token file", func(c *Config) {
			c.Backend.Token = "a"
			c.Backend.TokenFile = "/tmp/token"
		}},
		{"bad listen address", func(c *Config) { c.Listen = "nowhere" }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := Validate(&cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid config")
		})
	}

	cfg := Default()
	assert.NoError(t, Validate(&cfg))
}
