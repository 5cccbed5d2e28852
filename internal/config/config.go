package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment overrides, e.g. SLEEPWELL_BACKEND__URL.
const EnvPrefix = "SLEEPWELL_"

// Config is the companion's configuration.
type Config struct {
	DB       string         `koanf:"db" validate:"required"`
	Listen   string         `koanf:"listen" validate:"required,hostname_port"`
	Log      LogConfig      `koanf:"log"`
	Backend  BackendConfig  `koanf:"backend"`
	Reminder ReminderConfig `koanf:"reminder"`
	Game     GameConfig     `koanf:"game"`
	Push     PushConfig     `koanf:"push"`
	Sources  SourcesConfig  `koanf:"sources"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

type BackendConfig struct {
	URL           string        `koanf:"url" validate:"required,url"`
	Token         string        `koanf:"token"`
	TokenFile     string        `koanf:"token_file" validate:"excluded_with=Token"`
	RatePerSecond float64       `koanf:"rate_per_second" validate:"gt=0"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
}

type ReminderConfig struct {
	// PreferredTime seeds the reminder when neither the backend nor the local
	// cache has one.
	PreferredTime      string        `koanf:"preferred_time" validate:"omitempty,datetime=15:04"`
	RequireInteraction bool          `koanf:"require_interaction"`
	PollInterval       time.Duration `koanf:"poll_interval" validate:"gt=0,lte=1m"`
	Bell               bool          `koanf:"bell"`
}

type GameConfig struct {
	Cooldown time.Duration `koanf:"cooldown" validate:"gt=0,lte=10s"`
}

type PushConfig struct {
	DeviceToken string `koanf:"device_token"`
}

type SourcesConfig struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
	Watch    bool   `koanf:"watch"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DB:     "sleepwell.db",
		Listen: "127.0.0.1:8787",
		Log:    LogConfig{Level: "info", Format: "text"},
		Backend: BackendConfig{
			URL:           "http://127.0.0.1:5000",
			RatePerSecond: 5,
			Timeout:       15 * time.Second,
		},
		Reminder: ReminderConfig{
			RequireInteraction: true,
			PollInterval:       time.Second,
			Bell:               true,
		},
		Game:    GameConfig{Cooldown: 700 * time.Millisecond},
		Sources: SourcesConfig{ReposDir: "repos", Watch: true},
	}
}

// Flags registers the command-line flags that override configuration keys.
func Flags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("db", d.DB, "Path to the SQLite database file")
	fs.String("listen", d.Listen, "Address for the HTTP API")
	fs.String("log.level", d.Log.Level, "Log level: debug, info, warn or error")
	fs.String("log.format", d.Log.Format, "Log format: text or json")
	fs.String("backend.url", d.Backend.URL, "Base URL of the sleep-wellness backend")
	fs.String("backend.token", "", "Bearer token for the backend")
	fs.String("backend.token_file", "", "File holding the bearer token, re-read on every call")
	fs.String("reminder.preferred_time", "", "Fallback reminder time (HH:MM)")
	fs.Bool("reminder.require_interaction", d.Reminder.RequireInteraction, "Hold alerts until the user has interacted once")
	fs.Duration("game.cooldown", d.Game.Cooldown, "How long a flipped pair stays visible")
	fs.String("sources.repos_dir", d.Sources.ReposDir, "Where git item-set sources are checked out")
	fs.Bool("sources.watch", d.Sources.Watch, "Re-sync local item-set sources when their files change")
}

// Load builds the configuration from defaults, the optional YAML file named by
// the "config" flag, SLEEPWELL_ environment variables and changed flags, in
// that order of precedence, and validates the result.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(key string) string {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	// Keys absent from every layer keep their built-in value.
	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration and reports every invalid field.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
