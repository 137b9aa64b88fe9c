// Package config loads server settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ROULETTE_SERVER_ADDR.
const EnvPrefix = "ROULETTE"

var (
	// ErrMissingCredentials is returned when the Spotify client ID or secret is not configured.
	ErrMissingCredentials = errors.New("spotify client_id and client_secret must be set (SPOTIFY_ID / SPOTIFY_SECRET)")

	// ErrInvalid is wrapped by every other validation failure.
	ErrInvalid = errors.New("invalid config")
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Spotify  SpotifyConfig  `mapstructure:"spotify"`
	Session  SessionConfig  `mapstructure:"session"`
	Room     RoomConfig     `mapstructure:"room"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	BaseURL string `mapstructure:"base_url"`
}

type SpotifyConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type RoomConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	CodeAttempts int           `mapstructure:"code_attempts"`
	Seed         uint64        `mapstructure:"seed"`
}

type CatalogConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RequirePreview    bool    `mapstructure:"require_preview"`
}

type RealtimeConfig struct {
	PingPeriod time.Duration `mapstructure:"ping_period"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RedirectURL is the OAuth callback registered with Spotify.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.Server.BaseURL, "/") + "/callback"
}

// Load reads configuration. An explicit path must exist; otherwise
// config/config.<CONFIG_ENV>.yaml is used when present, and defaults when not.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("spotify.client_id", EnvPrefix+"_SPOTIFY_CLIENT_ID", "SPOTIFY_ID")
	_ = v.BindEnv("spotify.client_secret", EnvPrefix+"_SPOTIFY_CLIENT_SECRET", "SPOTIFY_SECRET")

	explicit := path != ""
	if !explicit {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
		if explicit || !missing {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		log.Debug().Str("module", "config").Str("file", path).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.base_url", "http://127.0.0.1:8080")
	v.SetDefault("spotify.client_id", "")
	v.SetDefault("spotify.client_secret", "")
	v.SetDefault("session.ttl", "60m")
	v.SetDefault("room.ttl", "30m")
	v.SetDefault("room.code_attempts", 1000)
	v.SetDefault("room.seed", 0)
	v.SetDefault("catalog.requests_per_second", 10)
	v.SetDefault("catalog.max_retries", 5)
	v.SetDefault("catalog.require_preview", false)
	v.SetDefault("realtime.ping_period", "54s")
	v.SetDefault("realtime.read_limit", 32768)
	v.SetDefault("realtime.send_buffer", 32)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Validate reports the first setting the server cannot run with.
func (c *Config) Validate() error {
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		return ErrMissingCredentials
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is empty", ErrInvalid)
	}
	if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		return fmt.Errorf("%w: server.base_url %q must be an http(s) URL", ErrInvalid, c.Server.BaseURL)
	}

	durations := []struct {
		key string
		d   time.Duration
	}{
		{"session.ttl", c.Session.TTL},
		{"room.ttl", c.Room.TTL},
		{"realtime.ping_period", c.Realtime.PingPeriod},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, d.key, d.d)
		}
	}

	if c.Room.CodeAttempts <= 0 {
		return fmt.Errorf("%w: room.code_attempts must be positive", ErrInvalid)
	}
	if c.Catalog.MaxRetries < 0 {
		return fmt.Errorf("%w: catalog.max_retries must not be negative", ErrInvalid)
	}
	if c.Realtime.ReadLimit <= 0 || c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("%w: realtime.read_limit and realtime.send_buffer must be positive", ErrInvalid)
	}
	return nil
}
