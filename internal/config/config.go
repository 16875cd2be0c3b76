// Package config loads the client configuration from a TOML file with
// sensible defaults for every field, so a missing file still yields a
// usable local-development configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	API   APIConfig   `toml:"api"`
	Push  PushConfig  `toml:"push"`
	Watch WatchConfig `toml:"watch"`
	Log   LogConfig   `toml:"log"`
}

type APIConfig struct {
	BaseURL string `toml:"base_url"`
	// Token is the bearer token; TokenFile points at a file holding one.
	// Token wins when both are set.
	Token     string `toml:"token"`
	TokenFile string `toml:"token_file"`
	UserAgent string `toml:"user_agent"`
	// UserID scopes task subscriptions; defaults to the token's subject on
	// the backend side, but the client needs it for channel keys.
	UserID string `toml:"user_id"`
}

type PushConfig struct {
	// Endpoint is the ws:// or wss:// push URL. Empty selects the polling
	// fallback over the REST feed.
	Endpoint     string   `toml:"endpoint"`
	PollInterval duration `toml:"poll_interval"`
	PollJitter   float64  `toml:"poll_jitter"`
}

type WatchConfig struct {
	Dir            string   `toml:"dir"`
	SettleDelay    duration `toml:"settle_delay"`
	SubmitInterval duration `toml:"submit_interval"`
	Burst          int      `toml:"burst"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// duration lets TOML carry values like "5s" and "2m".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func (d duration) Std() time.Duration { return time.Duration(d) }

func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
		},
		Push: PushConfig{
			PollInterval: duration(5 * time.Second),
			PollJitter:   0.2,
		},
		Watch: WatchConfig{
			SettleDelay:    duration(2 * time.Second),
			SubmitInterval: duration(30 * time.Second),
			Burst:          3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the file over the defaults. A missing file is not an error;
// a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// BearerToken resolves the configured token, reading TokenFile if needed.
func (c Config) BearerToken() (string, error) {
	if token := strings.TrimSpace(c.API.Token); token != "" {
		return token, nil
	}
	if c.API.TokenFile == "" {
		return "", fmt.Errorf("no api token configured: set api.token or api.token_file")
	}
	raw, err := os.ReadFile(c.API.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", c.API.TokenFile)
	}
	return token, nil
}
