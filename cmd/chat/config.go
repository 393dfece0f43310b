package main

import (
	"flag"
	"fmt"
	"io"
	"net/url"

	"github.com/kelseyhightower/envconfig"

	"github.com/Tyrowin/globalchat/internal/client"
	"github.com/Tyrowin/globalchat/internal/prefs"
)

// Config is read from CHAT_* variables, then overridden by flags.
type Config struct {
	URL       string `envconfig:"URL" default:"ws://localhost:8080/chatHub"`
	Name      string `envconfig:"NAME"`
	PrefsPath string `envconfig:"PREFS_PATH"`
	// CHAT_RECONNECT_DELAYS is a comma separated list such as "0,2s,10s,30s",
	// or "none" to give up on the first drop.
	ReconnectDelays string `envconfig:"RECONNECT_DELAYS" default:"0,2s,10s,30s"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"WARN"`
	// CHAT_COLOURS colours names by their avatar colour
	Colours bool `envconfig:"COLOURS" default:"true"`
}

// LoadConfig reads the environment and then args.
func LoadConfig(args []string, stderr io.Writer) (Config, error) {
	var cfg Config
	if err := envconfig.Process("CHAT", &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.URL, "url", cfg.URL, "hub URL (ws, wss, http or https)")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "display name, overrides the remembered one")
	fs.StringVar(&cfg.PrefsPath, "prefs", cfg.PrefsPath, "preferences file")
	fs.StringVar(&cfg.ReconnectDelays, "reconnect", cfg.ReconnectDelays, `reconnect delays, or "none"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "DEBUG, INFO, WARN or ERROR")
	fs.BoolVar(&cfg.Colours, "colours", cfg.Colours, "colour names in the transcript")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the hub URL and reconnect delays.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid hub URL %q: %w", c.URL, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("invalid hub URL %q: unsupported scheme %q", c.URL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid hub URL %q: missing host", c.URL)
	}
	if _, err := client.ParseDelays(c.ReconnectDelays); err != nil {
		return err
	}
	return nil
}

// RetryPolicy returns the policy built from ReconnectDelays, or nil when
// reconnecting is disabled.
func (c Config) RetryPolicy() client.RetryPolicy {
	delays, err := client.ParseDelays(c.ReconnectDelays)
	if err != nil || len(delays) == 0 {
		return nil
	}
	return delays
}

// Store opens the preferences store at PrefsPath or the default location.
func (c Config) Store() (*prefs.Store, error) {
	path := c.PrefsPath
	if path == "" {
		var err error
		if path, err = prefs.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return prefs.NewStore(path), nil
}
