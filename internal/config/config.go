package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Environment variables that override secrets so they never need to live in
// the config file.
const (
	EnvVenueUsername = "TRADEBRIDGE_VENUE_USERNAME"
	EnvVenuePassword = "TRADEBRIDGE_VENUE_PASSWORD"
	EnvTelegramToken = "TRADEBRIDGE_TELEGRAM_TOKEN"
)

func Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", abs, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	cfg.applyEnv(os.LookupEnv)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	if val, ok := lookup(EnvVenueUsername); ok && strings.TrimSpace(val) != "" {
		c.Venue.Username = strings.TrimSpace(val)
	}
	if val, ok := lookup(EnvVenuePassword); ok && val != "" {
		c.Venue.Password = val
	}
	if val, ok := lookup(EnvTelegramToken); ok && strings.TrimSpace(val) != "" {
		c.Notify.Telegram.BotToken = strings.TrimSpace(val)
	}
}

func collectSettingsKeys(settings map[string]any, dest keySet) {
	if dest == nil || len(settings) == 0 {
		return
	}
	flattenConfigKeys("", settings, dest)
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, v := range val {
			next := strings.ToLower(strings.TrimSpace(k))
			if next == "" {
				continue
			}
			if prefix != "" {
				next = prefix + "." + next
			}
			flattenConfigKeys(next, v, dest)
		}
	case []any:
		if prefix != "" {
			dest.mark(prefix)
		}
	default:
		if prefix != "" {
			dest.mark(prefix)
		}
	}
}
