// Package config loads the settings of the exfilguard command from flags,
// EXFILGUARD_* environment variables and an optional exfilguard.yaml file,
// in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	DevTools    string   `mapstructure:"devtools"`
	Target      string   `mapstructure:"target"`
	DB          string   `mapstructure:"db"`
	AlertCap    int      `mapstructure:"alert_cap"`
	Hosts       []string `mapstructure:"hosts"`
	NoOverlay   bool     `mapstructure:"no_overlay"`
	LogLevel    string   `mapstructure:"log_level"`
	LogFile     string   `mapstructure:"log_file"`
	MetricsAddr string   `mapstructure:"metrics_addr"`
	Limit       int      `mapstructure:"limit"`
}

// Flags registers the command line flags on fs.
func Flags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a YAML config file (default ./exfilguard.yaml if present)")
	fs.String("devtools", "http://127.0.0.1:9222", "remote debugging endpoint of the browser")
	fs.String("target", "", "guard only the page with this target ID")
	fs.String("db", "exfilguard.db", "SQLite file holding the alert history")
	fs.Int("alert-cap", 200, "number of alerts kept")
	fs.StringSlice("hosts", nil, "watched hosts (default telegram.org,api.telegram.org)")
	fs.Bool("no-overlay", false, "do not show the in-page warning")
	fs.String("log-level", "info", "debug, info, warn, error or disabled")
	fs.String("log-file", "", "also write logs to this rotating file")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	fs.Int("limit", 50, "number of alerts printed by the alerts command")
}

// Load resolves the configuration for a parsed fs.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EXFILGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("config: binding flags: %w", bindErr)
	}

	path, _ := fs.GetString("config")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("exfilguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Hosts = splitHosts(cfg.Hosts)
	if cfg.DevTools == "" {
		return nil, fmt.Errorf("config: devtools endpoint is required")
	}
	if cfg.AlertCap <= 0 {
		return nil, fmt.Errorf("config: alert_cap must be positive")
	}
	return &cfg, nil
}

// splitHosts accepts both repeated values and a single comma separated one.
func splitHosts(in []string) []string {
	var out []string
	for _, h := range in {
		for _, part := range strings.Split(h, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
