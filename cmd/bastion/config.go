package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the operator CLI configuration. It is read from bastion.yaml,
// BASTION_* environment variables and global flags, in increasing order of
// precedence.
type Config struct {
	RulesFile string         `mapstructure:"rules_file"`
	BotOwners []string       `mapstructure:"bot_owners"`
	Defaults  DefaultsConfig `mapstructure:"defaults"`
	LogLevel  string         `mapstructure:"log_level"`
}

// DefaultsConfig overrides the built-in default table. Keys are lists
// rather than a map because permission keys contain dots.
type DefaultsConfig struct {
	Allow []string `mapstructure:"allow"`
	Deny  []string `mapstructure:"deny"`
}

// Overrides returns the entries as a default table map. Deny wins when a
// key is listed twice.
func (d DefaultsConfig) Overrides() map[string]bool {
	out := make(map[string]bool, len(d.Allow)+len(d.Deny))
	for _, k := range d.Allow {
		out[k] = true
	}
	for _, k := range d.Deny {
		out[k] = false
	}
	return out
}

// Level parses LogLevel, defaulting to info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func globalFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("bastion", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.String("config", "", "path to the config file (default ./bastion.yaml)")
	fs.String("rules", "", "path to the JSON rule file")
	fs.StringSlice("bot-owner", nil, "user ID that bypasses every check (repeatable)")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	return fs
}

func loadConfig(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigName("bastion")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	explicit, _ := fs.GetString("config")
	if explicit != "" {
		v.SetConfigFile(explicit)
	}

	v.SetDefault("rules_file", "storage/permissions.json")
	v.SetDefault("log_level", "info")
	v.SetDefault("defaults.allow", []string{})
	v.SetDefault("defaults.deny", []string{})

	v.SetEnvPrefix("BASTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	binds := map[string]string{
		"rules_file": "rules",
		"bot_owners": "bot-owner",
		"log_level":  "log-level",
	}
	for key, flag := range binds {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind %s: %w", flag, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// Only the implicit ./bastion.yaml is optional.
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
