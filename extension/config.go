package extension

import "time"

// Config holds the Bastion extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.bastion" or "bastion" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for bastion routes (default: "/bastion").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// BotOwners lists user IDs that bypass every permission check.
	BotOwners []string `json:"bot_owners" mapstructure:"bot_owners" yaml:"bot_owners"`

	// Defaults overrides entries of the built-in default table.
	Defaults map[string]bool `json:"defaults" mapstructure:"defaults" yaml:"defaults"`

	// CacheTTL enables the decision cache when positive.
	CacheTTL time.Duration `json:"cache_ttl" mapstructure:"cache_ttl" yaml:"cache_ttl"`

	// CacheSize bounds the decision cache.
	CacheSize int `json:"cache_size" mapstructure:"cache_size" yaml:"cache_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:  "/bastion",
		CacheSize: 10000,
	}
}
