package bastion

import "time"

// Config holds configuration for the Bastion engine.
type Config struct {
	// BotOwners lists requester IDs treated as bot operators. Listed
	// requesters bypass rule evaluation and may write any rule.
	BotOwners []string `json:"bot_owners,omitempty"`

	// Defaults overrides or extends the built-in default table. Keys are
	// full permission keys ("p.events.add") or plugin prefixes ("p.events").
	Defaults map[string]bool `json:"defaults,omitempty"`

	// CacheTTL is the time-to-live for cached decisions.
	// Zero means no caching.
	CacheTTL time.Duration `json:"cache_ttl,omitempty"`

	// CacheSize caps the number of cached decisions. Defaults to 10000.
	CacheSize int `json:"cache_size,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CacheSize: 10000,
	}
}
