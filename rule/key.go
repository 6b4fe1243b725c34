package rule

import (
	"fmt"
	"strings"
)

// KeyPrefix is the first segment of every permission key.
const KeyPrefix = "p"

// ValidateKey checks that key has the form "p.<plugin>.<feature>": three
// non-empty dot-separated segments, the first being "p". Keys are
// case-sensitive and never contain wildcards.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("permission key is empty")
	}
	segs := strings.Split(key, ".")
	if len(segs) != 3 {
		return fmt.Errorf("permission key %q must have three dot-separated segments", key)
	}
	if segs[0] != KeyPrefix {
		return fmt.Errorf("permission key %q must start with %q", key, KeyPrefix+".")
	}
	for _, s := range segs[1:] {
		if s == "" {
			return fmt.Errorf("permission key %q has an empty segment", key)
		}
		if strings.ContainsAny(s, "* \t\n") {
			return fmt.Errorf("permission key %q contains an invalid character", key)
		}
	}
	return nil
}

// Plugin returns the plugin segment of key, or "" if key is malformed.
func Plugin(key string) string {
	segs := strings.Split(key, ".")
	if len(segs) != 3 || segs[0] != KeyPrefix {
		return ""
	}
	return segs[1]
}
