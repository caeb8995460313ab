// Package config loads the environment-driven settings described in
// spec.md §6, following the teacher/pack's viper-based configuration
// pattern. Nothing outside this package (and cmd/gat) imports viper; the
// crypto, index, server, and client packages accept plain Go values.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/karthik1codes/gat/internal/gat/magic"
)

// Config holds every GAT_* environment option recognized by the system.
// Rate-limit and size/extension guards are surfaced here for a host HTTP
// layer to enforce; the core itself accepts arbitrary byte inputs per
// spec.md §1/§7.
type Config struct {
	ScryptN                int
	MaxUploadBytes         int64
	AllowedExtensions      []string
	MaxSearchQueryLength   int
	MaxKeywordsMulti       int
	RateLimitUpload        int
	RateLimitSearch        int
	RateLimitWindow        time.Duration
	VaultInactivityTimeout time.Duration
}

// Load reads GAT_* environment variables (via viper.AutomaticEnv) into a
// Config, applying the defaults from spec.md §6 / magic.go where unset.
func Load() *Config {
	v := viper.New()
	v.SetEnvPrefix("GAT")
	v.AutomaticEnv()
	v.SetDefault("SCRYPT_N", magic.ScryptN)
	v.SetDefault("MAX_UPLOAD_BYTES", magic.DefaultMaxUploadBytes)
	v.SetDefault("ALLOWED_EXTENSIONS", "")
	v.SetDefault("MAX_SEARCH_QUERY_LENGTH", magic.DefaultMaxSearchQueryLength)
	v.SetDefault("MAX_KEYWORDS_MULTI", magic.DefaultMaxKeywordsMulti)
	v.SetDefault("RATE_LIMIT_UPLOAD", 0)
	v.SetDefault("RATE_LIMIT_SEARCH", 0)

	cfg := &Config{
		ScryptN:                v.GetInt("SCRYPT_N"),
		MaxUploadBytes:         v.GetInt64("MAX_UPLOAD_BYTES"),
		AllowedExtensions:      splitCSV(v.GetString("ALLOWED_EXTENSIONS")),
		MaxSearchQueryLength:   v.GetInt("MAX_SEARCH_QUERY_LENGTH"),
		MaxKeywordsMulti:       v.GetInt("MAX_KEYWORDS_MULTI"),
		RateLimitUpload:        v.GetInt("RATE_LIMIT_UPLOAD"),
		RateLimitSearch:        v.GetInt("RATE_LIMIT_SEARCH"),
		RateLimitWindow:        magic.RateLimitWindow,
		VaultInactivityTimeout: magic.DefaultInactivityTimeout,
	}
	return cfg
}

// WithInactivityTimeout returns a copy of cfg with the constructor-level
// vault inactivity timeout overridden (spec.md §4.2 / §6).
func (c *Config) WithInactivityTimeout(d time.Duration) *Config {
	clone := *c
	clone.VaultInactivityTimeout = d
	return &clone
}

func splitCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
