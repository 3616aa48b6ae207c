package ratelimit

import (
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Endpoint path pattern (supports prefix matching)
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// DefaultConfig returns an enabled limiter configuration with the default
// per-minute limit and endpoint overrides.
func DefaultConfig() *Config {
	return NewConfig(120, 20, nil)
}

// NewConfig builds a configuration allowing requestsPerMinute with the given
// burst on every endpoint not listed in DefaultEndpointConfigs.
func NewConfig(requestsPerMinute, burst int, whitelist []string) *Config {
	wl := make(map[string]bool, len(whitelist))
	for _, ip := range whitelist {
		if ip != "" {
			wl[ip] = true
		}
	}
	return &Config{
		Enabled:         requestsPerMinute > 0,
		DefaultLimit:    requestsPerMinute,
		DefaultWindow:   time.Minute,
		DefaultBurst:    burst,
		CleanupInterval: 5 * time.Minute,
		IdleTimeout:     time.Hour,
		Whitelist:       wl,
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the default endpoint-specific configurations.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Password checks are the most expensive call and the obvious brute force target.
		{Path: "/api/auth/token", Method: "POST", Limit: 10, Window: time.Minute, Burst: 3},

		// Admin mutations rescan the whole store.
		{Path: "/api/admin/", Method: "POST", Limit: 10, Window: time.Minute, Burst: 2},
		{Path: "/api/admin/", Method: "DELETE", Limit: 5, Window: time.Minute, Burst: 1},

		// Dashboard reads are handled by the default limit; health checks are unlimited.
	}
}
