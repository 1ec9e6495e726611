// Package config loads the gateway server policy: HTTP timeouts, TLS and
// the per-group rate limits. Everything else comes from the main solfind
// configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"solfind/gateway/middleware"
	"solfind/gateway/routes"
)

type RateLimitConfig struct {
	ID                string         `yaml:"id"`
	RequestsPerMinute float64        `yaml:"requestsPerMinute"`
	Burst             int            `yaml:"burst"`
	Tokens            map[string]int `yaml:"tokens"`
}

type SecurityConfig struct {
	TLSCertFile string `yaml:"tlsCertFile"`
	TLSKeyFile  string `yaml:"tlsKeyFile"`
}

type ObservabilityConfig struct {
	ServiceName string `yaml:"serviceName"`
	LogRequests bool   `yaml:"logRequests"`
}

type Policy struct {
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Security      SecurityConfig      `yaml:"security"`
}

var knownGroups = map[string]struct{}{
	routes.GroupAuth:        {},
	routes.GroupReports:     {},
	routes.GroupSubmissions: {},
}

// DefaultPolicy gives every group the same budget. Submissions charge five
// tokens per upload.
func DefaultPolicy(requestsPerMinute, burst int) Policy {
	perMinute := float64(requestsPerMinute)
	return Policy{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		RateLimits: []RateLimitConfig{
			{ID: routes.GroupAuth, RequestsPerMinute: perMinute / 4, Burst: burst},
			{ID: routes.GroupReports, RequestsPerMinute: perMinute, Burst: burst},
			{ID: routes.GroupSubmissions, RequestsPerMinute: perMinute, Burst: burst, Tokens: map[string]int{"POST": 5}},
		},
		Observability: ObservabilityConfig{ServiceName: "solfind-gateway", LogRequests: true},
	}
}

// Load decodes the YAML file at path over defaults. An empty path returns
// the defaults. Groups listed in the file replace the default entry for the
// same id.
func Load(path string, defaults Policy) (Policy, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		if err := cfg.Validate(); err != nil {
			return Policy{}, fmt.Errorf("validate policy: %w", err)
		}
		return cfg, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return Policy{}, fmt.Errorf("open policy: %w", err)
	}
	defer file.Close()

	var decoded Policy
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&decoded); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	cfg.merge(decoded)
	if err := cfg.Validate(); err != nil {
		return Policy{}, fmt.Errorf("validate policy: %w", err)
	}
	return cfg, nil
}

func (cfg *Policy) merge(o Policy) {
	if o.ReadTimeout > 0 {
		cfg.ReadTimeout = o.ReadTimeout
	}
	if o.WriteTimeout > 0 {
		cfg.WriteTimeout = o.WriteTimeout
	}
	if o.IdleTimeout > 0 {
		cfg.IdleTimeout = o.IdleTimeout
	}
	if o.Observability.ServiceName != "" {
		cfg.Observability.ServiceName = o.Observability.ServiceName
	}
	cfg.Observability.LogRequests = cfg.Observability.LogRequests || o.Observability.LogRequests
	if o.Security.TLSCertFile != "" || o.Security.TLSKeyFile != "" {
		cfg.Security = o.Security
	}
	merged := make([]RateLimitConfig, 0, len(cfg.RateLimits)+len(o.RateLimits))
	overridden := make(map[string]RateLimitConfig, len(o.RateLimits))
	for _, rl := range o.RateLimits {
		overridden[strings.TrimSpace(rl.ID)] = rl
	}
	for _, rl := range cfg.RateLimits {
		if _, ok := overridden[rl.ID]; ok {
			continue
		}
		merged = append(merged, rl)
	}
	cfg.RateLimits = append(merged, o.RateLimits...)
}

func (cfg *Policy) Validate() error {
	if cfg == nil {
		return fmt.Errorf("policy is nil")
	}
	seen := make(map[string]struct{}, len(cfg.RateLimits))
	for i, rl := range cfg.RateLimits {
		id := strings.TrimSpace(rl.ID)
		if _, ok := knownGroups[id]; !ok {
			return fmt.Errorf("rateLimits[%d]: unknown group %q", i, rl.ID)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("rateLimits[%d]: duplicate group %q", i, id)
		}
		seen[id] = struct{}{}
		if rl.RequestsPerMinute <= 0 {
			return fmt.Errorf("rateLimits[%d]: requestsPerMinute must be positive", i)
		}
		if rl.Burst <= 0 {
			return fmt.Errorf("rateLimits[%d]: burst must be positive", i)
		}
		for method, tokens := range rl.Tokens {
			if tokens <= 0 || tokens > rl.Burst {
				return fmt.Errorf("rateLimits[%d]: tokens for %s must be between 1 and burst", i, method)
			}
		}
	}
	if (cfg.Security.TLSCertFile == "") != (cfg.Security.TLSKeyFile == "") {
		return fmt.Errorf("security: tlsCertFile and tlsKeyFile must be set together")
	}
	return nil
}

// Limits converts the rate limits for the middleware.
func (cfg Policy) Limits() map[string]middleware.RateLimit {
	out := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for _, rl := range cfg.RateLimits {
		tokens := make(map[string]int, len(rl.Tokens))
		for method, n := range rl.Tokens {
			tokens[strings.ToUpper(method)] = n
		}
		out[strings.TrimSpace(rl.ID)] = middleware.RateLimit{
			RequestsPerMinute: rl.RequestsPerMinute,
			Burst:             rl.Burst,
			Tokens:            tokens,
		}
	}
	return out
}

// TLSEnabled reports whether the server should listen with TLS.
func (cfg Policy) TLSEnabled() bool {
	return cfg.Security.TLSCertFile != "" && cfg.Security.TLSKeyFile != ""
}
