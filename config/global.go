package config

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"solfind/observability/logging"
	"solfind/observability/otel"
)

// ProgramID returns the parsed escrow program address.
func (c *Config) ProgramID() (solana.PublicKey, error) {
	return solana.PublicKeyFromBase58(c.Network.ProgramID)
}

// PollInterval is the finality polling cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Network.PollIntervalMs) * time.Millisecond
}

// ConfirmTimeout caps the Confirming phase of an attempt.
func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Network.ConfirmTimeoutSeconds) * time.Second
}

// ReconInterval is the time between scheduled reconciliation runs.
func (c *Config) ReconInterval() time.Duration {
	return time.Duration(c.Recon.IntervalSeconds) * time.Second
}

// ReconGrace is how long a pending listing may wait before it is abandoned.
func (c *Config) ReconGrace() time.Duration {
	return time.Duration(c.Recon.GraceSeconds) * time.Second
}

// SessionTTL is the lifetime of gateway session tokens.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Gateway.SessionTTLSeconds) * time.Second
}

// MediaBuckets maps the workflow's logical bucket names to configured ones.
func (c *Config) MediaBuckets() map[string]string {
	return map[string]string{
		"report-images": c.Media.ReportImagesBucket,
		"submit-images": c.Media.SubmitImagesBucket,
	}
}

// LoggingOptions converts the logging section for service.
func (c *Config) LoggingOptions(service string) logging.Options {
	opts := logging.Options{Service: service, Env: c.Logging.Env, Level: c.Logging.Level}
	if c.Logging.File != "" {
		opts.File = &logging.FileOptions{
			Path:       c.Logging.File,
			MaxSizeMB:  c.Logging.MaxSizeMB,
			MaxBackups: c.Logging.MaxBackups,
			MaxAgeDays: c.Logging.MaxAgeDays,
			Compress:   true,
		}
	}
	return opts
}

// TelemetryConfig converts the telemetry section for service.
func (c *Config) TelemetryConfig(service string) otel.Config {
	return otel.Config{
		ServiceName: service,
		Environment: c.Logging.Env,
		ProgramID:   c.Network.ProgramID,
		Cluster:     otel.ClusterLabel(c.Network.Endpoint),
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		Headers:     otel.ParseHeaders(c.Telemetry.Headers),
		Traces:      c.Telemetry.Traces,
		Metrics:     c.Telemetry.Metrics,
	}
}

// Verbose reports whether error messages should carry raw diagnostics.
func (c *Config) Verbose() bool {
	switch c.Logging.Env {
	case "prod", "production":
		return false
	default:
		return true
	}
}
