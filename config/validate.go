package config

import (
	"fmt"
	"strings"

	"solfind/crypto"
)

// SupportedSchemes lists the ledger endpoint schemes.
var SupportedSchemes = []string{"http://", "https://", "localnet://", "memory://"}

func Validate(cfg *Config) error {
	if _, err := crypto.ParseAddress(cfg.Network.ProgramID); err != nil {
		return fmt.Errorf("network: ProgramID: %w", err)
	}
	scheme := false
	for _, s := range SupportedSchemes {
		if strings.HasPrefix(cfg.Network.Endpoint, s) {
			scheme = true
			break
		}
	}
	if !scheme {
		return fmt.Errorf("network: Endpoint %q must start with one of %s", cfg.Network.Endpoint, strings.Join(SupportedSchemes, ", "))
	}
	local := strings.HasPrefix(cfg.Network.Endpoint, "localnet://") || strings.HasPrefix(cfg.Network.Endpoint, "memory://")
	if local && cfg.Network.FinalityDepth > 0 && cfg.Network.BlockTimeMs <= 0 {
		// Without block production nothing ever buries a transaction.
		return fmt.Errorf("network: FinalityDepth %d needs BlockTimeMs", cfg.Network.FinalityDepth)
	}
	switch cfg.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store: unsupported Driver %q", cfg.Store.Driver)
	}
	switch cfg.Media.Backend {
	case "fs":
		if strings.TrimSpace(cfg.Media.Dir) == "" {
			return fmt.Errorf("media: Dir required for the fs backend")
		}
	case "gcs":
	default:
		return fmt.Errorf("media: unsupported Backend %q", cfg.Media.Backend)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging: unknown Level %q", cfg.Logging.Level)
	}
	if cfg.Recon.GraceSeconds < 60 {
		return fmt.Errorf("recon: GraceSeconds must be at least 60")
	}
	return nil
}
