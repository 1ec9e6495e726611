package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultProgramID is the escrow program address used when none is set.
const DefaultProgramID = "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS"

type Config struct {
	Network   Network   `toml:"network"`
	Wallet    Wallet    `toml:"wallet"`
	Store     Store     `toml:"store"`
	Media     Media     `toml:"media"`
	Recon     Recon     `toml:"recon"`
	Gateway   Gateway   `toml:"gateway"`
	Logging   Logging   `toml:"logging"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
		}
	}

	applyDefaults(cfg, filepath.Dir(path))
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for a fresh install rooted at
// dir.
func Default(dir string) *Config {
	cfg := &Config{
		Network: Network{
			Endpoint:        "localnet://" + filepath.Join(dir, "ledger"),
			ProgramID:       DefaultProgramID,
			FeePerSignature: 5000,
		},
		Wallet: Wallet{KeypairPath: filepath.Join(dir, "wallet.json")},
		Store: Store{
			Driver: "sqlite",
			DSN:    filepath.Join(dir, "solfind.db"),
		},
		Media: Media{
			Backend: "fs",
			Dir:     filepath.Join(dir, "media"),
			BaseURL: "http://localhost:8080/media",
		},
		Recon: Recon{OutputDir: filepath.Join(dir, "recon")},
		Gateway: Gateway{
			ListenAddress:     ":8080",
			ChallengeStoreDir: filepath.Join(dir, "challenges"),
		},
		Logging: Logging{Level: "info", Env: "dev"},
	}
	applyDefaults(cfg, dir)
	return cfg
}

func applyDefaults(cfg *Config, dir string) {
	if strings.TrimSpace(cfg.Network.ProgramID) == "" {
		cfg.Network.ProgramID = DefaultProgramID
	}
	if strings.TrimSpace(cfg.Network.Endpoint) == "" {
		cfg.Network.Endpoint = "localnet://" + filepath.Join(dir, "ledger")
	}
	if cfg.Network.RequestsPerSecond <= 0 {
		cfg.Network.RequestsPerSecond = 10
	}
	if cfg.Network.Burst <= 0 {
		cfg.Network.Burst = 5
	}
	if cfg.Network.PollIntervalMs <= 0 {
		cfg.Network.PollIntervalMs = 500
	}
	if cfg.Network.ConfirmTimeoutSeconds <= 0 {
		cfg.Network.ConfirmTimeoutSeconds = 120
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DSN == "" && cfg.Store.Driver == "sqlite" {
		cfg.Store.DSN = filepath.Join(dir, "solfind.db")
	}
	if cfg.Media.Backend == "" {
		cfg.Media.Backend = "fs"
	}
	if cfg.Media.Dir == "" && cfg.Media.Backend == "fs" {
		cfg.Media.Dir = filepath.Join(dir, "media")
	}
	if cfg.Media.ReportImagesBucket == "" {
		cfg.Media.ReportImagesBucket = "report-images"
	}
	if cfg.Media.SubmitImagesBucket == "" {
		cfg.Media.SubmitImagesBucket = "submit-images"
	}
	if cfg.Recon.IntervalSeconds <= 0 {
		cfg.Recon.IntervalSeconds = 600
	}
	if cfg.Recon.GraceSeconds <= 0 {
		cfg.Recon.GraceSeconds = 900
	}
	if cfg.Gateway.ListenAddress == "" {
		cfg.Gateway.ListenAddress = ":8080"
	}
	if cfg.Gateway.SessionTTLSeconds <= 0 {
		cfg.Gateway.SessionTTLSeconds = 3600
	}
	if cfg.Gateway.RateLimitPerMin <= 0 {
		cfg.Gateway.RateLimitPerMin = 120
	}
	if cfg.Gateway.RateLimitBurst <= 0 {
		cfg.Gateway.RateLimitBurst = 20
	}
	if cfg.Gateway.AllowedOrigins == nil {
		cfg.Gateway.AllowedOrigins = []string{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Env == "" {
		cfg.Logging.Env = "dev"
	}
}

// ApplyEnv overrides file values with SOLFIND_* environment variables.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		*dst = parsed
		return nil
	}
	str("SOLFIND_RPC_ENDPOINT", &cfg.Network.Endpoint)
	str("SOLFIND_PROGRAM_ID", &cfg.Network.ProgramID)
	str("SOLFIND_KEYPAIR", &cfg.Wallet.KeypairPath)
	str("SOLFIND_STORE_DRIVER", &cfg.Store.Driver)
	str("SOLFIND_STORE_DSN", &cfg.Store.DSN)
	str("SOLFIND_MEDIA_BACKEND", &cfg.Media.Backend)
	str("SOLFIND_MEDIA_DIR", &cfg.Media.Dir)
	str("SOLFIND_MEDIA_BASE_URL", &cfg.Media.BaseURL)
	str("SOLFIND_GCS_CREDENTIALS_FILE", &cfg.Media.CredentialsFile)
	str("SOLFIND_REDIS_ADDR", &cfg.Recon.RedisAddr)
	str("SOLFIND_REDIS_PASSWORD", &cfg.Recon.RedisPassword)
	str("SOLFIND_LISTEN", &cfg.Gateway.ListenAddress)
	str("SOLFIND_JWT_SECRET", &cfg.Gateway.JWTSecret)
	str("SOLFIND_GATEWAY_POLICY", &cfg.Gateway.PolicyFile)
	str("SOLFIND_LOG_LEVEL", &cfg.Logging.Level)
	str("SOLFIND_ENV", &cfg.Logging.Env)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("OTEL_EXPORTER_OTLP_HEADERS", &cfg.Telemetry.Headers)
	if err := boolean("SOLFIND_AUTO_APPROVE", &cfg.Wallet.AutoApprove); err != nil {
		return err
	}
	return boolean("SOLFIND_RECON_ENABLED", &cfg.Recon.Enabled)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	cfg := Default(dir)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
