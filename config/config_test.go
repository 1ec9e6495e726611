package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "solfind.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.Network.ProgramID != DefaultProgramID {
		t.Fatalf("unexpected program id %s", cfg.Network.ProgramID)
	}
	if want := "localnet://" + filepath.Join(dir, "ledger"); cfg.Network.Endpoint != want {
		t.Fatalf("endpoint = %s, want %s", cfg.Network.Endpoint, want)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Media.Backend != "fs" {
		t.Fatalf("unexpected store/media defaults %+v %+v", cfg.Store, cfg.Media)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Wallet.KeypairPath != cfg.Wallet.KeypairPath || again.Store.DSN != cfg.Store.DSN {
		t.Fatalf("reloaded config differs: %+v vs %+v", again, cfg)
	}
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "solfind.toml")
	contents := `
[network]
Endpoint = "https://api.devnet.solana.com"
RequestsPerSecond = 4.5
PollIntervalMs = 250

[wallet]
KeypairPath = "/keys/id.json"

[store]
Driver = "postgres"
DSN = "postgres://solfind@localhost/solfind"

[media]
Backend = "gcs"
SubmitImagesBucket = "solfind-submit"

[recon]
Enabled = true
IntervalSeconds = 120
GraceSeconds = 300
RedisAddr = "localhost:6379"

[gateway]
ListenAddress = ":9090"
JWTSecret = "s3cret"
AllowedOrigins = ["https://solfind.app"]

[logging]
Level = "debug"
Env = "prod"

[telemetry]
Endpoint = "otel:4318"
Headers = "x-api-key=abc"
Traces = true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network.Endpoint != "https://api.devnet.solana.com" || cfg.Network.RequestsPerSecond != 4.5 {
		t.Fatalf("network not parsed: %+v", cfg.Network)
	}
	if cfg.PollInterval() != 250*time.Millisecond {
		t.Fatalf("poll interval = %s", cfg.PollInterval())
	}
	if cfg.ConfirmTimeout() != 2*time.Minute {
		t.Fatalf("confirm timeout default = %s", cfg.ConfirmTimeout())
	}
	if cfg.Network.Burst != 5 {
		t.Fatalf("burst default not applied: %d", cfg.Network.Burst)
	}
	if cfg.Store.Driver != "postgres" || !strings.HasPrefix(cfg.Store.DSN, "postgres://") {
		t.Fatalf("store not parsed: %+v", cfg.Store)
	}
	buckets := cfg.MediaBuckets()
	if buckets["submit-images"] != "solfind-submit" || buckets["report-images"] != "report-images" {
		t.Fatalf("unexpected buckets %v", buckets)
	}
	if !cfg.Recon.Enabled || cfg.ReconInterval() != 2*time.Minute || cfg.ReconGrace() != 5*time.Minute {
		t.Fatalf("recon not parsed: %+v", cfg.Recon)
	}
	if cfg.Gateway.ListenAddress != ":9090" || len(cfg.Gateway.AllowedOrigins) != 1 {
		t.Fatalf("gateway not parsed: %+v", cfg.Gateway)
	}
	if cfg.SessionTTL() != time.Hour {
		t.Fatalf("session ttl default = %s", cfg.SessionTTL())
	}
	if cfg.Verbose() {
		t.Fatalf("prod env must not be verbose")
	}
	tel := cfg.TelemetryConfig("solfind-gateway")
	if tel.Headers["x-api-key"] != "abc" || !tel.Traces || tel.Metrics {
		t.Fatalf("telemetry not converted: %+v", tel)
	}
	if tel.Cluster != "api.devnet.solana.com" || tel.ProgramID != cfg.Network.ProgramID {
		t.Fatalf("telemetry deployment labels: %+v", tel)
	}
	logOpts := cfg.LoggingOptions("solfind")
	if logOpts.Level != "debug" || logOpts.File != nil {
		t.Fatalf("logging not converted: %+v", logOpts)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":    "[network]\nEndpont = \"http://x\"\n",
		"bad scheme":     "[network]\nEndpoint = \"ftp://x\"\n",
		"bad program":    "[network]\nProgramID = \"nope\"\n",
		"bad driver":     "[store]\nDriver = \"mysql\"\n",
		"bad backend":    "[media]\nBackend = \"s3\"\n",
		"bad level":      "[logging]\nLevel = \"loud\"\n",
		"grace too tiny": "[recon]\nGraceSeconds = 5\n",
		"idle finality":  "[network]\nFinalityDepth = 2\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "solfind.toml")
			if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solfind.toml")
	t.Setenv("SOLFIND_RPC_ENDPOINT", "memory://")
	t.Setenv("SOLFIND_JWT_SECRET", "from-env")
	t.Setenv("SOLFIND_AUTO_APPROVE", "true")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network.Endpoint != "memory://" || cfg.Gateway.JWTSecret != "from-env" || !cfg.Wallet.AutoApprove {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Network, cfg.Gateway)
	}

	err = ApplyEnv(cfg, func(name string) (string, bool) {
		if name == "SOLFIND_RECON_ENABLED" {
			return "maybe", true
		}
		return "", false
	})
	if err == nil {
		t.Fatalf("expected invalid bool to fail")
	}
}
