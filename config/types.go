package config

// Network selects the ledger and the escrow program.
type Network struct {
	// Endpoint is http(s):// for a cluster, localnet://<dir> for a
	// persistent in-process ledger or memory:// for a throwaway one.
	Endpoint          string  `toml:"Endpoint"`
	ProgramID         string  `toml:"ProgramID"`
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
	PollIntervalMs    int     `toml:"PollIntervalMs"`
	// ConfirmTimeoutSeconds caps how long an attempt waits for finality.
	ConfirmTimeoutSeconds int `toml:"ConfirmTimeoutSeconds"`
	// Localnet only.
	FeePerSignature uint64 `toml:"FeePerSignature"`
	FinalityDepth   uint64 `toml:"FinalityDepth"`
	BlockTimeMs     int    `toml:"BlockTimeMs"`
}

// Wallet locates the signing keypair.
type Wallet struct {
	KeypairPath string `toml:"KeypairPath"`
	// AutoApprove signs without prompting. Only for unattended use.
	AutoApprove bool `toml:"AutoApprove"`
}

// Store is the off-chain listing and submission database.
type Store struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Media selects where uploaded images live.
type Media struct {
	Backend string `toml:"Backend"`
	// fs backend
	Dir     string `toml:"Dir"`
	BaseURL string `toml:"BaseURL"`
	// gcs backend
	CredentialsFile    string `toml:"CredentialsFile"`
	ReportImagesBucket string `toml:"ReportImagesBucket"`
	SubmitImagesBucket string `toml:"SubmitImagesBucket"`
}

// Recon tunes the reconciler.
type Recon struct {
	Enabled         bool   `toml:"Enabled"`
	IntervalSeconds int    `toml:"IntervalSeconds"`
	GraceSeconds    int    `toml:"GraceSeconds"`
	OutputDir       string `toml:"OutputDir"`
	RedisAddr       string `toml:"RedisAddr"`
	RedisPassword   string `toml:"RedisPassword"`
	DryRun          bool   `toml:"DryRun"`
}

// Gateway configures the HTTP surface.
type Gateway struct {
	ListenAddress     string   `toml:"ListenAddress"`
	JWTSecret         string   `toml:"JWTSecret"`
	SessionTTLSeconds int      `toml:"SessionTTLSeconds"`
	RateLimitPerMin   int      `toml:"RateLimitPerMin"`
	RateLimitBurst    int      `toml:"RateLimitBurst"`
	AllowedOrigins    []string `toml:"AllowedOrigins"`
	// ChallengeStoreDir persists sign-in challenges in LevelDB. Empty keeps
	// them in memory.
	ChallengeStoreDir string   `toml:"ChallengeStoreDir"`
	// PolicyFile is an optional YAML file with server timeouts, TLS and
	// per-group rate limits.
	PolicyFile        string   `toml:"PolicyFile"`
}

// Logging mirrors observability/logging.Options.
type Logging struct {
	Level      string `toml:"Level"`
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry mirrors observability/otel.Config.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}
