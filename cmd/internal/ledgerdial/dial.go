package ledgerdial

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"solfind/config"
	"solfind/core/events"
	"solfind/ledger"
	"solfind/ledger/localnet"
	"solfind/ledger/rpcledger"
)

// Ledger is what the binaries need from a ledger backend.
type Ledger interface {
	ledger.Client
	ledger.Airdropper
	ledger.Closer
}

// Options selects and tunes a backend.
type Options struct {
	Endpoint          string
	ProgramID         solana.PublicKey
	RequestsPerSecond float64
	Burst             int
	FeePerSignature   uint64
	FinalityDepth     uint64
	BlockTime         time.Duration
	Emitter           events.Emitter
	Logger            *slog.Logger
}

// Dial opens the backend named by the endpoint scheme:
//
//	http(s)://host     JSON-RPC cluster
//	localnet://<dir>   in-process ledger persisted in LevelDB
//	memory://          in-process ledger discarded on exit
func Dial(opts Options) (Ledger, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	switch {
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return rpcledger.New(rpcledger.Config{
			Endpoint:          endpoint,
			RequestsPerSecond: opts.RequestsPerSecond,
			Burst:             opts.Burst,
			Logger:            opts.Logger,
		})
	case strings.HasPrefix(endpoint, "localnet://"):
		dir := strings.TrimPrefix(endpoint, "localnet://")
		if dir == "" {
			return nil, fmt.Errorf("ledgerdial: localnet endpoint needs a directory")
		}
		return localnet.OpenDir(dir, localOptions(opts))
	case strings.HasPrefix(endpoint, "memory://"):
		return localnet.NewMemory(localOptions(opts))
	default:
		return nil, fmt.Errorf("ledgerdial: unsupported endpoint %q", endpoint)
	}
}

func localOptions(opts Options) localnet.Options {
	lo := localnet.DefaultOptions(opts.ProgramID)
	lo.FeePerSignature = opts.FeePerSignature
	lo.FinalityDepth = opts.FinalityDepth
	lo.BlockTime = opts.BlockTime
	lo.Emitter = opts.Emitter
	lo.Logger = opts.Logger
	return lo
}

// FromConfig dials the ledger described by cfg.
func FromConfig(cfg *config.Config, emitter events.Emitter, logger *slog.Logger) (Ledger, error) {
	programID, err := cfg.ProgramID()
	if err != nil {
		return nil, fmt.Errorf("ledgerdial: program id: %w", err)
	}
	return Dial(Options{
		Endpoint:          cfg.Network.Endpoint,
		ProgramID:         programID,
		RequestsPerSecond: cfg.Network.RequestsPerSecond,
		Burst:             cfg.Network.Burst,
		FeePerSignature:   cfg.Network.FeePerSignature,
		FinalityDepth:     cfg.Network.FinalityDepth,
		BlockTime:         time.Duration(cfg.Network.BlockTimeMs) * time.Millisecond,
		Emitter:           emitter,
		Logger:            logger,
	})
}
