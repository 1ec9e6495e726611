package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/gagliardetto/solana-go"

	"solfind/cmd/internal/bootstrap"
	"solfind/config"
	coreerrors "solfind/core/errors"
	"solfind/crypto"
	"solfind/observability/logging"
	"solfind/services/submissions"
	"solfind/wallet"
)

const defaultConfigPath = "./solfind.toml"

// newApprover is swapped out by tests.
var newApprover = func() wallet.Approver { return wallet.NewTerminalApprover() }

// confirmListing is swapped out by tests.
var confirmListing = (*submissions.Service).ConfirmReport

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// cli carries the global flags and lazily opened state for one invocation.
type cli struct {
	configPath string
	keypair    string
	yes        bool
	verbose    bool

	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	logger *slog.Logger
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr}
	fs := flag.NewFlagSet("solfind", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprintln(stderr, usage()) }
	fs.StringVar(&c.configPath, "config", defaultConfigPath, "path to solfind configuration")
	fs.StringVar(&c.keypair, "keypair", "", "wallet keypair file (overrides the config)")
	fs.BoolVar(&c.yes, "yes", false, "sign without prompting")
	fs.BoolVar(&c.verbose, "verbose", false, "log at debug level and print raw error diagnostics")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, cmdArgs := rest[0], rest[1:]
	switch cmd {
	case "keygen":
		return c.runKeygen(cmdArgs)
	case "address":
		return c.runAddress(cmdArgs)
	case "airdrop":
		return c.runAirdrop(ctx, cmdArgs)
	case "balance":
		return c.runBalance(ctx, cmdArgs)
	case "create":
		return c.runCreate(ctx, cmdArgs)
	case "release":
		return c.runRelease(ctx, cmdArgs)
	case "cancel":
		return c.runCancel(ctx, cmdArgs)
	case "status":
		return c.runStatus(ctx, cmdArgs)
	case "submit":
		return c.runSubmit(ctx, cmdArgs)
	case "approve":
		return c.runApprove(ctx, cmdArgs)
	case "remove":
		return c.runRemove(ctx, cmdArgs)
	case "submissions":
		return c.runSubmissions(ctx, cmdArgs)
	case "reconcile":
		return c.runReconcile(ctx, cmdArgs)
	case "help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`
Usage: solfind [--config path] [--keypair path] [--yes] [--verbose] <command> [flags]

Keys and balances:
  keygen       generate a wallet keypair
  address      print the wallet address
  airdrop      request test funds (localnet or devnet)
  balance      print a SOL balance

Escrow:
  create       escrow a reward for a new report
  release      pay the reward to a finder
  cancel       refund the reward to the reporter
  status       show a report's listing and on-chain state

Submissions:
  submit       claim a report as its finder
  approve      mark a submission approved
  remove       delete a submission
  submissions  list submissions for one of your reports

Maintenance:
  reconcile    compare listings with the chain once`)
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// parseFlags parses args and rejects positional arguments.
func (c *cli) parseFlags(fs *flag.FlagSet, args []string) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(c.stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func (c *cli) loadConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(c.keypair) != "" {
		cfg.Wallet.KeypairPath = c.keypair
	}
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	opts := cfg.LoggingOptions("solfind")
	opts.Level = level
	opts.Writer = c.stderr
	c.logger, _ = logging.Configure(opts)
	c.cfg = cfg
	return cfg, nil
}

func (c *cli) openStack(ctx context.Context, noMedia bool) (*bootstrap.Stack, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	return bootstrap.Open(ctx, cfg, c.logger, bootstrap.Options{NoMedia: noMedia})
}

func (c *cli) loadKey() (solana.PrivateKey, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadKeypair(cfg.Wallet.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w (run solfind keygen first)", cfg.Wallet.KeypairPath, err)
	}
	return key, nil
}

// connect opens a wallet session on the configured keypair. Signing prompts
// on the terminal unless --yes or Wallet.AutoApprove is set.
func (c *cli) connect(ctx context.Context) (*wallet.Session, error) {
	key, err := c.loadKey()
	if err != nil {
		return nil, err
	}
	var approver wallet.Approver
	if !c.yes && !c.cfg.Wallet.AutoApprove {
		approver = newApprover()
	}
	return wallet.Connect(ctx, wallet.NewKeypairSigner(key, approver))
}

func (c *cli) fail(err error) int {
	verbose := c.verbose
	if c.cfg != nil {
		verbose = verbose || c.cfg.Verbose()
	}
	if kind := coreerrors.KindOf(err); kind == coreerrors.KindUnknown {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
	} else {
		fmt.Fprintf(c.stderr, "Error: %s\n", coreerrors.Describe(err, verbose))
	}
	return 1
}

func (c *cli) usageError(msg string) int {
	fmt.Fprintf(c.stderr, "Error: %s\n", msg)
	return 1
}

func (c *cli) writeJSON(v any) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return c.fail(err)
	}
	return 0
}

func parseAddressFlag(name, raw string) (solana.PublicKey, error) {
	if strings.TrimSpace(raw) == "" {
		return solana.PublicKey{}, fmt.Errorf("--%s is required", name)
	}
	pk, err := crypto.ParseAddress(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("--%s: %w", name, err)
	}
	return pk, nil
}
