package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"

	"solfind/core/types"
	"solfind/crypto"
)

func (c *cli) runKeygen(args []string) int {
	fs := newFlagSet("keygen", c.stderr)
	var out string
	var force bool
	fs.StringVar(&out, "out", "", "keypair file to write (defaults to the configured wallet)")
	fs.BoolVar(&force, "force", false, "overwrite an existing keypair")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if out == "" {
		cfg, err := c.loadConfig()
		if err != nil {
			return c.fail(err)
		}
		out = cfg.Wallet.KeypairPath
	}
	if !force && fileExists(out) {
		return c.usageError(fmt.Sprintf("%s already exists; pass --force to replace it", out))
	}
	key, err := crypto.GenerateKeypair()
	if err != nil {
		return c.fail(err)
	}
	if err := crypto.SaveKeypair(out, key); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "Wrote %s\n", out)
	fmt.Fprintln(c.stdout, key.PublicKey().String())
	return 0
}

func (c *cli) runAddress(args []string) int {
	fs := newFlagSet("address", c.stderr)
	if !c.parseFlags(fs, args) {
		return 1
	}
	key, err := c.loadKey()
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, key.PublicKey().String())
	return 0
}

func (c *cli) runAirdrop(ctx context.Context, args []string) int {
	fs := newFlagSet("airdrop", c.stderr)
	var amount, to string
	fs.StringVar(&amount, "amount", "1", "SOL to request")
	fs.StringVar(&to, "to", "", "recipient address (defaults to the wallet)")
	if !c.parseFlags(fs, args) {
		return 1
	}
	lamports, err := types.ParseSOL(amount)
	if err != nil || lamports == 0 {
		return c.usageError("--amount must be a positive SOL amount")
	}
	recipient, code, ok := c.addressOrWallet("to", to)
	if !ok {
		return code
	}
	stack, err := c.openStack(ctx, true)
	if err != nil {
		return c.fail(err)
	}
	defer stack.Close()
	sig, err := stack.Ledger.Airdrop(ctx, recipient, lamports)
	if err != nil {
		return c.fail(err)
	}
	return c.writeJSON(map[string]string{
		"address":   recipient.String(),
		"amountSol": types.FormatSOL(lamports),
		"signature": sig.String(),
	})
}

func (c *cli) runBalance(ctx context.Context, args []string) int {
	fs := newFlagSet("balance", c.stderr)
	var addr string
	fs.StringVar(&addr, "address", "", "address to query (defaults to the wallet)")
	if !c.parseFlags(fs, args) {
		return 1
	}
	target, code, ok := c.addressOrWallet("address", addr)
	if !ok {
		return code
	}
	stack, err := c.openStack(ctx, true)
	if err != nil {
		return c.fail(err)
	}
	defer stack.Close()
	lamports, err := stack.Orchestrator.Balance(ctx, target)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "%s SOL\n", types.FormatSOL(lamports))
	return 0
}

// addressOrWallet parses raw, falling back to the wallet address when it is
// empty.
func (c *cli) addressOrWallet(flagName, raw string) (solana.PublicKey, int, bool) {
	if raw != "" {
		pk, err := parseAddressFlag(flagName, raw)
		if err != nil {
			return solana.PublicKey{}, c.usageError(err.Error()), false
		}
		return pk, 0, true
	}
	key, err := c.loadKey()
	if err != nil {
		return solana.PublicKey{}, c.fail(err), false
	}
	return key.PublicKey(), 0, true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
