package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/term"

	"solfind/native/escrow"
)

// SignRequest is what the user is asked to approve.
type SignRequest struct {
	Signer       solana.PublicKey
	Transactions []*solana.Transaction
	Summary      []string
}

// Approver decides whether a signing request goes ahead.
type Approver interface {
	Approve(ctx context.Context, req SignRequest) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req SignRequest) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, req SignRequest) (bool, error) {
	return f(ctx, req)
}

// AutoApprove approves every request. Used for non-interactive runs.
type AutoApprove struct{}

func (AutoApprove) Approve(context.Context, SignRequest) (bool, error) { return true, nil }

// TerminalApprover prompts on the controlling terminal.
type TerminalApprover struct {
	In  *os.File
	Out io.Writer
}

// NewTerminalApprover prompts on stdin and writes to stderr.
func NewTerminalApprover() *TerminalApprover {
	return &TerminalApprover{In: os.Stdin, Out: os.Stderr}
}

func (a *TerminalApprover) Approve(ctx context.Context, req SignRequest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fd := int(a.In.Fd())
	if !term.IsTerminal(fd) {
		return false, errors.New("wallet: approval requires a terminal; pass --yes to sign non-interactively")
	}
	fmt.Fprintf(a.Out, "Sign with %s:\n", req.Signer)
	for _, line := range req.Summary {
		fmt.Fprintf(a.Out, "  %s\n", line)
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return false, err
	}
	defer term.Restore(fd, state)

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{a.In, a.Out}, "Approve? [y/N] ")
	line, err := t.ReadLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Summarize describes the escrow instructions of tx in one line each.
func Summarize(tx *solana.Transaction) []string {
	if tx == nil {
		return nil
	}
	var out []string
	for _, ix := range tx.Message.Instructions {
		spec, payload, err := escrow.DecodeInstruction(ix.Data)
		if err != nil {
			out = append(out, "unrecognised instruction")
			continue
		}
		line := string(spec.Op)
		if spec.Op == escrow.OpCreate {
			if args, err := escrow.DecodeCreateArgs(payload); err == nil {
				line = fmt.Sprintf("%s id=%s reward=%d lamports", line, args.ReportID, args.RewardAmount)
			}
		}
		for _, slot := range spec.Accounts {
			idx := spec.AccountIndex(slot.Name)
			if idx < 0 || idx >= len(ix.Accounts) || int(ix.Accounts[idx]) >= len(tx.Message.AccountKeys) {
				continue
			}
			if slot.Name == escrow.AccountReport || slot.Name == escrow.AccountFinder {
				line = fmt.Sprintf("%s %s=%s", line, slot.Name, tx.Message.AccountKeys[ix.Accounts[idx]])
			}
		}
		out = append(out, line)
	}
	return out
}
