package client

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	coreerrors "solfind/core/errors"
	"solfind/crypto"
	"solfind/ledger"
	"solfind/native/escrow"
)

// Snapshot is a report as the chain sees it, with the escrow balance.
type Snapshot struct {
	Report        *escrow.Report
	EscrowBalance uint64
}

// Report reads and decodes the report account at addr. Callers use it to
// refresh after a stale-state failure.
func (o *Orchestrator) Report(ctx context.Context, addr solana.PublicKey) (*escrow.Report, error) {
	acc, err := o.ledger.Account(ctx, addr)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, err
		}
		return nil, coreerrors.Classify("report", err)
	}
	if !acc.Owner.Equals(o.ProgramID()) {
		return nil, escrow.ErrAccountNotInitialized
	}
	report, err := escrow.DecodeReport(acc.Data)
	if err != nil {
		return nil, err
	}
	report.Address = addr
	escrowAddr, _, err := crypto.DeriveEscrowAddress(o.ProgramID(), addr)
	if err != nil {
		return nil, err
	}
	report.Escrow = escrowAddr
	return report, nil
}

// Snapshot returns the report and its escrow balance.
func (o *Orchestrator) Snapshot(ctx context.Context, addr solana.PublicKey) (*Snapshot, error) {
	report, err := o.Report(ctx, addr)
	if err != nil {
		return nil, err
	}
	bal, err := o.Balance(ctx, report.Escrow)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Report: report, EscrowBalance: bal}, nil
}

// Balance returns the lamports held by addr.
func (o *Orchestrator) Balance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	bal, err := o.ledger.Balance(ctx, addr)
	if err != nil {
		return 0, coreerrors.Classify("balance", err)
	}
	return bal, nil
}
