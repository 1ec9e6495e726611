package txbuilder

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	coreerrors "solfind/core/errors"
	"solfind/crypto"
	"solfind/native/escrow"
)

var errMissingAccount = errors.New("txbuilder: account slot has no key")

// Plan is an unsigned transaction together with what the caller needs to
// finish it: ephemeral keys that must co-sign and the addresses it touches.
type Plan struct {
	Op        escrow.Op
	Tx        *solana.Transaction
	Report    solana.PublicKey
	Escrow    solana.PublicKey
	Reporter  solana.PublicKey
	Finder    solana.PublicKey
	Reward    uint64
	ReportID  string
	Ephemeral []solana.PrivateKey
}

// Builder assembles escrow program transactions. Account lists come from the
// program's instruction table, so a slot can never be omitted or mistagged.
type Builder struct {
	programID solana.PublicKey
	keygen    func() (solana.PrivateKey, error)
}

// New creates a builder targeting programID.
func New(programID solana.PublicKey) *Builder {
	return &Builder{programID: programID, keygen: crypto.GenerateKeypair}
}

// SetKeyGenerator overrides how fresh report identities are generated. Tests
// use it to pin report addresses.
func (b *Builder) SetKeyGenerator(fn func() (solana.PrivateKey, error)) {
	if fn == nil {
		fn = crypto.GenerateKeypair
	}
	b.keygen = fn
}

// ProgramID returns the program the builder targets.
func (b *Builder) ProgramID() solana.PublicKey { return b.programID }

// CreateParams are the inputs of BuildCreate.
type CreateParams struct {
	Reporter     solana.PublicKey
	ReportID     string
	RewardAmount uint64
	Blockhash    solana.Hash
}

// ReleaseParams are the inputs of BuildRelease.
type ReleaseParams struct {
	Reporter  solana.PublicKey
	Report    solana.PublicKey
	Finder    solana.PublicKey
	Blockhash solana.Hash
}

// CancelParams are the inputs of BuildCancel.
type CancelParams struct {
	Reporter  solana.PublicKey
	Report    solana.PublicKey
	Blockhash solana.Hash
}

func validation(op string, format string, args ...any) error {
	return coreerrors.Newf(coreerrors.KindValidation, op, format, args...)
}

// ValidateCreate checks create inputs and returns the sanitised report id.
func ValidateCreate(p CreateParams) (string, error) {
	if p.Reporter.IsZero() {
		return "", validation("create", "reporter address required")
	}
	if p.RewardAmount == 0 || p.RewardAmount > escrow.MaxReward {
		return "", validation("create", "reward must be between 1 and %d lamports", escrow.MaxReward)
	}
	id := escrow.SanitizeReportID(p.ReportID)
	if id == "" {
		return "", validation("create", "report id is empty after sanitising %q", p.ReportID)
	}
	return id, nil
}

// ValidateRelease checks release inputs.
func ValidateRelease(p ReleaseParams) error {
	switch {
	case p.Reporter.IsZero():
		return validation("release", "reporter address required")
	case p.Report.IsZero():
		return validation("release", "report address required")
	case p.Finder.IsZero():
		return validation("release", "finder address required")
	case p.Finder.Equals(p.Reporter):
		return validation("release", "finder must differ from the reporter")
	case p.Finder.Equals(p.Report):
		return validation("release", "finder must not be the report account")
	}
	return nil
}

// BuildCreate generates a fresh report identity, derives its escrow and
// returns the create_report transaction. The report key is returned in
// Ephemeral; it must sign this transaction and is useless afterwards.
func (b *Builder) BuildCreate(p CreateParams) (*Plan, error) {
	id, err := ValidateCreate(p)
	if err != nil {
		return nil, err
	}
	reportKey, err := b.keygen()
	if err != nil {
		return nil, err
	}
	report := reportKey.PublicKey()
	escrowAddr, _, err := crypto.DeriveEscrowAddress(b.programID, report)
	if err != nil {
		return nil, err
	}
	tx, err := b.build(escrow.OpCreate, escrow.CreateArgs{ReportID: id, RewardAmount: p.RewardAmount}, p.Reporter, p.Blockhash,
		map[string]solana.PublicKey{
			escrow.AccountReport:   report,
			escrow.AccountEscrow:   escrowAddr,
			escrow.AccountReporter: p.Reporter,
		})
	if err != nil {
		return nil, err
	}
	return &Plan{
		Op:        escrow.OpCreate,
		Tx:        tx,
		Report:    report,
		Escrow:    escrowAddr,
		Reporter:  p.Reporter,
		Reward:    p.RewardAmount,
		ReportID:  id,
		Ephemeral: []solana.PrivateKey{reportKey},
	}, nil
}

// BuildRelease returns the release_reward transaction paying finder.
func (b *Builder) BuildRelease(p ReleaseParams) (*Plan, error) {
	if err := ValidateRelease(p); err != nil {
		return nil, err
	}
	escrowAddr, _, err := crypto.DeriveEscrowAddress(b.programID, p.Report)
	if err != nil {
		return nil, err
	}
	tx, err := b.build(escrow.OpRelease, escrow.ReleaseArgs{}, p.Reporter, p.Blockhash, map[string]solana.PublicKey{
		escrow.AccountReport:   p.Report,
		escrow.AccountEscrow:   escrowAddr,
		escrow.AccountReporter: p.Reporter,
		escrow.AccountFinder:   p.Finder,
	})
	if err != nil {
		return nil, err
	}
	return &Plan{Op: escrow.OpRelease, Tx: tx, Report: p.Report, Escrow: escrowAddr, Reporter: p.Reporter, Finder: p.Finder}, nil
}

// BuildCancel returns the cancel_report transaction.
func (b *Builder) BuildCancel(p CancelParams) (*Plan, error) {
	if p.Reporter.IsZero() {
		return nil, validation("cancel", "reporter address required")
	}
	if p.Report.IsZero() {
		return nil, validation("cancel", "report address required")
	}
	escrowAddr, _, err := crypto.DeriveEscrowAddress(b.programID, p.Report)
	if err != nil {
		return nil, err
	}
	tx, err := b.build(escrow.OpCancel, escrow.CancelArgs{}, p.Reporter, p.Blockhash, map[string]solana.PublicKey{
		escrow.AccountReport:   p.Report,
		escrow.AccountEscrow:   escrowAddr,
		escrow.AccountReporter: p.Reporter,
	})
	if err != nil {
		return nil, err
	}
	return &Plan{Op: escrow.OpCancel, Tx: tx, Report: p.Report, Escrow: escrowAddr, Reporter: p.Reporter}, nil
}

// Accounts lays keys out in the order and with the flags the program expects.
func Accounts(op escrow.Op, keys map[string]solana.PublicKey) (solana.AccountMetaSlice, error) {
	spec, ok := escrow.Lookup(op)
	if !ok {
		return nil, fmt.Errorf("txbuilder: unknown instruction %q", op)
	}
	metas := make(solana.AccountMetaSlice, 0, len(spec.Accounts))
	for _, slot := range spec.Accounts {
		// The system program's address is the all-zero key, so pinned slots
		// skip the zero check.
		key, ok := keys[slot.Name]
		if slot.Address != nil {
			key, ok = *slot.Address, true
		} else if key.IsZero() {
			ok = false
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", errMissingAccount, op, slot.Name)
		}
		metas = append(metas, solana.NewAccountMeta(key, slot.Writable, slot.Signer))
	}
	return metas, nil
}

func (b *Builder) build(op escrow.Op, args any, payer solana.PublicKey, blockhash solana.Hash, keys map[string]solana.PublicKey) (*solana.Transaction, error) {
	if blockhash == (solana.Hash{}) {
		return nil, errors.New("txbuilder: recent blockhash required")
	}
	metas, err := Accounts(op, keys)
	if err != nil {
		return nil, err
	}
	data, err := escrow.EncodeInstruction(op, args)
	if err != nil {
		return nil, err
	}
	ix := solana.NewInstruction(b.programID, metas, data)
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("txbuilder: assemble %s: %w", op, err)
	}
	return tx, nil
}
