package escrow

import (
	"errors"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"

	"solfind/core/events"
	"solfind/core/types"
	"solfind/crypto"
)

var errNilState = errors.New("escrow engine: state not configured")

type engineState interface {
	// GetAccount returns nil with no error when the address holds nothing.
	GetAccount(addr solana.PublicKey) (*types.Account, error)
	PutAccount(addr solana.PublicKey, account *types.Account) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// CreateAccounts are the resolved keys of a create_report instruction.
type CreateAccounts struct {
	Report   solana.PublicKey
	Escrow   solana.PublicKey
	Reporter solana.PublicKey
}

// SettleAccounts are the resolved keys of release_reward and cancel_report.
// Finder is zero for cancel_report.
type SettleAccounts struct {
	Report   solana.PublicKey
	Escrow   solana.PublicKey
	Reporter solana.PublicKey
	Finder   solana.PublicKey
}

// Engine is the escrow program. It owns every report and escrow account it
// creates, and it is the only place where the Open → Released / Canceled
// guard is enforced. The ledger running it must execute each transaction
// against an isolated overlay and commit only on success.
type Engine struct {
	programID solana.PublicKey
	state     engineState
	emitter   events.Emitter
}

// NewEngine creates an escrow engine for programID with a no-op emitter.
// Callers can override the emitter via SetEmitter.
func NewEngine(programID solana.PublicKey) *Engine {
	return &Engine{programID: programID, emitter: events.NoopEmitter{}}
}

// ProgramID returns the address the engine executes as.
func (e *Engine) ProgramID() solana.PublicKey { return e.programID }

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) account(addr solana.PublicKey) (*types.Account, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	return acc, nil
}

func (e *Engine) loadReport(addr, escrowAddr solana.PublicKey) (*Report, *types.Account, error) {
	acc, err := e.account(addr)
	if err != nil {
		return nil, nil, err
	}
	if len(acc.Data) == 0 || !acc.Owner.Equals(e.programID) {
		return nil, nil, ErrAccountNotInitialized
	}
	report, err := DecodeReport(acc.Data)
	if err != nil {
		return nil, nil, err
	}
	report.Address = addr
	report.Escrow = escrowAddr
	return report, acc, nil
}

func (e *Engine) storeReport(r *Report, acc *types.Account) error {
	data, err := EncodeReport(r)
	if err != nil {
		return err
	}
	acc.Owner = e.programID
	acc.Data = data
	return e.state.PutAccount(r.Address, acc)
}

func (e *Engine) transferLamports(from, to solana.PublicKey, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if from.Equals(to) {
		return fmt.Errorf("escrow: transfer to self")
	}
	fromAcc, err := e.account(from)
	if err != nil {
		return err
	}
	toAcc, err := e.account(to)
	if err != nil {
		return err
	}
	if fromAcc.Lamports < amount {
		return ErrInsufficientFunds
	}
	if toAcc.Lamports > math.MaxUint64-amount {
		return fmt.Errorf("escrow: balance overflow")
	}
	fromAcc.Lamports -= amount
	toAcc.Lamports += amount
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// Create initialises the report account and moves the reward from the
// reporter into the derived escrow account. Both effects land in the same
// transaction, so there is never money in custody without a report.
func (e *Engine) Create(accts CreateAccounts, args CreateArgs) (*Report, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if args.RewardAmount == 0 || args.RewardAmount > MaxReward {
		return nil, ErrInvalidAmount
	}
	if err := ValidateReportID(args.ReportID); err != nil {
		return nil, ErrInvalidReportID
	}
	if accts.Reporter.Equals(accts.Report) {
		return nil, ErrInvalidInstruction
	}
	escrowAddr, bump, err := crypto.DeriveEscrowAddress(e.programID, accts.Report)
	if err != nil {
		return nil, err
	}
	if !escrowAddr.Equals(accts.Escrow) {
		return nil, ErrEscrowMismatch
	}
	reportAcc, err := e.account(accts.Report)
	if err != nil {
		return nil, err
	}
	if len(reportAcc.Data) > 0 || !reportAcc.Owner.IsZero() {
		return nil, ErrAccountInUse
	}
	escrowAcc, err := e.account(escrowAddr)
	if err != nil {
		return nil, err
	}
	if !escrowAcc.IsEmpty() {
		return nil, ErrAccountInUse
	}
	if err := e.transferLamports(accts.Reporter, escrowAddr, args.RewardAmount); err != nil {
		return nil, err
	}
	escrowAcc, err = e.account(escrowAddr)
	if err != nil {
		return nil, err
	}
	escrowAcc.Owner = e.programID
	if err := e.state.PutAccount(escrowAddr, escrowAcc); err != nil {
		return nil, err
	}
	report := &Report{
		Address:      accts.Report,
		Escrow:       escrowAddr,
		Reporter:     accts.Reporter,
		RewardAmount: args.RewardAmount,
		ReportID:     args.ReportID,
		Status:       ReportOpen,
		EscrowBump:   bump,
	}
	reportAcc, err = e.account(accts.Report)
	if err != nil {
		return nil, err
	}
	if err := e.storeReport(report, reportAcc); err != nil {
		return nil, err
	}
	e.emit(NewReportCreatedEvent(report))
	return report.Clone(), nil
}

// Release drains the escrow to the finder and marks the report Released.
// The finder must be a wallet: on the curve and not owned by the program.
func (e *Engine) Release(accts SettleAccounts) (*Report, error) {
	return e.settle(accts, ReportReleased, accts.Finder)
}

// Cancel returns the escrow to the reporter and marks the report Canceled.
func (e *Engine) Cancel(accts SettleAccounts) (*Report, error) {
	return e.settle(accts, ReportCanceled, accts.Reporter)
}

func (e *Engine) validFinder(accts SettleAccounts) error {
	f := accts.Finder
	switch {
	case f.IsZero(),
		f.Equals(accts.Reporter),
		f.Equals(accts.Report),
		f.Equals(accts.Escrow),
		f.Equals(e.programID),
		f.Equals(solana.SystemProgramID):
		return ErrInvalidFinder
	}
	// Program-derived addresses have no private key; paying one strands the
	// reward or inflates another report's escrow.
	if !f.IsOnCurve() {
		return ErrInvalidFinder
	}
	acc, err := e.account(f)
	if err != nil {
		return err
	}
	if acc.Owner.Equals(e.programID) {
		return ErrInvalidFinder
	}
	return nil
}

func (e *Engine) settle(accts SettleAccounts, to ReportStatus, recipient solana.PublicKey) (*Report, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	report, reportAcc, err := e.loadReport(accts.Report, accts.Escrow)
	if err != nil {
		return nil, err
	}
	if report.Status != ReportOpen {
		return nil, ErrReportNotOpen
	}
	if !accts.Reporter.Equals(report.Reporter) {
		return nil, ErrUnauthorized
	}
	if err := crypto.VerifyEscrowAddress(e.programID, accts.Report, accts.Escrow, report.EscrowBump); err != nil {
		return nil, ErrEscrowMismatch
	}
	if to == ReportReleased {
		if err := e.validFinder(accts); err != nil {
			return nil, err
		}
	}
	escrowAcc, err := e.account(accts.Escrow)
	if err != nil {
		return nil, err
	}
	// Lamports sent to the escrow by anyone else travel with the reward.
	if escrowAcc.Lamports < report.RewardAmount {
		return nil, ErrEscrowBalanceMismatch
	}
	if err := e.transferLamports(accts.Escrow, recipient, escrowAcc.Lamports); err != nil {
		return nil, err
	}
	// The drained escrow is closed; the address can never be funded for
	// another report because its seeds include this report's key.
	if err := e.state.PutAccount(accts.Escrow, &types.Account{}); err != nil {
		return nil, err
	}
	report.Status = to
	if to == ReportReleased {
		finder := recipient
		report.Finder = &finder
	}
	if err := e.storeReport(report, reportAcc); err != nil {
		return nil, err
	}
	if to == ReportReleased {
		e.emit(NewReportReleasedEvent(report))
	} else {
		e.emit(NewReportCanceledEvent(report))
	}
	return report.Clone(), nil
}
