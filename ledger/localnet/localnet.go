// Package localnet is an in-process ledger that executes the escrow program
// against a storage.Database. It applies the same admission rules as a
// cluster: signatures are verified, blockhashes expire after
// BlockhashWindow blocks, duplicates are refused and every signature pays a
// fee.
package localnet

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"lukechampine.com/blake3"

	"solfind/core/events"
	"solfind/core/types"
	"solfind/crypto"
	"solfind/ledger"
	"solfind/native/escrow"
	"solfind/storage"
)

const (
	// BlockhashWindow is how many blocks a blockhash stays usable.
	BlockhashWindow = 150
	// DefaultFeePerSignature matches the cluster base fee.
	DefaultFeePerSignature = 5000
)

var (
	ErrClosed             = errors.New("localnet: ledger closed")
	ErrAlreadyProcessed   = errors.New("localnet: this transaction has already been processed")
	ErrBlockhashNotFound  = errors.New("localnet: blockhash not found")
	ErrNoPriorCredit      = errors.New("localnet: attempt to debit an account but found no record of a prior credit")
	ErrInsufficientFee    = errors.New("localnet: insufficient funds for fee")
	ErrSignatureFailure   = errors.New("localnet: transaction signature verification failure")
	ErrUnknownProgram     = errors.New("localnet: attempt to load a program that does not exist")
	errMalformedTx        = errors.New("localnet: malformed transaction")
	errAccountIndexBounds = errors.New("localnet: instruction account index out of range")
)

// Options configure a Ledger.
type Options struct {
	ProgramID       solana.PublicKey
	FeePerSignature uint64
	// FinalityDepth is how many blocks must follow a transaction's slot
	// before it reports finalized. Zero finalizes on landing.
	FinalityDepth uint64
	// BlockTime, when set, produces an empty block on that interval.
	BlockTime time.Duration
	Emitter   events.Emitter
	Logger    *slog.Logger
}

// DefaultOptions returns options with the cluster base fee.
func DefaultOptions(programID solana.PublicKey) Options {
	return Options{ProgramID: programID, FeePerSignature: DefaultFeePerSignature}
}

// Ledger is the in-process ledger. All transaction execution is serialised
// behind mu, which is what makes the escrow's single-terminal-transition guard
// atomic here.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	engine  *escrow.Engine
	opts    Options
	logger  *slog.Logger
	genesis [32]byte
	height  uint64
	closed  bool

	stop chan struct{}
	done chan struct{}
}

var _ ledger.Client = (*Ledger)(nil)

// New opens a ledger over db, resuming its height and genesis seed when
// present.
func New(db storage.Database, opts Options) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("localnet: database required")
	}
	if opts.ProgramID.IsZero() {
		return nil, errors.New("localnet: program id required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	opts.Emitter = emitter

	l := &Ledger{db: db, engine: escrow.NewEngine(opts.ProgramID), opts: opts, logger: logger.With("component", "localnet")}
	if err := l.loadMeta(); err != nil {
		return nil, err
	}
	if opts.BlockTime > 0 {
		l.stop = make(chan struct{})
		l.done = make(chan struct{})
		go l.produceBlocks(opts.BlockTime)
	}
	return l, nil
}

// NewMemory opens a ledger over a fresh MemDB.
func NewMemory(opts Options) (*Ledger, error) {
	return New(storage.NewMemDB(), opts)
}

// OpenDir opens a ledger persisted in a LevelDB directory.
func OpenDir(path string, opts Options) (*Ledger, error) {
	db, err := storage.NewLevelDB(path)
	if err != nil {
		return nil, fmt.Errorf("localnet: open %s: %w", path, err)
	}
	l, err := New(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) loadMeta() error {
	raw, err := l.db.Get(genesisKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if _, err := rand.Read(l.genesis[:]); err != nil {
			return err
		}
		batch := new(storage.Batch)
		batch.Put(genesisKey, l.genesis[:])
		batch.Put(heightKey, []byte("0"))
		return l.db.Write(batch)
	case err != nil:
		return err
	}
	copy(l.genesis[:], raw)
	rawHeight, err := l.db.Get(heightKey)
	if err != nil {
		return fmt.Errorf("localnet: load height: %w", err)
	}
	l.height, err = strconv.ParseUint(string(rawHeight), 10, 64)
	return err
}

func (l *Ledger) produceBlocks(interval time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.Advance(1); err != nil && !errors.Is(err, ErrClosed) {
				l.logger.Warn("block production failed", slog.Any("error", err))
			}
		}
	}
}

// ProgramID returns the escrow program the ledger executes.
func (l *Ledger) ProgramID() solana.PublicKey { return l.opts.ProgramID }

func (l *Ledger) blockhashAt(height uint64) solana.Hash {
	var buf [40]byte
	copy(buf[:32], l.genesis[:])
	binary.BigEndian.PutUint64(buf[32:], height)
	return solana.Hash(blake3.Sum256(buf[:]))
}

func (l *Ledger) blockhashValid(hash solana.Hash) bool {
	lowest := uint64(0)
	if l.height > BlockhashWindow {
		lowest = l.height - BlockhashWindow
	}
	for h := l.height; ; h-- {
		if l.blockhashAt(h) == hash {
			return true
		}
		if h == lowest {
			return false
		}
	}
}

// LatestBlockhash returns the blockhash of the current block.
func (l *Ledger) LatestBlockhash(ctx context.Context) (ledger.Blockhash, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Blockhash{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ledger.Blockhash{}, ErrClosed
	}
	return ledger.Blockhash{Hash: l.blockhashAt(l.height), LastValidBlockHeight: l.height + BlockhashWindow}, nil
}

// BlockHeight returns the current block height.
func (l *Ledger) BlockHeight(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	return l.height, nil
}

// Balance returns the lamports held by addr. Unknown addresses hold zero.
func (l *Ledger) Balance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	acc, err := l.Account(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acc.Lamports, nil
}

// Account returns the committed account at addr.
func (l *Ledger) Account(ctx context.Context, addr solana.PublicKey) (*types.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	acc, err := dbReader{db: l.db}.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc.IsEmpty() {
		return nil, ledger.ErrAccountNotFound
	}
	return acc, nil
}

// SignatureStatus reports what the ledger knows about sig.
func (l *Ledger) SignatureStatus(ctx context.Context, sig solana.Signature) (*ledger.Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	rec, err := l.signature(sig)
	if err != nil || rec == nil {
		return nil, err
	}
	status := &ledger.Status{Slot: rec.Slot, Commitment: ledger.CommitmentConfirmed}
	if l.height-rec.Slot >= l.opts.FinalityDepth {
		status.Commitment = ledger.CommitmentFinalized
	}
	if rec.Err != nil {
		status.Err = &ledger.TxError{InstructionIndex: rec.Err.InstructionIndex, CustomCode: rec.Err.CustomCode, Message: rec.Err.Message}
	}
	return status, nil
}

func (l *Ledger) signature(sig solana.Signature) (*sigRecord, error) {
	raw, err := l.db.Get(signatureKey(sig))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec sigRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("localnet: decode signature record: %w", err)
	}
	return &rec, nil
}

// SendTransaction admits, executes and commits tx as one block. Without
// SkipPreflight a failing transaction is rejected with no state change, as
// cluster preflight simulation would. With it, the fee is charged and the
// failure is recorded against the signature.
func (l *Ledger) SendTransaction(ctx context.Context, tx *solana.Transaction, opts ledger.SendOptions) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	sig, emitted, err := l.process(tx, opts)
	for _, evt := range emitted {
		l.opts.Emitter.Emit(evt)
	}
	return sig, err
}

func (l *Ledger) process(tx *solana.Transaction, opts ledger.SendOptions) (solana.Signature, []events.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return solana.Signature{}, nil, ErrClosed
	}
	if tx == nil || len(tx.Signatures) == 0 || len(tx.Message.AccountKeys) == 0 {
		return solana.Signature{}, nil, errMalformedTx
	}
	sig := tx.Signatures[0]
	if err := crypto.VerifySignatures(tx); err != nil {
		return solana.Signature{}, nil, fmt.Errorf("%w: %v", ErrSignatureFailure, err)
	}
	existing, err := l.signature(sig)
	if err != nil {
		return solana.Signature{}, nil, err
	}
	if existing != nil {
		return solana.Signature{}, nil, ErrAlreadyProcessed
	}
	if !l.blockhashValid(tx.Message.RecentBlockhash) {
		return solana.Signature{}, nil, ErrBlockhashNotFound
	}

	feeState := newOverlay(dbReader{db: l.db})
	payer := tx.Message.AccountKeys[0]
	if err := l.chargeFee(feeState, payer, uint64(tx.Message.Header.NumRequiredSignatures)); err != nil {
		return solana.Signature{}, nil, err
	}

	exec := newOverlay(feeState)
	recorder := &events.Recorder{}
	txErr := l.execute(tx, exec, recorder)
	if txErr != nil && !opts.SkipPreflight {
		l.logger.Debug("preflight rejected transaction",
			slog.String("signature", sig.String()),
			slog.String("error", txErr.Error()))
		return solana.Signature{}, nil, fmt.Errorf("localnet: transaction simulation failed: %w", txErr)
	}
	if txErr == nil {
		exec.flush(feeState)
	}

	slot := l.height + 1
	rec := sigRecord{Slot: slot}
	if txErr != nil {
		rec.Err = &recordedErr{InstructionIndex: txErr.InstructionIndex, CustomCode: txErr.CustomCode, Message: txErr.Message}
	}
	if err := l.commit(feeState, slot, sig, &rec); err != nil {
		return solana.Signature{}, nil, err
	}
	l.logger.Debug("transaction processed",
		slog.String("signature", sig.String()),
		slog.Uint64("slot", slot),
		slog.Bool("failed", txErr != nil))
	if txErr != nil {
		return sig, nil, nil
	}
	return sig, recorder.Events(), nil
}

func (l *Ledger) chargeFee(state *overlay, payer solana.PublicKey, signatures uint64) error {
	acc, err := state.GetAccount(payer)
	if err != nil {
		return err
	}
	if acc == nil {
		return ErrNoPriorCredit
	}
	fee := l.opts.FeePerSignature * signatures
	if acc.Lamports < fee {
		return ErrInsufficientFee
	}
	acc.Lamports -= fee
	return state.PutAccount(payer, acc)
}

// execute runs every instruction against state and reports the first
// failure.
func (l *Ledger) execute(tx *solana.Transaction, state *overlay, recorder *events.Recorder) *ledger.TxError {
	msg := tx.Message
	keys := msg.AccountKeys
	signed := int(msg.Header.NumRequiredSignatures)
	writable := func(i int) bool {
		if i < signed {
			return i < signed-int(msg.Header.NumReadonlySignedAccounts)
		}
		return i < len(keys)-int(msg.Header.NumReadonlyUnsignedAccounts)
	}

	l.engine.SetState(state)
	l.engine.SetEmitter(recorder)
	defer func() {
		l.engine.SetState(nil)
		l.engine.SetEmitter(nil)
	}()

	for i, ix := range msg.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) {
			return &ledger.TxError{InstructionIndex: i, Message: errAccountIndexBounds.Error()}
		}
		if !keys[ix.ProgramIDIndex].Equals(l.opts.ProgramID) {
			return &ledger.TxError{InstructionIndex: i, Message: ErrUnknownProgram.Error()}
		}
		refs := make([]escrow.AccountRef, len(ix.Accounts))
		for j, idx := range ix.Accounts {
			k := int(idx)
			if k >= len(keys) {
				return &ledger.TxError{InstructionIndex: i, Message: errAccountIndexBounds.Error()}
			}
			refs[j] = escrow.AccountRef{Key: keys[k], Signer: k < signed, Writable: writable(k)}
		}
		if _, err := l.engine.Execute(refs, ix.Data); err != nil {
			var pe *escrow.ProgramError
			if errors.As(err, &pe) {
				out := ledger.CustomError(i, pe.Code)
				out.Message = pe.Error()
				return out
			}
			return &ledger.TxError{InstructionIndex: i, Message: err.Error()}
		}
	}
	return nil
}

func (l *Ledger) commit(state *overlay, slot uint64, sig solana.Signature, rec *sigRecord) error {
	batch := new(storage.Batch)
	if err := state.stage(batch); err != nil {
		return err
	}
	if rec != nil {
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		batch.Put(signatureKey(sig), raw)
	}
	batch.Put(heightKey, []byte(strconv.FormatUint(slot, 10)))
	if err := l.db.Write(batch); err != nil {
		return fmt.Errorf("localnet: commit block %d: %w", slot, err)
	}
	l.height = slot
	return nil
}

// Airdrop credits lamports to addr in a block of its own.
func (l *Ledger) Airdrop(ctx context.Context, addr solana.PublicKey, lamports uint64) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	if addr.IsZero() {
		return solana.Signature{}, errors.New("localnet: airdrop recipient required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return solana.Signature{}, ErrClosed
	}
	state := newOverlay(dbReader{db: l.db})
	if err := state.credit(addr, lamports); err != nil {
		return solana.Signature{}, err
	}
	var sig solana.Signature
	if _, err := rand.Read(sig[:]); err != nil {
		return solana.Signature{}, err
	}
	slot := l.height + 1
	if err := l.commit(state, slot, sig, &sigRecord{Slot: slot}); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

// Advance produces n empty blocks. Tests use it to age blockhashes and reach
// finality depth.
func (l *Ledger) Advance(n uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if n == 0 {
		return nil
	}
	return l.commit(newOverlay(dbReader{db: l.db}), l.height+n, solana.Signature{}, nil)
}

// Close stops block production and closes the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	if l.stop != nil {
		close(l.stop)
		<-l.done
	}
	l.db.Close()
	return nil
}
