// Package client drives escrow operations end to end: build, sign, submit,
// confirm and classify.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	coreerrors "solfind/core/errors"
	"solfind/core/txbuilder"
	"solfind/crypto"
	"solfind/ledger"
	"solfind/native/escrow"
	"solfind/observability"
	"solfind/observability/logging"
	telemetry "solfind/observability/otel"
	"solfind/wallet"
)

// Config wires an Orchestrator.
type Config struct {
	Ledger       ledger.Client
	ProgramID    solana.PublicKey
	PollInterval time.Duration
	// ConfirmTimeout caps the Confirming phase. Zero uses
	// ledger.DefaultConfirmTimeout.
	ConfirmTimeout time.Duration
	Observer       Observer
	Logger       *slog.Logger
	Now          func() time.Time
	// KeyGenerator overrides fresh report key generation.
	KeyGenerator func() (solana.PrivateKey, error)
}

// Orchestrator runs escrow attempts. It holds no wallet state; every
// operation takes the session to sign with.
type Orchestrator struct {
	ledger         ledger.Client
	builder        *txbuilder.Builder
	interval       time.Duration
	confirmTimeout time.Duration
	observer       Observer
	logger         *slog.Logger
	now            func() time.Time
	tracer         trace.Tracer
}

// New checks the program schema against the published IDL and builds the
// orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("client: ledger required")
	}
	if cfg.ProgramID.IsZero() {
		return nil, errors.New("client: program id required")
	}
	if err := escrow.ValidateSchema(); err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	builder := txbuilder.New(cfg.ProgramID)
	if cfg.KeyGenerator != nil {
		builder.SetKeyGenerator(cfg.KeyGenerator)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = ledger.DefaultPollInterval
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = ledger.DefaultConfirmTimeout
	}
	return &Orchestrator{
		ledger:         cfg.Ledger,
		builder:        builder,
		interval:       interval,
		confirmTimeout: confirmTimeout,
		observer:       cfg.Observer,
		logger:         logger.With("component", "client"),
		now:            now,
		tracer:         telemetry.Tracer("client"),
	}, nil
}

// ProgramID returns the escrow program targeted.
func (o *Orchestrator) ProgramID() solana.PublicKey { return o.builder.ProgramID() }

// Ledger returns the ledger the orchestrator submits to.
func (o *Orchestrator) Ledger() ledger.Client { return o.ledger }

// CreateRequest is a new report with its reward.
type CreateRequest struct {
	ReportID     string
	RewardAmount uint64
	// OnPlanned runs after the report address is known and before the wallet
	// is asked to sign. Returning an error abandons the attempt.
	OnPlanned func(ctx context.Context, plan *txbuilder.Plan) error
}

// Result is the final state of an attempt. It is returned on failure too so
// callers can see which addresses were involved.
type Result struct {
	Attempt  Attempt
	ReportID string
	Reward   uint64
}

// Create escrows a reward for a new report.
func (o *Orchestrator) Create(ctx context.Context, session *wallet.Session, req CreateRequest) (*Result, error) {
	reporter, err := session.Address()
	if err != nil {
		return nil, err
	}
	params := txbuilder.CreateParams{Reporter: reporter, ReportID: req.ReportID, RewardAmount: req.RewardAmount}
	if _, err := txbuilder.ValidateCreate(params); err != nil {
		return nil, err
	}
	var planned *txbuilder.Plan
	res, err := o.run(ctx, escrow.OpCreate, session, func(bh solana.Hash) (*txbuilder.Plan, error) {
		params.Blockhash = bh
		plan, err := o.builder.BuildCreate(params)
		planned = plan
		return plan, err
	}, req.OnPlanned)
	if planned != nil && res != nil {
		res.ReportID = planned.ReportID
		res.Reward = planned.Reward
	}
	return res, err
}

// Release pays the escrowed reward to finder.
func (o *Orchestrator) Release(ctx context.Context, session *wallet.Session, report, finder solana.PublicKey) (*Result, error) {
	reporter, err := session.Address()
	if err != nil {
		return nil, err
	}
	params := txbuilder.ReleaseParams{Reporter: reporter, Report: report, Finder: finder}
	if err := txbuilder.ValidateRelease(params); err != nil {
		return nil, err
	}
	return o.run(ctx, escrow.OpRelease, session, func(bh solana.Hash) (*txbuilder.Plan, error) {
		params.Blockhash = bh
		return o.builder.BuildRelease(params)
	}, nil)
}

// Cancel returns the escrowed reward to the reporter.
func (o *Orchestrator) Cancel(ctx context.Context, session *wallet.Session, report solana.PublicKey) (*Result, error) {
	reporter, err := session.Address()
	if err != nil {
		return nil, err
	}
	params := txbuilder.CancelParams{Reporter: reporter, Report: report}
	return o.run(ctx, escrow.OpCancel, session, func(bh solana.Hash) (*txbuilder.Plan, error) {
		params.Blockhash = bh
		return o.builder.BuildCancel(params)
	}, nil)
}

type attemptRun struct {
	o    *Orchestrator
	att  Attempt
	span trace.Span
}

func (r *attemptRun) enter(phase Phase) {
	r.att.Phase = phase
	r.att.UpdatedAt = r.o.now()
	observability.Escrow().RecordPhase(string(r.att.Op), string(phase))
	r.span.AddEvent(string(phase))
	r.o.logger.Debug("attempt phase",
		slog.String("attempt", r.att.ID),
		slog.String("op", string(r.att.Op)),
		slog.String("phase", string(phase)),
		slog.String("report", r.att.Report.String()))
	if r.o.observer != nil {
		r.o.observer(r.att)
	}
}

func (r *attemptRun) fail(op string, err error) (*Result, error) {
	err = coreerrors.Classify(op, err)
	r.att.Err = err
	r.enter(PhaseFailed)
	kind := coreerrors.KindOf(err)
	r.span.RecordError(err)
	r.span.SetAttributes(telemetry.ErrorKindKey.String(kind.String()))
	r.span.SetStatus(codes.Error, kind.String())
	observability.Escrow().ObserveAttempt(string(r.att.Op), kind.String(), r.att.UpdatedAt.Sub(r.att.StartedAt))
	r.o.logger.Warn("attempt failed",
		slog.String("attempt", r.att.ID),
		slog.String("op", string(r.att.Op)),
		slog.String("report", r.att.Report.String()),
		slog.String("reason", kind.String()),
		slog.Any("error", err))
	return &Result{Attempt: r.att}, err
}

func (o *Orchestrator) run(ctx context.Context, op escrow.Op, session *wallet.Session, build func(solana.Hash) (*txbuilder.Plan, error), onPlanned func(context.Context, *txbuilder.Plan) error) (*Result, error) {
	// Only the signature request honours cancellation. Once the wallet has
	// signed, the transaction may land regardless, so the attempt is followed
	// through to a definite outcome.
	work := context.WithoutCancel(ctx)
	started := o.now()
	work, span := o.tracer.Start(work, "escrow."+string(op), trace.WithAttributes(telemetry.OpKey.String(string(op))))
	defer span.End()

	r := &attemptRun{o: o, span: span, att: Attempt{ID: uuid.NewString(), Op: op, StartedAt: started}}
	r.enter(PhaseBuilding)

	bh, err := o.ledger.LatestBlockhash(work)
	if err != nil {
		return r.fail("blockhash", err)
	}
	r.att.LastValidBlockHeight = bh.LastValidBlockHeight
	plan, err := build(bh.Hash)
	if err != nil {
		return r.fail("build", err)
	}
	r.att.Report, r.att.Escrow, r.att.Finder = plan.Report, plan.Escrow, plan.Finder
	span.SetAttributes(telemetry.ReportKey.String(plan.Report.String()))
	for _, key := range plan.Ephemeral {
		if err := crypto.PartialSign(plan.Tx, key); err != nil {
			return r.fail("build", err)
		}
	}
	if onPlanned != nil {
		if err := onPlanned(work, plan); err != nil {
			return r.fail("plan", err)
		}
	}

	r.enter(PhaseAwaitingSignature)
	tx, err := session.Sign(ctx, plan.Tx)
	if err != nil {
		return r.fail("sign", err)
	}

	sig, err := o.ledger.SendTransaction(work, tx, ledger.DefaultSendOptions())
	if err != nil {
		return r.fail("send", err)
	}
	r.att.Signature = sig
	span.SetAttributes(telemetry.SignatureKey.String(sig.String()))
	r.enter(PhaseSubmitted)

	r.enter(PhaseConfirming)
	if err := ledger.AwaitFinality(work, o.ledger, sig, bh, ledger.AwaitOptions{Interval: o.interval, Timeout: o.confirmTimeout}); err != nil {
		return r.fail("confirm", err)
	}

	r.enter(PhaseConfirmed)
	observability.Escrow().ObserveAttempt(string(op), string(PhaseConfirmed), r.att.UpdatedAt.Sub(started))
	attrs := []any{
		slog.String("attempt", r.att.ID),
		slog.String("op", string(op)),
		slog.String("report", plan.Report.String()),
		slog.String("signature", sig.String()),
		logging.MaskWallet("reporter", plan.Reporter.String()),
	}
	if !plan.Finder.IsZero() {
		attrs = append(attrs, logging.MaskWallet("finder", plan.Finder.String()))
	}
	o.logger.Info("attempt confirmed", attrs...)
	return &Result{Attempt: r.att}, nil
}
