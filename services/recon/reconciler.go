package recon

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"solfind/client"
	"solfind/ledger"
	"solfind/native/escrow"
	"solfind/observability"
	"solfind/services/submissions"
)

const (
	// DefaultGrace is how long a pending listing may wait for its create
	// transaction before it is considered abandoned. It is well past the
	// blockhash validity window.
	DefaultGrace = 15 * time.Minute
	// DefaultLockTTL bounds how long one report may hold its lock.
	DefaultLockTTL = 30 * time.Second

	// Anomaly kinds emitted by the reconciler.
	AnomalyPendingConfirmed = "pending_confirmed"
	AnomalyAbandonedIntent  = "abandoned_intent"
	AnomalyAbandonedFunded  = "abandoned_funded"
	AnomalyStatusDrift      = "status_drift"
	AnomalyMissingOnChain   = "missing_onchain"
	AnomalyRewardMismatch   = "reward_mismatch"
	AnomalyEscrowMismatch   = "escrow_mismatch"

	actionPromoted  = "promoted"
	actionAbandoned = "abandoned"
	actionSettled   = "settled"
	actionFlagged   = "flagged"
	actionNone      = "none"
)

// Chain reads a report and its escrow balance. *client.Orchestrator
// satisfies it.
type Chain interface {
	Snapshot(ctx context.Context, report solana.PublicKey) (*client.Snapshot, error)
}

// AlertFunc is invoked for every anomaly detected during reconciliation.
type AlertFunc func(ctx context.Context, anomaly Anomaly) error

// Config captures the dependencies required to construct a Reconciler.
type Config struct {
	DB        *gorm.DB
	Listings  *submissions.Service
	Chain     Chain
	Locker    Locker
	OutputDir string
	Grace     time.Duration
	LockTTL   time.Duration
	DryRun    bool
	Now       func() time.Time
	Alert     AlertFunc
	Logger    *slog.Logger
}

// RunOptions specifies overrides for a single run.
type RunOptions struct {
	DryRun bool
}

// Reconciler compares off-chain listings with the escrow program's accounts
// and repairs or flags the differences.
type Reconciler struct {
	db        *gorm.DB
	listings  *submissions.Service
	chain     Chain
	locker    Locker
	outputDir string
	grace     time.Duration
	lockTTL   time.Duration
	dryRun    bool
	now       func() time.Time
	alert     AlertFunc
	logger    *slog.Logger
}

// Anomaly captures a difference requiring repair or operator review.
type Anomaly struct {
	Kind   string
	Report string
	Detail string
	Action string
}

// ReportRow summarises reconciliation of a single listing.
type ReportRow struct {
	Report        string
	Escrow        string
	Reporter      string
	ReportID      string
	ListingStatus string
	ChainStatus   string
	ListingReward uint64
	ChainReward   uint64
	EscrowBalance uint64
	OnChain       bool
	Anomalies     []string
	Action        string
	Error         string
	CheckedAt     time.Time
}

// Result summarises a reconciliation run.
type Result struct {
	RunDate     string
	Started     time.Time
	Finished    time.Time
	DryRun      bool
	Rows        []*ReportRow
	Anomalies   []Anomaly
	Promoted    int
	Abandoned   int
	Settled     int
	Skipped     int
	Failed      int
	CSVPath     string
	ParquetPath string
}

// NewReconciler builds a configured reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.DB == nil {
		return nil, errors.New("recon: db is required")
	}
	if cfg.Listings == nil {
		return nil, errors.New("recon: listing service is required")
	}
	if cfg.Chain == nil {
		return nil, errors.New("recon: chain reader is required")
	}
	locker := cfg.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	alert := cfg.Alert
	if alert == nil {
		alert = func(context.Context, Anomaly) error { return nil }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Reconciler{
		db:        cfg.DB,
		listings:  cfg.Listings,
		chain:     cfg.Chain,
		locker:    locker,
		outputDir: strings.TrimSpace(cfg.OutputDir),
		grace:     grace,
		lockTTL:   ttl,
		dryRun:    cfg.DryRun,
		now:       nowFn,
		alert:     alert,
		logger:    logger.With(slog.String("component", "recon")),
	}, nil
}

// Run reconciles every live listing once. Abandoned listings are checked too
// so an escrow funded after its listing was given up becomes visible again.
// A report whose lock is held elsewhere is skipped; a report whose chain read
// fails is counted as failed and the run continues.
func (r *Reconciler) Run(ctx context.Context, opts RunOptions) (res *Result, err error) {
	started := r.now()
	defer func() { observability.Recon().ObserveRun(r.now().Sub(started), err) }()

	dryRun := r.dryRun || opts.DryRun
	res = &Result{RunDate: started.UTC().Format("2006-01-02"), Started: started, DryRun: dryRun}

	listings, err := r.listings.ListByStatus(ctx, submissions.ListingPending, submissions.ListingOpen, submissions.ListingAbandoned)
	if err != nil {
		return nil, fmt.Errorf("recon: load listings: %w", err)
	}
	for i := range listings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		listing := listings[i]
		unlock, err := r.locker.Lock(ctx, listing.ReportAddress, r.lockTTL)
		if errors.Is(err, ErrLocked) {
			res.Skipped++
			continue
		}
		if err != nil {
			return nil, err
		}
		row, anomalies, err := r.reconcile(ctx, &listing, dryRun, started)
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			r.logger.Warn("release lock", slog.String("report", listing.ReportAddress), slog.Any("error", uerr))
		}
		if row == nil {
			continue
		}
		if err != nil {
			res.Failed++
			row.Error = err.Error()
			r.logger.Error("reconcile report", slog.String("report", listing.ReportAddress), slog.Any("error", err))
		}
		for _, a := range anomalies {
			switch a.Action {
			case actionPromoted:
				res.Promoted++
			case actionAbandoned:
				res.Abandoned++
			case actionSettled:
				res.Settled++
			}
			res.Anomalies = append(res.Anomalies, r.raise(ctx, a))
		}
		res.Rows = append(res.Rows, row)
	}

	if !dryRun {
		if err := r.record(ctx, res.RunDate, res.Anomalies); err != nil {
			return nil, err
		}
		if r.outputDir != "" && len(res.Rows) > 0 {
			csvPath, parquetPath, err := r.writeReportFiles(started, res.Rows)
			if err != nil {
				return nil, err
			}
			res.CSVPath, res.ParquetPath = csvPath, parquetPath
		}
	}
	res.Finished = r.now()
	r.logger.Info("recon run complete",
		slog.Int("listings", len(res.Rows)),
		slog.Int("anomalies", len(res.Anomalies)),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed),
		slog.Bool("dry_run", dryRun))
	return res, nil
}

func (r *Reconciler) reconcile(ctx context.Context, listing *submissions.Listing, dryRun bool, now time.Time) (*ReportRow, []Anomaly, error) {
	row := &ReportRow{
		Report:        listing.ReportAddress,
		Escrow:        listing.EscrowAddress,
		Reporter:      listing.ReporterAddress,
		ReportID:      listing.ReportID,
		ListingStatus: string(listing.Status),
		ListingReward: listing.RewardLamports,
		Action:        actionNone,
		CheckedAt:     now,
	}
	var anomalies []Anomaly
	flag := func(kind, action, format string, args ...any) {
		anomalies = append(anomalies, Anomaly{Kind: kind, Report: listing.ReportAddress, Detail: fmt.Sprintf(format, args...), Action: action})
		row.Anomalies = append(row.Anomalies, kind)
		if action != actionFlagged || row.Action == actionNone {
			row.Action = action
		}
	}

	addr, err := solana.PublicKeyFromBase58(listing.ReportAddress)
	if err != nil {
		flag(AnomalyMissingOnChain, actionFlagged, "listing address is not a valid public key")
		return row, anomalies, nil
	}
	snap, err := r.chain.Snapshot(ctx, addr)
	missing := errors.Is(err, ledger.ErrAccountNotFound) || errors.Is(err, escrow.ErrAccountNotInitialized)
	if err != nil && !missing {
		return row, anomalies, err
	}
	if !missing {
		row.OnChain = true
		row.ChainStatus = snap.Report.Status.String()
		row.ChainReward = snap.Report.RewardAmount
		row.EscrowBalance = snap.EscrowBalance
	}

	status := listing.Status
	if status == submissions.ListingAbandoned {
		if missing {
			return nil, nil, nil
		}
		if !dryRun {
			if _, err := r.listings.ConfirmReport(ctx, listing.ReportAddress, listing.CreateSignature); err != nil {
				return row, anomalies, err
			}
		}
		flag(AnomalyAbandonedFunded, actionPromoted, "abandoned listing has a report account on-chain")
		status = submissions.ListingOpen
	}
	if status == submissions.ListingPending {
		switch {
		case !missing:
			if !dryRun {
				if _, err := r.listings.ConfirmReport(ctx, listing.ReportAddress, listing.CreateSignature); err != nil {
					return row, anomalies, err
				}
			}
			flag(AnomalyPendingConfirmed, actionPromoted, "report account exists on-chain")
			status = submissions.ListingOpen
		case now.Sub(listing.CreatedAt) > r.grace:
			if !dryRun {
				if _, err := r.listings.AbandonReport(ctx, listing.ReportAddress); err != nil {
					return row, anomalies, err
				}
			}
			flag(AnomalyAbandonedIntent, actionAbandoned, "no report account %s after planning", now.Sub(listing.CreatedAt).Round(time.Second))
			return row, anomalies, nil
		default:
			return row, anomalies, nil
		}
	}

	if status != submissions.ListingOpen {
		return row, anomalies, nil
	}
	if missing {
		flag(AnomalyMissingOnChain, actionFlagged, "open listing has no report account")
		return row, anomalies, nil
	}
	report := snap.Report
	if report.RewardAmount != listing.RewardLamports {
		flag(AnomalyRewardMismatch, actionFlagged, "listing reward %d, chain reward %d", listing.RewardLamports, report.RewardAmount)
	}
	if report.Status == escrow.ReportOpen && snap.EscrowBalance != report.RewardAmount {
		flag(AnomalyEscrowMismatch, actionFlagged, "escrow holds %d, reward is %d", snap.EscrowBalance, report.RewardAmount)
	}
	if report.Status.Terminal() {
		outcome := submissions.ListingCanceled
		finder := ""
		if report.Status == escrow.ReportReleased {
			outcome = submissions.ListingReleased
			if report.Finder != nil {
				finder = report.Finder.String()
			}
		}
		if !dryRun {
			if _, err := r.listings.SettleReport(ctx, listing.ReportAddress, outcome, finder, ""); err != nil {
				return row, anomalies, err
			}
		}
		flag(AnomalyStatusDrift, actionSettled, "chain status %s, listing status %s", report.Status, status)
	}
	return row, anomalies, nil
}

func (r *Reconciler) raise(ctx context.Context, anomaly Anomaly) Anomaly {
	observability.Recon().RecordAnomaly(anomaly.Kind)
	r.logger.Warn("recon anomaly",
		slog.String("report", anomaly.Report),
		slog.String("kind", anomaly.Kind),
		slog.String("action", anomaly.Action),
		slog.String("detail", anomaly.Detail))
	if r.alert != nil {
		if err := r.alert(ctx, anomaly); err != nil {
			r.logger.Error("recon alert delivery failed", slog.Any("error", err))
		}
	}
	return anomaly
}

// record stores anomalies once per run date, report and kind, so repeated
// runs on the same day do not duplicate them.
func (r *Reconciler) record(ctx context.Context, runDate string, anomalies []Anomaly) error {
	for _, a := range anomalies {
		rec := submissions.ReconRecord{
			ID:            uuid.New(),
			RunDate:       runDate,
			ReportAddress: a.Report,
			Kind:          a.Kind,
			Detail:        a.Detail,
			Action:        a.Action,
		}
		if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
			return fmt.Errorf("recon: record anomaly: %w", err)
		}
	}
	return nil
}

func (r *Reconciler) writeReportFiles(started time.Time, rows []*ReportRow) (string, string, error) {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", "", fmt.Errorf("recon: ensure output dir: %w", err)
	}
	filename := "recon_" + started.UTC().Format("20060102T150405Z")
	csvPath := filepath.Join(r.outputDir, filename+".csv")
	if err := writeCSV(csvPath, rows); err != nil {
		return "", "", err
	}
	parquetPath := filepath.Join(r.outputDir, filename+".parquet")
	if err := writeParquet(parquetPath, rows); err != nil {
		return "", "", err
	}
	r.logger.Info("recon report written", slog.String("csv", csvPath), slog.String("parquet", parquetPath), slog.Int("rows", len(rows)))
	return csvPath, parquetPath, nil
}

var csvHeader = []string{
	"report", "escrow", "reporter", "report_id", "listing_status", "chain_status", "listing_reward",
	"chain_reward", "escrow_balance", "on_chain", "anomalies", "action", "error", "checked_at",
}

func writeCSV(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("recon: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Report,
			row.Escrow,
			row.Reporter,
			row.ReportID,
			row.ListingStatus,
			row.ChainStatus,
			strconv.FormatUint(row.ListingReward, 10),
			strconv.FormatUint(row.ChainReward, 10),
			strconv.FormatUint(row.EscrowBalance, 10),
			strconv.FormatBool(row.OnChain),
			strings.Join(row.Anomalies, ";"),
			row.Action,
			row.Error,
			row.CheckedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("recon: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("recon: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	Report        string `parquet:"name=report, type=BYTE_ARRAY, convertedtype=UTF8"`
	Escrow        string `parquet:"name=escrow, type=BYTE_ARRAY, convertedtype=UTF8"`
	Reporter      string `parquet:"name=reporter, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReportID      string `parquet:"name=report_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ListingStatus string `parquet:"name=listing_status, type=BYTE_ARRAY, convertedtype=UTF8"`
	ChainStatus   string `parquet:"name=chain_status, type=BYTE_ARRAY, convertedtype=UTF8"`
	ListingReward int64  `parquet:"name=listing_reward, type=INT64"`
	ChainReward   int64  `parquet:"name=chain_reward, type=INT64"`
	EscrowBalance int64  `parquet:"name=escrow_balance, type=INT64"`
	OnChain       bool   `parquet:"name=on_chain, type=BOOLEAN"`
	Anomalies     string `parquet:"name=anomalies, type=BYTE_ARRAY, convertedtype=UTF8"`
	Action        string `parquet:"name=action, type=BYTE_ARRAY, convertedtype=UTF8"`
	Error         string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
	CheckedAt     string `parquet:"name=checked_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Lamport amounts are capped well below 2^63, so INT64 columns are lossless.
func writeParquet(path string, rows []*ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			Report:        row.Report,
			Escrow:        row.Escrow,
			Reporter:      row.Reporter,
			ReportID:      row.ReportID,
			ListingStatus: row.ListingStatus,
			ChainStatus:   row.ChainStatus,
			ListingReward: int64(row.ListingReward),
			ChainReward:   int64(row.ChainReward),
			EscrowBalance: int64(row.EscrowBalance),
			OnChain:       row.OnChain,
			Anomalies:     strings.Join(row.Anomalies, ";"),
			Action:        row.Action,
			Error:         row.Error,
			CheckedAt:     row.CheckedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("recon: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("recon: close parquet file: %w", err)
	}
	return nil
}
