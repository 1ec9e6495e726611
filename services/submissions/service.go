package submissions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	coreerrors "solfind/core/errors"
	"solfind/core/events"
	"solfind/crypto"
	"solfind/native/escrow"
	"solfind/observability/logging"
	"solfind/services/submissions/media"
)

var (
	ErrListingNotFound    = errors.New("submissions: listing not found")
	ErrSubmissionNotFound = errors.New("submissions: submission not found")
	ErrNotOwner           = errors.New("submissions: only the reporter may manage this listing")
	ErrListingClosed      = errors.New("submissions: listing is not open")
	ErrNotPending         = errors.New("submissions: only pending submissions can be removed")
	ErrFinderIsReporter   = errors.New("submissions: finder must differ from the reporter")
	ErrMediaDisabled      = errors.New("submissions: image uploads are not configured")
)

// Config wires the service to its store and collaborators.
type Config struct {
	DB       *gorm.DB
	Uploader *media.Uploader
	Emitter  events.Emitter
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service is the off-chain side of the workflow: report listings and the
// finder submissions against them.
type Service struct {
	db       *gorm.DB
	uploader *media.Uploader
	emitter  events.Emitter
	logger   *slog.Logger
	now      func() time.Time
	validate *validator.Validate
}

// New constructs the service.
func New(cfg Config) (*Service, error) {
	if cfg.DB == nil {
		return nil, errors.New("submissions: database required")
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:       cfg.DB,
		uploader: cfg.Uploader,
		emitter:  emitter,
		logger:   logger.With(slog.String("component", "submissions")),
		now:      now,
		validate: validator.New(),
	}, nil
}

// Image is an uploaded file as received from the client.
type Image struct {
	Name string
	Data []byte
}

// PlanRequest describes a report the reporter is about to create on-chain.
type PlanRequest struct {
	Report         solana.PublicKey
	Escrow         solana.PublicKey
	Reporter       solana.PublicKey
	ReportID       string `validate:"required,max=50"`
	RewardLamports uint64 `validate:"required"`
	Type           string `validate:"max=32"`
	Name           string `validate:"max=128"`
	Description    string `validate:"max=4000"`
	Image          *Image
}

// SubmitRequest is a finder's claim.
type SubmitRequest struct {
	ReportAddress string `validate:"required"`
	FinderAddress string `validate:"required"`
	ContactNo     string `validate:"required,max=32"`
	Name          string `validate:"required,max=128"`
	Description   string `validate:"max=4000"`
	UserID        string `validate:"max=64"`
	Image         *Image
}

func validationError(op string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field()+":"+fe.Tag())
		}
		return coreerrors.Newf(coreerrors.KindValidation, op, "invalid fields %s", strings.Join(fields, ","))
	}
	return coreerrors.New(coreerrors.KindValidation, op, err)
}

func (s *Service) upload(ctx context.Context, op, bucket string, img *Image) (*media.Object, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, nil
	}
	if s.uploader == nil {
		return nil, coreerrors.New(coreerrors.KindValidation, op, ErrMediaDisabled)
	}
	obj, err := s.uploader.Upload(ctx, bucket, img.Name, img.Data)
	if err != nil {
		if errors.Is(err, media.ErrEmptyImage) || errors.Is(err, media.ErrImageTooLarge) || errors.Is(err, media.ErrUnsupportedType) {
			return nil, coreerrors.New(coreerrors.KindValidation, op, err)
		}
		return nil, coreerrors.Classify(op, err)
	}
	return obj, nil
}

// PlanReport records a pending listing ahead of the create transaction.
// Planning the same report again returns the existing row.
func (s *Service) PlanReport(ctx context.Context, req PlanRequest) (*Listing, error) {
	const op = "plan_report"
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(op, err)
	}
	if req.Report.IsZero() || req.Escrow.IsZero() || req.Reporter.IsZero() {
		return nil, coreerrors.Newf(coreerrors.KindValidation, op, "report, escrow and reporter addresses are required")
	}
	if req.RewardLamports > escrow.MaxReward {
		return nil, coreerrors.Newf(coreerrors.KindValidation, op, "reward must be at most %d lamports", escrow.MaxReward)
	}
	if err := escrow.ValidateReportID(req.ReportID); err != nil {
		return nil, coreerrors.New(coreerrors.KindValidation, op, err)
	}

	if existing, err := s.lookup(ctx, s.db.Unscoped(), req.Report.String()); err == nil {
		if existing.ReporterAddress != req.Reporter.String() {
			return nil, coreerrors.New(coreerrors.KindAuthorization, op, ErrNotOwner)
		}
		return existing, nil
	} else if !errors.Is(err, ErrListingNotFound) {
		return nil, err
	}

	obj, err := s.upload(ctx, op, media.BucketReportImages, req.Image)
	if err != nil {
		return nil, err
	}
	listing := &Listing{
		ID:              uuid.New(),
		ReportAddress:   req.Report.String(),
		EscrowAddress:   req.Escrow.String(),
		ReporterAddress: req.Reporter.String(),
		ReportID:        req.ReportID,
		RewardLamports:  req.RewardLamports,
		Type:            req.Type,
		Name:            req.Name,
		Description:     req.Description,
		Status:          ListingPending,
	}
	if obj != nil {
		listing.ImageURL = obj.URL
		listing.ThumbnailURL = obj.ThumbnailURL
		listing.ImageCID = obj.CID
	}
	if err := s.db.WithContext(ctx).Create(listing).Error; err != nil {
		return nil, fmt.Errorf("submissions: insert listing: %w", err)
	}
	s.logger.Info("listing planned", slog.String("report", listing.ReportAddress), logging.MaskWallet("reporter", listing.ReporterAddress))
	s.emitter.Emit(listingEvent(EventTypeListingPlanned, listing))
	return listing, nil
}

// ConfirmReport opens a pending listing once its create transaction is
// final. An abandoned listing is reopened: the chain says the report exists.
// Confirming an open listing is a no-op.
func (s *Service) ConfirmReport(ctx context.Context, report, signature string) (*Listing, error) {
	const op = "confirm_report"
	res := s.db.WithContext(ctx).Model(&Listing{}).
		Where("report_address = ? AND status IN ?", report, []ListingStatus{ListingPending, ListingAbandoned}).
		Updates(map[string]any{"status": ListingOpen, "create_signature": signature})
	if res.Error != nil {
		return nil, fmt.Errorf("submissions: confirm listing: %w", res.Error)
	}
	listing, err := s.lookup(ctx, s.db.Unscoped(), report)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && listing.Status != ListingOpen {
		return nil, coreerrors.Newf(coreerrors.KindStaleState, op, "listing is %s", listing.Status)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("listing opened", slog.String("report", report), slog.String("signature", signature))
		s.emitter.Emit(listingEvent(EventTypeListingOpened, listing))
	}
	return listing, nil
}

// AbandonReport marks a pending listing whose create transaction never
// landed.
func (s *Service) AbandonReport(ctx context.Context, report string) (*Listing, error) {
	const op = "abandon_report"
	res := s.db.WithContext(ctx).Model(&Listing{}).
		Where("report_address = ? AND status = ?", report, ListingPending).
		Update("status", ListingAbandoned)
	if res.Error != nil {
		return nil, fmt.Errorf("submissions: abandon listing: %w", res.Error)
	}
	listing, err := s.lookup(ctx, s.db.Unscoped(), report)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 && listing.Status != ListingAbandoned {
		return nil, coreerrors.Newf(coreerrors.KindStaleState, op, "listing is %s", listing.Status)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("listing abandoned", slog.String("report", report))
		s.emitter.Emit(listingEvent(EventTypeListingAbandoned, listing))
	}
	return listing, nil
}

// SettleReport records a terminal transition and soft-deletes the listing.
// outcome is ListingReleased or ListingCanceled; finder is empty for a
// cancel. Settling twice with the same outcome returns the settled row.
func (s *Service) SettleReport(ctx context.Context, report string, outcome ListingStatus, finder, signature string) (*Listing, error) {
	const op = "settle_report"
	if outcome != ListingReleased && outcome != ListingCanceled {
		return nil, coreerrors.Newf(coreerrors.KindValidation, op, "unsupported outcome %q", outcome)
	}
	if outcome == ListingReleased && finder == "" {
		return nil, coreerrors.Newf(coreerrors.KindValidation, op, "finder required for a release")
	}
	var settled bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Listing{}).
			Where("report_address = ? AND status IN ?", report, []ListingStatus{ListingPending, ListingOpen, ListingAbandoned}).
			Updates(map[string]any{"status": outcome, "finder_address": finder, "settle_signature": signature})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		settled = true
		return tx.Where("report_address = ?", report).Delete(&Listing{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("submissions: settle listing: %w", err)
	}
	listing, err := s.lookup(ctx, s.db.Unscoped(), report)
	if err != nil {
		return nil, err
	}
	if !settled {
		if listing.Status != outcome {
			return nil, coreerrors.Newf(coreerrors.KindStaleState, op, "listing is %s", listing.Status)
		}
		return listing, nil
	}
	s.logger.Info("listing settled",
		slog.String("report", report),
		slog.String("status", string(outcome)),
		slog.String("signature", signature))
	s.emitter.Emit(listingEvent(EventTypeListingSettled, listing))
	return listing, nil
}

// Get returns the listing for report, including settled ones.
func (s *Service) Get(ctx context.Context, report string) (*Listing, error) {
	return s.lookup(ctx, s.db.Unscoped(), report)
}

func (s *Service) lookup(ctx context.Context, db *gorm.DB, report string) (*Listing, error) {
	var listing Listing
	err := db.WithContext(ctx).Where("report_address = ?", report).First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("submissions: load listing: %w", err)
	}
	return &listing, nil
}

// ListOpen returns open listings, newest first.
func (s *Service) ListOpen(ctx context.Context) ([]Listing, error) {
	return s.ListByStatus(ctx, ListingOpen)
}

// ListByStatus returns live listings in any of the given states, newest
// first. Settled listings are soft-deleted and never returned.
func (s *Service) ListByStatus(ctx context.Context, statuses ...ListingStatus) ([]Listing, error) {
	var listings []Listing
	q := s.db.WithContext(ctx).Order("created_at desc")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("submissions: list listings: %w", err)
	}
	return listings, nil
}

// Submit records a finder's claim against an open listing.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	const op = "submit"
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(op, err)
	}
	listing, err := s.lookup(ctx, s.db, req.ReportAddress)
	if err != nil {
		if errors.Is(err, ErrListingNotFound) {
			return nil, coreerrors.New(coreerrors.KindStaleState, op, err)
		}
		return nil, err
	}
	if listing.Status != ListingOpen {
		return nil, coreerrors.New(coreerrors.KindStaleState, op, ErrListingClosed)
	}
	finder, err := crypto.ParseAddress(req.FinderAddress)
	if err != nil {
		return nil, coreerrors.New(coreerrors.KindValidation, op, err)
	}
	if finder.String() == listing.ReporterAddress {
		return nil, coreerrors.New(coreerrors.KindValidation, op, ErrFinderIsReporter)
	}
	if finder.String() == listing.ReportAddress || finder.String() == listing.EscrowAddress {
		return nil, coreerrors.Newf(coreerrors.KindValidation, op, "finder must be a wallet address")
	}

	obj, err := s.upload(ctx, op, media.BucketSubmitImages, req.Image)
	if err != nil {
		return nil, err
	}
	sub := &Submission{
		ID:            uuid.New(),
		ReportAddress: listing.ReportAddress,
		FinderAddress: finder.String(),
		ContactNo:     strings.TrimSpace(req.ContactNo),
		Description:   req.Description,
		Name:          strings.TrimSpace(req.Name),
		UserID:        req.UserID,
		ApprovalState: ApprovalPending,
	}
	if obj != nil {
		sub.ImageURL = obj.URL
		sub.ThumbnailURL = obj.ThumbnailURL
		sub.ImageCID = obj.CID
	}
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, fmt.Errorf("submissions: insert submission: %w", err)
	}
	s.logger.Info("submission received",
		slog.String("report", sub.ReportAddress),
		logging.MaskWallet("finder", sub.FinderAddress),
		logging.MaskField("contact", sub.ContactNo))
	s.emitter.Emit(submissionEvent(EventTypeSubmissionCreated, sub))
	return sub, nil
}

func (s *Service) loadOwned(ctx context.Context, op string, reporter solana.PublicKey, id uuid.UUID) (*Submission, *Listing, error) {
	var sub Submission
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, coreerrors.New(coreerrors.KindValidation, op, ErrSubmissionNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("submissions: load submission: %w", err)
	}
	listing, err := s.lookup(ctx, s.db.Unscoped(), sub.ReportAddress)
	if err != nil {
		return nil, nil, err
	}
	if listing.ReporterAddress != reporter.String() {
		return nil, nil, coreerrors.New(coreerrors.KindAuthorization, op, ErrNotOwner)
	}
	return &sub, listing, nil
}

// Approve marks a submission as the one the reporter intends to pay. It does
// not move funds; the caller passes FinderAddress to the release operation.
func (s *Service) Approve(ctx context.Context, reporter solana.PublicKey, id uuid.UUID) (*Submission, error) {
	const op = "approve"
	sub, listing, err := s.loadOwned(ctx, op, reporter, id)
	if err != nil {
		return nil, err
	}
	if listing.Status != ListingOpen || listing.DeletedAt.Valid {
		return nil, coreerrors.New(coreerrors.KindStaleState, op, ErrListingClosed)
	}
	if sub.ApprovalState == ApprovalApproved {
		return sub, nil
	}
	if err := s.db.WithContext(ctx).Model(sub).Update("approval_state", ApprovalApproved).Error; err != nil {
		return nil, fmt.Errorf("submissions: approve: %w", err)
	}
	sub.ApprovalState = ApprovalApproved
	s.logger.Info("submission approved", slog.String("report", sub.ReportAddress), slog.String("id", sub.ID.String()))
	s.emitter.Emit(submissionEvent(EventTypeSubmissionApproved, sub))
	return sub, nil
}

// Remove deletes a pending submission.
func (s *Service) Remove(ctx context.Context, reporter solana.PublicKey, id uuid.UUID) error {
	const op = "remove"
	sub, _, err := s.loadOwned(ctx, op, reporter, id)
	if err != nil {
		return err
	}
	if sub.ApprovalState != ApprovalPending {
		return coreerrors.New(coreerrors.KindStaleState, op, ErrNotPending)
	}
	res := s.db.WithContext(ctx).Where("id = ? AND approval_state = ?", sub.ID, ApprovalPending).Delete(&Submission{})
	if res.Error != nil {
		return fmt.Errorf("submissions: remove: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return coreerrors.New(coreerrors.KindStaleState, op, ErrNotPending)
	}
	s.logger.Info("submission removed", slog.String("report", sub.ReportAddress), slog.String("id", sub.ID.String()))
	s.emitter.Emit(submissionEvent(EventTypeSubmissionRemoved, sub))
	return nil
}

// ListSubmissions returns the submissions against report. Only the reporter
// may read them since they carry finders' contact details.
func (s *Service) ListSubmissions(ctx context.Context, reporter solana.PublicKey, report string) ([]Submission, error) {
	const op = "list_submissions"
	listing, err := s.lookup(ctx, s.db.Unscoped(), report)
	if err != nil {
		return nil, err
	}
	if listing.ReporterAddress != reporter.String() {
		return nil, coreerrors.New(coreerrors.KindAuthorization, op, ErrNotOwner)
	}
	var subs []Submission
	if err := s.db.WithContext(ctx).Where("report_address = ?", report).Order("created_at asc").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("submissions: list submissions: %w", err)
	}
	return subs, nil
}
