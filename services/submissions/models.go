package submissions

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ListingStatus tracks a report listing through its off-chain lifecycle.
type ListingStatus string

const (
	ListingPending   ListingStatus = "pending"
	ListingOpen      ListingStatus = "open"
	ListingReleased  ListingStatus = "released"
	ListingCanceled  ListingStatus = "canceled"
	ListingAbandoned ListingStatus = "abandoned"
)

// Terminal reports whether the listing can no longer change.
func (s ListingStatus) Terminal() bool {
	return s == ListingReleased || s == ListingCanceled || s == ListingAbandoned
}

// ApprovalState is the reporter's verdict on a submission.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
)

// Listing is the off-chain row describing a report and its escrow.
type Listing struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ReportAddress   string         `gorm:"size:44;uniqueIndex" json:"reportAddress"`
	EscrowAddress   string         `gorm:"size:44" json:"escrowAddress"`
	ReporterAddress string         `gorm:"size:44;index" json:"reporterAddress"`
	ReportID        string         `gorm:"size:50" json:"reportId"`
	RewardLamports  uint64         `gorm:"not null" json:"rewardLamports"`
	Type            string         `gorm:"size:32" json:"type"`
	Name            string         `gorm:"size:128" json:"name"`
	Description     string         `gorm:"type:text" json:"description"`
	ImageURL        string         `gorm:"size:512" json:"imageUrl,omitempty"`
	ThumbnailURL    string         `gorm:"size:512" json:"thumbnailUrl,omitempty"`
	ImageCID        string         `gorm:"size:128" json:"imageCid,omitempty"`
	Status          ListingStatus  `gorm:"size:16;index" json:"status"`
	CreateSignature string         `gorm:"size:88" json:"createSignature,omitempty"`
	SettleSignature string         `gorm:"size:88" json:"settleSignature,omitempty"`
	FinderAddress   string         `gorm:"size:44" json:"finderAddress,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// Submission is a finder's claim against a listing.
type Submission struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ReportAddress string         `gorm:"size:44;index" json:"reportAddress"`
	FinderAddress string         `gorm:"size:44" json:"finderAddress"`
	ContactNo     string         `gorm:"size:32" json:"contactNo"`
	Description   string         `gorm:"type:text" json:"description"`
	Name          string         `gorm:"size:128" json:"name"`
	ImageURL      string         `gorm:"size:512" json:"imageUrl,omitempty"`
	ThumbnailURL  string         `gorm:"size:512" json:"thumbnailUrl,omitempty"`
	ImageCID      string         `gorm:"size:128" json:"imageCid,omitempty"`
	UserID        string         `gorm:"size:64;index" json:"userId,omitempty"`
	ApprovalState ApprovalState  `gorm:"size:16;index" json:"approvalState"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// ReconRecord is one anomaly observed by a reconciliation run. A run never
// records the same anomaly for a report twice on the same day.
type ReconRecord struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunDate       string    `gorm:"size:10;uniqueIndex:idx_recon_run_report_kind"`
	ReportAddress string    `gorm:"size:44;uniqueIndex:idx_recon_run_report_kind"`
	Kind          string    `gorm:"size:32;uniqueIndex:idx_recon_run_report_kind"`
	Detail        string    `gorm:"type:text"`
	Action        string    `gorm:"size:32"`
	CreatedAt     time.Time
}

// AutoMigrate performs all schema migrations for the store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Listing{},
		&Submission{},
		&ReconRecord{},
	)
}

// Open connects to the store. driver is "postgres" or "sqlite".
func Open(driver, dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("submissions: unsupported store driver %q", driver)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("submissions: open %s store: %w", driver, err)
	}
	return db, nil
}
