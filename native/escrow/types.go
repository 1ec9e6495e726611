package escrow

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// MaxReward caps a single report's escrow at one SOL worth of lamports to
// avoid obvious fat-finger loss.
const MaxReward uint64 = 1_000_000_000

// ReportStatus represents the lifecycle states of a report's escrow.
type ReportStatus uint8

const (
	ReportOpen ReportStatus = iota
	ReportReleased
	ReportCanceled
)

// Valid reports whether the status value is within the supported range.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportOpen, ReportReleased, ReportCanceled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is permitted from s.
func (s ReportStatus) Terminal() bool {
	return s == ReportReleased || s == ReportCanceled
}

func (s ReportStatus) String() string {
	switch s {
	case ReportOpen:
		return "open"
	case ReportReleased:
		return "released"
	case ReportCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseReportStatus is the inverse of ReportStatus.String.
func ParseReportStatus(s string) (ReportStatus, error) {
	switch s {
	case "open":
		return ReportOpen, nil
	case "released":
		return ReportReleased, nil
	case "canceled":
		return ReportCanceled, nil
	default:
		return 0, fmt.Errorf("escrow: unknown report status %q", s)
	}
}

// Report is the decoded on-chain report account. Address and Escrow are not
// stored in the account data; they are filled in by whoever loaded it.
type Report struct {
	Address      solana.PublicKey  `json:"address"`
	Escrow       solana.PublicKey  `json:"escrow"`
	Reporter     solana.PublicKey  `json:"reporter"`
	Finder       *solana.PublicKey `json:"finder,omitempty"`
	RewardAmount uint64            `json:"rewardAmount"`
	ReportID     string            `json:"reportId"`
	Status       ReportStatus      `json:"status"`
	EscrowBump   uint8             `json:"escrowBump"`
}

// Clone returns a deep copy of the report so callers can safely mutate the
// copy without affecting the stored instance.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Finder != nil {
		finder := *r.Finder
		clone.Finder = &finder
	}
	return &clone
}

// SanitizeReport validates a report loaded from account data. It returns a
// clone so the original value is never mutated.
func SanitizeReport(r *Report) (*Report, error) {
	if r == nil {
		return nil, fmt.Errorf("escrow: report nil")
	}
	clone := r.Clone()
	if clone.Reporter.IsZero() {
		return nil, fmt.Errorf("escrow: reporter required")
	}
	if clone.RewardAmount == 0 || clone.RewardAmount > MaxReward {
		return nil, fmt.Errorf("escrow: reward %d out of range", clone.RewardAmount)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status %d", clone.Status)
	}
	if clone.Status == ReportReleased && clone.Finder == nil {
		return nil, fmt.Errorf("escrow: released report without finder")
	}
	if clone.Status != ReportReleased && clone.Finder != nil {
		return nil, fmt.Errorf("escrow: finder recorded on %s report", clone.Status)
	}
	if err := ValidateReportID(clone.ReportID); err != nil {
		return nil, err
	}
	return clone, nil
}
