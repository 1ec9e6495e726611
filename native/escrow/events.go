package escrow

import (
	"strconv"

	"solfind/core/types"
)

const (
	EventTypeReportCreated  = "escrow.report.created"
	EventTypeReportReleased = "escrow.report.released"
	EventTypeReportCanceled = "escrow.report.canceled"
)

// NewReportCreatedEvent returns the canonical event payload for a newly
// created report and its funded escrow.
func NewReportCreatedEvent(r *Report) *types.Event { return newReportEvent(EventTypeReportCreated, r) }

// NewReportReleasedEvent returns the canonical event payload for a release of
// escrow funds to the finder.
func NewReportReleasedEvent(r *Report) *types.Event {
	return newReportEvent(EventTypeReportReleased, r)
}

// NewReportCanceledEvent returns the canonical event payload for a
// cancellation refunding the reporter.
func NewReportCanceledEvent(r *Report) *types.Event {
	return newReportEvent(EventTypeReportCanceled, r)
}

func newReportEvent(eventType string, r *Report) *types.Event {
	if r == nil {
		return &types.Event{Type: eventType, Attributes: map[string]string{}}
	}
	attrs := map[string]string{
		"report":   r.Address.String(),
		"escrow":   r.Escrow.String(),
		"reporter": r.Reporter.String(),
		"reward":   strconv.FormatUint(r.RewardAmount, 10),
		"reportId": r.ReportID,
		"status":   r.Status.String(),
	}
	if r.Finder != nil {
		attrs["finder"] = r.Finder.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
