package submissions

import (
	"strconv"

	"solfind/core/types"
)

const (
	EventTypeListingPlanned     = "listing.planned"
	EventTypeListingOpened      = "listing.opened"
	EventTypeListingAbandoned   = "listing.abandoned"
	EventTypeListingSettled     = "listing.settled"
	EventTypeSubmissionCreated  = "submission.created"
	EventTypeSubmissionApproved = "submission.approved"
	EventTypeSubmissionRemoved  = "submission.removed"
)

// Event wraps a workflow event for the shared emitter.
type Event struct {
	evt *types.Event
}

func (e Event) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Event exposes the payload.
func (e Event) Event() *types.Event { return e.evt }

func listingEvent(eventType string, l *Listing) Event {
	attrs := map[string]string{
		"report":   l.ReportAddress,
		"escrow":   l.EscrowAddress,
		"reporter": l.ReporterAddress,
		"reportId": l.ReportID,
		"reward":   strconv.FormatUint(l.RewardLamports, 10),
		"status":   string(l.Status),
	}
	if l.FinderAddress != "" {
		attrs["finder"] = l.FinderAddress
	}
	if l.SettleSignature != "" {
		attrs["signature"] = l.SettleSignature
	}
	return Event{evt: &types.Event{Type: eventType, Attributes: attrs}}
}

// Contact details stay out of broadcast payloads.
func submissionEvent(eventType string, s *Submission) Event {
	return Event{evt: &types.Event{Type: eventType, Attributes: map[string]string{
		"id":       s.ID.String(),
		"report":   s.ReportAddress,
		"finder":   s.FinderAddress,
		"approval": string(s.ApprovalState),
	}}}
}
