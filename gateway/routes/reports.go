package routes

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"lukechampine.com/blake3"

	coreerrors "solfind/core/errors"
	"solfind/core/types"
	"solfind/crypto"
	"solfind/ledger"
	"solfind/native/escrow"
	"solfind/services/submissions"
)

type reportView struct {
	submissions.Listing
	RewardSOL string `json:"rewardSol"`
}

type chainView struct {
	Status         string `json:"status"`
	RewardLamports uint64 `json:"rewardLamports"`
	RewardSOL      string `json:"rewardSol"`
	EscrowAddress  string `json:"escrowAddress"`
	EscrowBalance  uint64 `json:"escrowBalance"`
	Finder         string `json:"finder,omitempty"`
}

type reportDetail struct {
	Report       reportView `json:"report"`
	OnChain      *chainView `json:"onChain"`
	OnChainError string     `json:"onChainError,omitempty"`
}

func newReportView(l submissions.Listing) reportView {
	return reportView{Listing: l, RewardSOL: types.FormatSOL(l.RewardLamports)}
}

// listReports returns the open listings. The body hash doubles as an ETag so
// polling clients get 304 until something changes.
func (h *handler) listReports(w http.ResponseWriter, r *http.Request) {
	listings, err := h.listings.ListOpen(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	views := make([]reportView, 0, len(listings))
	for _, l := range listings {
		views = append(views, newReportView(l))
	}
	body, err := json.Marshal(map[string]interface{}{"reports": views})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sum := blake3.Sum256(body)
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(body, '\n'))
}

func (h *handler) getReport(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		h.fail(w, r, coreerrors.New(coreerrors.KindValidation, "get_report", err))
		return
	}
	listing, err := h.listings.Get(r.Context(), addr.String())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	detail := reportDetail{Report: newReportView(*listing)}
	if h.chain != nil {
		snap, err := h.chain.Snapshot(r.Context(), addr)
		switch {
		case err == nil:
			detail.OnChain = newChainView(snap.Report, snap.EscrowBalance)
		case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, escrow.ErrAccountNotInitialized):
			// not created yet, or already closed
		default:
			h.logger.Warn("chain snapshot failed", slog.String("report", addr.String()), slog.Any("error", err))
			detail.OnChainError = coreerrors.Describe(err, h.verbose)
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func newChainView(report *escrow.Report, balance uint64) *chainView {
	view := &chainView{
		Status:         report.Status.String(),
		RewardLamports: report.RewardAmount,
		RewardSOL:      types.FormatSOL(report.RewardAmount),
		EscrowAddress:  report.Escrow.String(),
		EscrowBalance:  balance,
	}
	if report.Finder != nil {
		view.Finder = report.Finder.String()
	}
	return view
}
