package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	coreerrors "solfind/core/errors"
	"solfind/gateway/auth"
	"solfind/gateway/middleware"
	"solfind/services/submissions"
)

const maxJSONBody = 64 << 10

// StatusClientClosedRequest reports a signing request the wallet declined.
const StatusClientClosedRequest = 499

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeProblem(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, middleware.ErrorBody{Error: middleware.ErrorDetail{Kind: kind, Message: message}})
}

// fail maps err onto an HTTP status and writes the error envelope.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind, message := h.classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	} else {
		h.logger.Debug("request rejected", slog.String("path", r.URL.Path), slog.Int("status", status), slog.Any("error", err))
	}
	writeProblem(w, status, kind, message)
}

func (h *handler) classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, submissions.ErrListingNotFound):
		return http.StatusNotFound, "not_found", "No report exists at that address."
	case errors.Is(err, submissions.ErrSubmissionNotFound):
		return http.StatusNotFound, "not_found", "That submission does not exist."
	case errors.Is(err, auth.ErrInvalidWallet):
		return http.StatusBadRequest, coreerrors.KindValidation.String(), "The wallet address is invalid."
	case errors.Is(err, auth.ErrChallengeNotFound), errors.Is(err, auth.ErrChallengeExpired):
		return http.StatusUnauthorized, "unauthenticated", "The sign-in challenge is unknown or has expired. Request a new one."
	case errors.Is(err, auth.ErrInvalidSignature):
		return http.StatusUnauthorized, "unauthenticated", "The signature does not match the wallet."
	}

	kind := coreerrors.KindOf(err)
	message := coreerrors.Describe(err, h.verbose)
	switch kind {
	case coreerrors.KindValidation:
		return http.StatusBadRequest, kind.String(), message
	case coreerrors.KindAuthorization:
		return http.StatusForbidden, kind.String(), message
	case coreerrors.KindStaleState:
		return http.StatusConflict, kind.String(), message
	case coreerrors.KindSigningRejected:
		return StatusClientClosedRequest, kind.String(), message
	case coreerrors.KindNetwork:
		return http.StatusServiceUnavailable, kind.String(), message
	case coreerrors.KindInsufficientFunds:
		return http.StatusPaymentRequired, kind.String(), message
	default:
		return http.StatusInternalServerError, kind.String(), message
	}
}

// decodeJSON reads a bounded JSON body into dst and validates it.
func (h *handler) decodeJSON(w http.ResponseWriter, r *http.Request, op string, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return coreerrors.Newf(coreerrors.KindValidation, op, "request body required")
		}
		return coreerrors.New(coreerrors.KindValidation, op, fmt.Errorf("decode body: %w", err))
	}
	if err := h.validate.Struct(dst); err != nil {
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
	return nil
}
