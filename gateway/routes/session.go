package routes

import (
	"net/http"

	"github.com/gagliardetto/solana-go"

	coreerrors "solfind/core/errors"
)

type challengeRequest struct {
	Wallet string `json:"wallet" validate:"required"`
}

type sessionRequest struct {
	Wallet    string `json:"wallet" validate:"required"`
	Nonce     string `json:"nonce" validate:"required,hexadecimal,len=64"`
	Signature string `json:"signature" validate:"required"`
}

func (h *handler) challenge(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := h.decodeJSON(w, r, "challenge", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	ch, err := h.auth.Challenge(r.Context(), req.Wallet)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

func (h *handler) session(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := h.decodeJSON(w, r, "session", &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sig, err := solana.SignatureFromBase58(req.Signature)
	if err != nil {
		h.fail(w, r, coreerrors.Newf(coreerrors.KindValidation, "session", "signature must be base58: %v", err))
		return
	}
	session, err := h.auth.Redeem(r.Context(), req.Wallet, req.Nonce, sig)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}
