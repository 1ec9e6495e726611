package routes

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	coreerrors "solfind/core/errors"
	"solfind/crypto"
	"solfind/gateway/middleware"
	"solfind/services/submissions"
	"solfind/services/submissions/media"
)

// maxUploadBody leaves room for the form fields next to a full-size image.
const maxUploadBody = media.MaxImageBytes + 1<<20

type submitRequest struct {
	ContactNo   string `json:"contactNo"`
	Name        string `json:"name"`
	Description string `json:"description"`
	UserID      string `json:"userId"`
}

// submit records a claim by the session wallet. Multipart bodies may carry
// an "image" file; JSON bodies are accepted for text-only claims.
func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	const op = "submit"
	wallet, ok := middleware.WalletFromContext(r.Context())
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "unauthenticated", "Sign in with your wallet first.")
		return
	}
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		h.fail(w, r, coreerrors.New(coreerrors.KindValidation, op, err))
		return
	}

	var (
		form  submitRequest
		image *submissions.Image
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
		if err := r.ParseMultipartForm(maxUploadBody); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeProblem(w, http.StatusRequestEntityTooLarge, coreerrors.KindValidation.String(), "The upload is too large.")
				return
			}
			h.fail(w, r, coreerrors.New(coreerrors.KindValidation, op, fmt.Errorf("parse form: %w", err)))
			return
		}
		defer r.MultipartForm.RemoveAll()
		form = submitRequest{
			ContactNo:   r.FormValue("contactNo"),
			Name:        r.FormValue("name"),
			Description: r.FormValue("description"),
			UserID:      r.FormValue("userId"),
		}
		image, err = formImage(r)
		if err != nil {
			h.fail(w, r, coreerrors.New(coreerrors.KindValidation, op, err))
			return
		}
	} else if err := h.decodeJSON(w, r, op, &form); err != nil {
		h.fail(w, r, err)
		return
	}

	sub, err := h.listings.Submit(r.Context(), submissions.SubmitRequest{
		ReportAddress: addr.String(),
		FinderAddress: wallet.String(),
		ContactNo:     form.ContactNo,
		Name:          form.Name,
		Description:   form.Description,
		UserID:        form.UserID,
		Image:         image,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func formImage(r *http.Request) (*submissions.Image, error) {
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, media.MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return &submissions.Image{Name: header.Filename, Data: data}, nil
}

func (h *handler) listSubmissions(w http.ResponseWriter, r *http.Request) {
	wallet, ok := middleware.WalletFromContext(r.Context())
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "unauthenticated", "Sign in with your wallet first.")
		return
	}
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		h.fail(w, r, coreerrors.New(coreerrors.KindValidation, "list_submissions", err))
		return
	}
	subs, err := h.listings.ListSubmissions(r.Context(), wallet, addr.String())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if subs == nil {
		subs = []submissions.Submission{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"submissions": subs})
}

func (h *handler) approve(w http.ResponseWriter, r *http.Request) {
	wallet, id, ok := h.submissionTarget(w, r, "approve")
	if !ok {
		return
	}
	sub, err := h.listings.Approve(r.Context(), wallet, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	wallet, id, ok := h.submissionTarget(w, r, "remove")
	if !ok {
		return
	}
	if err := h.listings.Remove(r.Context(), wallet, id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) submissionTarget(w http.ResponseWriter, r *http.Request, op string) (wallet solana.PublicKey, id uuid.UUID, ok bool) {
	pk, found := middleware.WalletFromContext(r.Context())
	if !found {
		writeProblem(w, http.StatusUnauthorized, "unauthenticated", "Sign in with your wallet first.")
		return wallet, id, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, coreerrors.Newf(coreerrors.KindValidation, op, "invalid submission id"))
		return wallet, id, false
	}
	return pk, id, true
}
