/**
 * @description
 * This file implements the uniform error responder. Every entry point renders
 * failures through writeAppError so the client always receives the taxonomy's
 * fixed {error, code, message, details?, timestamp} shape and raw internal
 * errors never leak.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/adforge/generation-service/internal/apperr"
	"github.com/adforge/generation-service/internal/store"
)

// errorResponse is the wire shape of every failed request.
type errorResponse struct {
	Error     string         `json:"error"`
	Code      int            `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeAppError classifies err against the taxonomy and renders it. Internal
// (unclassified) errors are logged with their cause before being masked.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.From(classifyStoreError(err))
	if appErr.Kind == apperr.KindInternal {
		log.Printf("level=error component=api msg=\"unclassified error\" path=%s err=%v", r.URL.Path, err)
	}

	writeJSON(w, appErr.StatusCode(), errorResponse{
		Error:     string(appErr.Kind),
		Code:      appErr.StatusCode(),
		Message:   appErr.Message,
		Details:   appErr.Details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// classifyStoreError lifts data-layer sentinels into the taxonomy so handlers
// can pass repository errors straight through.
func classifyStoreError(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	var insufficientErr *store.InsufficientCreditsError
	if errors.As(err, &insufficientErr) {
		return apperr.InsufficientCredits(insufficientErr.Required, insufficientErr.Available)
	}
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		return apperr.New(apperr.KindNotFound, "Credit account not found.")
	case errors.Is(err, store.ErrJobNotFound):
		return apperr.New(apperr.KindNotFound, "Generation job not found.")
	case errors.Is(err, store.ErrAccountExists):
		return apperr.Validation("An account already exists for this user.")
	}
	return err
}
