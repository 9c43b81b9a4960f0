/**
 * @description
 * This file contains the internal (operator-facing) HTTP handlers: account
 * provisioning with signup bonus, admin credit grants and deductions, and the
 * aggregate ledger summary read model. These endpoints are guarded by the
 * shared internal API key, not end-user JWTs.
 */

package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adforge/generation-service/internal/apperr"
	"github.com/adforge/generation-service/internal/domain"
)

type createAccountRequest struct {
	UserID string `json:"user_id"`
}

type creditAdjustmentRequest struct {
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// CreateAccountHandler handles POST /internal/accounts. The auth service calls
// it once per signup; the configured signup bonus lands as a SIGNUP_BONUS row.
func (h *GenerationHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, r, apperr.Validation("Invalid request body."))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeAppError(w, r, apperr.Validation("Invalid user id."))
		return
	}

	account, err := h.service.CreateAccount(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// GrantCreditsHandler handles POST /internal/credits/grant.
func (h *GenerationHandlers) GrantCreditsHandler(w http.ResponseWriter, r *http.Request) {
	req, userID, ok := h.decodeAdjustment(w, r)
	if !ok {
		return
	}

	entry, newBalance, err := h.service.Ledger().AdminGrant(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	log.Printf("level=info component=api msg=\"admin grant applied\" user_id=%s amount=%s transaction_id=%s", userID, req.Amount, entry.ID)
	writeJSON(w, http.StatusOK, map[string]any{"transaction_id": entry.ID, "balance": newBalance})
}

// DeductCreditsHandler handles POST /internal/credits/deduct.
func (h *GenerationHandlers) DeductCreditsHandler(w http.ResponseWriter, r *http.Request) {
	req, userID, ok := h.decodeAdjustment(w, r)
	if !ok {
		return
	}

	entry, newBalance, err := h.service.Ledger().AdminDeduct(r.Context(), userID, req.Amount, req.Description)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	log.Printf("level=info component=api msg=\"admin deduction applied\" user_id=%s amount=%s transaction_id=%s", userID, req.Amount, entry.ID)
	writeJSON(w, http.StatusOK, map[string]any{"transaction_id": entry.ID, "balance": newBalance})
}

// LedgerSummaryHandler handles GET /internal/credits/summary.
func (h *GenerationHandlers) LedgerSummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.LedgerSummary(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListUserTransactionsHandler handles GET /internal/credits/transactions — the
// same ledger read model as the user endpoint, addressed by explicit user id.
func (h *GenerationHandlers) ListUserTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeAppError(w, r, apperr.Validation("A valid user_id query parameter is required."))
		return
	}
	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeAppError(w, r, apperr.Validation("Invalid limit."))
		return
	}
	offset, err := parseOptionalPositiveInt(r.URL.Query().Get("offset"), 0)
	if err != nil {
		writeAppError(w, r, apperr.Validation("Invalid offset."))
		return
	}

	transactions, err := h.service.ListTransactions(r.Context(), userID, domain.TransactionListOptions{Limit: limit, Offset: offset})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

func (h *GenerationHandlers) decodeAdjustment(w http.ResponseWriter, r *http.Request) (creditAdjustmentRequest, uuid.UUID, bool) {
	var req creditAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, r, apperr.Validation("Invalid request body."))
		return req, uuid.Nil, false
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeAppError(w, r, apperr.Validation("Invalid user id."))
		return req, uuid.Nil, false
	}
	if !req.Amount.IsPositive() {
		writeAppError(w, r, apperr.Validation("Amount must be positive."))
		return req, uuid.Nil, false
	}
	return req, userID, true
}
