/**
 * @description
 * This file contains the HTTP handlers for the generation-service's public API
 * endpoints. Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP response.
 * They act as the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5, github.com/google/uuid: Routing and IDs.
 * - internal/app, internal/apperr, internal/domain: Service logic, taxonomy, models.
 */

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adforge/generation-service/internal/app"
	"github.com/adforge/generation-service/internal/apperr"
	"github.com/adforge/generation-service/internal/domain"
)

// GenerationHandlers holds the application service that handlers will use.
type GenerationHandlers struct {
	service *app.Service
}

// NewGenerationHandlers creates a new instance of GenerationHandlers.
func NewGenerationHandlers(service *app.Service) *GenerationHandlers {
	return &GenerationHandlers{service: service}
}

// generationResponse mirrors the shape the web client expects on success.
type generationResponse struct {
	Success     bool                    `json:"success"`
	JobID       string                  `json:"job_id"`
	Assets      []domain.GeneratedAsset `json:"assets,omitempty"`
	Copies      []string                `json:"copies,omitempty"`
	CreditsUsed decimal.Decimal         `json:"credits_used"`
}

func buildGenerationResponse(result *domain.GenerationResult) generationResponse {
	return generationResponse{
		Success:     true,
		JobID:       result.JobID.String(),
		Assets:      result.Assets,
		Copies:      result.Copies,
		CreditsUsed: result.CreditsUsed,
	}
}

// resolveUserID extracts and parses the authenticated caller's id. A zero
// return with ok=false means the error response has already been written.
func (h *GenerationHandlers) resolveUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userIDStr, ok := GetAuthUserID(r.Context())
	if !ok {
		writeAppError(w, r, apperr.New(apperr.KindUnauthorized, "Could not get user ID from context."))
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		writeAppError(w, r, apperr.New(apperr.KindUnauthorized, "Invalid user ID format."))
		return uuid.Nil, false
	}
	return userID, true
}

// admit applies the pre-ledger rate limit. Requests rejected here never touch
// credits.
func (h *GenerationHandlers) admit(w http.ResponseWriter, r *http.Request, userID uuid.UUID) bool {
	if err := h.service.CheckAdmission(r.Context(), userID); err != nil {
		writeAppError(w, r, err)
		return false
	}
	return true
}

// GenerateImagesHandler handles POST /generate/images.
func (h *GenerationHandlers) GenerateImagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUserID(w, r)
	if !ok {
		return
	}
	if !h.admit(w, r, userID) {
		return
	}

	var req domain.ImageGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, r, apperr.Validation("Invalid request body."))
		return
	}

	result, err := h.service.GenerateImages(r.Context(), userID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buildGenerationResponse(result))
}

// GenerateVideosHandler handles POST /generate/videos.
func (h *GenerationHandlers) GenerateVideosHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUserID(w, r)
	if !ok {
		return
	}
	if !h.admit(w, r, userID) {
		return
	}

	var req domain.VideoGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, r, apperr.Validation("Invalid request body."))
		return
	}

	result, err := h.service.GenerateVideos(r.Context(), userID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buildGenerationResponse(result))
}

// GenerateAdCopyHandler handles POST /generate/copy.
func (h *GenerationHandlers) GenerateAdCopyHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUserID(w, r)
	if !ok {
		return
	}
	if !h.admit(w, r, userID) {
		return
	}

	var req domain.AdCopyGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAppError(w, r, apperr.Validation("Invalid request body."))
		return
	}

	result, err := h.service.GenerateAdCopy(r.Context(), userID, req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buildGenerationResponse(result))
}

// GetBalanceHandler handles GET /credits/balance.
func (h *GenerationHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUserID(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance})
}

// ListTransactionsHandler handles GET /credits/transactions.
func (h *GenerationHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUserID(w, r)
	if !ok {
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

	transactions, err := h.service.ListTransactions(r.Context(), userID, domain.TransactionListOptions{
		Limit:  limit,
		Offset: offset,
		Kind:   strings.TrimSpace(r.URL.Query().Get("kind")),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

// GetJobHandler handles GET /jobs/{id}.
func (h *GenerationHandlers) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.resolveUserID(w, r)
	if !ok {
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAppError(w, r, apperr.Validation("Invalid job id."))
		return
	}

	job, err := h.service.GetJob(r.Context(), userID, jobID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func parseOptionalPositiveInt(raw string, fallback int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, apperr.Validation("Value must be a non-negative integer.")
	}
	return value, nil
}
