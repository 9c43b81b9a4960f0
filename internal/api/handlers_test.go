package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adforge/generation-service/internal/app"
	"github.com/adforge/generation-service/internal/apperr"
	"github.com/adforge/generation-service/internal/domain"
	"github.com/adforge/generation-service/internal/store"
	"github.com/adforge/generation-service/pkg/retry"
)

// apiRepoStub satisfies store.Repository for read-path handler tests.
// Unimplemented methods panic through the embedded nil interface, which is
// fine: these tests must not reach them.
type apiRepoStub struct {
	store.Repository

	account *domain.Account
	job     *domain.GenerationJob
}

func (s *apiRepoStub) GetAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	if s.account == nil || s.account.UserID != userID {
		return nil, store.ErrAccountNotFound
	}
	return s.account, nil
}

func (s *apiRepoStub) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.GenerationJob, error) {
	if s.job == nil || s.job.ID != jobID {
		return nil, store.ErrJobNotFound
	}
	return s.job, nil
}

func (s *apiRepoStub) ListTransactions(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.CreditTransaction, error) {
	return nil, nil
}

func newStubHandlers(repo *apiRepoStub) *GenerationHandlers {
	service := app.NewService(repo, app.NewLedger(repo), nil, nil, nil, app.Costs{
		Image: decimal.NewFromInt(1),
		Video: decimal.NewFromInt(5),
		Copy:  decimal.RequireFromString("0.5"),
	}, app.RetryTuning{Image: retry.Options{MaxRetries: 1}, Video: retry.Options{MaxRetries: 1}, Copy: retry.Options{MaxRetries: 1}})
	return NewGenerationHandlers(service)
}

func authedRequest(method, target string, body string, userID uuid.UUID) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := context.WithValue(r.Context(), authUserIDKey, userID.String())
	return r.WithContext(ctx)
}

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestGetBalanceHandler(t *testing.T) {
	userID := uuid.New()
	repo := &apiRepoStub{account: &domain.Account{
		UserID:  userID,
		Balance: decimal.RequireFromString("12.5"),
	}}
	handlers := newStubHandlers(repo)

	t.Run("returns balance for the authenticated user", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handlers.GetBalanceHandler(rec, authedRequest(http.MethodGet, "/credits/balance", "", userID))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var payload map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if payload["balance"] != "12.5" {
			t.Fatalf("expected balance 12.5, got %q", payload["balance"])
		}
	})

	t.Run("missing account maps to 404", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handlers.GetBalanceHandler(rec, authedRequest(http.MethodGet, "/credits/balance", "", uuid.New()))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		resp := decodeErrorResponse(t, rec)
		if resp.Error != string(apperr.KindNotFound) {
			t.Fatalf("expected NotFound error code, got %q", resp.Error)
		}
	})

	t.Run("missing auth context maps to 401", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handlers.GetBalanceHandler(rec, httptest.NewRequest(http.MethodGet, "/credits/balance", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})
}

func TestGenerateImagesHandler_RejectsMalformedBody(t *testing.T) {
	handlers := newStubHandlers(&apiRepoStub{})
	rec := httptest.NewRecorder()
	handlers.GenerateImagesHandler(rec, authedRequest(http.MethodPost, "/generate/images", "{not json", uuid.New()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	resp := decodeErrorResponse(t, rec)
	if resp.Error != string(apperr.KindValidationError) {
		t.Fatalf("expected ValidationError, got %q", resp.Error)
	}
}

func TestGetJobHandler_RejectsMalformedJobID(t *testing.T) {
	handlers := newStubHandlers(&apiRepoStub{})
	rec := httptest.NewRecorder()
	r := authedRequest(http.MethodGet, "/jobs/not-a-uuid", "", uuid.New())
	handlers.GetJobHandler(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWriteAppError_TaxonomyStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "validation error",
			err:        apperr.Validation("bad input"),
			wantStatus: http.StatusBadRequest,
			wantError:  "ValidationError",
		},
		{
			name:       "insufficient credits",
			err:        apperr.InsufficientCredits(decimal.NewFromInt(5), decimal.NewFromInt(3)),
			wantStatus: http.StatusPaymentRequired,
			wantError:  "InsufficientCredits",
		},
		{
			name:       "rate limited",
			err:        apperr.New(apperr.KindRateLimited, ""),
			wantStatus: http.StatusTooManyRequests,
			wantError:  "RateLimited",
		},
		{
			name:       "external api error",
			err:        apperr.New(apperr.KindExternalAPIError, ""),
			wantStatus: http.StatusBadGateway,
			wantError:  "ExternalApiError",
		},
		{
			name:       "generation timeout",
			err:        apperr.New(apperr.KindGenerationTimeout, ""),
			wantStatus: http.StatusGatewayTimeout,
			wantError:  "GenerationTimeout",
		},
		{
			name:       "store account sentinel",
			err:        store.ErrAccountNotFound,
			wantStatus: http.StatusNotFound,
			wantError:  "NotFound",
		},
		{
			name:       "store insufficient credits sentinel",
			err:        &store.InsufficientCreditsError{Required: decimal.NewFromInt(10), Available: decimal.NewFromInt(1)},
			wantStatus: http.StatusPaymentRequired,
			wantError:  "InsufficientCredits",
		},
		{
			name:       "unclassified error masked as internal",
			err:        errors.New("pq: connection reset"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeAppError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), tt.err)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			resp := decodeErrorResponse(t, rec)
			if resp.Error != tt.wantError {
				t.Fatalf("expected error %q, got %q", tt.wantError, resp.Error)
			}
			if resp.Code != tt.wantStatus {
				t.Fatalf("expected body code %d, got %d", tt.wantStatus, resp.Code)
			}
			if resp.Message == "" {
				t.Fatal("expected a user-facing message")
			}
			if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
				t.Fatalf("expected RFC3339 timestamp, got %q", resp.Timestamp)
			}
		})
	}
}

func TestWriteAppError_NeverLeaksInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	cause := errors.New("password=hunter2 dial tcp 10.0.0.5:5432")
	writeAppError(rec, httptest.NewRequest(http.MethodGet, "/x", nil), cause)
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatal("internal error detail leaked into the response body")
	}
}

func TestInternalAuthMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	guarded := InternalAuthMiddleware("secret-key")(next)

	t.Run("valid key passes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/internal/accounts", nil)
		r.Header.Set("X-Internal-API-Key", "secret-key")
		guarded.ServeHTTP(rec, r)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", rec.Code)
		}
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/internal/accounts", nil)
		r.Header.Set("X-Internal-API-Key", "wrong")
		guarded.ServeHTTP(rec, r)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("missing key rejected", func(t *testing.T) {
		rec := httptest.NewRecorder()
		guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/accounts", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("empty configured key rejects everything", func(t *testing.T) {
		open := InternalAuthMiddleware("")(next)
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/internal/accounts", nil)
		r.Header.Set("X-Internal-API-Key", "")
		open.ServeHTTP(rec, r)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})
}

func TestParseOptionalPositiveInt(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "empty uses fallback", raw: "", fallback: 50, want: 50},
		{name: "whitespace uses fallback", raw: "  ", fallback: 50, want: 50},
		{name: "valid value", raw: "25", fallback: 50, want: 25},
		{name: "zero is allowed", raw: "0", fallback: 50, want: 0},
		{name: "negative rejected", raw: "-1", fallback: 50, wantErr: true},
		{name: "non-numeric rejected", raw: "abc", fallback: 50, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptionalPositiveInt(tt.raw, tt.fallback)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
