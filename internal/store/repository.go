/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the generation-service. By defining an interface,
 * we decouple the application's business logic from the specific database
 * implementation (PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - github.com/shopspring/decimal: Fixed-point credit amounts.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adforge/generation-service/internal/domain"
)

// DeductParams describes one atomic charge against a user's balance.
type DeductParams struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Kind        string
	Description string
	ReferenceID *string
}

// CreditParams describes one positive ledger entry (purchase, bonus, grant, refund).
type CreditParams struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Kind        string
	Description string
	ReferenceID *string
}

// RefundOutboxEntry is a durably queued refund that could not be written
// immediately. A background drainer retries it until it lands.
type RefundOutboxEntry struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Amount    decimal.Decimal
	Kind      string
	Reason    string
	Status    string
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Refund outbox statuses.
const (
	RefundOutboxStatusPending = "PENDING"
	RefundOutboxStatusSent    = "SENT"
	RefundOutboxStatusFailed  = "FAILED"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account and ledger methods. DeductCredits must verify sufficient balance,
	// append the negative transaction row, and update the cached balance as one
	// indivisible unit with respect to other mutations for the same user.
	CreateAccount(ctx context.Context, userID uuid.UUID, signupBonus decimal.Decimal) (*domain.Account, error)
	GetAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	DeductCredits(ctx context.Context, params DeductParams) (*domain.CreditTransaction, decimal.Decimal, error)
	CreditCredits(ctx context.Context, params CreditParams) (*domain.CreditTransaction, decimal.Decimal, error)
	FindTransactionByReference(ctx context.Context, kind string, referenceID string) (*domain.CreditTransaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.CreditTransaction, error)
	LedgerSummary(ctx context.Context) (*domain.LedgerSummary, error)

	// Generation job methods. Jobs are created strictly after a successful deduct
	// and reach exactly one terminal status.
	CreateJob(ctx context.Context, job *domain.GenerationJob) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*domain.GenerationJob, error)
	MarkJobCompleted(ctx context.Context, jobID uuid.UUID, result map[string]any) error
	MarkJobFailed(ctx context.Context, jobID uuid.UUID, reason string) error

	// Asset methods.
	CreateAssets(ctx context.Context, assets []domain.GeneratedAsset) error
	ListAssetsByJob(ctx context.Context, jobID uuid.UUID) ([]domain.GeneratedAsset, error)

	// Refund outbox methods.
	EnqueueRefund(ctx context.Context, entry *RefundOutboxEntry) error
	PendingRefunds(ctx context.Context, limit int) ([]RefundOutboxEntry, error)
	MarkRefundOutboxSent(ctx context.Context, entryID uuid.UUID) error
	MarkRefundOutboxAttempt(ctx context.Context, entryID uuid.UUID, failed bool) error
}
