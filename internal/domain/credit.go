/**
 * @description
 * This file defines the credit-ledger domain models for the generation-service.
 * These structs represent the main entities used throughout the service's business
 * logic, database interactions, and API layers.
 *
 * @notes
 * - Credit amounts are `decimal.Decimal` fixed-point values. Ad-copy generation
 *   costs a fractional credit (0.5), so integer minor units are not enough and
 *   floating point would drift across thousands of small transactions.
 * - Transaction rows are append-only. A refund is a new positive row referencing
 *   the original charge, never an edit.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Credit transaction kinds. The set is closed; admin reporting groups by these values.
const (
	TransactionKindSignupBonus      = "SIGNUP_BONUS"
	TransactionKindPurchase         = "PURCHASE"
	TransactionKindAdminGrant       = "ADMIN_GRANT"
	TransactionKindAdminDeduct      = "ADMIN_DEDUCT"
	TransactionKindImageGeneration  = "IMAGE_GENERATION"
	TransactionKindVideoGeneration  = "VIDEO_GENERATION"
	TransactionKindAdCopyGeneration = "AD_COPY_GENERATION"
	TransactionKindRefund           = "REFUND"
)

// Account is the cached balance projection for one user. The append-only
// credit_transactions log is the source of truth; the balance column must equal
// the signed sum of that user's committed transactions at all times.
type Account struct {
	UserID    uuid.UUID       `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CreditTransaction is one immutable row in the ledger log.
// Amount is signed: negative for charges, positive for grants and refunds.
type CreditTransaction struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Kind        string          `json:"kind"`
	Description string          `json:"description"`
	// ReferenceID carries an external correlation id: a payment reference for
	// PURCHASE rows, the job id for generation charges and their refunds.
	ReferenceID *string   `json:"reference_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// LedgerSummary is the aggregate read model served to the admin API.
type LedgerSummary struct {
	TotalUsers       int             `json:"total_users"`
	TotalCredits     decimal.Decimal `json:"total_credits"`
	TotalPurchased   decimal.Decimal `json:"total_purchased"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	TotalRefunded    decimal.Decimal `json:"total_refunded"`
	TransactionCount int             `json:"transaction_count"`
}

// TransactionListOptions controls pagination of the ledger listing read model.
type TransactionListOptions struct {
	Limit  int
	Offset int
	Kind   string
}

// PurchaseCompletedEvent is the payload the payment processor publishes when a
// credit purchase settles. PaymentReference is the idempotency key: the same
// reference must never be credited twice.
type PurchaseCompletedEvent struct {
	UserID           uuid.UUID       `json:"user_id"`
	Credits          decimal.Decimal `json:"credits"`
	PaymentReference string          `json:"payment_reference"`
	Timestamp        time.Time       `json:"timestamp"`
}
