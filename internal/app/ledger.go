/**
 * @description
 * This file contains the credit ledger service: the only component allowed to
 * mutate account balances. It exposes check/deduct/refund/credit operations with
 * atomicity guarantees delegated to the repository's per-user row locking.
 *
 * @notes
 * - CheckBalance is advisory. A check followed by a deduct from a different
 *   concurrent request may still fail at deduct time; Deduct is authoritative.
 * - Refund is best-effort toward the caller: a failed refund write is logged and
 *   durably queued in the refund outbox rather than surfaced, because it only
 *   affects the user's favor and remains reconcilable from the append-only log.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adforge/generation-service/internal/domain"
	"github.com/adforge/generation-service/internal/store"
)

// Ledger exposes the credit operations over the repository.
type Ledger struct {
	repo store.Repository
}

// NewLedger creates a new credit ledger service.
func NewLedger(repo store.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// BalanceCheck is the result of an advisory balance read.
type BalanceCheck struct {
	HasEnough bool
	Balance   decimal.Decimal
}

// CheckBalance reports whether the user's latest committed balance covers the
// required amount. It never blocks balance mutations.
func (l *Ledger) CheckBalance(ctx context.Context, userID uuid.UUID, required decimal.Decimal) (*BalanceCheck, error) {
	account, err := l.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &BalanceCheck{
		HasEnough: account.Balance.GreaterThanOrEqual(required),
		Balance:   account.Balance,
	}, nil
}

// Deduct atomically charges the user. It fails with store.ErrInsufficientCredits
// if the balance is insufficient at the moment of commit, even when an earlier
// CheckBalance suggested otherwise.
func (l *Ledger) Deduct(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind, description string, referenceID *string) (*domain.CreditTransaction, decimal.Decimal, error) {
	if !amount.IsPositive() {
		return nil, decimal.Zero, fmt.Errorf("deduct amount must be positive, got %s", amount)
	}
	return l.repo.DeductCredits(ctx, store.DeductParams{
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		ReferenceID: referenceID,
	})
}

// Credit appends a positive ledger row (purchase, bonus, admin grant).
func (l *Ledger) Credit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, kind, description string, referenceID *string) (*domain.CreditTransaction, decimal.Decimal, error) {
	if !amount.IsPositive() {
		return nil, decimal.Zero, fmt.Errorf("credit amount must be positive, got %s", amount)
	}
	return l.repo.CreditCredits(ctx, store.CreditParams{
		UserID:      userID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		ReferenceID: referenceID,
	})
}

// Refund issues the compensating credit for a failed charge. It never returns
// an error to the caller: on write failure the refund is queued in the outbox
// and the drainer retries it until it lands.
func (l *Ledger) Refund(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reason string, referenceID *string) {
	_, _, err := l.repo.CreditCredits(ctx, store.CreditParams{
		UserID:      userID,
		Amount:      amount,
		Kind:        domain.TransactionKindRefund,
		Description: reason,
		ReferenceID: referenceID,
	})
	if err == nil {
		return
	}

	log.Printf("level=error component=ledger msg=\"refund write failed; queuing to outbox\" user_id=%s amount=%s err=%v", userID, amount, err)
	entry := &store.RefundOutboxEntry{
		UserID: userID,
		Amount: amount,
		Kind:   domain.TransactionKindRefund,
		Reason: reason,
	}
	if outboxErr := l.repo.EnqueueRefund(ctx, entry); outboxErr != nil {
		// Last resort: the append-only log plus job records still allow an
		// operator to reconcile the missing refund.
		log.Printf("level=error component=ledger msg=\"refund outbox enqueue failed; manual reconciliation required\" user_id=%s amount=%s reason=%q err=%v", userID, amount, reason, outboxErr)
	}
}

// AdminGrant credits a user on behalf of an operator.
func (l *Ledger) AdminGrant(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string) (*domain.CreditTransaction, decimal.Decimal, error) {
	if description == "" {
		description = "Admin credit grant"
	}
	return l.Credit(ctx, userID, amount, domain.TransactionKindAdminGrant, description, nil)
}

// AdminDeduct charges a user on behalf of an operator. Unlike generation
// charges it has no compensation path; it fails outright on insufficient balance.
func (l *Ledger) AdminDeduct(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string) (*domain.CreditTransaction, decimal.Decimal, error) {
	if description == "" {
		description = "Admin credit deduction"
	}
	return l.Deduct(ctx, userID, amount, domain.TransactionKindAdminDeduct, description, nil)
}

// RecordPurchase credits purchased credits idempotently on the payment
// reference: replaying the same completed-purchase event is a no-op.
func (l *Ledger) RecordPurchase(ctx context.Context, event domain.PurchaseCompletedEvent) error {
	if !event.Credits.IsPositive() {
		return fmt.Errorf("purchase credits must be positive, got %s", event.Credits)
	}
	if event.PaymentReference == "" {
		return errors.New("purchase event missing payment reference")
	}

	_, err := l.repo.FindTransactionByReference(ctx, domain.TransactionKindPurchase, event.PaymentReference)
	if err == nil {
		log.Printf("level=info component=ledger msg=\"purchase already recorded; skipping\" payment_reference=%s", event.PaymentReference)
		return nil
	}
	if !errors.Is(err, store.ErrTransactionNotFound) {
		return fmt.Errorf("purchase idempotency lookup: %w", err)
	}

	reference := event.PaymentReference
	_, _, err = l.Credit(ctx, event.UserID, event.Credits,
		domain.TransactionKindPurchase,
		fmt.Sprintf("Credit purchase %s", event.PaymentReference),
		&reference,
	)
	if errors.Is(err, store.ErrDuplicateReference) {
		// Lost a race with a concurrent replay of the same event.
		return nil
	}
	return err
}
