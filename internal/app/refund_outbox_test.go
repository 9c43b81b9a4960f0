package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adforge/generation-service/internal/domain"
	"github.com/adforge/generation-service/internal/store"
)

func TestDrainOnce_DeliversQueuedRefund(t *testing.T) {
	userID := uuid.New()
	repo := newMemoryRepo()
	repo.seedAccount(userID, decimal.NewFromInt(5))
	if err := repo.EnqueueRefund(context.Background(), &store.RefundOutboxEntry{
		UserID: userID,
		Amount: decimal.NewFromInt(10),
		Kind:   domain.TransactionKindRefund,
		Reason: "Refund for failed generation",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	drainer := NewRefundOutboxDrainer(repo, time.Second)
	drainer.DrainOnce(context.Background())

	if !repo.balance(userID).Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected balance 15 after drain, got %s", repo.balance(userID))
	}
	if repo.outbox[0].Status != store.RefundOutboxStatusSent {
		t.Fatalf("expected SENT entry, got %s", repo.outbox[0].Status)
	}
	pending, err := repo.PendingRefunds(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending refunds: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %d pending", len(pending))
	}
}

func TestDrainOnce_KeepsEntryPendingWhileWritesFail(t *testing.T) {
	userID := uuid.New()
	repo := newMemoryRepo()
	repo.seedAccount(userID, decimal.Zero)
	if err := repo.EnqueueRefund(context.Background(), &store.RefundOutboxEntry{
		UserID: userID,
		Amount: decimal.NewFromInt(10),
		Kind:   domain.TransactionKindRefund,
		Reason: "Refund for failed generation",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	repo.failCredit = errors.New("connection refused")

	drainer := NewRefundOutboxDrainer(repo, time.Second)
	drainer.DrainOnce(context.Background())

	if repo.outbox[0].Status != store.RefundOutboxStatusPending {
		t.Fatalf("expected entry to stay PENDING, got %s", repo.outbox[0].Status)
	}
	if repo.outbox[0].Attempts != 1 {
		t.Fatalf("expected 1 recorded attempt, got %d", repo.outbox[0].Attempts)
	}

	// Once the database recovers, the next tick lands the refund.
	repo.failCredit = nil
	drainer.DrainOnce(context.Background())
	if !repo.balance(userID).Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected balance 10, got %s", repo.balance(userID))
	}
	if repo.outbox[0].Status != store.RefundOutboxStatusSent {
		t.Fatalf("expected SENT entry, got %s", repo.outbox[0].Status)
	}
}

func TestDrainOnce_ParksEntryAfterAttemptBudget(t *testing.T) {
	userID := uuid.New()
	repo := newMemoryRepo()
	repo.seedAccount(userID, decimal.Zero)
	if err := repo.EnqueueRefund(context.Background(), &store.RefundOutboxEntry{
		UserID: userID,
		Amount: decimal.NewFromInt(10),
		Kind:   domain.TransactionKindRefund,
		Reason: "Refund for failed generation",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	repo.failCredit = errors.New("connection refused")

	drainer := NewRefundOutboxDrainer(repo, time.Second)
	for i := 0; i < refundOutboxMaxAttempts; i++ {
		drainer.DrainOnce(context.Background())
	}

	if repo.outbox[0].Status != store.RefundOutboxStatusFailed {
		t.Fatalf("expected parked FAILED entry, got %s", repo.outbox[0].Status)
	}
	if repo.outbox[0].Attempts != refundOutboxMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", refundOutboxMaxAttempts, repo.outbox[0].Attempts)
	}

	// Parked entries never replay, even after recovery.
	repo.failCredit = nil
	drainer.DrainOnce(context.Background())
	if !repo.balance(userID).Equal(decimal.Zero) {
		t.Fatalf("expected parked entry to stay undelivered, got balance %s", repo.balance(userID))
	}
}
