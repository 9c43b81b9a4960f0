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

func TestLedger_DeductThenRefundConservesBalance(t *testing.T) {
	userID := uuid.New()
	repo := newMemoryRepo()
	repo.seedAccount(userID, decimal.NewFromInt(25))
	ledger := NewLedger(repo)
	ctx := context.Background()

	ref := uuid.NewString()
	_, balance, err := ledger.Deduct(ctx, userID, decimal.NewFromInt(10), domain.TransactionKindVideoGeneration, "Video generation (2)", &ref)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("expected balance 15 after deduct, got %s", balance)
	}

	ledger.Refund(ctx, userID, decimal.NewFromInt(10), "Refund for failed generation", &ref)
	if !repo.balance(userID).Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected balance restored to 25, got %s", repo.balance(userID))
	}

	// The log keeps both rows; refunds never rewrite the charge.
	if charges := repo.transactionsByKind(userID, domain.TransactionKindVideoGeneration); len(charges) != 1 {
		t.Fatalf("expected charge row to survive, got %d", len(charges))
	}
	if refunds := repo.transactionsByKind(userID, domain.TransactionKindRefund); len(refunds) != 1 {
		t.Fatalf("expected 1 refund row, got %d", len(refunds))
	}
}

func TestLedger_DeductRejectsNonPositiveAmounts(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger(repo)
	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		if _, _, err := ledger.Deduct(context.Background(), uuid.New(), amount, domain.TransactionKindImageGeneration, "x", nil); err == nil {
			t.Fatalf("expected error for amount %s, got nil", amount)
		}
	}
}

func TestLedger_RefundQueuesToOutboxWhenWriteFails(t *testing.T) {
	userID := uuid.New()
	repo := newMemoryRepo()
	repo.seedAccount(userID, decimal.NewFromInt(5))
	repo.failCredit = errors.New("connection refused")
	ledger := NewLedger(repo)

	ref := uuid.NewString()
	ledger.Refund(context.Background(), userID, decimal.NewFromInt(5), "Refund for failed generation", &ref)

	if len(repo.outbox) != 1 {
		t.Fatalf("expected 1 outbox entry, got %d", len(repo.outbox))
	}
	entry := repo.outbox[0]
	if entry.Status != store.RefundOutboxStatusPending {
		t.Fatalf("expected PENDING entry, got %s", entry.Status)
	}
	if !entry.Amount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected queued amount 5, got %s", entry.Amount)
	}
	if entry.Kind != domain.TransactionKindRefund {
		t.Fatalf("expected REFUND kind, got %s", entry.Kind)
	}
}

func TestLedger_RecordPurchaseIsIdempotentOnReference(t *testing.T) {
	userID := uuid.New()
	repo := newMemoryRepo()
	repo.seedAccount(userID, decimal.Zero)
	ledger := NewLedger(repo)

	event := domain.PurchaseCompletedEvent{
		UserID:           userID,
		Credits:          decimal.NewFromInt(50),
		PaymentReference: "pay_9f2c1a",
		Timestamp:        time.Now().UTC(),
	}

	for i := 0; i < 3; i++ {
		if err := ledger.RecordPurchase(context.Background(), event); err != nil {
			t.Fatalf("replay %d: expected nil error, got %v", i, err)
		}
	}

	if !repo.balance(userID).Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected balance 50 after replays, got %s", repo.balance(userID))
	}
	purchases := repo.transactionsByKind(userID, domain.TransactionKindPurchase)
	if len(purchases) != 1 {
		t.Fatalf("expected 1 purchase row, got %d", len(purchases))
	}
	if purchases[0].ReferenceID == nil || *purchases[0].ReferenceID != "pay_9f2c1a" {
		t.Fatalf("expected payment reference on the row, got %v", purchases[0].ReferenceID)
	}
}

func TestLedger_RecordPurchaseRejectsInvalidEvents(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger(repo)
	ctx := context.Background()

	err := ledger.RecordPurchase(ctx, domain.PurchaseCompletedEvent{
		UserID:           uuid.New(),
		Credits:          decimal.Zero,
		PaymentReference: "pay_x",
	})
	if err == nil {
		t.Fatal("expected error for zero credits, got nil")
	}

	err = ledger.RecordPurchase(ctx, domain.PurchaseCompletedEvent{
		UserID:  uuid.New(),
		Credits: decimal.NewFromInt(10),
	})
	if err == nil {
		t.Fatal("expected error for missing payment reference, got nil")
	}
}

func TestLedger_AdminAdjustments(t *testing.T) {
	userID := uuid.New()
	repo := newMemoryRepo()
	repo.seedAccount(userID, decimal.NewFromInt(10))
	ledger := NewLedger(repo)
	ctx := context.Background()

	if _, _, err := ledger.AdminGrant(ctx, userID, decimal.NewFromInt(15), ""); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, _, err := ledger.AdminDeduct(ctx, userID, decimal.NewFromInt(5), "abuse cleanup"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !repo.balance(userID).Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected balance 20, got %s", repo.balance(userID))
	}

	// Admin deduct past the balance fails outright; there is no compensation.
	_, _, err := ledger.AdminDeduct(ctx, userID, decimal.NewFromInt(100), "")
	if !errors.Is(err, store.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if !repo.balance(userID).Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected balance unchanged at 20, got %s", repo.balance(userID))
	}
}
