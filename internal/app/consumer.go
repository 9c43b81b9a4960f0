package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/adforge/generation-service/internal/domain"
)

// PurchaseConsumer ingests completed-purchase events from the payment
// processor and credits them into the ledger as PURCHASE transactions.
type PurchaseConsumer struct {
	ledger *Ledger
}

func NewPurchaseConsumer(ledger *Ledger) *PurchaseConsumer {
	return &PurchaseConsumer{ledger: ledger}
}

// HandleMessage processes one delivery. Returning true acks the message;
// false nacks it for redelivery. Malformed payloads are acked and dropped
// because redelivery can never fix them.
func (c *PurchaseConsumer) HandleMessage(body []byte) bool {
	var event domain.PurchaseCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=purchase_consumer msg=\"failed to unmarshal payload; dropping\" err=%v", err)
		return true
	}

	if event.PaymentReference == "" {
		log.Printf("level=warn component=purchase_consumer msg=\"missing payment reference; dropping\" user_id=%s", event.UserID)
		return true
	}
	if !event.Credits.IsPositive() {
		log.Printf("level=warn component=purchase_consumer msg=\"non-positive credit amount; dropping\" payment_reference=%s credits=%s", event.PaymentReference, event.Credits)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.ledger.RecordPurchase(ctx, event); err != nil {
		log.Printf("level=error component=purchase_consumer msg=\"purchase credit failed; re-queuing\" payment_reference=%s err=%v", event.PaymentReference, err)
		return false
	}

	log.Printf("level=info component=purchase_consumer msg=\"purchase credited\" user_id=%s payment_reference=%s credits=%s", event.UserID, event.PaymentReference, event.Credits)
	return true
}
