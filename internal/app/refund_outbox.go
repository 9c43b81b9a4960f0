/**
 * @description
 * This file contains the refund-outbox drainer: a background loop that retries
 * refunds whose immediate ledger write failed. It removes reliance on manual
 * reconciliation from the transaction log — a queued refund lands as soon as
 * the database recovers.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/adforge/generation-service/internal/store"
)

const refundOutboxMaxAttempts = 10

// RefundOutboxDrainer periodically retries PENDING refund-outbox rows.
type RefundOutboxDrainer struct {
	repo     store.Repository
	interval time.Duration
	batch    int
}

func NewRefundOutboxDrainer(repo store.Repository, interval time.Duration) *RefundOutboxDrainer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RefundOutboxDrainer{repo: repo, interval: interval, batch: 20}
}

// Run blocks until ctx is cancelled, draining the outbox on each tick.
func (d *RefundOutboxDrainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.DrainOnce(ctx)
		}
	}
}

// DrainOnce attempts every pending refund in one batch. Rows that keep failing
// past the attempt budget are parked as FAILED for operator attention.
func (d *RefundOutboxDrainer) DrainOnce(ctx context.Context) {
	entries, err := d.repo.PendingRefunds(ctx, d.batch)
	if err != nil {
		log.Printf("level=error component=refund_outbox msg=\"fetch pending refunds failed\" err=%v", err)
		return
	}

	for _, entry := range entries {
		_, _, err := d.repo.CreditCredits(ctx, store.CreditParams{
			UserID:      entry.UserID,
			Amount:      entry.Amount,
			Kind:        entry.Kind,
			Description: entry.Reason,
		})
		if err != nil {
			exhausted := entry.Attempts+1 >= refundOutboxMaxAttempts
			log.Printf("level=warn component=refund_outbox msg=\"queued refund attempt failed\" entry_id=%s attempts=%d parked=%t err=%v", entry.ID, entry.Attempts+1, exhausted, err)
			if markErr := d.repo.MarkRefundOutboxAttempt(ctx, entry.ID, exhausted); markErr != nil {
				log.Printf("level=error component=refund_outbox msg=\"attempt bookkeeping failed\" entry_id=%s err=%v", entry.ID, markErr)
			}
			continue
		}
		if err := d.repo.MarkRefundOutboxSent(ctx, entry.ID); err != nil {
			log.Printf("level=error component=refund_outbox msg=\"mark sent failed; refund may replay\" entry_id=%s err=%v", entry.ID, err)
		} else {
			log.Printf("level=info component=refund_outbox msg=\"queued refund delivered\" entry_id=%s user_id=%s amount=%s", entry.ID, entry.UserID, entry.Amount)
		}
	}
}
