package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adforge/generation-service/internal/domain"
	"github.com/adforge/generation-service/internal/store"
)

// memoryRepo is an in-memory store.Repository that mirrors the Postgres
// implementation's semantics: per-user balance mutations are serialized, the
// deduct precondition is checked under the lock, and job status transitions
// are guarded the same way the SQL status predicates guard them.
type memoryRepo struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]*domain.Account
	transactions []domain.CreditTransaction
	jobs         map[uuid.UUID]*domain.GenerationJob
	assets       map[uuid.UUID][]domain.GeneratedAsset
	outbox       []store.RefundOutboxEntry

	failCredit       error
	failEnqueue      error
	failCreateAssets error
	failCreateJob    error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts: make(map[uuid.UUID]*domain.Account),
		jobs:     make(map[uuid.UUID]*domain.GenerationJob),
		assets:   make(map[uuid.UUID][]domain.GeneratedAsset),
	}
}

func (r *memoryRepo) seedAccount(userID uuid.UUID, balance decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.accounts[userID] = &domain.Account{UserID: userID, Balance: balance, CreatedAt: now, UpdatedAt: now}
}

func (r *memoryRepo) balance(userID uuid.UUID) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account, ok := r.accounts[userID]; ok {
		return account.Balance
	}
	return decimal.Zero
}

func (r *memoryRepo) transactionsByKind(userID uuid.UUID, kind string) []domain.CreditTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CreditTransaction
	for _, tx := range r.transactions {
		if tx.UserID == userID && tx.Kind == kind {
			out = append(out, tx)
		}
	}
	return out
}

func (r *memoryRepo) CreateAccount(ctx context.Context, userID uuid.UUID, signupBonus decimal.Decimal) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[userID]; ok {
		return nil, store.ErrAccountExists
	}
	now := time.Now().UTC()
	account := &domain.Account{UserID: userID, Balance: signupBonus, CreatedAt: now, UpdatedAt: now}
	r.accounts[userID] = account
	if signupBonus.IsPositive() {
		r.transactions = append(r.transactions, domain.CreditTransaction{
			ID:          uuid.New(),
			UserID:      userID,
			Amount:      signupBonus,
			Kind:        domain.TransactionKindSignupBonus,
			Description: "Signup bonus",
			CreatedAt:   now,
		})
	}
	copied := *account
	return &copied, nil
}

func (r *memoryRepo) GetAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[userID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *account
	return &copied, nil
}

func (r *memoryRepo) DeductCredits(ctx context.Context, params store.DeductParams) (*domain.CreditTransaction, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[params.UserID]
	if !ok {
		return nil, decimal.Zero, store.ErrAccountNotFound
	}
	if account.Balance.LessThan(params.Amount) {
		return nil, decimal.Zero, &store.InsufficientCreditsError{Required: params.Amount, Available: account.Balance}
	}
	account.Balance = account.Balance.Sub(params.Amount)
	account.UpdatedAt = time.Now().UTC()
	tx := domain.CreditTransaction{
		ID:          uuid.New(),
		UserID:      params.UserID,
		Amount:      params.Amount.Neg(),
		Kind:        params.Kind,
		Description: params.Description,
		ReferenceID: params.ReferenceID,
		CreatedAt:   time.Now().UTC(),
	}
	r.transactions = append(r.transactions, tx)
	return &tx, account.Balance, nil
}

func (r *memoryRepo) CreditCredits(ctx context.Context, params store.CreditParams) (*domain.CreditTransaction, decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCredit != nil {
		return nil, decimal.Zero, r.failCredit
	}
	account, ok := r.accounts[params.UserID]
	if !ok {
		return nil, decimal.Zero, store.ErrAccountNotFound
	}
	if params.ReferenceID != nil && params.Kind == domain.TransactionKindPurchase {
		for _, tx := range r.transactions {
			if tx.Kind == params.Kind && tx.ReferenceID != nil && *tx.ReferenceID == *params.ReferenceID {
				return nil, decimal.Zero, store.ErrDuplicateReference
			}
		}
	}
	account.Balance = account.Balance.Add(params.Amount)
	account.UpdatedAt = time.Now().UTC()
	tx := domain.CreditTransaction{
		ID:          uuid.New(),
		UserID:      params.UserID,
		Amount:      params.Amount,
		Kind:        params.Kind,
		Description: params.Description,
		ReferenceID: params.ReferenceID,
		CreatedAt:   time.Now().UTC(),
	}
	r.transactions = append(r.transactions, tx)
	return &tx, account.Balance, nil
}

func (r *memoryRepo) FindTransactionByReference(ctx context.Context, kind string, referenceID string) (*domain.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.transactions {
		if tx.Kind == kind && tx.ReferenceID != nil && *tx.ReferenceID == referenceID {
			copied := tx
			return &copied, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (r *memoryRepo) ListTransactions(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.CreditTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CreditTransaction
	for i := len(r.transactions) - 1; i >= 0; i-- {
		tx := r.transactions[i]
		if tx.UserID != userID {
			continue
		}
		if opts.Kind != "" && tx.Kind != opts.Kind {
			continue
		}
		out = append(out, tx)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (r *memoryRepo) LedgerSummary(ctx context.Context) (*domain.LedgerSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	summary := &domain.LedgerSummary{TotalUsers: len(r.accounts), TransactionCount: len(r.transactions)}
	for _, account := range r.accounts {
		summary.TotalCredits = summary.TotalCredits.Add(account.Balance)
	}
	for _, tx := range r.transactions {
		switch {
		case tx.Kind == domain.TransactionKindPurchase:
			summary.TotalPurchased = summary.TotalPurchased.Add(tx.Amount)
		case tx.Kind == domain.TransactionKindRefund:
			summary.TotalRefunded = summary.TotalRefunded.Add(tx.Amount)
		case strings.HasSuffix(tx.Kind, "_GENERATION"):
			summary.TotalSpent = summary.TotalSpent.Add(tx.Amount.Neg())
		}
	}
	return summary, nil
}

func (r *memoryRepo) CreateJob(ctx context.Context, job *domain.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreateJob != nil {
		return r.failCreateJob
	}
	now := time.Now().UTC()
	copied := *job
	copied.CreatedAt = now
	copied.UpdatedAt = now
	r.jobs[job.ID] = &copied
	return nil
}

func (r *memoryRepo) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *memoryRepo) MarkJobCompleted(ctx context.Context, jobID uuid.UUID, result map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.Status != domain.JobStatusPending {
		return store.ErrJobAlreadyTerminal
	}
	job.Status = domain.JobStatusCompleted
	job.Result = result
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memoryRepo) MarkJobFailed(ctx context.Context, jobID uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.Status != domain.JobStatusPending {
		return store.ErrJobAlreadyTerminal
	}
	job.Status = domain.JobStatusFailed
	job.Error = &reason
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *memoryRepo) CreateAssets(ctx context.Context, assets []domain.GeneratedAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreateAssets != nil {
		return r.failCreateAssets
	}
	for _, asset := range assets {
		asset.CreatedAt = time.Now().UTC()
		r.assets[asset.JobID] = append(r.assets[asset.JobID], asset)
	}
	return nil
}

func (r *memoryRepo) ListAssetsByJob(ctx context.Context, jobID uuid.UUID) ([]domain.GeneratedAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.GeneratedAsset(nil), r.assets[jobID]...), nil
}

func (r *memoryRepo) EnqueueRefund(ctx context.Context, entry *store.RefundOutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failEnqueue != nil {
		return r.failEnqueue
	}
	entry.ID = uuid.New()
	entry.Status = store.RefundOutboxStatusPending
	entry.CreatedAt = time.Now().UTC()
	entry.UpdatedAt = entry.CreatedAt
	r.outbox = append(r.outbox, *entry)
	return nil
}

func (r *memoryRepo) PendingRefunds(ctx context.Context, limit int) ([]store.RefundOutboxEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.RefundOutboxEntry
	for _, entry := range r.outbox {
		if entry.Status != store.RefundOutboxStatusPending {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepo) MarkRefundOutboxSent(ctx context.Context, entryID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.outbox {
		if r.outbox[i].ID == entryID {
			r.outbox[i].Status = store.RefundOutboxStatusSent
			r.outbox[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return store.ErrTransactionNotFound
}

func (r *memoryRepo) MarkRefundOutboxAttempt(ctx context.Context, entryID uuid.UUID, failed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.outbox {
		if r.outbox[i].ID == entryID {
			r.outbox[i].Attempts++
			if failed {
				r.outbox[i].Status = store.RefundOutboxStatusFailed
			}
			r.outbox[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return store.ErrTransactionNotFound
}
