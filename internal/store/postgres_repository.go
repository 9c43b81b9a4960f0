/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * All balance-mutating operations run inside a database transaction that locks the
 * account row with `SELECT ... FOR UPDATE`, so ledger mutations for one user are
 * serialized while operations for different users proceed independently.
 *
 * @dependencies
 * - context, encoding/json, errors, fmt: Standard Go libraries.
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - github.com/google/uuid, github.com/shopspring/decimal: IDs and amounts.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/adforge/generation-service/internal/domain"
)

// Custom errors for the data layer. Using sentinel errors allows the service
// layer to check for specific failure conditions with errors.Is.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrJobNotFound         = errors.New("generation job not found")
	ErrJobAlreadyTerminal  = errors.New("generation job already in a terminal state")
	ErrTransactionNotFound = errors.New("credit transaction not found")
	ErrDuplicateReference  = errors.New("duplicate transaction reference")
)

// InsufficientCreditsError carries the amounts behind an ErrInsufficientCredits
// so the API can report structured {required, available} detail.
type InsufficientCreditsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %s, available %s", e.Required, e.Available)
}

// Is makes errors.Is(err, ErrInsufficientCredits) match the typed error.
func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// PostgresRepository is the PostgreSQL-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository over a pgx connection pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateAccount inserts the account row and, when a signup bonus is configured,
// the SIGNUP_BONUS ledger row in the same transaction.
func (r *PostgresRepository) CreateAccount(ctx context.Context, userID uuid.UUID, signupBonus decimal.Decimal) (*domain.Account, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	account := &domain.Account{UserID: userID, Balance: signupBonus}
	err = tx.QueryRow(ctx,
		`INSERT INTO accounts (user_id, balance) VALUES ($1, $2) RETURNING created_at, updated_at`,
		userID, signupBonus,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAccountExists
		}
		return nil, err
	}

	if signupBonus.IsPositive() {
		_, err = tx.Exec(ctx,
			`INSERT INTO credit_transactions (id, user_id, amount, kind, description)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), userID, signupBonus, domain.TransactionKindSignupBonus, "Signup bonus",
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return account, nil
}

// GetAccount returns the cached balance projection for a user.
func (r *PostgresRepository) GetAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	account := &domain.Account{UserID: userID}
	err := r.db.QueryRow(ctx,
		`SELECT balance, created_at, updated_at FROM accounts WHERE user_id = $1`,
		userID,
	).Scan(&account.Balance, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// DeductCredits performs an atomic charge. The balance check, the negative
// transaction row, and the balance update commit together or not at all. The
// FOR UPDATE lock serializes concurrent mutations for the same user, so two
// racing deducts cannot both observe sufficient balance.
func (r *PostgresRepository) DeductCredits(ctx context.Context, params DeductParams) (*domain.CreditTransaction, decimal.Decimal, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	var balance decimal.Decimal
	err = tx.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1 FOR UPDATE`,
		params.UserID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, decimal.Zero, ErrAccountNotFound
		}
		return nil, decimal.Zero, err
	}

	if balance.LessThan(params.Amount) {
		return nil, balance, &InsufficientCreditsError{Required: params.Amount, Available: balance}
	}

	newBalance := balance.Sub(params.Amount)
	_, err = tx.Exec(ctx,
		`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE user_id = $2`,
		newBalance, params.UserID,
	)
	if err != nil {
		return nil, decimal.Zero, err
	}

	entry := &domain.CreditTransaction{
		ID:          uuid.New(),
		UserID:      params.UserID,
		Amount:      params.Amount.Neg(),
		Kind:        params.Kind,
		Description: params.Description,
		ReferenceID: params.ReferenceID,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO credit_transactions (id, user_id, amount, kind, description, reference_id)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		entry.ID, entry.UserID, entry.Amount, entry.Kind, entry.Description, entry.ReferenceID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, decimal.Zero, err
	}
	return entry, newBalance, nil
}

// CreditCredits appends a positive ledger row and updates the cached balance.
// Unlike DeductCredits there is no balance precondition.
func (r *PostgresRepository) CreditCredits(ctx context.Context, params CreditParams) (*domain.CreditTransaction, decimal.Decimal, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	var balance decimal.Decimal
	err = tx.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1 FOR UPDATE`,
		params.UserID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, decimal.Zero, ErrAccountNotFound
		}
		return nil, decimal.Zero, err
	}

	newBalance := balance.Add(params.Amount)
	_, err = tx.Exec(ctx,
		`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE user_id = $2`,
		newBalance, params.UserID,
	)
	if err != nil {
		return nil, decimal.Zero, err
	}

	entry := &domain.CreditTransaction{
		ID:          uuid.New(),
		UserID:      params.UserID,
		Amount:      params.Amount,
		Kind:        params.Kind,
		Description: params.Description,
		ReferenceID: params.ReferenceID,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO credit_transactions (id, user_id, amount, kind, description, reference_id)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		entry.ID, entry.UserID, entry.Amount, entry.Kind, entry.Description, entry.ReferenceID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, decimal.Zero, ErrDuplicateReference
		}
		return nil, decimal.Zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, decimal.Zero, err
	}
	return entry, newBalance, nil
}

// FindTransactionByReference looks up a ledger row by kind and external
// reference. Used for purchase idempotency checks.
func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, kind string, referenceID string) (*domain.CreditTransaction, error) {
	entry := &domain.CreditTransaction{}
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, amount, kind, description, reference_id, created_at
		 FROM credit_transactions WHERE kind = $1 AND reference_id = $2
		 ORDER BY created_at LIMIT 1`,
		kind, referenceID,
	).Scan(&entry.ID, &entry.UserID, &entry.Amount, &entry.Kind, &entry.Description, &entry.ReferenceID, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return entry, nil
}

// ListTransactions returns a page of a user's ledger rows, newest first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.CreditTransaction, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, user_id, amount, kind, description, reference_id, created_at
	          FROM credit_transactions WHERE user_id = $1`
	args := []any{userID}
	if opts.Kind != "" {
		query += ` AND kind = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		args = append(args, opts.Kind, limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []domain.CreditTransaction{}
	for rows.Next() {
		var entry domain.CreditTransaction
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Amount, &entry.Kind, &entry.Description, &entry.ReferenceID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		transactions = append(transactions, entry)
	}
	return transactions, rows.Err()
}

// LedgerSummary computes the aggregate read model directly from the append-only
// log, which stays correct regardless of cached balances.
func (r *PostgresRepository) LedgerSummary(ctx context.Context) (*domain.LedgerSummary, error) {
	summary := &domain.LedgerSummary{}
	err := r.db.QueryRow(ctx,
		`SELECT
			COUNT(DISTINCT user_id),
			COALESCE(SUM(amount), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind = $1), 0),
			COALESCE(SUM(-amount) FILTER (WHERE amount < 0 AND kind NOT IN ($2)), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind = $3), 0),
			COUNT(*)
		 FROM credit_transactions`,
		domain.TransactionKindPurchase,
		domain.TransactionKindAdminDeduct,
		domain.TransactionKindRefund,
	).Scan(
		&summary.TotalUsers,
		&summary.TotalCredits,
		&summary.TotalPurchased,
		&summary.TotalSpent,
		&summary.TotalRefunded,
		&summary.TransactionCount,
	)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// CreateJob inserts a generation job in PENDING state with a settings snapshot.
func (r *PostgresRepository) CreateJob(ctx context.Context, job *domain.GenerationJob) error {
	settings, err := json.Marshal(job.Settings)
	if err != nil {
		return fmt.Errorf("marshal job settings: %w", err)
	}
	return r.db.QueryRow(ctx,
		`INSERT INTO generation_jobs (id, user_id, type, status, settings, credits)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		job.ID, job.UserID, job.Type, job.Status, settings, job.Credits,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

// GetJob fetches one generation job by id.
func (r *PostgresRepository) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.GenerationJob, error) {
	job := &domain.GenerationJob{}
	var settings, result []byte
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, type, status, settings, result, error, credits, created_at, updated_at
		 FROM generation_jobs WHERE id = $1`,
		jobID,
	).Scan(&job.ID, &job.UserID, &job.Type, &job.Status, &settings, &result, &job.Error, &job.Credits, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &job.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal job settings: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("unmarshal job result: %w", err)
		}
	}
	return job, nil
}

// MarkJobCompleted transitions a PENDING job to COMPLETED. The status guard in
// the WHERE clause makes terminal states sticky.
func (r *PostgresRepository) MarkJobCompleted(ctx context.Context, jobID uuid.UUID, result map[string]any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE generation_jobs SET status = $1, result = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		domain.JobStatusCompleted, payload, jobID, domain.JobStatusPending,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobAlreadyTerminal
	}
	return nil
}

// MarkJobFailed transitions a PENDING job to FAILED with the failure reason.
func (r *PostgresRepository) MarkJobFailed(ctx context.Context, jobID uuid.UUID, reason string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE generation_jobs SET status = $1, error = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		domain.JobStatusFailed, reason, jobID, domain.JobStatusPending,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobAlreadyTerminal
	}
	return nil
}

// CreateAssets inserts the produced asset rows in one transaction so a batch of
// outputs lands atomically.
func (r *PostgresRepository) CreateAssets(ctx context.Context, assets []domain.GeneratedAsset) error {
	if len(assets) == 0 {
		return nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := range assets {
		asset := &assets[i]
		settings, err := json.Marshal(asset.Settings)
		if err != nil {
			return fmt.Errorf("marshal asset settings: %w", err)
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO generated_assets
			 (id, user_id, job_id, project_id, type, aspect_ratio, url, prompt, settings, credit_cost)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at`,
			asset.ID, asset.UserID, asset.JobID, asset.ProjectID, asset.Type,
			asset.AspectRatio, asset.URL, asset.Prompt, settings, asset.CreditCost,
		).Scan(&asset.CreatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// ListAssetsByJob returns the assets produced by one job, oldest first.
func (r *PostgresRepository) ListAssetsByJob(ctx context.Context, jobID uuid.UUID) ([]domain.GeneratedAsset, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, job_id, project_id, type, aspect_ratio, url, prompt, settings, credit_cost, created_at
		 FROM generated_assets WHERE job_id = $1 ORDER BY created_at`,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := []domain.GeneratedAsset{}
	for rows.Next() {
		var asset domain.GeneratedAsset
		var settings []byte
		err := rows.Scan(&asset.ID, &asset.UserID, &asset.JobID, &asset.ProjectID, &asset.Type,
			&asset.AspectRatio, &asset.URL, &asset.Prompt, &settings, &asset.CreditCost, &asset.CreatedAt)
		if err != nil {
			return nil, err
		}
		if len(settings) > 0 {
			if err := json.Unmarshal(settings, &asset.Settings); err != nil {
				return nil, fmt.Errorf("unmarshal asset settings: %w", err)
			}
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// EnqueueRefund inserts a pending refund-outbox row.
func (r *PostgresRepository) EnqueueRefund(ctx context.Context, entry *RefundOutboxEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Status = RefundOutboxStatusPending
	return r.db.QueryRow(ctx,
		`INSERT INTO refund_outbox (id, user_id, amount, kind, reason, status)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		entry.ID, entry.UserID, entry.Amount, entry.Kind, entry.Reason, entry.Status,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)
}

// PendingRefunds fetches a batch of queued refunds for the drainer. One drainer
// runs per deployment; duplicate delivery is prevented by the SENT transition.
func (r *PostgresRepository) PendingRefunds(ctx context.Context, limit int) ([]RefundOutboxEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, amount, kind, reason, status, attempts, created_at, updated_at
		 FROM refund_outbox WHERE status = $1
		 ORDER BY created_at LIMIT $2`,
		RefundOutboxStatusPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []RefundOutboxEntry{}
	for rows.Next() {
		var entry RefundOutboxEntry
		err := rows.Scan(&entry.ID, &entry.UserID, &entry.Amount, &entry.Kind, &entry.Reason,
			&entry.Status, &entry.Attempts, &entry.CreatedAt, &entry.UpdatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkRefundOutboxSent records that a queued refund landed in the ledger.
func (r *PostgresRepository) MarkRefundOutboxSent(ctx context.Context, entryID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE refund_outbox SET status = $1, updated_at = NOW() WHERE id = $2`,
		RefundOutboxStatusSent, entryID,
	)
	return err
}

// MarkRefundOutboxAttempt bumps the attempt counter; when failed is true the
// row is parked as FAILED for operator attention instead of retrying forever.
func (r *PostgresRepository) MarkRefundOutboxAttempt(ctx context.Context, entryID uuid.UUID, failed bool) error {
	status := RefundOutboxStatusPending
	if failed {
		status = RefundOutboxStatusFailed
	}
	_, err := r.db.Exec(ctx,
		`UPDATE refund_outbox SET attempts = attempts + 1, status = $1, updated_at = NOW() WHERE id = $2`,
		status, entryID,
	)
	return err
}
