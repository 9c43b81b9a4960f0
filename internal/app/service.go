/**
 * @description
 * This file contains the core business logic for the generation-service. The
 * `Service` struct orchestrates every credit-metered generation request,
 * coordinating the credit ledger, the database repository, the external
 * generation provider, the asset store, and the message broker.
 *
 * Key invariant: every deducted credit is either backed by a COMPLETED job with
 * matching assets, or by a FAILED job with a matching REFUND transaction. The
 * compensation path runs in a deferred block, so a failure anywhere after the
 * deduct — provider exhaustion, a non-retryable provider error, or asset
 * persistence after a successful provider call — still resolves the charge.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal: IDs and amounts.
 * - internal/apperr, internal/domain, internal/store: Error taxonomy, models, data access.
 * - pkg/providerclient, pkg/rabbitmq, pkg/retry: External provider, events, retry strategy.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adforge/generation-service/internal/apperr"
	"github.com/adforge/generation-service/internal/domain"
	"github.com/adforge/generation-service/internal/store"
	"github.com/adforge/generation-service/pkg/providerclient"
	"github.com/adforge/generation-service/pkg/rabbitmq"
	"github.com/adforge/generation-service/pkg/retry"
)

// EventsExchange is the topic exchange generation outcome events are published to.
const EventsExchange = "adforge.events"

// Routing keys for generation outcome events.
const (
	RoutingKeyGenerationCompleted = "generation.completed"
	RoutingKeyGenerationFailed    = "generation.failed"
)

const maxUnitsPerRequest = 10

// GenerationProvider is the injected boundary to the external generation API.
// Implementations may fail with retryable (timeout, 429, 5xx) or fatal errors
// and return one output per requested unit.
type GenerationProvider interface {
	GenerateImages(ctx context.Context, req providerclient.ImageRequest) (*providerclient.MediaResponse, error)
	GenerateVideos(ctx context.Context, req providerclient.VideoRequest) (*providerclient.MediaResponse, error)
	GenerateAdCopy(ctx context.Context, req providerclient.CopyRequest) (*providerclient.CopyResponse, error)
}

// AssetStore persists a provider output durably and returns its platform URL.
type AssetStore interface {
	Store(ctx context.Context, sourceURL, userID, kind string) (string, error)
}

// Costs holds the per-unit credit cost of each generation type.
type Costs struct {
	Image decimal.Decimal
	Video decimal.Decimal
	Copy  decimal.Decimal
}

// RetryTuning holds the per-type retry options. Copy generation uses short
// delays because text APIs respond fast; video uses longer delays because
// provider latency is characteristically higher.
type RetryTuning struct {
	Image retry.Options
	Video retry.Options
	Copy  retry.Options
}

// DefaultRetryTuning returns the production backoff profiles.
func DefaultRetryTuning() RetryTuning {
	return RetryTuning{
		Image: retry.Options{MaxRetries: 3, InitialDelay: 1 * time.Second, MaxDelay: 15 * time.Second, BackoffMultiplier: 2, Jitter: true},
		Video: retry.Options{MaxRetries: 3, InitialDelay: 5 * time.Second, MaxDelay: 60 * time.Second, BackoffMultiplier: 2, Jitter: true},
		Copy:  retry.Options{MaxRetries: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second, BackoffMultiplier: 2, Jitter: true},
	}
}

// Service provides the core business logic for credit-metered generation.
type Service struct {
	repo     store.Repository
	ledger   *Ledger
	provider GenerationProvider
	assets   AssetStore
	producer rabbitmq.Publisher
	costs    Costs
	tuning   RetryTuning

	signupBonus decimal.Decimal
	rateLimiter *RedisGenerationRateLimiter
	rateLimit   int
	rateWindow  time.Duration
}

// NewService creates a new generation service instance. The provider and asset
// store are injected so the external boundaries stay testable and mockable.
func NewService(repo store.Repository, ledger *Ledger, provider GenerationProvider, assets AssetStore, producer rabbitmq.Publisher, costs Costs, tuning RetryTuning) *Service {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	return &Service{
		repo:     repo,
		ledger:   ledger,
		provider: provider,
		assets:   assets,
		producer: producer,
		costs:    costs,
		tuning:   tuning,
	}
}

// ConfigureSignupBonus sets the credits granted when an account is created.
func (s *Service) ConfigureSignupBonus(bonus decimal.Decimal) {
	s.signupBonus = bonus
}

// SetRateLimiter enables per-user admission control on the generation endpoints.
func (s *Service) SetRateLimiter(limiter *RedisGenerationRateLimiter, perMinute int) {
	s.rateLimiter = limiter
	s.rateLimit = perMinute
	s.rateWindow = time.Minute
}

// Ledger exposes the credit ledger to the API layer.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// CreateAccount provisions a credit account with the configured signup bonus.
func (s *Service) CreateAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	return s.repo.CreateAccount(ctx, userID, s.signupBonus)
}

// GetBalance returns the user's current balance.
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	account, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// ListTransactions returns a page of the user's ledger log.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) ([]domain.CreditTransaction, error) {
	return s.repo.ListTransactions(ctx, userID, opts)
}

// LedgerSummary returns the aggregate admin read model.
func (s *Service) LedgerSummary(ctx context.Context) (*domain.LedgerSummary, error) {
	return s.repo.LedgerSummary(ctx)
}

// GetJob returns one generation job, restricted to its owner.
func (s *Service) GetJob(ctx context.Context, userID, jobID uuid.UUID) (*domain.GenerationJob, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, store.ErrJobNotFound
	}
	return job, nil
}

// CheckAdmission applies the per-user rate limit before any ledger interaction.
// Requests rejected here never reach the ledger.
func (s *Service) CheckAdmission(ctx context.Context, userID uuid.UUID) error {
	if s.rateLimiter == nil || s.rateLimit <= 0 {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "generate", userID.String(), s.rateLimit, s.rateWindow)
	if err != nil {
		// Fail open: a limiter outage must not block paying users.
		log.Printf("level=warn component=generation msg=\"rate limiter unavailable; admitting request\" user_id=%s err=%v", userID, err)
		return nil
	}
	if count > s.rateLimit {
		appErr := apperr.New(apperr.KindRateLimited, "")
		appErr.Details = map[string]any{"retry_after_seconds": retryAfter}
		return appErr
	}
	return nil
}

// GenerateImages charges the user and drives an image generation end to end.
func (s *Service) GenerateImages(ctx context.Context, userID uuid.UUID, req domain.ImageGenerationRequest) (*domain.GenerationResult, error) {
	if err := validateCount(req.Count); err != nil {
		return nil, err
	}
	if req.Prompt == "" {
		return nil, apperr.Validation("A prompt is required.")
	}

	settings := map[string]any{
		"prompt":       req.Prompt,
		"aspect_ratio": req.AspectRatio,
		"count":        req.Count,
	}
	return s.runGeneration(ctx, generationRun{
		userID:      userID,
		jobType:     domain.GenerationTypeImage,
		count:       req.Count,
		unitCost:    s.costs.Image,
		settings:    settings,
		prompt:      req.Prompt,
		aspectRatio: req.AspectRatio,
		projectID:   req.ProjectID,
		retryOpts:   s.tuning.Image,
		description: fmt.Sprintf("Image generation (%d)", req.Count),
		invoke: func(ctx context.Context) ([]string, error) {
			resp, err := s.provider.GenerateImages(ctx, providerclient.ImageRequest{
				Prompt:      req.Prompt,
				AspectRatio: req.AspectRatio,
				Count:       req.Count,
			})
			if err != nil {
				return nil, err
			}
			return resp.URLs, nil
		},
	})
}

// GenerateVideos charges the user and drives a video generation end to end.
func (s *Service) GenerateVideos(ctx context.Context, userID uuid.UUID, req domain.VideoGenerationRequest) (*domain.GenerationResult, error) {
	if err := validateCount(req.Count); err != nil {
		return nil, err
	}
	if req.Prompt == "" {
		return nil, apperr.Validation("A prompt is required.")
	}
	if req.DurationSeconds < 0 || req.DurationSeconds > 60 {
		return nil, apperr.Validation("Video duration must be between 1 and 60 seconds.")
	}

	settings := map[string]any{
		"prompt":           req.Prompt,
		"aspect_ratio":     req.AspectRatio,
		"duration_seconds": req.DurationSeconds,
		"count":            req.Count,
	}
	return s.runGeneration(ctx, generationRun{
		userID:      userID,
		jobType:     domain.GenerationTypeVideo,
		count:       req.Count,
		unitCost:    s.costs.Video,
		settings:    settings,
		prompt:      req.Prompt,
		aspectRatio: req.AspectRatio,
		projectID:   req.ProjectID,
		retryOpts:   s.tuning.Video,
		description: fmt.Sprintf("Video generation (%d)", req.Count),
		invoke: func(ctx context.Context) ([]string, error) {
			resp, err := s.provider.GenerateVideos(ctx, providerclient.VideoRequest{
				Prompt:          req.Prompt,
				AspectRatio:     req.AspectRatio,
				DurationSeconds: req.DurationSeconds,
				Count:           req.Count,
			})
			if err != nil {
				return nil, err
			}
			return resp.URLs, nil
		},
	})
}

// GenerateAdCopy charges the user and drives an ad-copy generation end to end.
// Copy outputs are text, not stored assets; the copies ride back in the result
// and the job's result snapshot.
func (s *Service) GenerateAdCopy(ctx context.Context, userID uuid.UUID, req domain.AdCopyGenerationRequest) (*domain.GenerationResult, error) {
	if err := validateCount(req.Count); err != nil {
		return nil, err
	}
	if req.ProductDescription == "" {
		return nil, apperr.Validation("A product description is required.")
	}

	settings := map[string]any{
		"product_description": req.ProductDescription,
		"tone":                req.Tone,
		"count":               req.Count,
	}
	return s.runGeneration(ctx, generationRun{
		userID:      userID,
		jobType:     domain.GenerationTypeCopy,
		count:       req.Count,
		unitCost:    s.costs.Copy,
		settings:    settings,
		prompt:      req.ProductDescription,
		projectID:   req.ProjectID,
		retryOpts:   s.tuning.Copy,
		description: fmt.Sprintf("Ad copy generation (%d)", req.Count),
		invoke: func(ctx context.Context) ([]string, error) {
			resp, err := s.provider.GenerateAdCopy(ctx, providerclient.CopyRequest{
				ProductDescription: req.ProductDescription,
				Tone:               req.Tone,
				Count:              req.Count,
			})
			if err != nil {
				return nil, err
			}
			return resp.Copies, nil
		},
	})
}

// generationRun bundles everything runGeneration needs; the three public
// entry points differ only in provider call, cost, and settings snapshot.
type generationRun struct {
	userID      uuid.UUID
	jobType     string
	count       int
	unitCost    decimal.Decimal
	settings    map[string]any
	prompt      string
	aspectRatio string
	projectID   *uuid.UUID
	retryOpts   retry.Options
	description string
	invoke      func(ctx context.Context) ([]string, error)
}

// runGeneration implements the uniform per-request algorithm:
// check balance, deduct, create PENDING job, call the provider through the
// retry executor, persist assets, commit the job — or compensate.
func (s *Service) runGeneration(ctx context.Context, run generationRun) (result *domain.GenerationResult, outErr error) {
	totalCredits := run.unitCost.Mul(decimal.NewFromInt(int64(run.count)))
	kind := domain.TransactionKindForGenerationType(run.jobType)

	// Advisory fast-fail before any charge.
	check, err := s.ledger.CheckBalance(ctx, run.userID, totalCredits)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "Credit account not found.")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "", err)
	}
	if !check.HasEnough {
		return nil, apperr.InsufficientCredits(totalCredits, check.Balance)
	}

	// Authoritative pessimistic charge. Losing a race to a concurrent spender
	// surfaces here even though the check above passed.
	jobID := uuid.New()
	jobRef := jobID.String()
	_, _, err = s.ledger.Deduct(ctx, run.userID, totalCredits, kind, run.description, &jobRef)
	if err != nil {
		var insufficientErr *store.InsufficientCreditsError
		if errors.As(err, &insufficientErr) {
			return nil, apperr.InsufficientCredits(insufficientErr.Required, insufficientErr.Available)
		}
		return nil, apperr.Wrap(apperr.KindCreditDeductionFailed, "", err)
	}

	// From here on the user has paid. The deferred compensation guarantees the
	// refund even if asset persistence panics after a successful provider call.
	job := &domain.GenerationJob{
		ID:       jobID,
		UserID:   run.userID,
		Type:     run.jobType,
		Status:   domain.JobStatusPending,
		Settings: run.settings,
		Credits:  totalCredits,
	}
	settled := false
	defer func() {
		if settled {
			return
		}
		cause := outErr
		if r := recover(); r != nil {
			cause = fmt.Errorf("panic during generation: %v", r)
			outErr = apperr.Wrap(apperr.KindGenerationFailed, refundedMessage(run.jobType), cause)
		}
		s.compensate(run.userID, job, totalCredits, cause)
	}()

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, apperr.Wrap(apperr.KindGenerationFailed, refundedMessage(run.jobType), err)
	}

	var outputs []string
	attempts := 0
	err = retryDo(ctx, run.retryOpts, func(ctx context.Context) error {
		attempts++
		urls, invokeErr := run.invoke(ctx)
		if invokeErr != nil {
			return invokeErr
		}
		outputs = urls
		return nil
	}, func(retryErr error, attempt int, delay time.Duration) {
		log.Printf("level=warn component=generation msg=\"provider call failed; backing off\" job_id=%s type=%s attempt=%d delay_ms=%d err=%v",
			job.ID, run.jobType, attempt, delay.Milliseconds(), retryErr)
	})
	if err != nil {
		return nil, s.classifyProviderError(run.jobType, attempts, err)
	}
	if len(outputs) == 0 {
		return nil, apperr.Wrap(apperr.KindGenerationFailed, refundedMessage(run.jobType), errors.New("provider returned no outputs"))
	}

	if run.jobType == domain.GenerationTypeCopy {
		result, err = s.commitCopies(ctx, job, outputs, totalCredits)
	} else {
		result, err = s.commitAssets(ctx, job, run, outputs, totalCredits)
	}
	if err != nil {
		// The user received nothing usable; this is its own FAILED outcome
		// requiring a refund, distinct from provider failure.
		return nil, apperr.Wrap(apperr.KindGenerationFailed, refundedMessage(run.jobType), err)
	}

	settled = true
	s.publishOutcome(job, domain.JobStatusCompleted, "")
	return result, nil
}

// commitAssets stores every provider output durably, records the asset rows,
// and marks the job COMPLETED.
func (s *Service) commitAssets(ctx context.Context, job *domain.GenerationJob, run generationRun, outputs []string, totalCredits decimal.Decimal) (*domain.GenerationResult, error) {
	assets := make([]domain.GeneratedAsset, 0, len(outputs))
	for _, sourceURL := range outputs {
		durableURL, err := s.assets.Store(ctx, sourceURL, run.userID.String(), run.jobType)
		if err != nil {
			return nil, fmt.Errorf("persist asset: %w", err)
		}
		assets = append(assets, domain.GeneratedAsset{
			ID:          uuid.New(),
			UserID:      run.userID,
			JobID:       job.ID,
			ProjectID:   run.projectID,
			Type:        run.jobType,
			AspectRatio: run.aspectRatio,
			URL:         durableURL,
			Prompt:      run.prompt,
			Settings:    run.settings,
			CreditCost:  run.unitCost,
		})
	}

	if err := s.repo.CreateAssets(ctx, assets); err != nil {
		return nil, fmt.Errorf("record assets: %w", err)
	}

	urls := make([]string, len(assets))
	for i, asset := range assets {
		urls[i] = asset.URL
	}
	if err := s.repo.MarkJobCompleted(ctx, job.ID, map[string]any{"asset_count": len(assets), "urls": urls}); err != nil {
		return nil, fmt.Errorf("commit job: %w", err)
	}

	return &domain.GenerationResult{JobID: job.ID, Assets: assets, CreditsUsed: totalCredits}, nil
}

// commitCopies records ad-copy outputs in the job result and marks it COMPLETED.
func (s *Service) commitCopies(ctx context.Context, job *domain.GenerationJob, copies []string, totalCredits decimal.Decimal) (*domain.GenerationResult, error) {
	if err := s.repo.MarkJobCompleted(ctx, job.ID, map[string]any{"copy_count": len(copies), "copies": copies}); err != nil {
		return nil, fmt.Errorf("commit job: %w", err)
	}
	return &domain.GenerationResult{JobID: job.ID, Copies: copies, CreditsUsed: totalCredits}, nil
}

// compensate refunds the charge and marks the job FAILED. It runs detached from
// the request context so an abandoned request still resolves its credit state.
func (s *Service) compensate(userID uuid.UUID, job *domain.GenerationJob, totalCredits decimal.Decimal, cause error) {
	reason := "unknown failure"
	if cause != nil {
		reason = cause.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	jobRef := job.ID.String()
	s.ledger.Refund(ctx, userID, totalCredits,
		fmt.Sprintf("Refund for failed generation job %s: %s", job.ID, truncate(reason, 200)),
		&jobRef,
	)

	// The job row may not exist when CreateJob itself failed; the refund above
	// still must happen because the deduct already committed.
	if err := s.repo.MarkJobFailed(ctx, job.ID, truncate(reason, 500)); err != nil &&
		!errors.Is(err, store.ErrJobNotFound) && !errors.Is(err, store.ErrJobAlreadyTerminal) {
		log.Printf("level=error component=generation msg=\"mark job failed errored\" job_id=%s err=%v", job.ID, err)
	}

	s.publishOutcome(job, domain.JobStatusFailed, reason)
}

// classifyProviderError maps a final provider failure onto the taxonomy. All
// variants state that the credits were refunded, because by the time the caller
// sees this the compensation path has run.
func (s *Service) classifyProviderError(jobType string, attempts int, err error) error {
	log.Printf("level=error component=generation msg=\"provider call failed permanently\" type=%s attempts=%d err=%v", jobType, attempts, err)
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindGenerationTimeout, refundedMessage(jobType), err)
	}
	var apiErr *providerclient.APIError
	if errors.As(err, &apiErr) && !retry.DefaultIsRetryable(apiErr) {
		return apperr.Wrap(apperr.KindExternalAPIError, refundedMessage(jobType), err)
	}
	return apperr.Wrap(apperr.KindGenerationFailed, refundedMessage(jobType), err)
}

func (s *Service) publishOutcome(job *domain.GenerationJob, status, reason string) {
	routingKey := RoutingKeyGenerationCompleted
	if status == domain.JobStatusFailed {
		routingKey = RoutingKeyGenerationFailed
	}
	event := domain.GenerationEvent{
		JobID:     job.ID,
		UserID:    job.UserID,
		Type:      job.Type,
		Status:    status,
		Credits:   job.Credits,
		Reason:    truncate(reason, 200),
		Timestamp: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.producer.Publish(ctx, EventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=generation msg=\"outcome event publish failed\" job_id=%s routing_key=%s err=%v", job.ID, routingKey, err)
	}
}

// retryDo adapts retry.Do so the per-request OnRetry logger composes with any
// tuning-level hook (used by tests to count backoffs).
func retryDo(ctx context.Context, opts retry.Options, op retry.Operation, onRetry func(error, int, time.Duration)) error {
	configured := opts.OnRetry
	opts.OnRetry = func(err error, attempt int, delay time.Duration) {
		if configured != nil {
			configured(err, attempt, delay)
		}
		onRetry(err, attempt, delay)
	}
	return retry.Do(ctx, op, opts)
}

func validateCount(count int) error {
	if count < 1 {
		return apperr.Validation("Count must be at least 1.")
	}
	if count > maxUnitsPerRequest {
		return apperr.Validation(fmt.Sprintf("Count must not exceed %d.", maxUnitsPerRequest))
	}
	return nil
}

func refundedMessage(jobType string) string {
	label := "Generation"
	switch jobType {
	case domain.GenerationTypeImage:
		label = "Image generation"
	case domain.GenerationTypeVideo:
		label = "Video generation"
	case domain.GenerationTypeCopy:
		label = "Ad copy generation"
	}
	return fmt.Sprintf("%s failed and your credits have been refunded.", label)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
