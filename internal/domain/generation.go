/**
 * @description
 * This file defines the generation-side domain models: jobs, produced assets, and
 * the request/response DTOs for the three generation endpoints.
 *
 * @notes
 * - A GenerationJob row exists if and only if credits were deducted for it. Its
 *   terminal status records whether the deduction stands (COMPLETED) or was
 *   compensated with a refund (FAILED). Jobs are never resumed once terminal.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Generation job types.
const (
	GenerationTypeImage = "IMAGE"
	GenerationTypeVideo = "VIDEO"
	GenerationTypeCopy  = "COPY"
)

// Generation job statuses. PENDING transitions to exactly one of COMPLETED or
// FAILED; both are terminal.
const (
	JobStatusPending   = "PENDING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// TransactionKindForGenerationType maps a job type to the ledger kind charged for it.
func TransactionKindForGenerationType(generationType string) string {
	switch generationType {
	case GenerationTypeVideo:
		return TransactionKindVideoGeneration
	case GenerationTypeCopy:
		return TransactionKindAdCopyGeneration
	default:
		return TransactionKindImageGeneration
	}
}

// GenerationJob is the auditable record of one attempted, already-paid-for unit
// of external work. Settings snapshots the request parameters at deduct time.
type GenerationJob struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Settings  map[string]any  `json:"settings"`
	Result    map[string]any  `json:"result,omitempty"`
	Error     *string         `json:"error,omitempty"`
	Credits   decimal.Decimal `json:"credits"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GeneratedAsset is one durable output of a COMPLETED job.
type GeneratedAsset struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	JobID       uuid.UUID       `json:"job_id"`
	ProjectID   *uuid.UUID      `json:"project_id,omitempty"`
	Type        string          `json:"type"`
	AspectRatio string          `json:"aspect_ratio,omitempty"`
	URL         string          `json:"url"`
	Prompt      string          `json:"prompt"`
	Settings    map[string]any  `json:"settings,omitempty"`
	CreditCost  decimal.Decimal `json:"credit_cost"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ImageGenerationRequest is the DTO for POST /generate/images.
type ImageGenerationRequest struct {
	Prompt              string     `json:"prompt"`
	AspectRatio         string     `json:"aspect_ratio"`
	Count               int        `json:"count"`
	ProjectID           *uuid.UUID `json:"project_id,omitempty"`
	CreativeDirectionID *uuid.UUID `json:"creative_direction_id,omitempty"`
}

// VideoGenerationRequest is the DTO for POST /generate/videos.
type VideoGenerationRequest struct {
	Prompt              string     `json:"prompt"`
	AspectRatio         string     `json:"aspect_ratio"`
	DurationSeconds     int        `json:"duration_seconds"`
	Count               int        `json:"count"`
	ProjectID           *uuid.UUID `json:"project_id,omitempty"`
	CreativeDirectionID *uuid.UUID `json:"creative_direction_id,omitempty"`
}

// AdCopyGenerationRequest is the DTO for POST /generate/copy.
type AdCopyGenerationRequest struct {
	ProductDescription  string     `json:"product_description"`
	Tone                string     `json:"tone,omitempty"`
	Count               int        `json:"count"`
	ProjectID           *uuid.UUID `json:"project_id,omitempty"`
	CreativeDirectionID *uuid.UUID `json:"creative_direction_id,omitempty"`
}

// GenerationResult is what the orchestrator returns to the API layer on success.
type GenerationResult struct {
	JobID       uuid.UUID        `json:"job_id"`
	Assets      []GeneratedAsset `json:"assets,omitempty"`
	Copies      []string         `json:"copies,omitempty"`
	CreditsUsed decimal.Decimal  `json:"credits_used"`
}

// GenerationEvent is published to RabbitMQ when a job reaches a terminal state.
type GenerationEvent struct {
	JobID     uuid.UUID       `json:"job_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Credits   decimal.Decimal `json:"credits"`
	Reason    string          `json:"reason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
