package store

import (
	"context"

	"github.com/moltstore/appreview/internal/models"
)

// Store defines the persistence interface for review results. Reviews are
// append-only history keyed by (appId, fileHash); terminal rows are never
// mutated.
type Store interface {
	// CreateReview inserts a new review in processing status, assigning
	// an ID and CreatedAt.
	CreateReview(ctx context.Context, r *models.ReviewResult) error
	GetReview(ctx context.Context, id string) (*models.ReviewResult, error)
	// GetReviewByAppAndHash returns the most recent review for the pair,
	// letting callers treat re-uploads of identical content as idempotent.
	GetReviewByAppAndHash(ctx context.Context, appID, fileHash string) (*models.ReviewResult, error)
	ListReviews(ctx context.Context, appID string, limit int) ([]*models.ReviewResult, error)
	// CompleteReview transitions a processing review to completed with its
	// scores and findings. Fails if the review is already terminal.
	CompleteReview(ctx context.Context, r *models.ReviewResult) error
	// FailReview transitions a processing review to failed. Fails if the
	// review is already terminal.
	FailReview(ctx context.Context, id, errorMessage string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
