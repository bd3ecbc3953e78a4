package automation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"MailCourier/internal/models"
)

type RequeueStore interface {
	CountByStatus(ctx context.Context, status models.EmailStatus) (int, error)
	BulkSetStatus(ctx context.Context, from, to models.EmailStatus) ([]models.EmailJob, error)
}

// RetryController moves failed jobs back to pending. It never touches rows
// that are pending or successful.
type RetryController struct {
	store RequeueStore
	log   *zap.Logger
}

func NewRetryController(store RequeueStore, logger *zap.Logger) *RetryController {
	return &RetryController{store: store, log: logger.Named("retry")}
}

// Requeue transitions every failed job to pending in one statement and
// returns exactly the moved jobs. Zero failed jobs is a no-op.
func (r *RetryController) Requeue(ctx context.Context) ([]models.EmailJob, error) {
	n, err := r.store.CountByStatus(ctx, models.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("count failed jobs: %w", err)
	}
	if n == 0 {
		r.log.Info("no failed jobs to retry")
		return nil, nil
	}

	jobs, err := r.store.BulkSetStatus(ctx, models.StatusFailed, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("requeue failed jobs: %w", err)
	}

	r.log.Info("failed jobs requeued", zap.Int("count", len(jobs)))
	return jobs, nil
}
