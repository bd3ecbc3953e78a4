package worker

import (
	"context"
	"time"

	"MailCourier/internal/models"
)

// Queue is the FIFO of jobs for one run, in the order they were loaded.
type Queue struct {
	jobs chan models.EmailJob
}

func NewQueue(jobs []models.EmailJob) *Queue {
	q := &Queue{jobs: make(chan models.EmailJob, len(jobs))}
	for _, j := range jobs {
		q.jobs <- j
	}
	return q
}

func (q *Queue) Len() int {
	return len(q.jobs)
}

// Pop waits up to wait for the next job. It reports false on timeout or when
// ctx is done.
func (q *Queue) Pop(ctx context.Context, wait time.Duration) (models.EmailJob, bool) {
	select {
	case j := <-q.jobs:
		return j, true
	default:
	}

	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case j := <-q.jobs:
		return j, true
	case <-t.C:
	case <-ctx.Done():
	}
	return models.EmailJob{}, false
}
