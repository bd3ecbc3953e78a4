package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MailCourier/internal/models"
)

// MemoryStore is an in-process JobStore used for local runs and tests.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[int64]*models.EmailJob
	nextID int64
	config *models.AutomationConfig
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[int64]*models.EmailJob)}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) InsertJob(_ context.Context, job *models.EmailJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	job.ID = s.nextID
	if job.Status == "" {
		job.Status = models.StatusPending
	}
	if job.SendAt.IsZero() {
		job.SendAt = time.Now()
	}
	job.UpdatedAt = time.Now()

	stored := *job
	s.jobs[job.ID] = &stored
	return nil
}

// Job returns a copy of the stored job.
func (s *MemoryStore) Job(id int64) (models.EmailJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.EmailJob{}, false
	}
	return *job, true
}

// SetStatus overwrites a job status without transition checks, the way an
// external CRUD edit would.
func (s *MemoryStore) SetStatus(id int64, status models.EmailStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok {
		job.Status = status
		job.UpdatedAt = time.Now()
	}
}

func (s *MemoryStore) LoadByStatus(_ context.Context, status models.EmailStatus) ([]models.EmailJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []models.EmailJob
	for _, job := range s.jobs {
		if job.Status == status {
			jobs = append(jobs, *job)
		}
	}
	sortBySendAt(jobs)
	return jobs, nil
}

func (s *MemoryStore) LoadMapping(_ context.Context, id int64) (models.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.Mapping{}, ErrNotFound
	}
	return models.Mapping{Email: job.Recipient, FilePath: job.FolderPath}, nil
}

func (s *MemoryStore) GetStatus(_ context.Context, id int64) (models.EmailStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return "", ErrNotFound
	}
	return job.Status, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id int64, status models.EmailStatus, reason string, sentAt *time.Time) (bool, error) {
	if !models.IsValidTransition(models.StatusPending, status) {
		return false, fmt.Errorf("invalid status transition pending -> %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != models.StatusPending {
		return false, nil
	}
	job.Status = status
	job.Reason = reason
	if sentAt != nil {
		job.SendAt = *sentAt
	}
	job.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, status models.EmailStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, job := range s.jobs {
		if job.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) BulkSetStatus(_ context.Context, from, to models.EmailStatus) ([]models.EmailJob, error) {
	if !models.IsValidTransition(from, to) {
		return nil, fmt.Errorf("invalid status transition %s -> %s", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var moved []models.EmailJob
	for _, job := range s.jobs {
		if job.Status != from {
			continue
		}
		job.Status = to
		job.Reason = ""
		job.UpdatedAt = time.Now()
		moved = append(moved, *job)
	}
	sortBySendAt(moved)
	return moved, nil
}

func (s *MemoryStore) LoadAutomationConfig(_ context.Context) (*models.AutomationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config == nil {
		return nil, nil
	}
	cfg := *s.config
	return &cfg, nil
}

func (s *MemoryStore) SaveAutomationConfig(_ context.Context, cfg models.AutomationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = &cfg
	return nil
}
