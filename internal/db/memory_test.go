package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MailCourier/internal/models"
)

func seed(t *testing.T, s *MemoryStore, status models.EmailStatus, sendAt time.Time) int64 {
	t.Helper()
	job := &models.EmailJob{Recipient: "a@x.com", Subject: "s", SendAt: sendAt}
	require.NoError(t, s.InsertJob(context.Background(), job))
	s.SetStatus(job.ID, status)
	return job.ID
}

func TestMemoryStore_BulkSetStatus_TouchesOnlyFailed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	pending := seed(t, s, models.StatusPending, base)
	success := seed(t, s, models.StatusSuccess, base)
	failedLate := seed(t, s, models.StatusFailed, base.Add(2*time.Hour))
	failedEarly := seed(t, s, models.StatusFailed, base.Add(time.Hour))

	moved, err := s.BulkSetStatus(ctx, models.StatusFailed, models.StatusPending)
	require.NoError(t, err)
	require.Len(t, moved, 2)
	assert.Equal(t, failedEarly, moved[0].ID)
	assert.Equal(t, failedLate, moved[1].ID)

	p, _ := s.Job(pending)
	sc, _ := s.Job(success)
	assert.Equal(t, models.StatusPending, p.Status)
	assert.Equal(t, models.StatusSuccess, sc.Status)

	n, err := s.CountByStatus(ctx, models.StatusFailed)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	id := seed(t, s, models.StatusPending, time.Now())

	sentAt := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	ok, err := s.UpdateStatus(ctx, id, models.StatusSuccess, "", &sentAt)
	require.NoError(t, err)
	assert.True(t, ok)

	job, _ := s.Job(id)
	assert.Equal(t, models.StatusSuccess, job.Status)
	assert.Equal(t, sentAt, job.SendAt)

	ok, err = s.UpdateStatus(ctx, id, models.StatusFailed, "late", nil)
	require.NoError(t, err)
	assert.False(t, ok, "resolved jobs cannot be updated again")

	_, err = s.UpdateStatus(ctx, id, models.StatusPending, "", nil)
	assert.Error(t, err)
}

func TestMemoryStore_LoadMapping(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	job := &models.EmailJob{Recipient: "b@x.com", FolderPath: "/srv/b"}
	require.NoError(t, s.InsertJob(ctx, job))

	m, err := s.LoadMapping(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Mapping{Email: "b@x.com", FilePath: "/srv/b"}, m)

	_, err = s.LoadMapping(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}
