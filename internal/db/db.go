package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"MailCourier/internal/models"
)

var ErrNotFound = errors.New("email job not found")

// JobStore is the persistence contract used by the automation pipeline.
type JobStore interface {
	LoadByStatus(ctx context.Context, status models.EmailStatus) ([]models.EmailJob, error)
	LoadMapping(ctx context.Context, id int64) (models.Mapping, error)
	GetStatus(ctx context.Context, id int64) (models.EmailStatus, error)
	UpdateStatus(ctx context.Context, id int64, status models.EmailStatus, reason string, sentAt *time.Time) (bool, error)
	CountByStatus(ctx context.Context, status models.EmailStatus) (int, error)
	BulkSetStatus(ctx context.Context, from, to models.EmailStatus) ([]models.EmailJob, error)
	InsertJob(ctx context.Context, job *models.EmailJob) error
	LoadAutomationConfig(ctx context.Context) (*models.AutomationConfig, error)
	SaveAutomationConfig(ctx context.Context, cfg models.AutomationConfig) error
	Close()
}

// DBTX is the subset of *pgxpool.Pool the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const Schema = `
CREATE TABLE IF NOT EXISTS email_jobs (
	id           BIGSERIAL PRIMARY KEY,
	company_name TEXT NOT NULL DEFAULT '',
	recipient    TEXT NOT NULL,
	subject      TEXT NOT NULL DEFAULT '',
	folder_path  TEXT,
	send_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	status       TEXT NOT NULL DEFAULT 'pending',
	reason       TEXT,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS email_jobs_status_send_at_idx ON email_jobs (status, send_at);
CREATE TABLE IF NOT EXISTS automation_config (
	id         SMALLINT PRIMARY KEY,
	settings   JSONB NOT NULL,
	schedule   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const jobColumns = `id, company_name, recipient, subject, COALESCE(folder_path, ''), send_at, status, COALESCE(reason, ''), updated_at`

type Store struct {
	Pool DBTX
}

func New(conn string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), conn)
	if err != nil {
		return nil, err
	}

	return &Store{Pool: pool}, nil
}

func NewWithPool(pool DBTX) *Store {
	return &Store{Pool: pool}
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, Schema)
	return err
}

func (s *Store) InsertJob(ctx context.Context, job *models.EmailJob) error {
	if job.SendAt.IsZero() {
		job.SendAt = time.Now()
	}
	job.Status = models.StatusPending

	return s.Pool.QueryRow(ctx,
		`INSERT INTO email_jobs
		 (company_name, recipient, subject, folder_path, send_at, status, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,NOW())
		 RETURNING id`,
		job.CompanyName,
		job.Recipient,
		job.Subject,
		job.FolderPath,
		job.SendAt,
		string(models.StatusPending),
	).Scan(&job.ID)
}

func (s *Store) LoadByStatus(ctx context.Context, status models.EmailStatus) ([]models.EmailJob, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM email_jobs
		 WHERE status=$1
		 ORDER BY send_at ASC, id ASC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("load %s jobs: %w", status, err)
	}

	return pgx.CollectRows(rows, scanJob)
}

func (s *Store) LoadMapping(ctx context.Context, id int64) (models.Mapping, error) {
	var m models.Mapping
	err := s.Pool.QueryRow(ctx,
		`SELECT recipient, COALESCE(folder_path, '')
		 FROM email_jobs
		 WHERE id=$1`,
		id,
	).Scan(&m.Email, &m.FilePath)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

func (s *Store) GetStatus(ctx context.Context, id int64) (models.EmailStatus, error) {
	var status string
	err := s.Pool.QueryRow(ctx,
		`SELECT status FROM email_jobs WHERE id=$1`,
		id,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return models.EmailStatus(status), err
}

// UpdateStatus resolves a pending job. It reports false when the row was not
// pending anymore (or does not exist).
func (s *Store) UpdateStatus(
	ctx context.Context,
	id int64,
	status models.EmailStatus,
	reason string,
	sentAt *time.Time,
) (bool, error) {

	if !models.IsValidTransition(models.StatusPending, status) {
		return false, fmt.Errorf("invalid status transition pending -> %s", status)
	}

	tag, err := s.Pool.Exec(ctx,
		`UPDATE email_jobs
		 SET status=$1,
		     reason=$2,
		     send_at=COALESCE($3, send_at),
		     updated_at=NOW()
		 WHERE id=$4 AND status=$5`,
		string(status),
		reason,
		sentAt,
		id,
		string(models.StatusPending),
	)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() > 0, nil
}

func (s *Store) CountByStatus(ctx context.Context, status models.EmailStatus) (int, error) {
	var n int64
	err := s.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM email_jobs WHERE status=$1`,
		string(status),
	).Scan(&n)
	return int(n), err
}

// BulkSetStatus moves every row in status from to status to in one statement
// and returns the moved rows ordered by send date.
func (s *Store) BulkSetStatus(ctx context.Context, from, to models.EmailStatus) ([]models.EmailJob, error) {
	if !models.IsValidTransition(from, to) {
		return nil, fmt.Errorf("invalid status transition %s -> %s", from, to)
	}

	rows, err := s.Pool.Query(ctx,
		`UPDATE email_jobs
		 SET status=$1,
		     reason=NULL,
		     updated_at=NOW()
		 WHERE status=$2
		 RETURNING `+jobColumns,
		string(to),
		string(from),
	)
	if err != nil {
		return nil, fmt.Errorf("bulk set %s -> %s: %w", from, to, err)
	}

	jobs, err := pgx.CollectRows(rows, scanJob)
	if err != nil {
		return nil, err
	}
	sortBySendAt(jobs)

	return jobs, nil
}

func (s *Store) LoadAutomationConfig(ctx context.Context) (*models.AutomationConfig, error) {
	var settings, schedule []byte
	err := s.Pool.QueryRow(ctx,
		`SELECT settings, schedule FROM automation_config WHERE id=1`,
	).Scan(&settings, &schedule)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg models.AutomationConfig
	if err := json.Unmarshal(settings, &cfg.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := json.Unmarshal(schedule, &cfg.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}

	return &cfg, nil
}

func (s *Store) SaveAutomationConfig(ctx context.Context, cfg models.AutomationConfig) error {
	settings, err := json.Marshal(cfg.Settings)
	if err != nil {
		return err
	}
	schedule, err := json.Marshal(cfg.Schedule)
	if err != nil {
		return err
	}

	_, err = s.Pool.Exec(ctx,
		`INSERT INTO automation_config (id, settings, schedule, updated_at)
		 VALUES (1, $1, $2, NOW())
		 ON CONFLICT (id) DO UPDATE
		 SET settings=EXCLUDED.settings,
		     schedule=EXCLUDED.schedule,
		     updated_at=NOW()`,
		settings,
		schedule,
	)

	return err
}

func scanJob(row pgx.CollectableRow) (models.EmailJob, error) {
	var (
		job    models.EmailJob
		status string
	)
	err := row.Scan(
		&job.ID,
		&job.CompanyName,
		&job.Recipient,
		&job.Subject,
		&job.FolderPath,
		&job.SendAt,
		&status,
		&job.Reason,
		&job.UpdatedAt,
	)
	job.Status = models.EmailStatus(status)
	return job, err
}

func sortBySendAt(jobs []models.EmailJob) {
	slices.SortStableFunc(jobs, func(a, b models.EmailJob) int {
		if c := a.SendAt.Compare(b.SendAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
