// Package txlog records one transaction entry per processed job.
package txlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Record struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	RunKind   string    `json:"run_kind"`
	JobID     int64     `json:"job_id"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject,omitempty"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Mode      string    `json:"attachment_mode,omitempty"`
	Size      int64     `json:"attachment_bytes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRecord stamps a record with a fresh id and the current time.
func NewRecord(runID, runKind string, jobID int64) Record {
	return Record{
		ID:        uuid.NewString(),
		RunID:     runID,
		RunKind:   runKind,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
	}
}

type Sink interface {
	Write(ctx context.Context, r Record) error
	Close() error
}

// LogSink writes records to the structured log.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{log: logger.Named("txlog")}
}

func (s *LogSink) Write(_ context.Context, r Record) error {
	s.log.Info("transaction",
		zap.String("id", r.ID),
		zap.String("run_id", r.RunID),
		zap.String("run_kind", r.RunKind),
		zap.Int64("job_id", r.JobID),
		zap.String("recipient", r.Recipient),
		zap.String("status", r.Status),
		zap.String("reason", r.Reason),
		zap.String("attachment_mode", r.Mode),
		zap.Int64("attachment_bytes", r.Size),
	)
	return nil
}

func (s *LogSink) Close() error { return nil }

// FileSink appends records as JSON lines.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create txlog dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open txlog file: %w", err)
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) Write(_ context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.New("txlog file is closed")
	}
	_, err = s.file.Write(append(data, '\n'))
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Multi fans a record out to every sink. A failing sink does not stop the
// others; all errors are joined.
type Multi []Sink

func (m Multi) Write(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
