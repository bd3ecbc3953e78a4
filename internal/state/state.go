// Package state holds the automation state shared by the manager, the queue
// processor and the scheduler loop. Every access goes through one mutex.
package state

import (
	"slices"
	"sync"
	"time"

	"MailCourier/internal/models"
)

type State struct {
	mu sync.Mutex

	isRunning     bool
	stopRequested bool
	status        models.RunStatus
	summary       models.Summary
	settings      models.Settings
	schedule      models.Schedule
	lastRun       *time.Time
	lastError     string
	runID         string
}

func New(settings models.Settings, schedule models.Schedule) *State {
	return &State{
		status:   models.RunIdle,
		settings: cloneSettings(settings),
		schedule: cloneSchedule(schedule),
	}
}

// TryBegin claims the run gate. It reports false when a run is already
// active. kind is RunRunning or RunRestarting.
func (s *State) TryBegin(kind models.RunStatus, runID string, pending int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return false
	}
	s.isRunning = true
	s.stopRequested = false
	s.status = kind
	s.runID = runID
	s.lastError = ""
	s.summary = models.Summary{Pending: pending}
	return true
}

// Finish closes a run that drained its queue or honoured a stop request.
func (s *State) Finish(now time.Time, pending int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.isRunning = false
	s.stopRequested = false
	s.status = models.RunIdle
	s.lastRun = &now
	s.summary.Pending = pending
}

// Fail ends a run in the error state. The manager stays usable and the next
// run resets it.
func (s *State) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.isRunning = false
	s.stopRequested = false
	s.status = models.RunError
	if err != nil {
		s.lastError = err.Error()
	}
}

// RequestStop flags the active run for a cooperative stop. It reports false
// when nothing is running.
func (s *State) RequestStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return false
	}
	s.stopRequested = true
	s.status = models.RunStopping
	return true
}

func (s *State) StopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

func (s *State) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *State) Status() models.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *State) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// ResetCounters zeroes the per-run counters, keeping the pending snapshot.
func (s *State) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = models.Summary{Pending: s.summary.Pending}
}

func (s *State) IncProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Processed++
}

func (s *State) IncSuccessful() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Successful++
	s.decPending()
}

func (s *State) IncFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Failed++
	s.decPending()
}

func (s *State) IncSkipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Skipped++
	s.decPending()
}

func (s *State) decPending() {
	if s.summary.Pending > 0 {
		s.summary.Pending--
	}
}

func (s *State) Summary() models.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// RefreshCounts replaces the summary counts with store totals. It is ignored
// while a run is active and reports whether it applied.
func (s *State) RefreshCounts(pending, successful, failed int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return false
	}
	s.summary.Pending = pending
	s.summary.Successful = successful
	s.summary.Failed = failed
	return true
}

// SetPending records a pending snapshot taken while idle.
func (s *State) SetPending(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		s.summary.Pending = n
	}
}

func (s *State) Report() models.StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := models.StatusReport{
		Status:    s.status,
		IsRunning: s.isRunning,
		Summary:   s.summary,
		LastError: s.lastError,
		RunID:     s.runID,
	}
	if s.lastRun != nil {
		t := *s.lastRun
		r.LastRun = &t
	}
	return r
}

func (s *State) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSettings(s.settings)
}

func (s *State) SetSettings(settings models.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = cloneSettings(settings)
}

// UpdateSettings applies u under the lock and returns the merged result.
func (s *State) UpdateSettings(u models.SettingsUpdate) models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = u.Apply(s.settings)
	return cloneSettings(s.settings)
}

func (s *State) Schedule() models.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSchedule(s.schedule)
}

func (s *State) SetSchedule(schedule models.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = cloneSchedule(schedule)
}

// SetNextRun stores a recomputed next run, optionally recording lastRun.
func (s *State) SetNextRun(next time.Time, lastRun *time.Time) models.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedule.NextRun = &next
	if lastRun != nil {
		t := *lastRun
		s.schedule.LastRun = &t
	}
	return cloneSchedule(s.schedule)
}

// AdvanceNextRun records lastRun and sets nextRun to calc of the current
// schedule, in one locked step. When nextRun no longer equals seen, a
// concurrent update already rescheduled and its nextRun is kept. A disabled
// schedule is never given a nextRun.
func (s *State) AdvanceNextRun(seen, lastRun *time.Time, calc func(models.Schedule) time.Time) (models.Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lastRun != nil {
		t := *lastRun
		s.schedule.LastRun = &t
	}
	if !s.schedule.Enabled || !sameTime(s.schedule.NextRun, seen) {
		return cloneSchedule(s.schedule), false
	}
	next := calc(cloneSchedule(s.schedule))
	s.schedule.NextRun = &next
	return cloneSchedule(s.schedule), true
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func cloneSettings(in models.Settings) models.Settings {
	in.RecipientAllowlist = slices.Clone(in.RecipientAllowlist)
	in.Attachment.AllowedExtensions = slices.Clone(in.Attachment.AllowedExtensions)
	return in
}

func cloneSchedule(in models.Schedule) models.Schedule {
	in.Days = slices.Clone(in.Days)
	if in.LastRun != nil {
		t := *in.LastRun
		in.LastRun = &t
	}
	if in.NextRun != nil {
		t := *in.NextRun
		in.NextRun = &t
	}
	return in
}
