// Package automation is the control surface of the delivery pipeline: it
// starts and stops queue runs, retries failed jobs and owns the schedule.
package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"MailCourier/internal/db"
	"MailCourier/internal/metrics"
	"MailCourier/internal/models"
	"MailCourier/internal/schedule"
	"MailCourier/internal/state"
	"MailCourier/internal/worker"
)

type Processor interface {
	Run(ctx context.Context, q *worker.Queue) (models.Summary, error)
}

type Config struct {
	PollInterval time.Duration
}

type Manager struct {
	store db.JobStore
	state *state.State
	proc  Processor
	retry *RetryController
	loop  *schedule.Loop
	log   *zap.Logger
	now   func() time.Time

	// opMu serialises Start and RestartFailed so the run gate is checked
	// and claimed atomically with loading the jobs.
	opMu sync.Mutex
	// scheduleMu serialises schedule updates. It is never held while
	// waiting for the scheduler loop.
	scheduleMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	retryMu    sync.Mutex
	retryTimer *time.Timer
	// stopped is set when Stop interrupts the current run; such a run
	// never arms the automatic retry.
	stopped    bool
}

func NewManager(store db.JobStore, st *state.State, proc Processor, cfg Config, logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:  store,
		state:  st,
		proc:   proc,
		retry:  NewRetryController(store, logger),
		log:    logger.Named("automation"),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
	m.loop = schedule.NewLoop(st, m, schedule.LoopConfig{
		Interval: cfg.PollInterval,
		OnUpdate: func(ctx context.Context, _ models.Schedule) { m.persist(ctx) },
	}, logger)
	return m
}

func (m *Manager) IsRunning() bool {
	return m.state.IsRunning()
}

// Start launches a run over every pending job. It is a no-op while a run is
// active or when nothing is pending.
func (m *Manager) Start(ctx context.Context) (models.StatusReport, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.state.IsRunning() {
		m.log.Info("start ignored, run already active", zap.String("run_id", m.state.RunID()))
		return m.state.Report(), nil
	}

	jobs, err := m.store.LoadByStatus(ctx, models.StatusPending)
	if err != nil {
		return m.state.Report(), fmt.Errorf("load pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		m.state.SetPending(0)
		m.log.Info("no pending jobs")
		return m.state.Report(), nil
	}

	m.launch(models.RunRunning, jobs)
	return m.state.Report(), nil
}

// Stop asks the active run to stop after the job in flight. A pending
// automatic retry is cancelled too.
func (m *Manager) Stop() models.StatusReport {
	m.retryMu.Lock()
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.state.RequestStop() {
		m.stopped = true
		m.log.Info("stop requested", zap.String("run_id", m.state.RunID()))
	}
	m.retryMu.Unlock()
	return m.state.Report()
}

// RestartFailed requeues failed jobs and runs them. It refuses while a run is
// active.
func (m *Manager) RestartFailed(ctx context.Context) (models.StatusReport, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.state.IsRunning() {
		m.log.Warn("restart of failed jobs refused, run already active", zap.String("run_id", m.state.RunID()))
		return m.state.Report(), nil
	}

	jobs, err := m.retry.Requeue(ctx)
	if err != nil {
		return m.state.Report(), err
	}
	if len(jobs) == 0 {
		return m.state.Report(), nil
	}

	m.launch(models.RunRestarting, jobs)
	return m.state.Report(), nil
}

// GetStatus reports the aggregate status. While idle the counts are first
// refreshed from the store.
func (m *Manager) GetStatus(ctx context.Context) models.StatusReport {
	if !m.state.IsRunning() {
		if err := m.refreshCounts(ctx); err != nil {
			m.log.Warn("failed to refresh job counts", zap.Error(err))
		}
	}
	return m.state.Report()
}

func (m *Manager) GetSettings() models.Settings {
	return m.state.Settings()
}

func (m *Manager) UpdateSettings(ctx context.Context, u models.SettingsUpdate) models.Settings {
	s := m.state.UpdateSettings(u)
	m.persist(ctx)
	return s
}

func (m *Manager) GetSchedule() models.Schedule {
	return m.state.Schedule()
}

// UpdateSchedule merges u, recomputes nextRun and starts or stops the
// scheduler loop to match Enabled.
func (m *Manager) UpdateSchedule(ctx context.Context, u models.ScheduleUpdate) (models.Schedule, error) {
	m.scheduleMu.Lock()
	defer m.scheduleMu.Unlock()

	sch := u.Apply(m.state.Schedule())
	if sch.Enabled {
		next := schedule.NextRunOrFallback(sch, m.now(), m.log)
		sch.NextRun = &next
	} else {
		sch.NextRun = nil
	}
	m.state.SetSchedule(sch)

	if sch.Enabled {
		if err := m.loop.Start(m.ctx); err != nil {
			return m.state.Schedule(), err
		}
	} else {
		m.loop.Stop()
	}

	m.persist(ctx)
	m.log.Info("schedule updated",
		zap.Bool("enabled", sch.Enabled),
		zap.String("frequency", string(sch.Frequency)),
		zap.String("time_of_day", sch.TimeOfDay),
		zap.Ints("days", sch.Days),
	)
	return m.state.Schedule(), nil
}

// Load restores the persisted configuration and starts the scheduler loop
// when the schedule is enabled. A missed nextRun is kept, so the first poll
// catches up with one run.
func (m *Manager) Load(ctx context.Context) error {
	cfg, err := m.store.LoadAutomationConfig(ctx)
	if err != nil {
		return fmt.Errorf("load automation config: %w", err)
	}
	if cfg != nil {
		m.state.SetSettings(cfg.Settings)
		m.state.SetSchedule(cfg.Schedule)
	}

	sch := m.state.Schedule()
	if !sch.Enabled {
		return nil
	}
	if sch.NextRun == nil {
		m.state.SetNextRun(schedule.NextRunOrFallback(sch, m.now(), m.log), nil)
	}
	return m.loop.Start(m.ctx)
}

// Shutdown stops the scheduler, asks the active run to stop and waits for it.
// When ctx expires first the run is cancelled and the job in flight is left
// pending.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancelRetry()
	m.loop.Stop()
	m.state.RequestStop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		m.cancel()
		<-done
	}
	m.cancelRetry()
	m.cancel()
	return err
}

func (m *Manager) launch(kind models.RunStatus, jobs []models.EmailJob) {
	runID := uuid.NewString()
	m.retryMu.Lock()
	m.stopped = false
	began := m.state.TryBegin(kind, runID, len(jobs))
	m.retryMu.Unlock()
	if !began {
		return
	}
	metrics.AutomationRunning.Set(1)
	m.log.Info("run launched",
		zap.String("run_id", runID),
		zap.String("kind", string(kind)),
		zap.Int("jobs", len(jobs)),
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer metrics.AutomationRunning.Set(0)

		summary, err := m.proc.Run(m.ctx, worker.NewQueue(jobs))
		if err != nil {
			m.log.Error("run ended with error", zap.String("run_id", runID), zap.Error(err))
			return
		}
		if kind == models.RunRunning {
			m.armRetry(summary)
		}
	}()
}

// armRetry schedules one automatic RestartFailed after a normal run that left
// failures, when retryOnFailure is set. Retry runs never re-arm.
func (m *Manager) armRetry(summary models.Summary) {
	settings := m.state.Settings()
	interval := settings.RetryInterval()
	if !settings.RetryOnFailure || summary.Failed == 0 || interval <= 0 {
		return
	}
	if m.ctx.Err() != nil {
		return
	}

	m.retryMu.Lock()
	defer m.retryMu.Unlock()

	if m.stopped {
		m.log.Info("automatic retry skipped, run was stopped", zap.Int("failed", summary.Failed))
		return
	}

	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.retryTimer = time.AfterFunc(interval, func() {
		if _, err := m.RestartFailed(m.ctx); err != nil {
			m.log.Error("automatic retry failed", zap.Error(err))
		}
	})
	m.log.Info("automatic retry armed", zap.Duration("after", interval), zap.Int("failed", summary.Failed))
}

func (m *Manager) cancelRetry() {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()

	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) retryArmed() bool {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()
	return m.retryTimer != nil
}

func (m *Manager) refreshCounts(ctx context.Context) error {
	pending, err1 := m.store.CountByStatus(ctx, models.StatusPending)
	successful, err2 := m.store.CountByStatus(ctx, models.StatusSuccess)
	failed, err3 := m.store.CountByStatus(ctx, models.StatusFailed)
	if err := errors.Join(err1, err2, err3); err != nil {
		return err
	}
	m.state.RefreshCounts(pending, successful, failed)
	return nil
}

func (m *Manager) persist(ctx context.Context) {
	cfg := models.AutomationConfig{
		Settings: m.state.Settings(),
		Schedule: m.state.Schedule(),
	}
	if err := m.store.SaveAutomationConfig(context.WithoutCancel(ctx), cfg); err != nil {
		m.log.Warn("failed to persist automation config", zap.Error(err))
	}
}
