package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"MailCourier/internal/models"
)

// Runner starts a queue run. IsRunning is checked before every trigger.
type Runner interface {
	IsRunning() bool
	Start(ctx context.Context) (models.StatusReport, error)
}

// ScheduleState is the part of the automation state the loop reads and
// updates.
type ScheduleState interface {
	Schedule() models.Schedule
	AdvanceNextRun(seen, lastRun *time.Time, calc func(models.Schedule) time.Time) (models.Schedule, bool)
}

type LoopConfig struct {
	Interval time.Duration
	// OnUpdate is called with the schedule after nextRun changes.
	OnUpdate func(ctx context.Context, s models.Schedule)
}

// Loop polls the schedule on a fixed interval and starts a run when nextRun
// is due.
type Loop struct {
	state  ScheduleState
	runner Runner
	cfg    LoopConfig
	log    *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	cronLog *cronLogger
	cancel  context.CancelFunc
}

func NewLoop(st ScheduleState, runner Runner, cfg LoopConfig, logger *zap.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Loop{
		state:  st,
		runner: runner,
		cfg:    cfg,
		log:    logger.Named("scheduler"),
		now:    time.Now,
	}
}

// Start begins polling. Calling it on a running loop does nothing.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cron != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	clog := &cronLogger{s: l.log.Sugar()}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.SkipIfStillRunning(clog)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", l.cfg.Interval), func() { l.Tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule poll: %w", err)
	}
	c.Start()

	l.cron = c
	l.cronLog = clog
	l.cancel = cancel
	l.log.Info("scheduler started", zap.Duration("interval", l.cfg.Interval))
	return nil
}

// Stop halts polling and waits for an in-flight tick. Calling it on a stopped
// loop does nothing.
func (l *Loop) Stop() {
	l.mu.Lock()
	c, clog, cancel := l.cron, l.cronLog, l.cancel
	l.cron, l.cronLog, l.cancel = nil, nil, nil
	l.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	// cron's own goroutine may still log after its jobs are done.
	clog.close()
	cancel()
	l.log.Info("scheduler stopped")
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cron != nil
}

// Tick runs one poll: when nextRun is due it records lastRun, starts a run if
// none is active and computes the following nextRun.
func (l *Loop) Tick(ctx context.Context) {
	sch := l.state.Schedule()
	if !sch.Enabled {
		return
	}
	now := l.now()

	if sch.NextRun == nil {
		l.advance(ctx, nil, nil, now)
		return
	}
	if now.Before(*sch.NextRun) {
		return
	}

	if l.runner.IsRunning() {
		l.log.Info("scheduled run due but a run is active, skipping")
	} else if report, err := l.runner.Start(ctx); err != nil {
		l.log.Error("scheduled run failed to start", zap.Error(err))
	} else {
		l.log.Info("scheduled run triggered",
			zap.String("status", string(report.Status)),
			zap.Int("pending", report.Summary.Pending),
		)
	}

	l.advance(ctx, sch.NextRun, &now, now)
}

// advance recomputes nextRun from the schedule as it is now, not from the
// copy read before starting the run.
func (l *Loop) advance(ctx context.Context, seen, lastRun *time.Time, now time.Time) {
	sch, moved := l.state.AdvanceNextRun(seen, lastRun, func(s models.Schedule) time.Time {
		return NextRunOrFallback(s, now, l.log)
	})
	if !moved {
		l.log.Info("schedule changed during tick, keeping its next run")
	} else if sch.NextRun != nil {
		l.log.Info("next scheduled run", zap.Time("next_run", *sch.NextRun))
	}
	l.notify(ctx, sch)
}

func (l *Loop) notify(ctx context.Context, s models.Schedule) {
	if l.cfg.OnUpdate != nil {
		l.cfg.OnUpdate(ctx, s)
	}
}

// cronLogger adapts zap to cron.Logger. Once closed it drops every entry.
type cronLogger struct {
	mu     sync.RWMutex
	closed bool
	s      *zap.SugaredLogger
}

func (c *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.closed {
		c.s.Debugw(msg, keysAndValues...)
	}
}

func (c *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.closed {
		c.s.Errorw(msg, append(keysAndValues, "error", err)...)
	}
}

func (c *cronLogger) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
