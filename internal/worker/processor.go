package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"MailCourier/internal/attachment"
	"MailCourier/internal/email"
	"MailCourier/internal/mapping"
	"MailCourier/internal/metrics"
	"MailCourier/internal/models"
	"MailCourier/internal/state"
	"MailCourier/internal/templates"
	"MailCourier/internal/txlog"
)

var ErrPrecondition = errors.New("mail transport credentials incomplete")

type Store interface {
	GetStatus(ctx context.Context, id int64) (models.EmailStatus, error)
	UpdateStatus(ctx context.Context, id int64, status models.EmailStatus, reason string, sentAt *time.Time) (bool, error)
	CountByStatus(ctx context.Context, status models.EmailStatus) (int, error)
}

type MailTransport interface {
	Credentials() email.Credentials
	CheckConnection(ctx context.Context) error
	Send(ctx context.Context, msg *email.Message) error
}

type AttachmentDecider interface {
	Decide(ctx context.Context, req attachment.Request) (*attachment.Decision, error)
}

type MappingValidator interface {
	Validate(ctx context.Context, jobID int64, recipient, filePath string, alreadyValidated bool) error
}

type TemplateResolver interface {
	Resolve(ctx context.Context, id string) templates.Template
	RenderBody(t templates.Template, data templates.Data) (string, error)
}

type Deps struct {
	Store       Store
	State       *state.State
	Transport   MailTransport
	Attachments AttachmentDecider
	Validator   MappingValidator
	Templates   TemplateResolver
	Limiter     *rate.Limiter
	Sink        txlog.Sink
}

type Config struct {
	QueueWait     time.Duration
	EstimateRatio float64
	KeepArchives  bool
}

// Processor drains one run's queue: race guard, render, validate, attach,
// send and record, one job at a time.
type Processor struct {
	Deps
	cfg Config
	log *zap.Logger
	now func() time.Time
}

func NewProcessor(deps Deps, cfg Config, logger *zap.Logger) *Processor {
	if cfg.QueueWait <= 0 {
		cfg.QueueWait = time.Second
	}
	if deps.Limiter == nil {
		deps.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if deps.Sink == nil {
		deps.Sink = txlog.Multi{}
	}
	return &Processor{
		Deps: deps,
		cfg:  cfg,
		log:  logger.Named("processor"),
		now:  time.Now,
	}
}

type run struct {
	id       string
	kind     models.RunStatus
	settings models.Settings
	limits   attachment.Limits
	template templates.Template
}

// Run processes q until it is empty or a stop is requested. The caller must
// already hold the run gate in State. Only a precondition failure returns an
// error; per-job failures are recorded on the job.
func (p *Processor) Run(ctx context.Context, q *Queue) (models.Summary, error) {
	r := &run{
		id:   p.State.RunID(),
		kind: p.State.Status(),
	}
	log := p.log.With(zap.String("run_id", r.id), zap.String("kind", string(r.kind)))

	p.State.ResetCounters()

	// ----------------------------
	// Preconditions
	// ----------------------------
	if !p.Transport.Credentials().Complete() {
		err := fmt.Errorf("%w: host, port and sender are required", ErrPrecondition)
		log.Error("run aborted", zap.Error(err))
		p.State.Fail(err)
		metrics.Runs.WithLabelValues(string(r.kind), "error").Inc()
		return p.State.Summary(), err
	}
	if err := p.Transport.CheckConnection(ctx); err != nil {
		log.Warn("mail transport check failed", zap.Error(err))
	}

	r.settings = p.State.Settings()
	r.limits = attachment.LimitsFromSettings(r.settings.Attachment, p.cfg.EstimateRatio)
	r.template = p.Templates.Resolve(ctx, r.settings.TemplateID)

	log.Info("run started",
		zap.Int("queued", q.Len()),
		zap.String("template_id", r.template.ID),
	)

	// ----------------------------
	// Queue
	// ----------------------------
	for q.Len() > 0 && !p.State.StopRequested() && ctx.Err() == nil {
		job, ok := q.Pop(ctx, p.cfg.QueueWait)
		if !ok {
			continue
		}
		metrics.QueueDepth.Set(float64(q.Len()))
		p.processJob(ctx, r, job)
	}

	stopped := p.State.StopRequested() || ctx.Err() != nil
	metrics.QueueDepth.Set(0)

	pending, err := p.Store.CountByStatus(context.WithoutCancel(ctx), models.StatusPending)
	if err != nil {
		log.Error("failed to refresh pending count", zap.Error(err))
		pending = p.State.Summary().Pending
	}
	p.State.Finish(p.now(), pending)

	outcome := "completed"
	if stopped {
		outcome = "stopped"
	}
	metrics.Runs.WithLabelValues(string(r.kind), outcome).Inc()

	summary := p.State.Summary()
	log.Info("run finished",
		zap.String("outcome", outcome),
		zap.Int("processed", summary.Processed),
		zap.Int("successful", summary.Successful),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

func (p *Processor) processJob(ctx context.Context, r *run, job models.EmailJob) {
	log := p.log.With(
		zap.String("run_id", r.id),
		zap.Int64("job_id", job.ID),
		zap.String("to", job.Recipient),
	)
	rec := txlog.NewRecord(r.id, string(r.kind), job.ID)
	rec.Recipient = job.Recipient
	rec.Subject = job.Subject

	counted := false
	defer func() {
		if v := recover(); v != nil {
			log.Error("panic while processing job", zap.Any("panic", v), zap.Stack("stack"))
			if !counted {
				p.State.IncProcessed()
			}
			p.fail(ctx, log, job, &rec, fmt.Errorf("internal error: %v", v))
		}
	}()

	// ----------------------------
	// Race guard
	// ----------------------------
	status, err := p.Store.GetStatus(ctx, job.ID)
	if err != nil || status != models.StatusPending {
		log.Info("job skipped, status changed since queueing",
			zap.String("status", string(status)),
			zap.Error(err),
		)
		p.State.IncSkipped()
		metrics.EmailsSkipped.Inc()
		return
	}

	p.State.IncProcessed()
	counted = true

	// ----------------------------
	// Render
	// ----------------------------
	body, err := p.Templates.RenderBody(r.template, templates.Data{
		CompanyName: job.CompanyName,
		Recipient:   job.Recipient,
		Subject:     job.Subject,
		FilePath:    job.FolderPath,
		Date:        p.now(),
	})
	if err != nil {
		p.fail(ctx, log, job, &rec, err)
		return
	}

	// ----------------------------
	// Validate
	// ----------------------------
	if !mapping.Allowed(job.Recipient, r.settings.RecipientAllowlist) {
		p.fail(ctx, log, job, &rec, fmt.Errorf("%w: %s", mapping.ErrNotAllowed, job.Recipient))
		return
	}
	if err := p.Validator.Validate(ctx, job.ID, job.Recipient, job.FolderPath, false); err != nil {
		p.fail(ctx, log, job, &rec, err)
		return
	}

	// ----------------------------
	// Attachments
	// ----------------------------
	msg := &email.Message{To: job.Recipient, Subject: job.Subject, Body: body}
	rec.Mode = string(attachment.ModeNone)
	if job.FolderPath != "" {
		d, err := p.Attachments.Decide(ctx, attachment.Request{
			Path:      job.FolderPath,
			Label:     fmt.Sprintf("job_%d", job.ID),
			Recipient: job.Recipient,
			ShareType: r.settings.SharingOption,
			Limits:    r.limits,
		})
		if err != nil {
			p.fail(ctx, log, job, &rec, err)
			return
		}
		if !p.cfg.KeepArchives {
			defer func() {
				if err := d.Cleanup(); err != nil {
					log.Warn("failed to remove archive", zap.String("path", d.ArchivePath), zap.Error(err))
				}
			}()
		}

		rec.Mode = string(d.Mode)
		rec.Size = d.TotalSize
		for _, f := range d.Local() {
			msg.Attachments = append(msg.Attachments, email.Attachment{Path: f.Path, Name: f.Name, ContentType: f.ContentType})
		}
		if d.LinkBlock != "" {
			msg.Body = appendLinkBlock(msg.Body, d.LinkBlock)
		}
	}
	metrics.AttachmentModes.WithLabelValues(rec.Mode).Inc()

	// ----------------------------
	// Send
	// ----------------------------
	if err := p.deliver(ctx, msg); err != nil {
		if ctx.Err() != nil {
			log.Warn("send interrupted, job left pending", zap.Error(err))
			return
		}
		p.fail(ctx, log, job, &rec, err)
		return
	}

	sentAt := p.now()
	p.record(ctx, log, job, models.StatusSuccess, "", &sentAt)
	p.State.IncSuccessful()
	metrics.EmailsSent.Inc()

	rec.Status = string(models.StatusSuccess)
	p.writeRecord(ctx, log, rec)
	log.Info("email sent successfully", zap.String("attachment_mode", rec.Mode))
}

// deliver waits for the rate limiter and sends msg.
func (p *Processor) deliver(ctx context.Context, msg *email.Message) error {
	if err := p.Limiter.Wait(ctx); err != nil {
		return err
	}
	return p.Transport.Send(ctx, msg)
}

func (p *Processor) fail(ctx context.Context, log *zap.Logger, job models.EmailJob, rec *txlog.Record, cause error) {
	reason := cause.Error()
	log.Error("email job failed", zap.Error(cause))

	p.record(ctx, log, job, models.StatusFailed, reason, nil)
	p.State.IncFailed()
	metrics.EmailFailures.Inc()

	rec.Status = string(models.StatusFailed)
	rec.Reason = reason
	p.writeRecord(ctx, log, *rec)
}

// record persists the job outcome. Failures here are logged only; the run
// carries on.
func (p *Processor) record(ctx context.Context, log *zap.Logger, job models.EmailJob, status models.EmailStatus, reason string, sentAt *time.Time) {
	updated, err := p.Store.UpdateStatus(context.WithoutCancel(ctx), job.ID, status, reason, sentAt)
	if err != nil {
		log.Error("failed to update job status", zap.String("status", string(status)), zap.Error(err))
		return
	}
	if !updated {
		log.Warn("job status changed externally, result not recorded", zap.String("status", string(status)))
	}
}

func (p *Processor) writeRecord(ctx context.Context, log *zap.Logger, rec txlog.Record) {
	if err := p.Sink.Write(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("failed to write transaction record", zap.Error(err))
	}
}

func appendLinkBlock(body, block string) string {
	if i := strings.LastIndex(strings.ToLower(body), "</body>"); i >= 0 {
		return body[:i] + block + body[i:]
	}
	return body + block
}
