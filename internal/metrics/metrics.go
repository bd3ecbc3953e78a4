package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed emails",
		},
	)

	EmailsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_skipped_total",
			Help: "Jobs skipped because their status changed before sending",
		},
	)

	AttachmentModes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attachment_mode_total",
			Help: "Attachment decisions by mode",
		},
		[]string{"mode"},
	)

	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_runs_total",
			Help: "Completed automation runs by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	AutomationRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "automation_running",
			Help: "1 while a queue run is active",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "automation_queue_depth",
			Help: "Jobs left in the current run queue",
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(EmailsSkipped)
	prometheus.MustRegister(AttachmentModes)
	prometheus.MustRegister(Runs)
	prometheus.MustRegister(AutomationRunning)
	prometheus.MustRegister(QueueDepth)
}
