package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	NotificationsProcessed *prometheus.CounterVec
	EntriesAppended        *prometheus.CounterVec
	EntriesDispatched      *prometheus.CounterVec
	EntriesSuperseded      prometheus.Counter
	EntriesRequeued        *prometheus.CounterVec
	BatchFailures          *prometheus.CounterVec
	SweepDeletes           *prometheus.CounterVec
	SweepDuration          *prometheus.HistogramVec
	PendingEntries         *prometheus.GaugeVec
	EnabledMailboxes       prometheus.Gauge
	JobRuns                *prometheus.CounterVec
}

// NewMetrics creates new Prometheus metrics registered on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		NotificationsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar_ledger_notifications_processed_total",
			Help: "Total number of processed notifications by outcome",
		}, []string{"outcome"}),
		EntriesAppended: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar_ledger_entries_appended_total",
			Help: "Total number of ledger entries appended by operation and origin",
		}, []string{"operation", "origin"}),
		EntriesDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar_ledger_entries_dispatched_total",
			Help: "Total number of ledger entries sent to the scheduling service by operation and status",
		}, []string{"operation", "status"}),
		EntriesSuperseded: f.NewCounter(prometheus.CounterOpts{
			Name: "calendar_ledger_entries_superseded_total",
			Help: "Total number of pending updates collapsed before dispatch",
		}),
		EntriesRequeued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar_ledger_entries_requeued_total",
			Help: "Total number of rejected entries requeued by resulting operation",
		}, []string{"operation"}),
		BatchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar_ledger_batch_failures_total",
			Help: "Total number of dispatch batches that failed in transport",
		}, []string{"operation"}),
		SweepDeletes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar_ledger_sweep_deletes_total",
			Help: "Total number of events deleted by reconciliation sweeps",
		}, []string{"sweep"}),
		SweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calendar_ledger_sweep_duration_seconds",
			Help:    "Time spent in each synchronization operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		PendingEntries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "calendar_ledger_pending_entries",
			Help: "Number of pending ledger entries per mailbox at the start of a dispatch cycle",
		}, []string{"mailbox"}),
		EnabledMailboxes: f.NewGauge(prometheus.GaugeOpts{
			Name: "calendar_ledger_enabled_mailboxes",
			Help: "Number of mailboxes taking part in synchronization",
		}),
		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "calendar_ledger_job_runs_total",
			Help: "Total number of scheduled job runs by job and result",
		}, []string{"job", "result"}),
	}
}
