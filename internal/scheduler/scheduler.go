package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"calendar-ledger-sync/internal/config"
	"calendar-ledger-sync/internal/metrics"
)

// Job names
const (
	JobNotifications = "notifications"
	JobDispatch      = "dispatch"
	JobInvitations   = "invitations"
	JobFullPull      = "full_pull"
	JobReconcile     = "reconcile"
)

// Syncer is the set of synchronization operations the scheduler drives
type Syncer interface {
	ProcessNotifications(ctx context.Context) error
	UpdateAllPendingLedgerEntries(ctx context.Context) error
	PerformFullPull(ctx context.Context) error
	SynchronizeCalendarEvents(ctx context.Context) error
}

// Poller turns new invitation mail into queued notifications
type Poller interface {
	Poll(ctx context.Context) (int, error)
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
	entryID  cron.EntryID
}

// JobStatus describes one scheduled job
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run"`
}

// Scheduler runs the synchronization jobs on their cron schedules
type Scheduler struct {
	cron      *cron.Cron
	jobs      []*job
	config    *config.SchedulerConfig
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler. poller may be nil when the
// invitation watcher is disabled.
func NewScheduler(cfg *config.SchedulerConfig, syncer Syncer, poller Poller, m *metrics.Metrics, log logrus.FieldLogger) *Scheduler {
	s := &Scheduler{
		config:  cfg,
		metrics: m,
		log:     log,
	}

	s.jobs = []*job{
		{name: JobNotifications, schedule: fmt.Sprintf("@every %ds", cfg.NotificationIntervalSeconds), run: syncer.ProcessNotifications},
		{name: JobDispatch, schedule: fmt.Sprintf("@every %ds", cfg.DispatchIntervalSeconds), run: syncer.UpdateAllPendingLedgerEntries},
	}
	if poller != nil && cfg.InviteIntervalMinutes > 0 {
		s.jobs = append(s.jobs, &job{
			name:     JobInvitations,
			schedule: fmt.Sprintf("0 */%d * * * *", cfg.InviteIntervalMinutes),
			run: func(ctx context.Context) error {
				_, err := poller.Poll(ctx)
				return err
			},
		})
	}
	if cfg.FullPullSchedule != "" {
		s.jobs = append(s.jobs, &job{name: JobFullPull, schedule: cfg.FullPullSchedule, run: syncer.PerformFullPull})
	}
	if cfg.ReconcileSchedule != "" {
		s.jobs = append(s.jobs, &job{name: JobReconcile, schedule: cfg.ReconcileSchedule, run: syncer.SynchronizeCalendarEvents})
	}
	return s
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	for _, j := range s.jobs {
		j := j
		entryID, err := c.AddFunc(j.schedule, func() { s.execute(j) })
		if err != nil {
			return fmt.Errorf("failed to add cron job %s: %w", j.name, err)
		}
		j.entryID = entryID
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = c
	s.cron.Start()
	s.isRunning = true

	s.log.WithField("jobs", len(s.jobs)).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running jobs to return
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}

	// Cancel context to stop any running operations
	s.cancel()
	ctx := s.cron.Stop()
	s.isRunning = false
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		s.log.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		s.log.Warn("Scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Jobs returns the configured job names in schedule order
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		names = append(names, j.name)
	}
	return names
}

func (s *Scheduler) execute(j *job) {
	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		s.log.WithField("job", j.name).Info("Scheduler not running, skipping job")
		return
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.RUnlock()
	defer s.wg.Done()

	s.runJob(ctx, j)
}

func (s *Scheduler) runJob(ctx context.Context, j *job) error {
	log := s.log.WithField("job", j.name)
	log.Debug("Starting job")

	start := time.Now()
	err := j.run(ctx)
	if err != nil {
		s.metrics.JobRuns.WithLabelValues(j.name, "error").Inc()
		log.WithError(err).Error("Job failed")
		return err
	}
	s.metrics.JobRuns.WithLabelValues(j.name, "success").Inc()
	log.WithField("duration", time.Since(start).String()).Debug("Job completed")
	return nil
}

// RunOnce runs the named job immediately, or every job in schedule order
// when name is empty. Each job runs even when an earlier one fails; the
// first error is returned.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	var selected []*job
	for _, j := range s.jobs {
		if name == "" || j.name == name {
			selected = append(selected, j)
		}
	}
	if len(selected) == 0 {
		return fmt.Errorf("unknown job %q", name)
	}

	s.log.WithField("job", name).Info("Running jobs once")
	var firstErr error
	for _, j := range selected {
		if err := s.runJob(ctx, j); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", j.name, err)
		}
	}
	return firstErr
}

// Status returns the schedule of every job, sorted by next run
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{Name: j.name, Schedule: j.schedule}
		if s.isRunning {
			entry := s.cron.Entry(j.entryID)
			st.NextRun = entry.Next
			st.LastRun = entry.Prev
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].NextRun.Before(out[k].NextRun) })
	return out
}

// GetNextRun returns the time of the next scheduled run of any job
func (s *Scheduler) GetNextRun() time.Time {
	var next time.Time
	for _, st := range s.Status() {
		if !st.NextRun.IsZero() && (next.IsZero() || st.NextRun.Before(next)) {
			next = st.NextRun
		}
	}
	return next
}

// GetLastRun returns the time of the most recent run of any job
func (s *Scheduler) GetLastRun() time.Time {
	var last time.Time
	for _, st := range s.Status() {
		if st.LastRun.After(last) {
			last = st.LastRun
		}
	}
	return last
}

// Wait waits for running jobs to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// cronLogger adapts a logrus logger to cron.Logger
type cronLogger struct {
	log logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
