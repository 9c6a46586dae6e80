// Package service folds calendar observations into the ledger and drives
// dispatch and reconciliation against the remote scheduling service.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"calendar-ledger-sync/internal/config"
	"calendar-ledger-sync/internal/decision"
	"calendar-ledger-sync/internal/metrics"
	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/recurrence"
	"calendar-ledger-sync/internal/remote"
	"calendar-ledger-sync/internal/repository"
	"calendar-ledger-sync/internal/source"
	"calendar-ledger-sync/internal/subscription"
)

// CalendarSource reads appointments from the mailbox calendar provider.
type CalendarSource interface {
	GetByID(ctx context.Context, mailbox, id string) (source.Item, error)
	GetByICalUID(ctx context.Context, mailbox, uid string) (source.Item, error)
	GetByMailbox(ctx context.Context, mailbox string, start, end time.Time) ([]source.Item, error)
	Occurrence(ctx context.Context, master *recurrence.Master, index int) (recurrence.OccurrenceResult, error)
}

// SchedulingService is the remote side of the synchronization.
type SchedulingService interface {
	Create(ctx context.Context, mailbox string, items []remote.Item) ([]remote.ItemResult, error)
	Update(ctx context.Context, mailbox string, items []remote.Item) ([]remote.ItemResult, error)
	Delete(ctx context.Context, mailbox string, items []remote.Item) ([]remote.ItemResult, error)
	GetAll(ctx context.Context, mailboxes []string, start, end time.Time) ([]remote.Event, error)
}

// ErrContract marks a source answer that violates the provider contract.
// Such failures are archived and never retried.
var ErrContract = errors.New("calendar source contract violation")

// Options tunes the service.
type Options struct {
	WindowDays     int
	FetchWorkers   int
	MailboxWorkers int
	BatchSize      int
	MaxResends     int
	UnfoldMaxScan  int
	UnfoldBuffer   int
}

// OptionsFromConfig extracts the service options from cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		WindowDays:     cfg.Sync.WindowDays,
		FetchWorkers:   cfg.Sync.FetchWorkers,
		MailboxWorkers: cfg.Sync.MailboxWorkers,
		BatchSize:      cfg.Dispatch.BatchSize,
		MaxResends:     cfg.Dispatch.MaxResends,
		UnfoldMaxScan:  cfg.Sync.UnfoldMaxScan,
		UnfoldBuffer:   cfg.Sync.UnfoldBuffer,
	}
}

// SyncService owns every ledger write. Writes for one mailbox are serialized;
// different mailboxes proceed independently.
type SyncService struct {
	repo     *repository.Repository
	source   CalendarSource
	remote   SchedulingService
	engine   *decision.Engine
	unfolder recurrence.Unfolder
	registry *subscription.Registry
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	opts     Options
	locks    *mailboxLocks
}

// NewSyncService creates a new sync service
func NewSyncService(
	repo *repository.Repository,
	src CalendarSource,
	scheduling SchedulingService,
	engine *decision.Engine,
	registry *subscription.Registry,
	m *metrics.Metrics,
	log logrus.FieldLogger,
	opts Options,
) *SyncService {
	if opts.WindowDays <= 0 {
		opts.WindowDays = 90
	}
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = 1
	}
	if opts.MailboxWorkers <= 0 {
		opts.MailboxWorkers = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &SyncService{
		repo:     repo,
		source:   src,
		remote:   scheduling,
		engine:   engine,
		unfolder: recurrence.Unfolder{MaxScan: opts.UnfoldMaxScan, Buffer: opts.UnfoldBuffer},
		registry: registry,
		metrics:  m,
		log:      log,
		opts:     opts,
		locks:    newMailboxLocks(),
	}
}

// Window returns the active synchronization window [today, today+days).
func (s *SyncService) Window() (time.Time, time.Time) {
	start := s.engine.Today()
	return start, start.AddDate(0, 0, s.opts.WindowDays)
}

// RefreshSubscriptions reloads the subscription registry from the database
// and returns the enabled mailbox addresses.
func (s *SyncService) RefreshSubscriptions(ctx context.Context) ([]string, error) {
	mailboxes, err := s.repo.ListMailboxes(ctx)
	if err != nil {
		return nil, err
	}
	s.registry.Load(mailboxes)

	enabled := s.registry.Enabled()
	out := make([]string, 0, len(enabled))
	for _, sub := range enabled {
		out = append(out, sub.Mailbox)
	}
	s.metrics.EnabledMailboxes.Set(float64(len(out)))
	return out, nil
}

// forEachMailbox runs fn for every mailbox with at most MailboxWorkers in
// flight. Failures are collected and never stop other mailboxes.
func (s *SyncService) forEachMailbox(ctx context.Context, mailboxes []string, fn func(ctx context.Context, mailbox string) error) error {
	p := pool.New().WithContext(ctx).WithMaxGoroutines(s.opts.MailboxWorkers)
	for _, mb := range mailboxes {
		mb := mb
		p.Go(func(ctx context.Context) error {
			if err := fn(ctx, mb); err != nil {
				s.log.WithError(err).WithField("mailbox", mb).Error("Mailbox synchronization failed")
				return fmt.Errorf("%s: %w", mb, err)
			}
			return nil
		})
	}
	return p.Wait()
}

// expand turns a source item into the snapshots to reconcile, unfolding
// masters over [start, end).
func (s *SyncService) expand(ctx context.Context, item source.Item, start, end time.Time) ([]model.Snapshot, error) {
	switch {
	case item.Master != nil:
		snaps, err := s.unfolder.Unfold(ctx, s.source, item.Master, start, end)
		if errors.Is(err, recurrence.ErrNotRecurring) {
			return nil, fmt.Errorf("%w: %v", ErrContract, err)
		}
		return snaps, err
	case item.Snapshot != nil:
		return []model.Snapshot{*item.Snapshot}, nil
	default:
		return nil, fmt.Errorf("%w: item has neither snapshot nor master", ErrContract)
	}
}

// reconcileSnapshot decides snap against its current entry and appends the
// resulting operation. The caller holds the mailbox lock.
func (s *SyncService) reconcileSnapshot(ctx context.Context, snap model.Snapshot, origin string) (bool, error) {
	logicalID := snap.LogicalID()
	latest, err := s.repo.LatestForIdentity(ctx, snap.Mailbox, logicalID)
	if err != nil {
		return false, err
	}

	ok, op := s.engine.Decide(snap, latest)
	if !ok {
		return false, nil
	}
	if err := s.appendEntry(ctx, repository.Append{
		Mailbox:   snap.Mailbox,
		LogicalID: logicalID,
		Operation: op,
		Start:     snap.Start,
		End:       snap.End,
	}, origin); err != nil {
		return false, err
	}
	return true, nil
}

func (s *SyncService) appendEntry(ctx context.Context, a repository.Append, origin string) error {
	entry, err := s.repo.AppendEntry(ctx, a)
	if err != nil {
		return err
	}
	s.metrics.EntriesAppended.WithLabelValues(string(a.Operation), origin).Inc()
	s.log.WithFields(logrus.Fields{
		"mailbox":    a.Mailbox,
		"logical_id": a.LogicalID,
		"operation":  a.Operation,
		"entry_id":   entry.ID,
		"origin":     origin,
	}).Info("Appended ledger entry")
	return nil
}

// deleteMissing appends a DELETE carrying the last known interval for every
// active event in states that missing selects. It returns the deletes made.
func (s *SyncService) deleteMissing(ctx context.Context, mailbox string, states []repository.EventState, origin string, missing func(repository.EventState) bool) (int, error) {
	deleted := 0
	for _, st := range states {
		if st.Event.IsDeleted {
			continue
		}
		if st.Latest == nil {
			s.log.WithFields(logrus.Fields{
				"mailbox":    mailbox,
				"logical_id": st.Event.LogicalID,
			}).Error("Active event has no ledger entries")
			continue
		}
		if st.Latest.Operation == model.OperationDelete || !missing(st) {
			continue
		}
		err := s.appendEntry(ctx, repository.Append{
			Mailbox:   mailbox,
			LogicalID: st.Event.LogicalID,
			Operation: model.OperationDelete,
			Start:     st.Latest.Start,
			End:       st.Latest.End,
		}, origin)
		if err != nil {
			return deleted, err
		}
		s.metrics.SweepDeletes.WithLabelValues(origin).Inc()
		deleted++
	}
	return deleted, nil
}

// IntervalOverlapsWindow reports whether [S, E) overlaps the window
// [start, end): start or end falls inside [S, E), or [S, E) lies within the
// window.
func IntervalOverlapsWindow(S, E, start, end time.Time) bool {
	inside := func(t time.Time) bool { return !t.Before(S) && t.Before(E) }
	return inside(start) || inside(end) || (!S.Before(start) && !E.After(end))
}

// seriesPrefix returns the logical id prefix shared by the occurrences of a
// series.
func seriesPrefix(uid string) string {
	return uid + "_"
}

func belongsToSeries(logicalID string, uids map[string]struct{}) bool {
	if i := strings.LastIndex(logicalID, "_"); i > 0 {
		_, ok := uids[logicalID[:i]]
		return ok
	}
	return false
}

// sortSnapshots orders snapshots by start.
func sortSnapshots(snaps []model.Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Start.Before(snaps[j].Start) })
}
