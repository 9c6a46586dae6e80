package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calendar-ledger-sync/internal/model"
)

// ErrNotRecurring is returned when Unfold receives a master without a pattern.
var ErrNotRecurring = errors.New("recurrence: master has no recurrence pattern")

// OccurrenceStatus tells the unfolder what the source found at an index.
type OccurrenceStatus int

const (
	// OccurrenceFound carries a snapshot.
	OccurrenceFound OccurrenceStatus = iota
	// OccurrenceDeleted means the occurrence was removed from the series.
	OccurrenceDeleted
	// SeriesExhausted means no occurrence exists at or beyond the index.
	SeriesExhausted
)

// OccurrenceResult is the outcome of a single indexed occurrence lookup.
type OccurrenceResult struct {
	Status   OccurrenceStatus
	Snapshot model.Snapshot
}

// Found wraps a snapshot in a result.
func Found(s model.Snapshot) OccurrenceResult {
	return OccurrenceResult{Status: OccurrenceFound, Snapshot: s}
}

// OccurrenceSource fetches the occurrence at a 1-based index of a series.
// Errors are reserved for genuine faults; deletion and exhaustion are
// reported through OccurrenceResult.Status.
type OccurrenceSource interface {
	Occurrence(ctx context.Context, master *Master, index int) (OccurrenceResult, error)
}

const (
	DefaultMaxScan = 200
	DefaultBuffer  = 1
)

// Unfolder expands series masters. The zero value uses the defaults.
type Unfolder struct {
	// MaxScan caps how many indices past the candidate start are requested.
	MaxScan int
	// Buffer is subtracted from the estimated start index; values below one
	// are treated as one.
	Buffer int
}

// Unfold returns the occurrences of master overlapping [start, end), followed
// by reconstructed snapshots for the series' explicit deletions.
func (u Unfolder) Unfold(ctx context.Context, src OccurrenceSource, master *Master, start, end time.Time) ([]model.Snapshot, error) {
	if master == nil || master.Pattern == nil {
		return nil, ErrNotRecurring
	}

	if master.Range.EndDate != nil && master.Range.EndDate.Before(start) {
		return nil, nil
	}
	if master.Range.StartDate.After(end) {
		return nil, nil
	}

	index := startIndex(master, start, u.buffer())
	if master.Range.Count > 0 && master.Range.Count < index {
		return nil, nil
	}

	var out []model.Snapshot
	last := index + u.maxScan()
	for i := index; i < last; i++ {
		res, err := src.Occurrence(ctx, master, i)
		if err != nil {
			return nil, fmt.Errorf("occurrence %d of %s: %w", i, master.ICalUID, err)
		}
		if res.Status == SeriesExhausted {
			break
		}
		if res.Status == OccurrenceDeleted {
			continue
		}
		occ := res.Snapshot
		if !occ.Start.Before(end) {
			break
		}
		if overlapsWindow(occ.Start, occ.End, start, end) {
			out = append(out, occ)
		}
	}

	out = append(out, deletedOccurrences(master, start, end)...)
	return out, nil
}

// deletedOccurrences rebuilds cancelled snapshots for explicit deletions,
// which the source does not return through indexed lookups.
func deletedOccurrences(m *Master, start, end time.Time) []model.Snapshot {
	var out []model.Snapshot
	for _, orig := range m.Deleted {
		orig := orig
		s := orig
		e := orig.Add(m.Duration())
		if !overlapsWindow(s, e, start, end) {
			continue
		}
		out = append(out, model.Snapshot{
			ItemID:        m.ItemID,
			ICalUID:       m.ICalUID,
			Mailbox:       m.Mailbox,
			Subject:       m.Subject,
			Start:         s,
			End:           e,
			IsCancelled:   true,
			IsDeleted:     true,
			IsRecurring:   true,
			InstanceStart: &orig,
		})
	}
	return out
}

func overlapsWindow(s, e, start, end time.Time) bool {
	if !s.Before(end) {
		return false
	}
	return e.After(start) || !s.Before(start)
}

func (u Unfolder) maxScan() int {
	if u.MaxScan <= 0 {
		return DefaultMaxScan
	}
	return u.MaxScan
}

func (u Unfolder) buffer() int {
	if u.Buffer < 1 {
		return DefaultBuffer
	}
	return u.Buffer
}
