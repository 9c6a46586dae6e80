// Package source adapts calendar providers to the snapshots and series
// masters consumed by the synchronization service.
package source

import (
	"errors"
	"sync"
	"time"

	"calendar-ledger-sync/internal/model"
	"calendar-ledger-sync/internal/recurrence"
)

// ErrNotFound is returned when an item no longer exists at the provider.
var ErrNotFound = errors.New("source: item not found")

// Item is either a single appointment snapshot or a recurring series master.
type Item struct {
	Snapshot *model.Snapshot
	Master   *recurrence.Master
}

// IsRecurring reports whether the item must be unfolded.
func (i Item) IsRecurring() bool {
	return i.Master != nil
}

// ICalUID returns the identity shared by the item and its occurrences.
func (i Item) ICalUID() string {
	if i.Master != nil {
		return i.Master.ICalUID
	}
	if i.Snapshot != nil {
		return i.Snapshot.ICalUID
	}
	return ""
}

// seriesCache keeps indexed series between the lookup that produced a master
// and the occurrence requests made while unfolding it.
type seriesCache struct {
	mu sync.Mutex
	m  map[string]*Series
}

func newSeriesCache() *seriesCache {
	return &seriesCache{m: make(map[string]*Series)}
}

func seriesKey(mailbox, uid string) string {
	return mailbox + "|" + uid
}

func (c *seriesCache) put(mailbox, uid string, s *Series) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[seriesKey(mailbox, uid)] = s
}

func (c *seriesCache) get(mailbox, uid string) *Series {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[seriesKey(mailbox, uid)]
}

// overlaps reports whether [s, e) intersects [start, end).
func overlaps(s, e, start, end time.Time) bool {
	return s.Before(end) && e.After(start)
}
