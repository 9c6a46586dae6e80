// Package subscription keeps the in-memory index of mailbox subscriptions.
//
// Subscriptions live in a single map keyed by their stable id; the mailbox
// and group indexes only hold ids, so every lookup resolves through the same
// record.
package subscription

import (
	"sort"
	"strings"
	"sync"

	"calendar-ledger-sync/internal/model"
)

// Subscription is one mailbox's change feed registration.
type Subscription struct {
	ID      string
	Mailbox string
	Group   string
	Enabled bool
}

// Registry indexes subscriptions by id, mailbox address and group.
type Registry struct {
	mu        sync.RWMutex
	subs      map[string]Subscription
	byMailbox map[string]string
	byGroup   map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		subs:      make(map[string]Subscription),
		byMailbox: make(map[string]string),
		byGroup:   make(map[string]map[string]struct{}),
	}
}

// FromMailbox converts a persisted mailbox.
func FromMailbox(m model.Mailbox) Subscription {
	return Subscription{
		ID:      m.SubscriptionID,
		Mailbox: m.Address,
		Group:   m.Group,
		Enabled: m.Enabled,
	}
}

// Load replaces the registry contents with mailboxes.
func (r *Registry) Load(mailboxes []model.Mailbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string]Subscription, len(mailboxes))
	r.byMailbox = make(map[string]string, len(mailboxes))
	r.byGroup = make(map[string]map[string]struct{})
	for _, m := range mailboxes {
		r.put(FromMailbox(m))
	}
}

// Put adds or replaces a subscription.
func (r *Registry) Put(s Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(s.ID)
	r.put(s)
}

// Remove drops the subscription with id. It reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(id)
}

func (r *Registry) Get(id string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	return s, ok
}

// ByMailbox finds the subscription of a mailbox address, case-insensitively.
func (r *Registry) ByMailbox(address string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byMailbox[normalize(address)]
	if !ok {
		return Subscription{}, false
	}
	return r.subs[id], true
}

// Group lists the subscriptions of group ordered by mailbox.
func (r *Registry) Group(name string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Subscription
	for id := range r.byGroup[name] {
		out = append(out, r.subs[id])
	}
	sortByMailbox(out)
	return out
}

// Groups lists every group name in order.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byGroup))
	for g := range r.byGroup {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Enabled returns the enabled subscriptions ordered by mailbox.
func (r *Registry) Enabled() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Subscription
	for _, s := range r.subs {
		if s.Enabled {
			out = append(out, s)
		}
	}
	sortByMailbox(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Registry) put(s Subscription) {
	if old, ok := r.byMailbox[normalize(s.Mailbox)]; ok && old != s.ID {
		r.remove(old)
	}
	r.subs[s.ID] = s
	r.byMailbox[normalize(s.Mailbox)] = s.ID
	members, ok := r.byGroup[s.Group]
	if !ok {
		members = make(map[string]struct{})
		r.byGroup[s.Group] = members
	}
	members[s.ID] = struct{}{}
}

func (r *Registry) remove(id string) bool {
	s, ok := r.subs[id]
	if !ok {
		return false
	}
	delete(r.subs, id)
	delete(r.byMailbox, normalize(s.Mailbox))
	if members := r.byGroup[s.Group]; members != nil {
		delete(members, id)
		if len(members) == 0 {
			delete(r.byGroup, s.Group)
		}
	}
	return true
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func sortByMailbox(subs []Subscription) {
	sort.Slice(subs, func(i, j int) bool { return subs[i].Mailbox < subs[j].Mailbox })
}
