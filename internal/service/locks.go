package service

import (
	"strings"
	"sync"
)

// mailboxLocks hands out one mutex per mailbox address. Entries are dropped
// once nobody holds or waits for them.
type mailboxLocks struct {
	mu    sync.Mutex
	locks map[string]*mailboxLock
}

type mailboxLock struct {
	mu   sync.Mutex
	refs int
}

func newMailboxLocks() *mailboxLocks {
	return &mailboxLocks{locks: make(map[string]*mailboxLock)}
}

// Lock blocks until the mailbox is free and returns its unlock function.
func (l *mailboxLocks) Lock(mailbox string) func() {
	key := strings.ToLower(mailbox)

	l.mu.Lock()
	ml, ok := l.locks[key]
	if !ok {
		ml = &mailboxLock{}
		l.locks[key] = ml
	}
	ml.refs++
	l.mu.Unlock()

	ml.mu.Lock()
	return func() {
		ml.mu.Unlock()
		l.mu.Lock()
		ml.refs--
		if ml.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

func (l *mailboxLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
