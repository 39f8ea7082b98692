package shipments

import (
	"sync"

	"github.com/google/uuid"
)

// draftLocks serializes workflow calls per draft. Entries are dropped once
// nobody holds or waits for them.
type draftLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*draftLock
}

type draftLock struct {
	sync.Mutex
	refs int
}

func newDraftLocks() *draftLocks {
	return &draftLocks{locks: make(map[uuid.UUID]*draftLock)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (d *draftLocks) Lock(id uuid.UUID) func() {
	d.mu.Lock()
	l, ok := d.locks[id]
	if !ok {
		l = &draftLock{}
		d.locks[id] = l
	}
	l.refs++
	d.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, id)
		}
		d.mu.Unlock()
	}
}

func (d *draftLocks) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.locks)
}
