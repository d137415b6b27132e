package keys

import (
	"sync"

	"github.com/google/uuid"
)

// keyMutex serializes lifecycle operations per mapping id. Without it a
// concurrent update and delete on the same id could interleave so that the
// update's store write lands after the delete, resurrecting the record.
// Entries are reference-counted and removed once the last holder unlocks.
type keyMutex struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*keyMutexEntry
}

type keyMutexEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{entries: make(map[uuid.UUID]*keyMutexEntry)}
}

// Lock acquires the mutex for id, blocking while another lifecycle operation
// holds it. Callers must invoke the returned unlock exactly once.
func (k *keyMutex) Lock(id uuid.UUID) (unlock func()) {
	k.mu.Lock()
	e, ok := k.entries[id]
	if !ok {
		e = &keyMutexEntry{}
		k.entries[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, id)
		}
		k.mu.Unlock()
	}
}
