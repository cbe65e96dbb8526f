package orchestrator

import "sync"

// leadLocks serializes phase transitions per lead. Each lead has a single
// logical owner at a time; different leads transition independently.
type leadLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newLeadLocks() *leadLocks {
	return &leadLocks{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lead's transition lock and returns its release func.
// Entries are reference-counted so the map does not grow with every lead
// ever seen.
func (l *leadLocks) Lock(leadID string) func() {
	l.mu.Lock()
	e, ok := l.locks[leadID]
	if !ok {
		e = &lockEntry{}
		l.locks[leadID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, leadID)
		}
		l.mu.Unlock()
	}
}
