package core

import (
	"sync"

	"gwi.com/docchat/internal/vectorstore"
)

// scopeLocks hands out one mutex per scope and forgets it once unused.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[vectorstore.Scope]*scopeLock
}

type scopeLock struct {
	mu   sync.Mutex
	refs int
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[vectorstore.Scope]*scopeLock)}
}

// Lock blocks until the scope is free and returns its unlock function.
func (l *scopeLocks) Lock(scope vectorstore.Scope) func() {
	l.mu.Lock()
	sl, ok := l.locks[scope]
	if !ok {
		sl = &scopeLock{}
		l.locks[scope] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()

		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, scope)
		}
		l.mu.Unlock()
	}
}

func (l *scopeLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
