package api

import "sync"

// portfolioLocks serializes the requests that mutate one portfolio. A book
// is loaded, mutated and dropped under the lock of its portfolio.
type portfolioLocks struct {
	mu    sync.Mutex
	locks map[string]*portfolioLock
}

type portfolioLock struct {
	mu   sync.Mutex
	refs int
}

func newPortfolioLocks() *portfolioLocks {
	return &portfolioLocks{locks: make(map[string]*portfolioLock)}
}

// lock blocks until id is free and returns the matching unlock.
func (l *portfolioLocks) lock(id string) func() {
	l.mu.Lock()
	pl, ok := l.locks[id]
	if !ok {
		pl = &portfolioLock{}
		l.locks[id] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()

		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
