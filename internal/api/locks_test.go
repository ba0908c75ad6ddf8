package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPortfolioLocksSerializeOnePortfolio(t *testing.T) {
	locks := newPortfolioLocks()

	unlock := locks.lock("p1")
	acquired := make(chan struct{})
	go func() {
		release := locks.lock("p1")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock of p1 acquired while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock of p1 not acquired after unlock")
	}
}

func TestPortfolioLocksIndependentPortfolios(t *testing.T) {
	locks := newPortfolioLocks()

	unlock := locks.lock("p1")
	defer unlock()

	done := make(chan struct{})
	go func() {
		locks.lock("p2")()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock of p2 blocked by p1")
	}
}

func TestPortfolioLocksReleaseEntries(t *testing.T) {
	locks := newPortfolioLocks()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.lock("p1")()
		}()
	}
	wg.Wait()

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}
