// Package testutil holds helpers shared by the allocator tests.
package testutil

import (
	"sync"
	"testing"

	"github.com/joshuapare/pageheap/heap/page"
)

// CountingProvider wraps a page.Provider and records every Acquire and
// Release that reaches it.
type CountingProvider struct {
	page.Provider

	mu            sync.Mutex
	acquires      int
	releases      int
	pagesAcquired int
	pagesReleased int
	runs          []int // page count of every successful Acquire, in order
	failNext      error

	// OnAcquire, when set, runs before the wrapped Acquire.
	OnAcquire func(count int)
}

// Counts is a snapshot of a CountingProvider.
type Counts struct {
	Acquires      int
	Releases      int
	PagesAcquired int
	PagesReleased int
	Runs          []int
}

// PagesHeld returns pages acquired and not yet released.
func (c Counts) PagesHeld() int {
	return c.PagesAcquired - c.PagesReleased
}

// NewArena returns a counting provider over a fresh page.Arena.
//
// Example:
//
//	pp := testutil.NewArena(t, nil)
//	a, err := alloc.New(pp, nil)
func NewArena(t testing.TB, cfg *page.ArenaConfig) *CountingProvider {
	t.Helper()
	a, err := page.NewArena(cfg)
	if err != nil {
		t.Fatalf("Failed to create arena: %v", err)
	}
	return &CountingProvider{Provider: a}
}

// Acquire implements page.Provider.
func (c *CountingProvider) Acquire(count int, zero bool) (page.Addr, error) {
	if c.OnAcquire != nil {
		c.OnAcquire(count)
	}

	c.mu.Lock()
	if err := c.failNext; err != nil {
		c.failNext = nil
		c.mu.Unlock()
		return 0, err
	}
	c.mu.Unlock()

	base, err := c.Provider.Acquire(count, zero)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.acquires++
	c.pagesAcquired += count
	c.runs = append(c.runs, count)
	c.mu.Unlock()
	return base, nil
}

// Release implements page.Provider.
func (c *CountingProvider) Release(base page.Addr, count int) {
	c.Provider.Release(base, count)

	c.mu.Lock()
	c.releases++
	c.pagesReleased += count
	c.mu.Unlock()
}

// FailNext makes the next Acquire return err without reaching the wrapped
// provider.
func (c *CountingProvider) FailNext(err error) {
	c.mu.Lock()
	c.failNext = err
	c.mu.Unlock()
}

// Counts returns a snapshot of the counters.
func (c *CountingProvider) Counts() Counts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counts{
		Acquires:      c.acquires,
		Releases:      c.releases,
		PagesAcquired: c.pagesAcquired,
		PagesReleased: c.pagesReleased,
		Runs:          append([]int(nil), c.runs...),
	}
}
