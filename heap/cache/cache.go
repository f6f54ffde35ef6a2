// Package cache provides object caches: allocators for many objects of one
// size and alignment, optionally constructed on allocation and optionally
// released only after a grace period.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/pageheap/heap/alloc"
	"github.com/joshuapare/pageheap/heap/page"
	"github.com/joshuapare/pageheap/heap/quiesce"
	"github.com/joshuapare/pageheap/internal/format"
	"github.com/joshuapare/pageheap/internal/logger"
)

var (
	// ErrDestroyed is returned by Alloc after Destroy.
	ErrDestroyed = errors.New("cache: destroyed")

	// ErrBadSize indicates a non-positive item size.
	ErrBadSize = errors.New("cache: bad item size")
)

// Flags select optional cache behaviour.
type Flags uint

const (
	// FlagDeferredRelease delays the release of freed objects until the
	// cache's scheduler says readers are done with them.
	FlagDeferredRelease Flags = 1 << iota

	// FlagHWCacheAlign aligns objects to the cache line size.
	FlagHWCacheAlign

	// FlagZero clears every object before the constructor sees it.
	FlagZero
)

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	s := ""
	for _, n := range []struct {
		f    Flags
		name string
	}{
		{FlagDeferredRelease, "deferred"},
		{FlagHWCacheAlign, "hwalign"},
		{FlagZero, "zero"},
	} {
		if f&n.f != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	return s
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	sched quiesce.Scheduler
	node  int
	log   *slog.Logger
}

// WithScheduler sets the scheduler used by FlagDeferredRelease. Without it
// the cache runs a private quiesce.Domain.
func WithScheduler(s quiesce.Scheduler) Option {
	return func(o *options) { o.sched = s }
}

// WithNode sets the placement hint passed to the block allocator.
func WithNode(node int) Option {
	return func(o *options) { o.node = node }
}

// WithLogger sets the cache's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Cache hands out objects of a single size.
type Cache struct {
	a     *alloc.Allocator
	pp    page.Provider
	name  string
	size  int
	align int
	flags Flags
	ctor  func([]byte)
	node  int
	log   *slog.Logger

	pages int // pages per object when objects do not fit a page; 0 otherwise

	sched   quiesce.Scheduler
	private *quiesce.Domain

	// mu is held while setting destroyed and while adding to pending.
	mu        sync.Mutex
	destroyed atomic.Bool
	pending   sync.WaitGroup
	live      atomic.Int64
	deferred  atomic.Int64
}

// New creates a cache of size-byte objects drawn from h's allocator.
//
// Parameters:
//   - h: heap whose block allocator and page provider back the cache
//   - name: label used in logs
//   - size: object size in bytes
//   - align: object alignment; 0 for the unit alignment
//   - flags: FlagDeferredRelease, FlagHWCacheAlign, FlagZero
//   - ctor: run on every object before Alloc returns it (may be nil)
func New(h *alloc.Heap, name string, size, align int, flags Flags, ctor func([]byte), opts ...Option) (*Cache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadSize, size)
	}
	a := h.Allocator()
	ps := a.PageSize()
	if align != 0 && (!format.IsPow2(align) || align > ps) {
		return nil, fmt.Errorf("cache %s: %w: %d", name, alloc.ErrAlignment, align)
	}
	if flags&FlagHWCacheAlign != 0 {
		align = max(align, format.CacheLineSize)
	}

	o := options{node: page.NodeAny}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Discard
	}

	c := &Cache{
		a:     a,
		pp:    a.Provider(),
		name:  name,
		size:  size,
		align: align,
		flags: flags,
		ctor:  ctor,
		node:  o.node,
		log:   o.log.With("cache", name),
		sched: o.sched,
	}
	if size >= ps {
		c.pages = format.PagesFor(size, ps)
	}
	if flags&FlagDeferredRelease != 0 && c.sched == nil {
		c.private = quiesce.NewDomain(c.log)
		c.sched = c.private
	}
	return c, nil
}

// Name returns the cache's label.
func (c *Cache) Name() string { return c.name }

// Size returns the object size.
func (c *Cache) Size() int { return c.size }

// Align returns the effective object alignment.
func (c *Cache) Align() int { return c.align }

// Flags returns the cache's flags.
func (c *Cache) Flags() Flags { return c.flags }

// Live returns the number of objects allocated and not yet released.
// Objects waiting on a deferred release still count.
func (c *Cache) Live() int64 { return c.live.Load() }

// Deferred returns the number of releases scheduled and not yet run.
func (c *Cache) Deferred() int64 { return c.deferred.Load() }

// Alloc returns one object.
func (c *Cache) Alloc() (page.Addr, error) {
	if c.destroyed.Load() {
		return 0, ErrDestroyed
	}

	var (
		ptr page.Addr
		err error
	)
	zero := c.flags&FlagZero != 0
	if c.pages == 0 {
		if zero {
			ptr, err = c.a.AllocateZeroed(c.size, c.align, c.node)
		} else {
			ptr, err = c.a.Allocate(c.size, c.align, c.node)
		}
	} else {
		ptr, err = c.pp.Acquire(c.pages, zero)
		if err != nil {
			err = fmt.Errorf("%w: %d pages: %w", alloc.ErrNoMemory, c.pages, err)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("cache %s: %w", c.name, err)
	}

	c.live.Add(1)
	if c.ctor != nil {
		c.ctor(c.pp.Bytes(ptr, c.size))
	}
	return ptr, nil
}

// Bytes returns the memory of the object at ptr.
func (c *Cache) Bytes(ptr page.Addr) []byte {
	return c.pp.Bytes(ptr, c.size)
}

// Free returns an object obtained from Alloc. With FlagDeferredRelease the
// memory stays valid until the scheduler runs the release. Objects freed
// after Destroy has begun are released at once.
func (c *Cache) Free(ptr page.Addr) {
	if ptr == 0 {
		return
	}
	if c.flags&FlagDeferredRelease == 0 {
		c.release(ptr)
		return
	}

	c.mu.Lock()
	if c.destroyed.Load() {
		c.mu.Unlock()
		c.log.Warn("free after destroy, releasing immediately", "ptr", fmt.Sprintf("%#x", uintptr(ptr)))
		c.release(ptr)
		return
	}
	c.pending.Add(1)
	c.deferred.Add(1)
	c.mu.Unlock()

	c.sched.Schedule(func() {
		c.release(ptr)
		c.deferred.Add(-1)
		c.pending.Done()
	})
}

func (c *Cache) release(ptr page.Addr) {
	if c.pages == 0 {
		c.a.Deallocate(ptr, c.size)
	} else {
		c.pp.Release(ptr, c.pages)
	}
	c.live.Add(-1)
}

// AllocBulk fills ptrs with new objects. On failure the objects already
// allocated are released and the error is returned.
func (c *Cache) AllocBulk(ptrs []page.Addr) error {
	for i := range ptrs {
		p, err := c.Alloc()
		if err != nil {
			for _, q := range ptrs[:i] {
				c.release(q)
			}
			clear(ptrs[:i])
			return err
		}
		ptrs[i] = p
	}
	return nil
}

// FreeBulk frees every object in ptrs.
func (c *Cache) FreeBulk(ptrs []page.Addr) {
	for _, p := range ptrs {
		c.Free(p)
	}
}

// Destroy refuses further allocations and waits for pending deferred
// releases. Objects still live are not reclaimed.
func (c *Cache) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if !c.destroyed.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("cache %s: waiting for deferred releases: %w", c.name, ctx.Err())
	}

	if c.private != nil {
		c.private.Close()
	}
	if n := c.live.Load(); n != 0 {
		c.log.Warn("destroyed with live objects", "live", n)
	}
	return nil
}
