package alloc

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/joshuapare/pageheap/heap/page"
	"github.com/joshuapare/pageheap/internal/format"
)

// Allocator is the block allocator. It serves requests smaller than one
// page from partially free pages and returns pages to the provider as soon
// as they become entirely free.
type Allocator struct {
	pp       page.Provider
	cfg      Config
	log      *slog.Logger
	pageSize int
	capacity int // units per page

	mu      sync.Mutex
	buckets [numBuckets]pageList
	stats   Stats

	// Pool for reusing page records between page lifetimes.
	recordPool sync.Pool

	// Test hook: called after the lock is dropped and before a fresh page is
	// requested (nil in production).
	onFreshPage func()
}

// New creates a block allocator drawing pages from pp.
//
// Parameters:
//   - pp: the page provider
//   - cfg: bucket configuration (use nil for DefaultConfig)
func New(pp page.Provider, cfg *Config) (*Allocator, error) {
	if cfg == nil {
		cfg = &DefaultConfig
	}
	c := *cfg
	if err := c.validate(); err != nil {
		return nil, err
	}
	ps := pp.PageSize()
	if !format.IsPow2(ps) || ps < format.MinPageSize {
		return nil, fmt.Errorf("%w: provider page size %d", ErrBadConfig, ps)
	}

	log := c.Logger
	if log == nil {
		log = logAlloc
	}

	return &Allocator{
		pp:       pp,
		cfg:      c,
		log:      log,
		pageSize: ps,
		capacity: ps >> format.UnitShift,
		recordPool: sync.Pool{
			New: func() any {
				return &pageRecord{}
			},
		},
	}, nil
}

// PageSize returns the provider's page size.
func (a *Allocator) PageSize() int { return a.pageSize }

// Provider returns the page provider backing a.
func (a *Allocator) Provider() page.Provider { return a.pp }

// Allocate returns size bytes carved from a page. align, when non-zero,
// must be a power of two no larger than the page size; the returned address
// is a multiple of it. node filters candidate pages by placement node
// (page.NodeAny for no preference).
func (a *Allocator) Allocate(size, align, node int) (page.Addr, error) {
	return a.allocate(size, align, 0, node, false)
}

// AllocateZeroed is Allocate followed by zeroing the returned range.
func (a *Allocator) AllocateZeroed(size, align, node int) (page.Addr, error) {
	return a.allocate(size, align, 0, node, true)
}

// checkAlign validates align and normalizes alignments that every unit
// already satisfies to zero.
func (a *Allocator) checkAlign(align int) (int, error) {
	if align == 0 {
		return 0, nil
	}
	if !format.IsPow2(align) || align > a.pageSize {
		return 0, fmt.Errorf("%w: %d (page size %d)", ErrAlignment, align, a.pageSize)
	}
	if align <= format.UnitSize {
		return 0, nil
	}
	return align, nil
}

// allocate is the common path. alignOff shifts the alignment point: the
// address returned plus alignOff is aligned, which lets Heap align the
// payload behind its header rather than the header itself.
func (a *Allocator) allocate(size, align, alignOff, node int, zero bool) (page.Addr, error) {
	if size <= 0 {
		return 0, ErrBadSize
	}
	if size >= a.pageSize {
		return 0, fmt.Errorf("%w: %d bytes (page size %d)", ErrTooLarge, size, a.pageSize)
	}
	align, err := a.checkAlign(align)
	if err != nil {
		return 0, err
	}

	units := format.Units(size)
	// A fresh page starts aligned, so this is the worst prefix it can need.
	if align != 0 && units+(format.AlignUp(alignOff, align)-alignOff)>>format.UnitShift > a.capacity {
		return 0, fmt.Errorf("%w: %d bytes aligned to %d", ErrTooLarge, size, align)
	}
	b := a.cfg.bucketFor(size)

	a.mu.Lock()
	a.stats.AllocCalls++
	addr, ok := a.search(b, units, align, alignOff, node)
	if ok {
		a.stats.AllocFastPath++
	}
	a.mu.Unlock()

	if !ok {
		addr, err = a.allocFresh(b, units, align, alignOff)
		if err != nil {
			return 0, err
		}
	}

	if zero {
		clear(a.pp.Bytes(addr, size))
	}
	return addr, nil
}

// search walks bucket b for the first page with enough free units whose
// free list yields a fit. Must hold a.mu.
func (a *Allocator) search(b Bucket, units, align, alignOff, node int) (page.Addr, bool) {
	l := &a.buckets[b]
	rec := l.head
	for range l.n {
		if (node == page.NodeAny || rec.desc.Node == node) && rec.units >= units {
			if off, ok := a.firstFit(rec, units, align, alignOff); ok {
				if rec.units == 0 {
					a.unlink(rec)
				} else if l.rotateTo(rec) {
					// Start the next search where this one succeeded.
					a.stats.Rotations++
				}
				return rec.desc.Base + page.Addr(off<<format.UnitShift), true
			}
		}
		rec = rec.next
	}
	return 0, false
}

// allocFresh takes a new page from the provider, links it into bucket b and
// allocates from it. The lock is not held while the provider runs.
func (a *Allocator) allocFresh(b Bucket, units, align, alignOff int) (page.Addr, error) {
	if a.onFreshPage != nil {
		a.onFreshPage()
	}

	base, err := a.pp.Acquire(1, false)
	if err != nil {
		a.log.Debug("page acquire failed", "bucket", b, "units", units, "err", err)
		return 0, fmt.Errorf("%w: %w", ErrNoMemory, err)
	}
	rec := a.newRecord(base)

	a.mu.Lock()
	a.stats.PagesAcquired++
	a.stats.AllocSlowPath++
	a.link(rec, b)
	off, ok := a.firstFit(rec, units, align, alignOff)
	if ok && rec.units == 0 {
		a.unlink(rec)
	}
	if !ok {
		// Unreachable given the size checks in allocate; give the page back
		// rather than keep an entirely free page tracked.
		a.unlink(rec)
		a.stats.PagesReleased++
	}
	a.mu.Unlock()

	a.log.Debug("page acquired", "base", fmt.Sprintf("%#x", uintptr(base)), "bucket", b)
	if !ok {
		a.releasePage(rec)
		return 0, fmt.Errorf("%w: %d units aligned to %d", ErrTooLarge, units, align)
	}
	return base + page.Addr(off<<format.UnitShift), nil
}

// newRecord formats the page at base as a single free block spanning the
// whole page and attaches a record to its descriptor.
func (a *Allocator) newRecord(base page.Addr) *pageRecord {
	desc := a.pp.Lookup(base)
	rec := a.recordPool.Get().(*pageRecord) //nolint:errcheck // pool only holds *pageRecord
	*rec = pageRecord{
		desc:  desc,
		mem:   desc.Mem()[:a.pageSize:a.pageSize],
		units: a.capacity,
		free:  0,
	}
	format.EncodeBlock(rec.mem, 0, a.capacity, a.capacity)
	desc.Owner = rec
	return rec
}

// releasePage detaches rec from its descriptor and hands the page back.
// The record must already be unlinked and the lock dropped.
func (a *Allocator) releasePage(rec *pageRecord) {
	base := rec.desc.Base
	rec.desc.Owner = nil
	*rec = pageRecord{}
	a.recordPool.Put(rec)

	a.pp.Release(base, 1)
	a.log.Debug("page released", "base", fmt.Sprintf("%#x", uintptr(base)))
}

// Deallocate returns size bytes at ptr, previously obtained from Allocate
// with the same size. A page whose every unit is free again is handed
// straight back to the provider.
func (a *Allocator) Deallocate(ptr page.Addr, size int) {
	if ptr == 0 || ptr == ZeroSizePtr {
		return
	}
	desc := a.pp.Lookup(ptr)
	if desc == nil {
		return
	}
	rec, ok := desc.Owner.(*pageRecord)
	if !ok {
		return
	}
	units := format.Units(size)
	off := int(ptr-desc.Base) >> format.UnitShift

	a.mu.Lock()
	a.stats.FreeCalls++

	var reclaim bool
	if rec.units == 0 {
		// The page was full and untracked: the freed range is now its only
		// free block.
		rec.units = units
		rec.free = off
		format.EncodeBlock(rec.mem, off, units, a.capacity)
		if units == a.capacity {
			reclaim = true
		} else {
			a.link(rec, a.cfg.bucketFor(size))
		}
	} else if a.insertAndCoalesce(rec, off, units) == a.capacity {
		a.unlink(rec)
		reclaim = true
	}
	if reclaim {
		a.stats.PagesReleased++
	}
	a.mu.Unlock()

	if reclaim {
		a.releasePage(rec)
	}
}
