package alloc

import (
	"fmt"
	"math"

	"github.com/joshuapare/pageheap/heap/page"
	"github.com/joshuapare/pageheap/internal/format"
)

const (
	// HeaderSize is the size prefix stored in front of every block-path
	// allocation. It is also the minimum payload alignment.
	HeaderSize = 8

	// ZeroSizePtr is returned for zero-length requests. It is never mapped
	// and Free ignores it.
	ZeroSizePtr = page.Addr(16)
)

// largeRun marks a descriptor whose run was handed out whole by Heap.
type largeRun struct{}

// Heap serves variable-sized requests and remembers their sizes so callers
// only need the pointer to free or measure an allocation.
type Heap struct {
	a  *Allocator
	pp page.Provider
	ps int
}

// NewHeap wraps a block allocator.
func NewHeap(a *Allocator) *Heap {
	return &Heap{a: a, pp: a.pp, ps: a.pageSize}
}

// Allocator returns the underlying block allocator.
func (h *Heap) Allocator() *Allocator { return h.a }

// Alloc returns n bytes aligned to HeaderSize.
func (h *Heap) Alloc(n int) (page.Addr, error) {
	return h.alloc(n, 0, false)
}

// AllocAlign returns n bytes aligned to align, which must be a power of two
// no larger than the page size.
func (h *Heap) AllocAlign(n, align int) (page.Addr, error) {
	return h.alloc(n, align, false)
}

// Zalloc returns n zeroed bytes.
func (h *Heap) Zalloc(n int) (page.Addr, error) {
	return h.alloc(n, 0, true)
}

func (h *Heap) alloc(n, align int, zero bool) (page.Addr, error) {
	if n < 0 {
		return 0, ErrBadSize
	}
	if align != 0 && (!format.IsPow2(align) || align > h.ps) {
		return 0, fmt.Errorf("%w: %d (page size %d)", ErrAlignment, align, h.ps)
	}
	if n == 0 {
		return ZeroSizePtr, nil
	}
	align = max(align, HeaderSize)

	if n < h.ps-format.AlignUp(HeaderSize, align) {
		m, err := h.a.allocate(n+HeaderSize, align, HeaderSize, page.NodeAny, zero)
		if err != nil {
			return 0, err
		}
		format.PutU64(h.pp.Bytes(m, HeaderSize), 0, uint64(n))
		return m + HeaderSize, nil
	}
	return h.allocPages(n, zero)
}

// allocPages serves n bytes as a whole run of pages.
func (h *Heap) allocPages(n int, zero bool) (page.Addr, error) {
	count := format.PagesFor(n, h.ps)
	if count > math.MaxInt/h.ps {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	base, err := h.pp.Acquire(count, zero)
	if err != nil {
		return 0, fmt.Errorf("%w: %d pages: %w", ErrNoMemory, count, err)
	}
	h.pp.Lookup(base).Owner = largeRun{}
	h.a.noteLarge(count, true)
	return base, nil
}

// Free releases an allocation made by Alloc, AllocAlign, Zalloc or Realloc.
// Freeing ZeroSizePtr or 0 does nothing.
func (h *Heap) Free(ptr page.Addr) {
	if ptr == 0 || ptr == ZeroSizePtr {
		return
	}
	desc := h.pp.Lookup(ptr)
	if desc == nil {
		return
	}
	head := desc.Head()
	switch head.Owner.(type) {
	case *pageRecord:
		m := ptr - HeaderSize
		n := int(format.ReadU64(h.pp.Bytes(m, HeaderSize), 0))
		h.a.Deallocate(m, n+HeaderSize)
	case largeRun:
		count := head.Pages()
		h.pp.Release(head.Base, count)
		h.a.noteLarge(count, false)
	}
}

// SizeOf returns the usable size of the allocation at ptr: the requested
// size rounded up to whole units, or the whole run for page allocations.
func (h *Heap) SizeOf(ptr page.Addr) int {
	if ptr == 0 || ptr == ZeroSizePtr {
		return 0
	}
	desc := h.pp.Lookup(ptr)
	if desc == nil {
		return 0
	}
	head := desc.Head()
	switch head.Owner.(type) {
	case *pageRecord:
		n := int(format.ReadU64(h.pp.Bytes(ptr-HeaderSize, HeaderSize), 0))
		return format.Units(n) * format.UnitSize
	case largeRun:
		return head.Pages() * h.ps
	}
	return 0
}

// Realloc resizes the allocation at ptr to n bytes. When the existing
// allocation already holds n bytes it is returned unchanged; otherwise the
// contents move to a new allocation. n == 0 frees ptr and returns
// ZeroSizePtr.
func (h *Heap) Realloc(ptr page.Addr, n int) (page.Addr, error) {
	if n < 0 {
		return 0, ErrBadSize
	}
	if ptr == 0 || ptr == ZeroSizePtr {
		return h.Alloc(n)
	}
	if n == 0 {
		h.Free(ptr)
		return ZeroSizePtr, nil
	}

	have := h.SizeOf(ptr)
	if have >= n {
		return ptr, nil
	}
	np, err := h.Alloc(n)
	if err != nil {
		return 0, err
	}
	copy(h.pp.Bytes(np, have), h.pp.Bytes(ptr, have))
	h.Free(ptr)
	return np, nil
}

// Bytes returns a view of n bytes at ptr. n must not exceed SizeOf(ptr).
func (h *Heap) Bytes(ptr page.Addr, n int) []byte {
	if n == 0 {
		return nil
	}
	return h.pp.Bytes(ptr, n)
}
