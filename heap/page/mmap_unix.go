//go:build unix

package page

import (
	"fmt"
	"math"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/joshuapare/pageheap/internal/format"
)

// MmapConfig configures an Mmap provider.
type MmapConfig struct {
	// PageSize in bytes; must be a multiple of the OS page size. Zero
	// selects format.DefaultPageSize (or the OS page size if larger).
	PageSize int

	// MaxPages caps the pages mapped at any time. Zero means unlimited.
	MaxPages int

	// Node is reported on every descriptor.
	Node int
}

// Mmap is a Provider backed by anonymous private mappings.
type Mmap struct {
	cfg MmapConfig
	tab *table

	mu    sync.Mutex
	inUse int
}

// NewMmap creates an mmap-backed provider.
func NewMmap(cfg *MmapConfig) (*Mmap, error) {
	var c MmapConfig
	if cfg != nil {
		c = *cfg
	}
	osPage := unix.Getpagesize()
	if c.PageSize == 0 {
		c.PageSize = max(format.DefaultPageSize, osPage)
	}
	if c.PageSize%osPage != 0 {
		return nil, fmt.Errorf("mmap: page size %d not a multiple of OS page %d: %w",
			c.PageSize, osPage, ErrBadPageSize)
	}
	if c.MaxPages < 0 {
		return nil, fmt.Errorf("mmap: negative limit: %w", ErrBadCount)
	}
	tab, err := newTable(c.PageSize)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &Mmap{cfg: c, tab: tab}, nil
}

// PageSize implements Provider.
func (m *Mmap) PageSize() int { return m.cfg.PageSize }

// Acquire implements Provider. Anonymous mappings are always zero-filled, so
// the zero flag needs no extra work.
func (m *Mmap) Acquire(count int, _ bool) (Addr, error) {
	if count <= 0 {
		return 0, ErrBadCount
	}
	if count > math.MaxInt/m.cfg.PageSize {
		return 0, fmt.Errorf("mmap: %d pages overflow the address space: %w", count, ErrExhausted)
	}

	m.mu.Lock()
	if m.cfg.MaxPages > 0 && m.inUse+count > m.cfg.MaxPages {
		inUse := m.inUse
		m.mu.Unlock()
		return 0, fmt.Errorf("mmap: %d pages in use, limit %d, want %d: %w",
			inUse, m.cfg.MaxPages, count, ErrExhausted)
	}
	m.inUse += count
	m.mu.Unlock()

	mem, err := m.mapAligned(count * m.cfg.PageSize)
	if err != nil {
		m.mu.Lock()
		m.inUse -= count
		m.mu.Unlock()
		return 0, fmt.Errorf("mmap: %w: %w", err, ErrExhausted)
	}
	base := Addr(uintptr(unsafe.Pointer(&mem[0])))
	m.tab.insert(base, mem, count, m.cfg.Node)
	return base, nil
}

// mapAligned maps size bytes aligned to the page size. It over-maps by one
// page and unmaps the misaligned head and the unused tail.
func (m *Mmap) mapAligned(size int) ([]byte, error) {
	ps := m.cfg.PageSize
	span := size + ps
	if ps == unix.Getpagesize() {
		span = size
	}
	p, err := unix.MmapPtr(-1, 0, nil, uintptr(span),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}

	start := uintptr(p)
	aligned := format.AlignUintptr(start, ps)
	lead := aligned - start
	if lead > 0 {
		if err := unix.MunmapPtr(p, lead); err != nil {
			_ = unix.MunmapPtr(p, uintptr(span))
			return nil, err
		}
	}
	if tail := uintptr(span) - lead - uintptr(size); tail > 0 {
		if err := unix.MunmapPtr(unsafe.Add(p, lead+uintptr(size)), tail); err != nil {
			_ = unix.MunmapPtr(unsafe.Add(p, lead), uintptr(size)+tail)
			return nil, err
		}
	}
	return unsafe.Slice((*byte)(unsafe.Add(p, lead)), size), nil
}

// Release implements Provider.
func (m *Mmap) Release(base Addr, count int) {
	head := m.tab.remove(base, count)
	if head == nil {
		return
	}
	head.Owner = nil
	mem := head.mem
	head.mem = nil
	_ = unix.MunmapPtr(unsafe.Pointer(&mem[0]), uintptr(len(mem)))

	m.mu.Lock()
	m.inUse -= count
	m.mu.Unlock()
}

// Lookup implements Provider.
func (m *Mmap) Lookup(addr Addr) *Descriptor { return m.tab.lookup(addr) }

// Bytes implements Provider.
func (m *Mmap) Bytes(addr Addr, n int) []byte { return m.tab.bytes(addr, n) }

// InUse returns the number of pages currently mapped.
func (m *Mmap) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse
}
