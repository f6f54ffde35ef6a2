package page

import (
	"fmt"
	"math"
	"sync"

	"github.com/joshuapare/pageheap/internal/format"
)

// arenaBase is where the synthetic address space starts. Zero and the low
// addresses stay unmapped so sentinels never collide with real pages.
const arenaBase = Addr(1) << 32

// ArenaConfig configures an Arena.
type ArenaConfig struct {
	// PageSize in bytes. Zero selects format.DefaultPageSize.
	PageSize int

	// MaxPages caps the pages in use at any time. Zero means unlimited.
	MaxPages int

	// Retain is how many released single pages are kept for reuse instead of
	// being handed back to the Go heap.
	Retain int

	// Node is reported on every descriptor the arena creates.
	Node int
}

// DefaultArenaConfig is used when NewArena is given nil.
var DefaultArenaConfig = ArenaConfig{
	PageSize: format.DefaultPageSize,
	Retain:   16,
}

// Arena is a Provider backed by Go memory.
type Arena struct {
	cfg ArenaConfig
	tab *table

	mu    sync.Mutex
	next  Addr
	inUse int
	spare []spare
}

type spare struct {
	base Addr
	mem  []byte
}

// NewArena creates an arena provider.
func NewArena(cfg *ArenaConfig) (*Arena, error) {
	if cfg == nil {
		cfg = &DefaultArenaConfig
	}
	c := *cfg
	if c.PageSize == 0 {
		c.PageSize = format.DefaultPageSize
	}
	if c.MaxPages < 0 || c.Retain < 0 {
		return nil, fmt.Errorf("arena: negative limit: %w", ErrBadCount)
	}
	tab, err := newTable(c.PageSize)
	if err != nil {
		return nil, fmt.Errorf("arena: %w", err)
	}
	return &Arena{
		cfg:  c,
		tab:  tab,
		next: Addr(format.AlignUintptr(uintptr(arenaBase), c.PageSize)),
	}, nil
}

// PageSize implements Provider.
func (a *Arena) PageSize() int { return a.cfg.PageSize }

// Acquire implements Provider.
func (a *Arena) Acquire(count int, zero bool) (Addr, error) {
	if count <= 0 {
		return 0, ErrBadCount
	}
	if count > math.MaxInt/a.cfg.PageSize {
		return 0, fmt.Errorf("arena: %d pages overflow the address space: %w", count, ErrExhausted)
	}

	a.mu.Lock()
	if a.cfg.MaxPages > 0 && a.inUse+count > a.cfg.MaxPages {
		inUse := a.inUse
		a.mu.Unlock()
		return 0, fmt.Errorf("arena: %d pages in use, limit %d, want %d: %w",
			inUse, a.cfg.MaxPages, count, ErrExhausted)
	}
	a.inUse += count

	var (
		base Addr
		mem  []byte
	)
	if count == 1 && len(a.spare) > 0 {
		s := a.spare[len(a.spare)-1]
		a.spare = a.spare[:len(a.spare)-1]
		base, mem = s.base, s.mem
		if zero {
			clear(mem)
		}
	} else {
		base = a.next
		a.next += Addr(count * a.cfg.PageSize)
	}
	a.mu.Unlock()

	if mem == nil {
		mem = make([]byte, count*a.cfg.PageSize)
	}
	a.tab.insert(base, mem, count, a.cfg.Node)
	return base, nil
}

// Release implements Provider.
func (a *Arena) Release(base Addr, count int) {
	head := a.tab.remove(base, count)
	if head == nil {
		return
	}
	head.Owner = nil

	a.mu.Lock()
	a.inUse -= count
	if count == 1 && len(a.spare) < a.cfg.Retain {
		a.spare = append(a.spare, spare{base: base, mem: head.mem})
	}
	a.mu.Unlock()
}

// Lookup implements Provider.
func (a *Arena) Lookup(addr Addr) *Descriptor { return a.tab.lookup(addr) }

// Bytes implements Provider.
func (a *Arena) Bytes(addr Addr, n int) []byte { return a.tab.bytes(addr, n) }

// InUse returns the number of pages currently handed out.
func (a *Arena) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}
