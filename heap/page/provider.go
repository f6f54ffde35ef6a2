package page

import (
	"fmt"
	"sync"

	"github.com/joshuapare/pageheap/internal/format"
)

// Addr is an address inside a provider's address space. Page bases are
// multiples of the provider's page size.
type Addr uintptr

// NodeAny means no placement preference.
const NodeAny = -1

// Provider supplies and accepts runs of whole pages.
type Provider interface {
	// PageSize returns the fixed page size in bytes (a power of two).
	PageSize() int

	// Acquire returns the base of count contiguous pages aligned to
	// PageSize. When zero is set the memory reads as zero; freshly created
	// memory is always zero regardless. Fails with ErrExhausted when no
	// pages are available.
	Acquire(count int, zero bool) (Addr, error)

	// Release returns a run previously obtained from Acquire. count must be
	// the count passed to Acquire.
	Release(base Addr, count int)

	// Lookup returns the descriptor of the page containing addr, or nil if
	// addr is not inside a live run.
	Lookup(addr Addr) *Descriptor

	// Bytes returns n bytes of memory starting at addr. The range must lie
	// inside a single live run.
	Bytes(addr Addr, n int) []byte
}

// Descriptor is the out-of-band record for one page.
type Descriptor struct {
	// Base is the page's first address.
	Base Addr

	// Node is the placement node the page was taken from.
	Node int

	// Owner belongs to the client that acquired the run.
	Owner any

	head  *Descriptor
	pages int    // run length, set on the head only
	mem   []byte // from Base to the end of the run
}

// Head returns the descriptor of the first page of the run.
func (d *Descriptor) Head() *Descriptor {
	return d.head
}

// Pages returns the length of the run this page belongs to.
func (d *Descriptor) Pages() int {
	return d.head.pages
}

// Mem returns the run's memory from this page to the end of the run.
func (d *Descriptor) Mem() []byte {
	return d.mem
}

// table maps page numbers to descriptors.
type table struct {
	mu    sync.RWMutex
	shift uint
	size  int
	pages map[uintptr]*Descriptor
}

func newTable(pageSize int) (*table, error) {
	if !format.IsPow2(pageSize) || pageSize < format.MinPageSize || pageSize > format.MaxPageSize {
		return nil, fmt.Errorf("page size %d: %w", pageSize, ErrBadPageSize)
	}
	shift := uint(0)
	for 1<<shift != pageSize {
		shift++
	}
	return &table{
		shift: shift,
		size:  pageSize,
		pages: make(map[uintptr]*Descriptor, 64),
	}, nil
}

func (t *table) lookup(a Addr) *Descriptor {
	t.mu.RLock()
	d := t.pages[uintptr(a)>>t.shift]
	t.mu.RUnlock()
	return d
}

// insert registers a run of count pages at base backed by mem.
func (t *table) insert(base Addr, mem []byte, count, node int) *Descriptor {
	head := &Descriptor{Base: base, Node: node, pages: count, mem: mem}
	head.head = head

	t.mu.Lock()
	t.pages[uintptr(base)>>t.shift] = head
	for i := 1; i < count; i++ {
		d := &Descriptor{
			Base: base + Addr(i*t.size),
			Node: node,
			head: head,
			mem:  mem[i*t.size:],
		}
		t.pages[uintptr(d.Base)>>t.shift] = d
	}
	t.mu.Unlock()
	return head
}

// remove drops a run and returns its head descriptor, or nil if base is not
// the head of a live run.
func (t *table) remove(base Addr, count int) *Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	head := t.pages[uintptr(base)>>t.shift]
	if head == nil || head.head != head {
		return nil
	}
	for i := range count {
		delete(t.pages, (uintptr(base)>>t.shift)+uintptr(i))
	}
	return head
}

func (t *table) bytes(addr Addr, n int) []byte {
	d := t.lookup(addr)
	if d == nil {
		panic(fmt.Sprintf("page: address %#x not mapped", uintptr(addr)))
	}
	off := int(addr - d.Base)
	return d.mem[off : off+n : off+n]
}
