package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pageheap/heap/page"
	"github.com/joshuapare/pageheap/internal/testutil"
)

// newTestAllocator returns a block allocator over a counting arena.
func newTestAllocator(t testing.TB, arena *page.ArenaConfig) (*testutil.CountingProvider, *Allocator) {
	t.Helper()
	pp := testutil.NewArena(t, arena)
	a, err := New(pp, nil)
	require.NoError(t, err)
	return pp, a
}

// newTestHeap returns a heap over a counting arena.
func newTestHeap(t testing.TB, arena *page.ArenaConfig) (*testutil.CountingProvider, *Heap) {
	t.Helper()
	pp, a := newTestAllocator(t, arena)
	return pp, NewHeap(a)
}

// unitOffset returns ptr's offset in units from its page base.
func unitOffset(a *Allocator, ptr page.Addr) int {
	return int(uintptr(ptr)&uintptr(a.pageSize-1)) >> 3
}

// requireClean asserts Verify passes.
func requireClean(t testing.TB, a *Allocator) {
	t.Helper()
	require.NoError(t, a.Verify())
}

// fill writes b into every byte of mem.
func fill(mem []byte, b byte) {
	for i := range mem {
		mem[i] = b
	}
}
