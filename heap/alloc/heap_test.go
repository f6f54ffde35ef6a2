package alloc

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/pageheap/heap/page"
	"github.com/joshuapare/pageheap/internal/format"
	"github.com/joshuapare/pageheap/internal/testutil"
)

func Test_Heap_ZeroSize(t *testing.T) {
	pp, h := newTestHeap(t, nil)

	p, err := h.Alloc(0)
	require.NoError(t, err)
	require.Equal(t, ZeroSizePtr, p)
	require.Zero(t, h.SizeOf(p))

	h.Free(p)
	h.Free(0)
	require.Zero(t, pp.Counts().Acquires)
	require.Zero(t, pp.Counts().Releases)
}

func Test_Heap_BadRequests(t *testing.T) {
	_, h := newTestHeap(t, nil)

	_, err := h.Alloc(-1)
	require.ErrorIs(t, err, ErrBadSize)

	_, err = h.AllocAlign(8, 3)
	require.ErrorIs(t, err, ErrAlignment)

	_, err = h.AllocAlign(8, 8192)
	require.ErrorIs(t, err, ErrAlignment)
}

// Test_Heap_HugeRequests checks sizes near the int limit are rejected as too
// large rather than wrapping into the block path.
func Test_Heap_HugeRequests(t *testing.T) {
	pp, h := newTestHeap(t, &page.ArenaConfig{MaxPages: 8})

	for _, n := range []int{math.MaxInt, math.MaxInt - 1, math.MaxInt - HeaderSize} {
		_, err := h.Alloc(n)
		require.ErrorIs(t, err, ErrTooLarge, "n=%d", n)

		_, err = h.AllocAlign(n, 64)
		require.ErrorIs(t, err, ErrTooLarge, "n=%d", n)
	}

	// Representable but beyond the page limit: the provider refuses it.
	_, err := h.Alloc(1 << 40)
	require.ErrorIs(t, err, ErrNoMemory)
	require.ErrorIs(t, err, page.ErrExhausted)

	require.Zero(t, pp.Counts().Acquires)
	require.Empty(t, h.Allocator().Snapshot())
}

func Test_Heap_SizeOf(t *testing.T) {
	_, h := newTestHeap(t, nil)

	for _, n := range []int{1, 7, 8, 9, 100, 255, 1000, 4000, 4087, 4088, 4096, 10000} {
		p, err := h.Alloc(n)
		require.NoError(t, err, "n=%d", n)
		got := h.SizeOf(p)
		require.GreaterOrEqual(t, got, n, "n=%d", n)
		if n+HeaderSize < 4096 {
			assert.Equal(t, format.Units(n)*format.UnitSize, got, "n=%d", n)
		} else {
			assert.Equal(t, format.PagesFor(n, 4096)*4096, got, "n=%d", n)
		}
		h.Free(p)
	}
}

// Test_Heap_HeaderBoundary checks the cutover between the block path and
// the page path sits exactly where the header stops fitting.
func Test_Heap_HeaderBoundary(t *testing.T) {
	pp, h := newTestHeap(t, nil)

	p, err := h.Alloc(4096 - HeaderSize - 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, h.Allocator().Stats().PagesAcquired)
	require.Zero(t, h.Allocator().Stats().LargeAllocs)
	require.Equal(t, uintptr(HeaderSize), uintptr(p)%4096)
	h.Free(p)

	q, err := h.Alloc(4096 - HeaderSize)
	require.NoError(t, err)
	require.EqualValues(t, 1, h.Allocator().Stats().LargeAllocs)
	require.Zero(t, uintptr(q)%4096)
	h.Free(q)

	require.Equal(t, []int{1, 1}, pp.Counts().Runs)
	require.Zero(t, pp.Counts().PagesHeld())
}

// Test_Heap_LargePath serves multi-page requests as whole runs without
// touching any intra-page list.
func Test_Heap_LargePath(t *testing.T) {
	pp, h := newTestHeap(t, nil)

	tests := []struct {
		n     int
		pages int
	}{
		{4096, 1},
		{4097, 2},
		{10000, 3},
		{64 * 1024, 16},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			before := pp.Counts()
			p, err := h.Alloc(tt.n)
			require.NoError(t, err)

			after := pp.Counts()
			require.Equal(t, before.Acquires+1, after.Acquires)
			require.Equal(t, tt.pages, after.Runs[len(after.Runs)-1])
			require.Empty(t, h.Allocator().Snapshot())
			require.EqualValues(t, tt.pages, h.Allocator().Stats().LargePagesNow)

			// The whole run is writable.
			fill(h.Bytes(p, tt.n), 0x5A)

			h.Free(p)
			require.Equal(t, before.PagesHeld(), pp.Counts().PagesHeld())
			require.Zero(t, h.Allocator().Stats().LargePagesNow)
		})
	}
}

func Test_Heap_LargePath_Exhausted(t *testing.T) {
	_, h := newTestHeap(t, &page.ArenaConfig{MaxPages: 2})

	_, err := h.Alloc(3 * 4096)
	require.ErrorIs(t, err, ErrNoMemory)
	require.ErrorIs(t, err, page.ErrExhausted)
	require.Zero(t, h.Allocator().Stats().LargeAllocs)
}

// Test_Heap_Alignment checks every power-of-two alignment up to the page
// size for block and page path sizes.
func Test_Heap_Alignment(t *testing.T) {
	pp, h := newTestHeap(t, nil)

	// Misalign the first free block of the small page.
	keeper, err := h.Alloc(8)
	require.NoError(t, err)

	for align := 8; align <= 4096; align <<= 1 {
		for _, n := range []int{1, 24, 200, 1500, 3000, 5000} {
			p, allocErr := h.AllocAlign(n, align)
			require.NoError(t, allocErr, "n=%d align=%d", n, align)
			require.Zero(t, uintptr(p)%uintptr(align), "n=%d align=%d", n, align)
			require.GreaterOrEqual(t, h.SizeOf(p), n)
			fill(h.Bytes(p, n), 0xC3)
			require.NoError(t, h.Allocator().Verify())
			h.Free(p)
		}
	}

	h.Free(keeper)
	require.Zero(t, pp.Counts().PagesHeld())
}

func Test_Heap_Zalloc(t *testing.T) {
	_, h := newTestHeap(t, nil)

	keeper, err := h.Alloc(8)
	require.NoError(t, err)

	p, err := h.Alloc(64)
	require.NoError(t, err)
	fill(h.Bytes(p, 64), 0xAA)
	h.Free(p)

	z, err := h.Zalloc(64)
	require.NoError(t, err)
	require.Equal(t, p, z)
	require.Equal(t, make([]byte, 64), h.Bytes(z, 64))
	require.Equal(t, 64, h.SizeOf(z))

	h.Free(z)
	h.Free(keeper)
}

func Test_Heap_Realloc(t *testing.T) {
	pp, h := newTestHeap(t, nil)

	p, err := h.Realloc(ZeroSizePtr, 20)
	require.NoError(t, err)
	require.Equal(t, 24, h.SizeOf(p))
	copy(h.Bytes(p, 20), "abcdefghijklmnopqrst")

	same, err := h.Realloc(p, 24)
	require.NoError(t, err)
	require.Equal(t, p, same, "fits in the rounded size")

	same, err = h.Realloc(p, 4)
	require.NoError(t, err)
	require.Equal(t, p, same, "shrinks in place")

	grown, err := h.Realloc(p, 300)
	require.NoError(t, err)
	require.NotEqual(t, p, grown)
	require.Equal(t, "abcdefghijklmnopqrst", string(h.Bytes(grown, 20)))

	huge, err := h.Realloc(grown, 9000)
	require.NoError(t, err)
	require.Zero(t, uintptr(huge)%4096)
	require.Equal(t, "abcdefghijklmnopqrst", string(h.Bytes(huge, 20)))

	gone, err := h.Realloc(huge, 0)
	require.NoError(t, err)
	require.Equal(t, ZeroSizePtr, gone)
	require.Zero(t, pp.Counts().PagesHeld())
	require.NoError(t, h.Allocator().Verify())
}

// Test_Heap_NoOverlap allocates a seeded mix of sizes and alignments and
// checks no two live allocations share a byte, header included.
func Test_Heap_NoOverlap(t *testing.T) {
	pp, h := newTestHeap(t, nil)

	type entry struct {
		ptr   page.Addr
		start page.Addr // first byte owned, header included
	}
	rng := rand.New(rand.NewSource(7)) // Fixed seed for reproducibility
	var live testutil.LiveSet
	var allocs []entry

	for i := range 20000 {
		if len(allocs) > 0 && rng.Intn(3) == 0 {
			j := rng.Intn(len(allocs))
			live.Remove(allocs[j].start)
			h.Free(allocs[j].ptr)
			allocs[j] = allocs[len(allocs)-1]
			allocs = allocs[:len(allocs)-1]
			continue
		}

		n := 1 + rng.Intn(600)
		if rng.Intn(20) == 0 {
			n = 4096 + rng.Intn(9000)
		}
		var (
			p   page.Addr
			err error
		)
		if rng.Intn(4) == 0 {
			p, err = h.AllocAlign(n, 8<<rng.Intn(8))
		} else {
			p, err = h.Alloc(n)
		}
		require.NoError(t, err, "step %d", i)

		start, size := p-HeaderSize, n+HeaderSize
		if uintptr(p)%4096 == 0 {
			// Page runs carry no header.
			start, size = p, n
		}
		require.NoError(t, live.Add(start, size), "step %d", i)
		allocs = append(allocs, entry{ptr: p, start: start})

		if i%500 == 0 {
			requireClean(t, h.Allocator())
		}
	}
	requireClean(t, h.Allocator())
	require.Equal(t, len(allocs), live.Len())

	for _, a := range allocs {
		h.Free(a.ptr)
	}
	require.Zero(t, pp.Counts().PagesHeld())
	require.Empty(t, h.Allocator().Snapshot())
}

// Test_Heap_ConcurrentStress runs workers that allocate, write, check and
// free their own blocks, then expects everything handed back.
func Test_Heap_ConcurrentStress(t *testing.T) {
	pp, h := newTestHeap(t, nil)

	const workers = 8
	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(int64(w)))
			type item struct {
				ptr page.Addr
				n   int
			}
			var mine []item
			for i := range 1500 {
				if len(mine) > 0 && rng.Intn(2) == 0 {
					j := rng.Intn(len(mine))
					it := mine[j]
					for _, b := range h.Bytes(it.ptr, it.n) {
						if b != byte(w) {
							return fmt.Errorf("worker %d step %d: block %#x clobbered", w, i, uintptr(it.ptr))
						}
					}
					h.Free(it.ptr)
					mine[j] = mine[len(mine)-1]
					mine = mine[:len(mine)-1]
					continue
				}
				n := 1 + rng.Intn(2000)
				p, err := h.Alloc(n)
				if err != nil {
					return fmt.Errorf("worker %d step %d: %w", w, i, err)
				}
				fill(h.Bytes(p, n), byte(w))
				mine = append(mine, item{p, n})
			}
			for _, it := range mine {
				h.Free(it.ptr)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.NoError(t, h.Allocator().Verify())
	require.Empty(t, h.Allocator().Snapshot())
	require.Zero(t, pp.Counts().PagesHeld())
	require.Zero(t, h.Allocator().Stats().PagesHeld())
}
