package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/pageheap/heap/alloc"
	"github.com/joshuapare/pageheap/heap/page"
	"github.com/joshuapare/pageheap/heap/quiesce"
	"github.com/joshuapare/pageheap/internal/testutil"
)

func newTestHeap(t *testing.T) (*testutil.CountingProvider, *alloc.Heap) {
	t.Helper()
	pp := testutil.NewArena(t, nil)
	a, err := alloc.New(pp, nil)
	require.NoError(t, err)
	return pp, alloc.NewHeap(a)
}

// recordingScheduler queues callbacks until Flush.
type recordingScheduler struct {
	mu  sync.Mutex
	fns []func()
}

func (s *recordingScheduler) Schedule(fn func()) {
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
}

func (s *recordingScheduler) Flush() {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func Test_New_Validates(t *testing.T) {
	_, h := newTestHeap(t)

	_, err := New(h, "zero", 0, 0, 0, nil)
	require.ErrorIs(t, err, ErrBadSize)

	_, err = New(h, "odd", 32, 12, 0, nil)
	require.ErrorIs(t, err, alloc.ErrAlignment)

	c, err := New(h, "hw", 40, 0, FlagHWCacheAlign, nil)
	require.NoError(t, err)
	require.Equal(t, 64, c.Align())
	require.Equal(t, "hw", c.Name())
	require.Equal(t, 40, c.Size())
	require.Equal(t, "hwalign", c.Flags().String())
}

func Test_Alloc_RunsCtorOnEveryObject(t *testing.T) {
	pp, h := newTestHeap(t)

	calls := 0
	c, err := New(h, "inode", 96, 0, FlagZero, func(b []byte) {
		calls++
		require.Len(t, b, 96)
		require.Equal(t, make([]byte, 96), b)
		b[0] = 0x7E
	})
	require.NoError(t, err)

	ptrs := make([]page.Addr, 40)
	require.NoError(t, c.AllocBulk(ptrs))
	require.Equal(t, 40, calls)
	for _, p := range ptrs {
		require.Equal(t, byte(0x7E), c.Bytes(p)[0])
	}
	require.EqualValues(t, 40, c.Live())

	c.FreeBulk(ptrs)
	require.Zero(t, c.Live())
	require.Zero(t, pp.Counts().PagesHeld())
	require.NoError(t, h.Allocator().Verify())
}

func Test_Alloc_Alignment(t *testing.T) {
	_, h := newTestHeap(t)

	for _, align := range []int{0, 8, 16, 64, 256, 1024} {
		c, err := New(h, "aligned", 24, align, 0, nil)
		require.NoError(t, err)
		var ptrs []page.Addr
		for range 20 {
			p, allocErr := c.Alloc()
			require.NoError(t, allocErr)
			if align != 0 {
				require.Zero(t, uintptr(p)%uintptr(align), "align %d", align)
			}
			ptrs = append(ptrs, p)
		}
		c.FreeBulk(ptrs)
	}
	require.NoError(t, h.Allocator().Verify())
	require.Empty(t, h.Allocator().Snapshot())
}

// Test_Alloc_LargeObjects serves objects of a page or more as page runs.
func Test_Alloc_LargeObjects(t *testing.T) {
	pp, h := newTestHeap(t)

	c, err := New(h, "big", 6000, 0, 0, nil)
	require.NoError(t, err)

	p, err := c.Alloc()
	require.NoError(t, err)
	require.Zero(t, uintptr(p)%4096)
	require.Equal(t, []int{2}, pp.Counts().Runs)
	require.Empty(t, h.Allocator().Snapshot())

	c.Free(p)
	require.Equal(t, 1, pp.Counts().Releases)
	require.Zero(t, pp.Counts().PagesHeld())
}

// Test_DeferredRelease_Scheduled checks the release only happens when the
// scheduler runs it, and runs exactly once.
func Test_DeferredRelease_Scheduled(t *testing.T) {
	pp, h := newTestHeap(t)
	sched := &recordingScheduler{}

	c, err := New(h, "rcu", 128, 0, FlagDeferredRelease, nil, WithScheduler(sched))
	require.NoError(t, err)

	p, err := c.Alloc()
	require.NoError(t, err)
	copy(c.Bytes(p), "still readable")

	c.Free(p)
	require.EqualValues(t, 1, c.Deferred())
	require.EqualValues(t, 1, c.Live())
	require.Equal(t, 1, pp.Counts().Acquires)
	require.Zero(t, pp.Counts().Releases)
	assert.Equal(t, "still readable", string(c.Bytes(p)[:14]))
	require.NoError(t, h.Allocator().Verify())

	sched.Flush()
	require.Zero(t, c.Deferred())
	require.Zero(t, c.Live())
	require.Equal(t, 1, pp.Counts().Releases)

	sched.Flush()
	require.Equal(t, 1, pp.Counts().Releases)
}

// Test_DeferredRelease_Domain uses a quiesce.Domain and holds a reader
// across the free.
func Test_DeferredRelease_Domain(t *testing.T) {
	pp, h := newTestHeap(t)
	d := quiesce.NewDomain(nil)
	defer d.Close()

	c, err := New(h, "rcu", 200, 0, FlagDeferredRelease, nil, WithScheduler(d))
	require.NoError(t, err)

	p, err := c.Alloc()
	require.NoError(t, err)

	r := d.Enter()
	c.Free(p)
	time.Sleep(10 * time.Millisecond)
	require.Zero(t, pp.Counts().Releases, "released under an active reader")
	r.Exit()

	require.NoError(t, d.Barrier(context.Background()))
	require.Equal(t, 1, pp.Counts().Releases)
	require.NoError(t, c.Destroy(context.Background()))
}

func Test_Destroy(t *testing.T) {
	pp, h := newTestHeap(t)

	c, err := New(h, "private", 64, 0, FlagDeferredRelease, nil)
	require.NoError(t, err)

	ptrs := make([]page.Addr, 8)
	require.NoError(t, c.AllocBulk(ptrs))
	c.FreeBulk(ptrs)

	require.NoError(t, c.Destroy(context.Background()))
	require.Zero(t, c.Live())
	require.Zero(t, pp.Counts().PagesHeld())

	_, err = c.Alloc()
	require.ErrorIs(t, err, ErrDestroyed)
	require.ErrorIs(t, c.Destroy(context.Background()), ErrDestroyed)
}

// Test_FreeAfterDestroy releases objects that outlived Destroy right away
// instead of scheduling on the closed private domain.
func Test_FreeAfterDestroy(t *testing.T) {
	pp, h := newTestHeap(t)

	c, err := New(h, "late", 64, 0, FlagDeferredRelease, nil)
	require.NoError(t, err)

	p, err := c.Alloc()
	require.NoError(t, err)
	require.NoError(t, c.Destroy(context.Background()))
	require.EqualValues(t, 1, c.Live())

	require.NotPanics(t, func() { c.Free(p) })
	require.Zero(t, c.Live())
	require.Zero(t, c.Deferred())
	require.Zero(t, pp.Counts().PagesHeld())
	require.NoError(t, h.Allocator().Verify())
}

// Test_FreeRacesDestroy frees from several goroutines while Destroy runs.
// Every object is released exactly once whichever side wins.
func Test_FreeRacesDestroy(t *testing.T) {
	pp, h := newTestHeap(t)

	c, err := New(h, "racy", 32, 0, FlagDeferredRelease, nil)
	require.NoError(t, err)

	ptrs := make([]page.Addr, 400)
	require.NoError(t, c.AllocBulk(ptrs))

	var g errgroup.Group
	for w := range 4 {
		g.Go(func() error {
			for _, p := range ptrs[w*100 : (w+1)*100] {
				c.Free(p)
			}
			return nil
		})
	}
	g.Go(func() error {
		return c.Destroy(context.Background())
	})
	require.NoError(t, g.Wait())

	require.Zero(t, c.Live())
	require.Zero(t, c.Deferred())
	require.Zero(t, pp.Counts().PagesHeld())
	require.NoError(t, h.Allocator().Verify())
}

func Test_Destroy_HonorsContext(t *testing.T) {
	_, h := newTestHeap(t)
	sched := &recordingScheduler{}

	c, err := New(h, "stuck", 64, 0, FlagDeferredRelease, nil, WithScheduler(sched))
	require.NoError(t, err)
	p, err := c.Alloc()
	require.NoError(t, err)
	c.Free(p)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Destroy(ctx), context.DeadlineExceeded)
	sched.Flush()
}

func Test_AllocBulk_UnwindsOnFailure(t *testing.T) {
	pp := testutil.NewArena(t, &page.ArenaConfig{MaxPages: 1})
	a, err := alloc.New(pp, nil)
	require.NoError(t, err)

	c, err := New(alloc.NewHeap(a), "tight", 1024, 0, 0, nil)
	require.NoError(t, err)

	ptrs := make([]page.Addr, 5) // four fit one page
	err = c.AllocBulk(ptrs)
	require.ErrorIs(t, err, alloc.ErrNoMemory)
	require.ErrorIs(t, err, page.ErrExhausted)
	require.Equal(t, make([]page.Addr, 5), ptrs)
	require.Zero(t, c.Live())
	require.Zero(t, pp.Counts().PagesHeld())
}

func Test_Concurrent_DeferredRelease(t *testing.T) {
	pp, h := newTestHeap(t)
	d := quiesce.NewDomain(nil)

	c, err := New(h, "conc", 48, 16, FlagDeferredRelease, nil, WithScheduler(d))
	require.NoError(t, err)

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			for range 500 {
				p, allocErr := c.Alloc()
				if allocErr != nil {
					return allocErr
				}
				r := d.Enter()
				if uintptr(p)%16 != 0 {
					r.Exit()
					return errors.New("misaligned object")
				}
				r.Exit()
				c.Free(p)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, c.Destroy(context.Background()))
	d.Close()

	require.Zero(t, c.Live())
	require.Zero(t, pp.Counts().PagesHeld())
	require.NoError(t, h.Allocator().Verify())
}
