package alloc

import (
	"fmt"

	"github.com/joshuapare/pageheap/heap/page"
	"github.com/joshuapare/pageheap/internal/format"
)

// PageInfo describes one tracked page.
type PageInfo struct {
	Base      page.Addr
	Bucket    Bucket
	FreeUnits int
	Blocks    []BlockInfo
}

// BlockInfo is one free block inside a page, in units from the page base.
type BlockInfo struct {
	Off   int
	Units int
}

// Snapshot returns every page currently on a bucket list, in list order.
func (a *Allocator) Snapshot() []PageInfo {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []PageInfo
	for b := range a.buckets {
		l := &a.buckets[b]
		rec := l.head
		for range l.n {
			info := PageInfo{Base: rec.desc.Base, Bucket: rec.bucket, FreeUnits: rec.units}
			rec.walk(func(off, units int) bool {
				info.Blocks = append(info.Blocks, BlockInfo{Off: off, Units: units})
				return true
			})
			out = append(out, info)
			rec = rec.next
		}
	}
	return out
}

// Verify checks every tracked page: each is partially free, sits on the
// bucket it records, and its free list is in bounds, strictly address
// ordered, fully coalesced, and sums to the recorded free unit count.
func (a *Allocator) Verify() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for b := range a.buckets {
		l := &a.buckets[b]
		rec := l.head
		for range l.n {
			if err := a.verifyPage(rec, Bucket(b)); err != nil {
				return err
			}
			if rec.next.prev != rec {
				return fmt.Errorf("%w: %s list broken at %#x", ErrCorrupt, Bucket(b), uintptr(rec.desc.Base))
			}
			rec = rec.next
		}
		if l.n > 0 && rec != l.head {
			return fmt.Errorf("%w: %s list length %d does not close", ErrCorrupt, Bucket(b), l.n)
		}
	}
	return nil
}

func (a *Allocator) verifyPage(rec *pageRecord, b Bucket) error {
	base := uintptr(rec.desc.Base)
	if !rec.linked || rec.bucket != b {
		return fmt.Errorf("%w: page %#x on %s list records %s", ErrCorrupt, base, b, rec.bucket)
	}
	if owner, _ := rec.desc.Owner.(*pageRecord); owner != rec {
		return fmt.Errorf("%w: page %#x descriptor not owned by its record", ErrCorrupt, base)
	}
	if rec.units <= 0 || rec.units >= a.capacity {
		return fmt.Errorf("%w: page %#x tracked with %d free units", ErrCorrupt, base, rec.units)
	}

	sum, end := 0, -1
	for cur := rec.free; cur < a.capacity; {
		if err := format.CheckBlock(rec.mem, cur); err != nil {
			return fmt.Errorf("%w: page %#x: %w", ErrCorrupt, base, err)
		}
		units, next := format.DecodeBlock(rec.mem, cur)
		if cur < end {
			return fmt.Errorf("%w: page %#x: block %d overlaps previous", ErrCorrupt, base, cur)
		}
		if cur == end {
			return fmt.Errorf("%w: page %#x: block %d not coalesced", ErrCorrupt, base, cur)
		}
		sum += units
		end = cur + units
		cur = next
	}
	if sum != rec.units {
		return fmt.Errorf("%w: page %#x: free list holds %d units, record says %d",
			ErrCorrupt, base, sum, rec.units)
	}
	return nil
}
