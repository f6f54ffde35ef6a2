package alloc

import (
	"github.com/joshuapare/pageheap/internal/format"
)

// capacity is the number of units in one page.
func (rec *pageRecord) capacity() int {
	return format.Capacity(rec.mem)
}

// setNext rewrites the successor of the free block at prev, or the page's
// list head when prev is negative.
func (rec *pageRecord) setNext(prev, next int) {
	if prev < 0 {
		rec.free = next
		return
	}
	units, _ := format.DecodeBlock(rec.mem, prev)
	format.EncodeBlock(rec.mem, prev, units, next)
}

// alignDelta returns how many units must be skipped from the block at off so
// that the block address plus alignOff is a multiple of align.
func (rec *pageRecord) alignDelta(off, align, alignOff int) int {
	if align == 0 {
		return 0
	}
	addr := uintptr(rec.desc.Base) + uintptr(off<<format.UnitShift)
	aligned := format.AlignUintptr(addr+uintptr(alignOff), align) - uintptr(alignOff)
	return int(aligned-addr) >> format.UnitShift
}

// firstFit scans the page's free list in address order and carves units out
// of the first block that can hold them after alignment. The returned offset
// is the start of the carved range. Any alignment prefix stays behind as its
// own free block; any tail is left in place as a shrunk free block.
func (a *Allocator) firstFit(rec *pageRecord, units, align, alignOff int) (int, bool) {
	mem := rec.mem
	capacity := rec.capacity()

	prev := -1
	for cur := rec.free; cur < capacity; {
		avail, next := format.DecodeBlock(mem, cur)
		delta := rec.alignDelta(cur, align, alignOff)

		if avail >= units+delta {
			if delta > 0 {
				// Split off the alignment prefix.
				format.EncodeBlock(mem, cur+delta, avail-delta, next)
				format.EncodeBlock(mem, cur, delta, cur+delta)
				a.stats.AlignSplits++
				prev = cur
				cur += delta
				avail -= delta
			}

			if avail == units {
				rec.setNext(prev, next)
			} else {
				rec.setNext(prev, cur+units)
				format.EncodeBlock(mem, cur+units, avail-units, next)
				a.stats.Splits++
			}
			rec.units -= units
			return cur, true
		}

		prev = cur
		cur = next
	}
	return 0, false
}

// insertAndCoalesce links units at off into the page's free list in address
// order, merging with the neighbouring free blocks when they touch. The page
// must already have at least one free block. Returns the page's new free
// unit count.
func (a *Allocator) insertAndCoalesce(rec *pageRecord, off, units int) int {
	mem := rec.mem
	capacity := rec.capacity()
	rec.units += units

	if off < rec.free {
		next := rec.free
		if off+units == next {
			nu, nn := format.DecodeBlock(mem, next)
			units += nu
			next = nn
			a.stats.CoalesceForward++
		}
		format.EncodeBlock(mem, off, units, next)
		rec.free = off
		return rec.units
	}

	prev := rec.free
	_, next := format.DecodeBlock(mem, prev)
	for off > next {
		prev = next
		_, next = format.DecodeBlock(mem, prev)
	}

	if next < capacity && off+units == next {
		nu, nn := format.DecodeBlock(mem, next)
		units += nu
		format.EncodeBlock(mem, off, units, nn)
		a.stats.CoalesceForward++
	} else {
		format.EncodeBlock(mem, off, units, next)
	}

	pu, _ := format.DecodeBlock(mem, prev)
	if prev+pu == off {
		_, bn := format.DecodeBlock(mem, off)
		format.EncodeBlock(mem, prev, pu+units, bn)
		a.stats.CoalesceBackward++
	} else {
		format.EncodeBlock(mem, prev, pu, off)
	}
	return rec.units
}

// walk calls fn for every free block of the page in list order. It stops
// early when fn returns false or the list leaves the page.
func (rec *pageRecord) walk(fn func(off, units int) bool) {
	capacity := rec.capacity()
	for cur := rec.free; cur >= 0 && cur < capacity; {
		units, next := format.DecodeBlock(rec.mem, cur)
		if !fn(cur, units) || next <= cur {
			return
		}
		cur = next
	}
}
