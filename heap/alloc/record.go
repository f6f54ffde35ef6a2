package alloc

import (
	"github.com/joshuapare/pageheap/heap/page"
)

// pageRecord is the allocator's per-page state. It hangs off the provider's
// descriptor (Descriptor.Owner) for the lifetime of the page.
type pageRecord struct {
	desc *page.Descriptor
	mem  []byte // exactly one page

	units  int    // free units in the page
	free   int    // unit offset of the first free block; capacity when none
	bucket Bucket // valid only while linked

	linked     bool
	prev, next *pageRecord
}

// pageList is a circular doubly-linked list of page records. Rotating the
// list is just moving head.
type pageList struct {
	head *pageRecord
	n    int
}

// pushFront links rec as the new head.
func (l *pageList) pushFront(rec *pageRecord) {
	if l.head == nil {
		rec.prev, rec.next = rec, rec
	} else {
		tail := l.head.prev
		rec.prev, rec.next = tail, l.head
		tail.next = rec
		l.head.prev = rec
	}
	l.head = rec
	l.n++
}

// remove unlinks rec, which must be on l.
func (l *pageList) remove(rec *pageRecord) {
	if l.n == 1 {
		l.head = nil
	} else {
		rec.prev.next = rec.next
		rec.next.prev = rec.prev
		if l.head == rec {
			l.head = rec.next
		}
	}
	rec.prev, rec.next = nil, nil
	l.n--
}

// rotateTo makes rec the head so the next search starts there.
func (l *pageList) rotateTo(rec *pageRecord) bool {
	if l.head == rec {
		return false
	}
	l.head = rec
	return true
}

// link puts rec on bucket b of a.
func (a *Allocator) link(rec *pageRecord, b Bucket) {
	a.buckets[b].pushFront(rec)
	rec.bucket = b
	rec.linked = true
}

// unlink takes rec off whatever bucket it is on.
func (a *Allocator) unlink(rec *pageRecord) {
	if !rec.linked {
		return
	}
	a.buckets[rec.bucket].remove(rec)
	rec.linked = false
}
