package alloc

// Stats holds allocator counters. All counts are cumulative except the
// page gauges.
type Stats struct {
	AllocCalls    int64 // Block allocations requested
	AllocFastPath int64 // Served from an already tracked page
	AllocSlowPath int64 // Needed a fresh page
	FreeCalls     int64 // Block frees

	PagesAcquired int64 // Single pages taken for block allocation
	PagesReleased int64 // Single pages handed back

	Splits           int64 // Blocks shrunk in place to serve a smaller request
	AlignSplits      int64 // Alignment prefixes split off as free blocks
	CoalesceForward  int64 // Merges with the following free block
	CoalesceBackward int64 // Merges with the preceding free block
	Rotations        int64 // Bucket list rotations after a successful search

	LargeAllocs   int64 // Page runs served directly by Heap
	LargeFrees    int64 // Page runs returned by Heap
	LargePagesNow int64 // Pages currently held by live page runs

	TrackedPages [numBuckets]int // Pages on each bucket list right now
}

// PagesHeld returns the single pages currently owned by the block allocator,
// tracked or full.
func (s Stats) PagesHeld() int64 {
	return s.PagesAcquired - s.PagesReleased
}

// Stats returns a snapshot of the allocator's counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	for b := range a.buckets {
		s.TrackedPages[b] = a.buckets[b].n
	}
	return s
}

// noteLarge records a page run served or returned by Heap.
func (a *Allocator) noteLarge(pages int, acquired bool) {
	a.mu.Lock()
	if acquired {
		a.stats.LargeAllocs++
		a.stats.LargePagesNow += int64(pages)
	} else {
		a.stats.LargeFrees++
		a.stats.LargePagesNow -= int64(pages)
	}
	a.mu.Unlock()
}
