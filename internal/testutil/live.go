package testutil

import (
	"fmt"
	"sort"
	"sync"

	"github.com/joshuapare/pageheap/heap/page"
)

// LiveSet tracks live allocations as byte ranges and rejects overlaps.
type LiveSet struct {
	mu     sync.Mutex
	ranges []span // sorted by start
}

type span struct {
	start, end page.Addr
}

// Add records [addr, addr+n). It fails if the range overlaps a live one.
func (s *LiveSet) Add(addr page.Addr, n int) error {
	sp := span{addr, addr + page.Addr(n)}

	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].start >= sp.start })
	if i < len(s.ranges) && s.ranges[i].start < sp.end {
		return fmt.Errorf("range [%#x,%#x) overlaps [%#x,%#x)",
			uintptr(sp.start), uintptr(sp.end), uintptr(s.ranges[i].start), uintptr(s.ranges[i].end))
	}
	if i > 0 && s.ranges[i-1].end > sp.start {
		return fmt.Errorf("range [%#x,%#x) overlaps [%#x,%#x)",
			uintptr(sp.start), uintptr(sp.end), uintptr(s.ranges[i-1].start), uintptr(s.ranges[i-1].end))
	}
	s.ranges = append(s.ranges, span{})
	copy(s.ranges[i+1:], s.ranges[i:])
	s.ranges[i] = sp
	return nil
}

// Remove forgets the range starting at addr.
func (s *LiveSet) Remove(addr page.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].start >= addr })
	if i < len(s.ranges) && s.ranges[i].start == addr {
		s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
	}
}

// Len returns the number of live ranges.
func (s *LiveSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ranges)
}
