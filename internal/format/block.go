package format

import "fmt"

// Free block header layout. Offsets are in units relative to the page base.
//
//	multi-unit block:   unit[0] = count (> 1)   unit[1] = next offset
//	single-unit block:  unit[0] = -(next offset)
//
// A free block is never at the page end, so the next offset of a block is
// always > its own offset and a single-unit header is always negative. The
// last block in a page links to the page capacity, which makes "is last" a
// single compare.

// EncodeBlock writes a free-block header for a run of units starting at off
// whose successor starts at next.
func EncodeBlock(page []byte, off, units, next int) {
	if units > 1 {
		PutUnit(page, off, int64(units))
		PutUnit(page, off+1, int64(next))
		return
	}
	PutUnit(page, off, -int64(next))
}

// DecodeBlock reads the free-block header at off.
func DecodeBlock(page []byte, off int) (units, next int) {
	v := ReadUnit(page, off)
	if v < 0 {
		return 1, int(-v)
	}
	return int(v), int(ReadUnit(page, off+1))
}

// Capacity returns the number of units in page.
func Capacity(page []byte) int {
	return len(page) >> UnitShift
}

// IsLast reports whether the free block at off is the last one in page.
func IsLast(page []byte, off int) bool {
	_, next := DecodeBlock(page, off)
	return next >= Capacity(page)
}

// CheckBlock validates the header at off against the page bounds.
func CheckBlock(page []byte, off int) error {
	capacity := Capacity(page)
	if off < 0 || off >= capacity {
		return fmt.Errorf("block at %d: %w", off, ErrTruncated)
	}
	v := ReadUnit(page, off)
	if v == 0 || v == 1 {
		return fmt.Errorf("block at %d: header %d: %w", off, v, ErrBadBlock)
	}
	units, next := DecodeBlock(page, off)
	if off+units > capacity {
		return fmt.Errorf("block at %d: %d units overrun page: %w", off, units, ErrBadBlock)
	}
	if next <= off || next > capacity {
		return fmt.Errorf("block at %d: next %d out of order: %w", off, next, ErrBadBlock)
	}
	return nil
}
