package format

// Alignment utilities. Every alignment passed in must be a power of two;
// callers validate with IsPow2 before relying on the masks below.

// IsPow2 reports whether n is a positive power of two.
func IsPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// AlignUp returns n rounded up to the next multiple of align.
//
// Example:
//
//	AlignUp(1, 8)    = 8
//	AlignUp(8, 8)    = 8
//	AlignUp(9, 8)    = 16
//	AlignUp(4097, 4096) = 8192
func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// AlignUintptr is AlignUp for addresses.
func AlignUintptr(n uintptr, align int) uintptr {
	a := uintptr(align)
	return (n + a - 1) &^ (a - 1)
}

// Units returns the number of units needed to hold n bytes.
//
// Example:
//
//	Units(1)  = 1
//	Units(8)  = 1
//	Units(9)  = 2
func Units(n int) int {
	return (n + UnitSize - 1) >> UnitShift
}

// PagesFor returns the number of pageSize pages needed to hold n bytes.
func PagesFor(n, pageSize int) int {
	count := n / pageSize
	if n%pageSize != 0 {
		count++
	}
	return count
}
