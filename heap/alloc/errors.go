package alloc

import "errors"

var (
	// ErrNoMemory indicates the page provider could not supply a page.
	ErrNoMemory = errors.New("alloc: out of memory")

	// ErrBadSize indicates a non-positive request size.
	ErrBadSize = errors.New("alloc: size must be positive")

	// ErrTooLarge indicates a request that cannot be carved out of one page,
	// or a page run whose byte size would overflow.
	ErrTooLarge = errors.New("alloc: request too large")

	// ErrAlignment indicates an alignment that is not a power of two or
	// exceeds the page size.
	ErrAlignment = errors.New("alloc: alignment unsatisfiable")

	// ErrBadConfig indicates invalid allocator configuration.
	ErrBadConfig = errors.New("alloc: bad config")

	// ErrCorrupt is reported by Verify when page state is inconsistent.
	ErrCorrupt = errors.New("alloc: page state corrupt")
)
