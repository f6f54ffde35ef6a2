// Package format holds the low-level layout rules shared by the allocator
// packages: unit arithmetic, alignment helpers, and the in-page encoding of
// free-block headers. Nothing here knows about locking or page ownership.
package format

const (
	// UnitSize is the allocator's internal granularity in bytes (one machine
	// word). All free-list accounting is expressed in units.
	UnitSize = 8

	// UnitShift is log2(UnitSize).
	UnitShift = 3

	// DefaultPageSize is the page size used when a provider is configured
	// without one.
	DefaultPageSize = 4096

	// MinPageSize is the smallest page size accepted by the providers.
	MinPageSize = 4096

	// MaxPageSize bounds the page size so in-page offsets always fit the
	// header encoding comfortably.
	MaxPageSize = 1 << 24

	// CacheLineSize is the alignment applied to objects whose cache asks for
	// hardware cache-line alignment.
	CacheLineSize = 64
)
