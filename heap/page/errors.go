package page

import "errors"

var (
	// ErrExhausted indicates the provider cannot supply the requested pages.
	ErrExhausted = errors.New("page: out of pages")

	// ErrBadCount indicates a non-positive page count.
	ErrBadCount = errors.New("page: page count must be positive")

	// ErrBadPageSize indicates a page size that is not a supported power of two.
	ErrBadPageSize = errors.New("page: page size must be a power of two within bounds")

	// ErrUnsupported indicates the provider is not available on this platform.
	ErrUnsupported = errors.New("page: provider unsupported on this platform")
)
