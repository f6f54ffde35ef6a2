package format

import "errors"

var (
	// ErrBadBlock indicates a free-block header decoded to an impossible value.
	ErrBadBlock = errors.New("format: bad free block header")
	// ErrTruncated indicates the buffer lacked the bytes required for a structure.
	ErrTruncated = errors.New("format: truncated buffer")
)
