//go:build !unix

package page

// MmapConfig configures an Mmap provider.
type MmapConfig struct {
	PageSize int
	MaxPages int
	Node     int
}

// Mmap is unavailable on this platform.
type Mmap struct{ Arena }

// NewMmap reports ErrUnsupported on platforms without anonymous mappings.
func NewMmap(*MmapConfig) (*Mmap, error) {
	return nil, ErrUnsupported
}
