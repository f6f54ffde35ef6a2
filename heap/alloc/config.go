package alloc

import (
	"fmt"
	"log/slog"

	"github.com/joshuapare/pageheap/internal/logger"
)

// Runtime debug logging of page traffic - controlled by PAGEHEAP_LOG_ALLOC env var.
var logAlloc = logger.FromEnv("PAGEHEAP_LOG_ALLOC")

// Bucket is one of the three page lists.
type Bucket int

const (
	BucketSmall Bucket = iota
	BucketMedium
	BucketLarge

	numBuckets = 3
)

func (b Bucket) String() string {
	switch b {
	case BucketSmall:
		return "small"
	case BucketMedium:
		return "medium"
	case BucketLarge:
		return "large"
	default:
		return fmt.Sprintf("bucket(%d)", int(b))
	}
}

// Config tunes an Allocator.
type Config struct {
	// SmallBreak: requests below this many bytes use the small bucket.
	SmallBreak int

	// MediumBreak: requests below this many bytes (and at least SmallBreak)
	// use the medium bucket. Everything else uses the large bucket.
	MediumBreak int

	// Logger receives page acquire/release events at debug level.
	// Nil selects the PAGEHEAP_LOG_ALLOC environment logger.
	Logger *slog.Logger
}

// DefaultConfig is used when New is given nil.
var DefaultConfig = Config{
	SmallBreak:  256,
	MediumBreak: 1024,
}

func (c *Config) validate() error {
	if c.SmallBreak <= 0 || c.MediumBreak <= c.SmallBreak {
		return fmt.Errorf("%w: need 0 < SmallBreak (%d) < MediumBreak (%d)",
			ErrBadConfig, c.SmallBreak, c.MediumBreak)
	}
	return nil
}

// bucketFor maps a request size in bytes to its bucket.
func (c *Config) bucketFor(size int) Bucket {
	switch {
	case size < c.SmallBreak:
		return BucketSmall
	case size < c.MediumBreak:
		return BucketMedium
	default:
		return BucketLarge
	}
}
