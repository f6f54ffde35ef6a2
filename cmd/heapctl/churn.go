package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pageheap/heap/cache"
	"github.com/joshuapare/pageheap/heap/page"
	"github.com/joshuapare/pageheap/heap/quiesce"
)

var (
	churnSize     int
	churnCount    int
	churnBatch    int
	churnDeferred bool
	churnCtor     bool
)

func init() {
	cmd := newChurnCmd()
	cmd.Flags().IntVarP(&churnSize, "size", "s", 64, "Object size in bytes")
	cmd.Flags().IntVarP(&churnCount, "count", "n", 100000, "Rounds")
	cmd.Flags().IntVarP(&churnBatch, "batch", "b", 1, "Objects allocated per round before freeing")
	cmd.Flags().BoolVar(&churnDeferred, "deferred", false, "Free through a grace period")
	cmd.Flags().BoolVar(&churnCtor, "ctor", false, "Run a constructor on every object")
	rootCmd.AddCommand(cmd)
}

func newChurnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "churn",
		Short: "Allocate and free fixed-size objects through an object cache",
		Long: `The churn command creates an object cache and repeatedly allocates a
batch of objects and frees them again, tracking the peak number of pages
held. With a bounded batch the peak must not grow with the round count.

Example:
  heapctl churn -s 128 -n 1000000
  heapctl churn -s 6000 -b 8 --deferred`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChurn(cmd.Context())
		},
	}
	return cmd
}

// ChurnResult is the outcome of a churn run.
type ChurnResult struct {
	Size      int    `json:"size"`
	Rounds    int    `json:"rounds"`
	Batch     int    `json:"batch"`
	Flags     string `json:"flags"`
	PeakPages int    `json:"peak_pages"`
	Acquires  int    `json:"acquires"`
	Releases  int    `json:"releases"`
}

// countingProvider tracks pages held so churn can report a peak.
type countingProvider struct {
	page.Provider

	mu                 sync.Mutex
	held, peak         int
	acquires, releases int
}

func (c *countingProvider) Acquire(count int, zero bool) (page.Addr, error) {
	base, err := c.Provider.Acquire(count, zero)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.acquires++
	c.held += count
	c.peak = max(c.peak, c.held)
	c.mu.Unlock()
	return base, nil
}

func (c *countingProvider) Release(base page.Addr, count int) {
	c.Provider.Release(base, count)
	c.mu.Lock()
	c.releases++
	c.held -= count
	c.mu.Unlock()
}

func runChurn(ctx context.Context) error {
	if churnSize <= 0 || churnBatch <= 0 {
		return fmt.Errorf("size and batch must be positive")
	}
	inner, err := newProvider()
	if err != nil {
		return err
	}
	pp := &countingProvider{Provider: inner}
	h, err := newHeapOver(pp)
	if err != nil {
		return err
	}

	var (
		flags cache.Flags
		opts  []cache.Option
		ctor  func([]byte)
		dom   *quiesce.Domain
	)
	if churnDeferred {
		flags |= cache.FlagDeferredRelease
		dom = quiesce.NewDomain(cliLogger())
		opts = append(opts, cache.WithScheduler(dom))
	}
	if churnCtor {
		ctor = func(b []byte) {
			for i := range b {
				b[i] = 0xA5
			}
		}
	}
	opts = append(opts, cache.WithLogger(cliLogger()))

	c, err := cache.New(h, "churn", churnSize, 0, flags, ctor, opts...)
	if err != nil {
		return err
	}

	ptrs := make([]page.Addr, churnBatch)
	for i := range churnCount {
		if err := c.AllocBulk(ptrs); err != nil {
			return fmt.Errorf("round %d: %w", i, err)
		}
		c.FreeBulk(ptrs)
		if dom != nil && i%1024 == 1023 {
			if err := dom.Barrier(ctx); err != nil {
				return err
			}
		}
	}
	if err := c.Destroy(ctx); err != nil {
		return err
	}
	if dom != nil {
		dom.Close()
	}

	res := ChurnResult{
		Size:      churnSize,
		Rounds:    churnCount,
		Batch:     churnBatch,
		Flags:     flags.String(),
		PeakPages: pp.peak,
		Acquires:  pp.acquires,
		Releases:  pp.releases,
	}
	if pp.held != 0 {
		return fmt.Errorf("%d pages still held after all frees", pp.held)
	}

	if jsonOut {
		return printJSON(res)
	}
	heading("Churn Results")
	field("Object size", "%d bytes (%s)", res.Size, res.Flags)
	field("Rounds", "%d x %d objects", res.Rounds, res.Batch)
	field("Peak pages held", "%d", res.PeakPages)
	field("Provider calls", "%d acquire, %d release", res.Acquires, res.Releases)
	if verbose {
		heading("Allocator Statistics")
		printStats(h.Allocator().Stats())
	}
	return nil
}
