package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/pageheap/heap/alloc"
	"github.com/joshuapare/pageheap/heap/page"
)

var (
	stressWorkers int
	stressOps     int
	stressMaxSize int
	stressLive    int
	stressSeed    int64
	stressAlign   bool
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVarP(&stressWorkers, "workers", "w", 4, "Concurrent workers")
	cmd.Flags().IntVarP(&stressOps, "ops", "n", 100000, "Operations per worker")
	cmd.Flags().IntVar(&stressMaxSize, "max-size", 2048, "Largest request in bytes")
	cmd.Flags().IntVar(&stressLive, "live", 256, "Live allocations kept per worker")
	cmd.Flags().Int64Var(&stressSeed, "seed", 1, "Random seed (worker i uses seed+i)")
	cmd.Flags().BoolVar(&stressAlign, "align", false, "Mix in power-of-two alignments")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run concurrent random alloc/free workers",
		Long: `The stress command runs workers that allocate and free random sizes
through the heap, fill every block with a worker tag and check it before
freeing. When all workers finish, every page must be back with the provider
and the allocator invariants must hold.

Example:
  heapctl stress
  heapctl stress -w 16 -n 1000000 --max-size 8192 --align`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd.Context())
		},
	}
	return cmd
}

// StressResult is the outcome of a stress run.
type StressResult struct {
	Workers  int           `json:"workers"`
	Ops      int           `json:"ops"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	PeakLive int           `json:"peak_live_per_worker"`
	Stats    alloc.Stats   `json:"stats"`
}

func runStress(ctx context.Context) error {
	h, err := newHeap()
	if err != nil {
		return err
	}
	if stressWorkers <= 0 || stressMaxSize <= 0 || stressLive <= 0 {
		return fmt.Errorf("workers, max-size and live must be positive")
	}

	printVerbose("Running %d workers x %d ops (max size %d)\n", stressWorkers, stressOps, stressMaxSize)

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := range stressWorkers {
		g.Go(func() error {
			return stressWorker(ctx, h, w)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	res := StressResult{
		Workers:  stressWorkers,
		Ops:      stressWorkers * stressOps,
		Elapsed:  time.Since(start),
		PeakLive: stressLive,
		Stats:    h.Allocator().Stats(),
	}

	if err := h.Allocator().Verify(); err != nil {
		return fmt.Errorf("invariant check failed: %w", err)
	}
	if held := res.Stats.PagesHeld() + res.Stats.LargePagesNow; held != 0 {
		return fmt.Errorf("%d pages still held after all frees", held)
	}

	if jsonOut {
		return printJSON(res)
	}
	heading("Stress Results")
	field("Operations", "%d in %v", res.Ops, res.Elapsed.Round(time.Millisecond))
	printStats(res.Stats)
	field("Invariants", "%s", styled(okStyle, "ok"))
	return nil
}

type block struct {
	ptr page.Addr
	n   int
}

func stressWorker(ctx context.Context, h *alloc.Heap, w int) error {
	rng := rand.New(rand.NewSource(stressSeed + int64(w)))
	tag := byte(w + 1)
	live := make([]block, 0, stressLive)

	free := func(i int) error {
		b := live[i]
		for _, c := range h.Bytes(b.ptr, b.n) {
			if c != tag {
				return fmt.Errorf("worker %d: block %#x (%d bytes) overwritten", w, uintptr(b.ptr), b.n)
			}
		}
		h.Free(b.ptr)
		live[i] = live[len(live)-1]
		live = live[:len(live)-1]
		return nil
	}

	for i := range stressOps {
		if i%1024 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		if len(live) == stressLive || (len(live) > 0 && rng.Intn(2) == 0) {
			if err := free(rng.Intn(len(live))); err != nil {
				return err
			}
			continue
		}

		n := 1 + rng.Intn(stressMaxSize)
		var (
			p   page.Addr
			err error
		)
		if stressAlign && rng.Intn(4) == 0 {
			p, err = h.AllocAlign(n, 8<<rng.Intn(8))
		} else {
			p, err = h.Alloc(n)
		}
		if err != nil {
			return fmt.Errorf("worker %d: alloc(%d): %w", w, n, err)
		}
		fill := h.Bytes(p, n)
		for j := range fill {
			fill[j] = tag
		}
		live = append(live, block{p, n})
	}

	for len(live) > 0 {
		if err := free(len(live) - 1); err != nil {
			return err
		}
	}
	return nil
}
