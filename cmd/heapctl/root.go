package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/pageheap/heap/alloc"
	"github.com/joshuapare/pageheap/heap/page"
	"github.com/joshuapare/pageheap/internal/format"
	"github.com/joshuapare/pageheap/internal/logger"
)

var (
	// Global flags
	verbose  bool
	quiet    bool
	jsonOut  bool
	debugLog bool
	noColor  bool

	// Heap flags
	providerName string
	pageSize     int
	maxPages     int
	smallBreak   int
	mediumBreak  int
)

var rootCmd = &cobra.Command{
	Use:   "heapctl",
	Short: "Exercise and inspect the pageheap allocator",
	Long: `heapctl builds a pageheap allocator over an in-process arena or OS
mappings and drives it with configurable workloads, reporting page usage,
split and coalesce counts, and invariant checks.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Log page acquire and release to stderr")

	rootCmd.PersistentFlags().
		StringVar(&providerName, "provider", "arena", "Page provider: arena or mmap")
	rootCmd.PersistentFlags().
		IntVar(&pageSize, "page-size", format.DefaultPageSize, "Page size in bytes (power of two)")
	rootCmd.PersistentFlags().IntVar(&maxPages, "max-pages", 0, "Page limit (0 = unlimited)")
	rootCmd.PersistentFlags().
		IntVar(&smallBreak, "small-break", alloc.DefaultConfig.SmallBreak, "Largest small-bucket request + 1")
	rootCmd.PersistentFlags().
		IntVar(&mediumBreak, "medium-break", alloc.DefaultConfig.MediumBreak, "Largest medium-bucket request + 1")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v\n", err)
		os.Exit(1)
	}
}

// newProvider builds the page provider selected by the global flags.
func newProvider() (page.Provider, error) {
	switch providerName {
	case "arena":
		a, err := page.NewArena(&page.ArenaConfig{
			PageSize: pageSize,
			MaxPages: maxPages,
			Retain:   page.DefaultArenaConfig.Retain,
		})
		if err != nil {
			return nil, err
		}
		return a, nil
	case "mmap":
		m, err := page.NewMmap(&page.MmapConfig{PageSize: pageSize, MaxPages: maxPages})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want arena or mmap)", providerName)
	}
}

// newHeap builds a heap from the global flags.
func newHeap() (*alloc.Heap, error) {
	pp, err := newProvider()
	if err != nil {
		return nil, err
	}
	return newHeapOver(pp)
}

// newHeapOver builds a heap over pp with the bucket flags.
func newHeapOver(pp page.Provider) (*alloc.Heap, error) {
	a, err := alloc.New(pp, &alloc.Config{
		SmallBreak:  smallBreak,
		MediumBreak: mediumBreak,
		Logger:      cliLogger(),
	})
	if err != nil {
		return nil, err
	}
	return alloc.NewHeap(a), nil
}

func cliLogger() *slog.Logger {
	return logger.New(logger.Options{Enabled: debugLog, Level: slog.LevelDebug})
}

// Helper functions for output

// printer formats numbers with thousands separators.
var printer = message.NewPrinter(language.English)

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		printer.Fprintf(os.Stdout, format, args...)
	}
}

// printError prints an error message
func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		printer.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// printStats writes the allocator counters.
func printStats(st alloc.Stats) {
	field("Pages acquired", "%d", st.PagesAcquired)
	field("Pages released", "%d", st.PagesReleased)
	field("Pages held", "%d", st.PagesHeld())
	field("Allocations", "%d (fast %d, slow %d)", st.AllocCalls, st.AllocFastPath, st.AllocSlowPath)
	field("Frees", "%d", st.FreeCalls)
	field("Splits", "%d (alignment %d)", st.Splits, st.AlignSplits)
	field("Coalesces", "%d forward, %d backward", st.CoalesceForward, st.CoalesceBackward)
	field("Rotations", "%d", st.Rotations)
	field("Page runs", "%d allocated, %d freed", st.LargeAllocs, st.LargeFrees)
	field("Tracked pages", "small %d, medium %d, large %d",
		st.TrackedPages[alloc.BucketSmall], st.TrackedPages[alloc.BucketMedium], st.TrackedPages[alloc.BucketLarge])
}
