package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pageheap/heap/alloc"
	"github.com/joshuapare/pageheap/heap/page"
	"github.com/joshuapare/pageheap/internal/format"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show allocator geometry for the selected configuration",
		Long: `The info command reports the page geometry, bucket thresholds and
façade limits the allocator would use with the given flags.

Example:
  heapctl info
  heapctl info --page-size 16384 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo()
		},
	}
	return cmd
}

// HeapInfo describes an allocator configuration.
type HeapInfo struct {
	Provider      string `json:"provider"`
	PageSize      int    `json:"page_size"`
	OSPageSize    int    `json:"os_page_size"`
	UnitSize      int    `json:"unit_size"`
	PageUnits     int    `json:"page_units"`
	SmallBreak    int    `json:"small_break"`
	MediumBreak   int    `json:"medium_break"`
	HeaderSize    int    `json:"header_size"`
	MaxBlockAlloc int    `json:"max_block_alloc"`
	MmapSupported bool   `json:"mmap_supported"`
}

func runInfo() error {
	h, err := newHeap()
	if err != nil {
		return err
	}
	ps := h.Allocator().PageSize()

	info := HeapInfo{
		Provider:      providerName,
		PageSize:      ps,
		OSPageSize:    os.Getpagesize(),
		UnitSize:      format.UnitSize,
		PageUnits:     ps / format.UnitSize,
		SmallBreak:    smallBreak,
		MediumBreak:   mediumBreak,
		HeaderSize:    alloc.HeaderSize,
		MaxBlockAlloc: ps - alloc.HeaderSize - 1,
		MmapSupported: mmapSupported(),
	}

	if jsonOut {
		return printJSON(info)
	}

	heading("Allocator Information")
	field("Provider", "%s", info.Provider)
	field("Page size", "%d bytes (OS %d)", info.PageSize, info.OSPageSize)
	field("Units per page", "%d x %d bytes", info.PageUnits, info.UnitSize)
	field("Buckets", "small < %d, medium < %d, large otherwise", info.SmallBreak, info.MediumBreak)
	field("Size header", "%d bytes", info.HeaderSize)
	field("Largest block", "%d bytes (larger requests take whole pages)", info.MaxBlockAlloc)
	field("Mmap provider", "%t", info.MmapSupported)
	return nil
}

func mmapSupported() bool {
	_, err := page.NewMmap(nil)
	return !errors.Is(err, page.ErrUnsupported)
}
