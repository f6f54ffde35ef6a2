package main

import (
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/joshuapare/pageheap/heap/alloc"
	"github.com/joshuapare/pageheap/internal/format"
)

// Set with -ldflags "-X main.version=..." at release time.
var (
	version = "dev"
	commit  = "none"
)

func init() {
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion()
		},
	}
}

// VersionInfo describes the heapctl build.
type VersionInfo struct {
	Version         string `json:"version"`
	Commit          string `json:"commit"`
	GoVersion       string `json:"go_version"`
	Platform        string `json:"platform"`
	Library         string `json:"library_version"`
	UnitSize        int    `json:"unit_size"`
	DefaultPageSize int    `json:"default_page_size"`
	HeaderSize      int    `json:"header_size"`
}

func buildVersionInfo() VersionInfo {
	info := VersionInfo{
		Version:         version,
		Commit:          commit,
		GoVersion:       runtime.Version(),
		Platform:        runtime.GOOS + "/" + runtime.GOARCH,
		Library:         "(devel)",
		UnitSize:        format.UnitSize,
		DefaultPageSize: format.DefaultPageSize,
		HeaderSize:      alloc.HeaderSize,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range bi.Deps {
			if dep.Path == "github.com/joshuapare/pageheap" {
				info.Library = dep.Version
			}
		}
		if info.Commit == "none" {
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					info.Commit = s.Value
				}
			}
		}
	}
	return info
}

func runVersion() error {
	info := buildVersionInfo()
	if jsonOut {
		return printJSON(info)
	}
	printInfo("heapctl %s (%s)\n", info.Version, info.Commit)
	field("Go", "%s %s", info.GoVersion, info.Platform)
	field("pageheap", "%s", info.Library)
	field("Geometry", "%d-byte units, %d-byte pages, %d-byte size header",
		info.UnitSize, info.DefaultPageSize, info.HeaderSize)
	return nil
}
