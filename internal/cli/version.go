// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roshan-srin/nidata/pkg/dataset"
)

// BuildInfo describes this binary and the datasets compiled into it.
type BuildInfo struct {
	Version   string         `json:"version"`
	Commit    string         `json:"commit"`
	Modified  bool           `json:"modified,omitempty"`
	BuildTime string         `json:"build_time"`
	GoVersion string         `json:"go_version"`
	Platform  string         `json:"platform"`
	Datasets  map[string]int `json:"datasets"`
	DataRoots []string       `json:"data_roots"`
}

// GetBuildInfo collects version control data from the binary, counts the
// registered datasets per modality and lists the data roots searched when
// no --data-dir is given.
func GetBuildInfo(version string) BuildInfo {
	info := BuildInfo{
		Version:   version,
		Commit:    "unknown",
		BuildTime: "unknown",
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Datasets:  make(map[string]int),
		DataRoots: dataset.CandidateRoots("", nil),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Commit = s.Value
				if len(info.Commit) > 7 {
					info.Commit = info.Commit[:7]
				}
			case "vcs.time":
				info.BuildTime = s.Value
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}

	for _, d := range dataset.List() {
		info.Datasets[string(d.Modality)]++
	}
	return info
}

func (b BuildInfo) write(w io.Writer) {
	commit := b.Commit
	if b.Modified {
		commit += " (modified)"
	}
	fmt.Fprintf(w, "nidata %s\n", b.Version)
	fmt.Fprintf(w, "  Commit:    %s, built %s\n", commit, b.BuildTime)
	fmt.Fprintf(w, "  Go:        %s %s\n", b.GoVersion, b.Platform)

	modalities := make([]string, 0, len(b.Datasets))
	total := 0
	for m, n := range b.Datasets {
		modalities = append(modalities, fmt.Sprintf("%d %s", n, m))
		total += n
	}
	sort.Strings(modalities)
	fmt.Fprintf(w, "  Datasets:  %d (%s)\n", total, strings.Join(modalities, ", "))
	fmt.Fprintf(w, "  Data dirs: %s\n", strings.Join(b.DataRoots, ", "))
}

func newVersionCmd(ro *RootOpts, version string) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version, build and dataset catalog information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := GetBuildInfo(version)
			switch {
			case short:
				fmt.Fprintln(cmd.OutOrStdout(), info.Version)
			case ro.JSONOut:
				return writeJSON(cmd.OutOrStdout(), info)
			default:
				info.write(cmd.OutOrStdout())
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")
	return cmd
}
