// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roshan-srin/nidata/internal/logging"
	"github.com/roshan-srin/nidata/internal/tui"
	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

func newFetchCmd(ro *RootOpts) *cobra.Command {
	cfg := fetcher.DefaultSettings()
	var (
		dataDir string
		sets    []string
		planFmt string
	)

	cmd := &cobra.Command{
		Use:   "fetch DATASET",
		Short: "Fetch a dataset or atlas into the data directory",
		Long: `Fetch a registered dataset. Files already present in the data directory
are reused; interrupted downloads resume.

Dataset parameters are passed with --set, for example:
  nidata fetch haxby_etal_2001 --set n_subjects=2 --set fetch_stimuli=true
  nidata fetch brainomics_localizer --set contrasts="checkerboard,sentence listening"

Run 'nidata info DATASET' to list a dataset's parameters.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing DATASET (run 'nidata list' to see what is available)")
			}
			name := args[0]
			params, err := dataset.ParseParams(sets)
			if err != nil {
				return err
			}
			if _, err := fetcher.ParseSize(cfg.MultipartThreshold, 0); err != nil {
				return fmt.Errorf("invalid --multipart-threshold: %w", err)
			}

			f := &fetchRun{
				ro:      ro,
				name:    name,
				params:  params,
				dataDir: dataDir,
				cfg:     cfg,
				planFmt: planFmt,
				stdout:  cmd.OutOrStdout(),
				stderr:  cmd.ErrOrStderr(),
			}
			return f.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory (default: $NIDATA_SHARED_DATA, $NIDATA_PATH or ~/nidata_path)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Dataset parameter as key=value (repeatable)")

	cmd.Flags().IntVarP(&cfg.Concurrency, "connections", "c", cfg.Concurrency, "Concurrent range requests per large download")
	cmd.Flags().IntVar(&cfg.MaxActiveDownloads, "max-active", cfg.MaxActiveDownloads, "Maximum number of URLs downloading at once")
	cmd.Flags().StringVar(&cfg.MultipartThreshold, "multipart-threshold", cfg.MultipartThreshold, "Use range requests only for files >= this size")
	cmd.Flags().IntVar(&cfg.Retries, "retries", cfg.Retries, "Max retry attempts per download")
	cmd.Flags().StringVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "Initial retry backoff duration")
	cmd.Flags().StringVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Maximum retry backoff duration")
	cmd.Flags().StringVar(&cfg.Timeout, "timeout", cfg.Timeout, "FTP dial and control timeout")
	cmd.Flags().StringVar(&cfg.Username, "username", "", "Username for servers requiring basic auth")
	cmd.Flags().StringVar(&cfg.Password, "password", "", "Password for servers requiring basic auth")
	cmd.Flags().StringVar(&cfg.UserAgent, "user-agent", "", "Override the User-Agent header")
	cmd.Flags().BoolVar(&cfg.NoResume, "no-resume", false, "Discard partial downloads instead of resuming them")
	cmd.Flags().BoolVar(&cfg.Force, "force", false, "Download again even when files are present")
	cmd.Flags().BoolVar(&cfg.KeepArchives, "keep-archives", false, "Keep archives after extracting them")
	cmd.Flags().BoolVar(&cfg.DryRun, "dry-run", false, "Plan only: list what would be downloaded and exit")
	cmd.Flags().StringVar(&planFmt, "plan-format", "table", "Plan output format for --dry-run: table|json")

	return cmd
}

type fetchRun struct {
	ro      *RootOpts
	name    string
	params  dataset.Params
	dataDir string
	cfg     fetcher.Settings
	planFmt string

	stdout io.Writer
	stderr io.Writer
}

// planItem is one line of a --dry-run plan.
type planItem struct {
	Path   string `json:"path"`
	URL    string `json:"url"`
	Cached bool   `json:"cached"`
}

func (f *fetchRun) run(cmd *cobra.Command) error {
	log := f.ro.Logger().WithFields(logging.BaseFields("fetch", f.name))
	opts := dataset.Options{DataDir: f.dataDir, Settings: f.cfg}

	if f.cfg.DryRun {
		var (
			mu   sync.Mutex
			plan []planItem
		)
		opts.Progress = logged(log, func(ev fetcher.ProgressEvent) {
			switch ev.Event {
			case "plan_item":
				mu.Lock()
				plan = append(plan, planItem{Path: ev.Path, URL: ev.URL, Cached: ev.Message == "cached"})
				mu.Unlock()
			case "warning":
				fmt.Fprintf(f.stderr, "warning: %s\n", ev.Message)
			}
		})
		if _, err := dataset.Run(cmd.Context(), f.name, f.params, opts); err != nil {
			return err
		}
		if strings.EqualFold(f.planFmt, "json") || f.ro.JSONOut {
			enc := json.NewEncoder(f.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		}
		return renderPlan(f.stdout, f.name, plan)
	}

	switch {
	case f.ro.JSONOut:
		opts.Progress = logged(log, jsonProgress(f.stdout))
	case f.ro.Quiet:
		opts.Progress = logged(log, quietProgress(f.stderr))
	default:
		ui := tui.NewLiveRenderer(f.stderr, tui.Header{Dataset: f.name, DataDir: f.dataDir, Settings: f.cfg})
		defer ui.Close()
		opts.Progress = logged(log, ui.Handler())
	}

	res, err := dataset.Run(cmd.Context(), f.name, f.params, opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f.stdout)
	enc.SetEscapeHTML(false)
	if !f.ro.JSONOut {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}

// logged forwards events to next after logging them.
func logged(log logrus.FieldLogger, next fetcher.ProgressFunc) fetcher.ProgressFunc {
	return func(ev fetcher.ProgressEvent) {
		logging.LogEvent(log, ev)
		next(ev)
	}
}

func renderPlan(w io.Writer, name string, plan []planItem) error {
	var cached int
	table := tablewriter.NewWriter(w)
	table.Header("Path", "Status", "URL")
	for _, it := range plan {
		status := "missing"
		if it.Cached {
			status = "cached"
			cached++
		}
		if err := table.Append([]string{it.Path, status, it.URL}); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "Plan for %s (%d files):\n", name, len(plan))
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d cached, %d missing\n", cached, len(plan)-cached)
	return nil
}

// quietProgress returns a plain line-per-event progress handler.
func quietProgress(w io.Writer) fetcher.ProgressFunc {
	var mu sync.Mutex
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	return func(ev fetcher.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Event {
		case "scan_start":
			fmt.Fprintf(w, "%s: %s\n", ev.Dataset, ev.Message)
		case "file_start":
			fmt.Fprintf(w, "downloading: %s\n", ev.URL)
		case "file_done":
			if strings.HasPrefix(ev.Message, "skip") {
				fmt.Fprintf(w, "skip: %s %s\n", ev.Path, ev.Message)
			} else {
				green.Fprintf(w, "done: %s (%d bytes)\n", ev.Path, ev.Bytes)
			}
		case "extract_start":
			fmt.Fprintf(w, "extracting: %s\n", ev.Path)
		case "retry":
			yellow.Fprintf(w, "retry %s (attempt %d): %s\n", ev.Path, ev.Attempt, ev.Message)
		case "warning":
			yellow.Fprintf(w, "warning: %s\n", ev.Message)
		case "error":
			red.Fprintf(w, "error: %s\n", ev.Message)
		case "done":
			green.Fprintln(w, ev.Message)
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) fetcher.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev fetcher.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}
