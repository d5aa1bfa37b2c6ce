// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package dataset holds what every dataset fetcher shares: data directory
// resolution, the binding to a fetcher.Fetcher, typed parameters and the
// registry the CLI and server look datasets up in.
//
// Dataset packages (atlas, functional, localizer, restingstate) register
// themselves in init; import pkg/dataset/catalog to get all of them.
package dataset

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/roshan-srin/nidata/pkg/fetcher"
)

// Modality groups datasets by the kind of data they provide.
type Modality string

const (
	Atlas        Modality = "atlas"
	Functional   Modality = "functional"
	Localizer    Modality = "localizer"
	RestingState Modality = "resting_state"
)

// Options configures a dataset fetch.
type Options struct {
	// DataDir overrides data directory resolution. It may hold several
	// roots separated by the OS path list separator.
	DataDir string

	Settings fetcher.Settings
	Progress fetcher.ProgressFunc

	// Fs defaults to the OS filesystem.
	Fs afero.Fs

	// HTTPClient defaults to a client with proxy support from the environment.
	HTTPClient *http.Client
}

// Base is a dataset bound to its resolved directory.
type Base struct {
	Name     string
	Modality Modality
	Dir      string
	Fetcher  *fetcher.Fetcher
}

// NewBase resolves the data directory of a dataset and prepares its fetcher.
// envVars are checked before the NIDATA_* variables.
func NewBase(name string, modality Modality, envVars []string, opts Options) (*Base, error) {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	dir, err := ResolveDir(fs, name, opts.DataDir, envVars)
	if err != nil {
		return nil, err
	}

	fopts := []fetcher.Option{fetcher.WithFs(fs), fetcher.WithDataset(name)}
	if opts.Progress != nil {
		fopts = append(fopts, fetcher.WithProgress(opts.Progress))
	}
	if opts.HTTPClient != nil {
		fopts = append(fopts, fetcher.WithHTTPClient(opts.HTTPClient))
	}
	return &Base{
		Name:     name,
		Modality: modality,
		Dir:      dir,
		Fetcher:  fetcher.New(dir, opts.Settings, fopts...),
	}, nil
}

// Fetch fetches entries into the dataset directory.
func (b *Base) Fetch(ctx context.Context, entries []fetcher.Entry) ([]string, error) {
	return b.Fetcher.Fetch(ctx, entries)
}

// Path returns the absolute path of a file relative to the dataset directory.
func (b *Base) Path(rel string) string {
	return filepath.Join(b.Dir, filepath.FromSlash(rel))
}

// Fs returns the filesystem the dataset lives on.
func (b *Base) Fs() afero.Fs {
	return b.Fetcher.Fs()
}

// DryRun reports whether post-processing of fetched files must be skipped.
func (b *Base) DryRun() bool {
	return b.Fetcher.DryRun()
}

// Warn reports a parameter adjustment through the progress callback.
func (b *Base) Warn(format string, args ...any) {
	b.Fetcher.Warn(format, args...)
}

// Entries builds manifest entries that all come from one URL.
func Entries(url string, opts fetcher.Options, paths ...string) []fetcher.Entry {
	entries := make([]fetcher.Entry, len(paths))
	for i, p := range paths {
		entries[i] = fetcher.Entry{Path: p, URL: url, Opts: opts}
	}
	return entries
}
