// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// Environment variables consulted by ResolveDir, in order, after the
// dataset's own variables.
const (
	EnvSharedData = "NIDATA_SHARED_DATA"
	EnvDataPath   = "NIDATA_PATH"
)

// DefaultRootName is the directory created in the home directory when no
// other root is configured.
const DefaultRootName = "nidata_path"

// ErrNoDataDir is returned when no candidate directory exists or can be
// created.
var ErrNoDataDir = errors.New("no usable data directory")

// CandidateRoots lists the roots ResolveDir tries, in order.
//
// An explicit dataDir is used on its own. Otherwise the roots come from the
// variables in envVars, then NIDATA_SHARED_DATA, then NIDATA_PATH, and
// finally ~/nidata_path. Every value may hold several paths separated by the
// OS path list separator.
func CandidateRoots(dataDir string, envVars []string) []string {
	if dataDir != "" {
		return expandAll(filepath.SplitList(dataDir))
	}

	vars := make([]string, 0, len(envVars)+2)
	vars = append(vars, envVars...)
	vars = append(vars, EnvSharedData, EnvDataPath)

	var roots []string
	for _, v := range vars {
		if val := os.Getenv(v); val != "" {
			roots = append(roots, filepath.SplitList(val)...)
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		roots = append(roots, filepath.Join(home, DefaultRootName))
	}
	return expandAll(roots)
}

// ResolveDir returns the directory holding dataset name.
//
// The first <root>/<name> that already exists wins; symbolic links are
// followed. Otherwise the first one that can be created is created and
// returned. If none can be created the error lists every path tried.
func ResolveDir(fs afero.Fs, name, dataDir string, envVars []string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("dataset name is required")
	}
	roots := CandidateRoots(dataDir, envVars)
	if len(roots) == 0 {
		return "", fmt.Errorf("%w for %s: no candidate roots", ErrNoDataDir, name)
	}

	paths := make([]string, len(roots))
	for i, r := range roots {
		paths[i] = filepath.Join(r, name)
	}

	for _, p := range paths {
		if fi, err := fs.Stat(p); err == nil && fi.IsDir() {
			return p, nil
		}
	}

	var result *multierror.Error
	for _, p := range paths {
		if err := fs.MkdirAll(p, 0o755); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		return p, nil
	}
	return "", fmt.Errorf("%w for %s, tried: %s: %v",
		ErrNoDataDir, name, strings.Join(paths, ", "), result.ErrorOrNil())
}

func expandAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, expandHome(p))
	}
	return out
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
