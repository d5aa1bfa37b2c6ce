// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetcher

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// moveTree merges the tree under src into dst. Directories are merged. A
// file already present in dst is kept unless overwrite is set; the copy
// left in src goes away with the sandbox. Every failure is reported.
func moveTree(fs afero.Fs, src, dst string, overwrite bool) error {
	infos, err := afero.ReadDir(fs, src)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, fi := range infos {
		from := filepath.Join(src, fi.Name())
		to := filepath.Join(dst, fi.Name())
		if fi.IsDir() {
			if err := fs.MkdirAll(to, 0o755); err != nil {
				result = multierror.Append(result, err)
				continue
			}
			if err := moveTree(fs, from, to, overwrite); err != nil {
				result = multierror.Append(result, err)
			}
			continue
		}
		if !overwrite {
			if _, err := fs.Stat(to); err == nil {
				continue
			}
		}
		if err := fs.Rename(from, to); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Tree lists the files under dir whose base name matches pattern, grouped
// by their directory relative to dir ("." for dir itself). Each list holds
// paths relative to dir, sorted.
func Tree(fs afero.Fs, dir, pattern string) (map[string][]string, error) {
	out := make(map[string][]string)
	err := afero.Walk(fs, dir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		ok, err := filepath.Match(pattern, fi.Name())
		if err != nil || !ok {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		key := "."
		if i := strings.LastIndexByte(rel, '/'); i >= 0 {
			key = rel[:i]
		}
		out[key] = append(out[key], rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, files := range out {
		sort.Strings(files)
	}
	return out, nil
}
