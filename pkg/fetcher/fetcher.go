// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Fetcher retrieves manifest entries into a data directory.
//
// A Fetcher is safe for concurrent use.
type Fetcher struct {
	dir      string
	cfg      Settings
	fs       afero.Fs
	httpc    *http.Client
	progress ProgressFunc
	dataset  string

	threshold    int64
	thresholdErr error
	ftpTimeout   time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithFs sets the filesystem the fetcher works on. Defaults to the OS
// filesystem.
func WithFs(fs afero.Fs) Option {
	return func(f *Fetcher) { f.fs = fs }
}

// WithHTTPClient sets the client used for http and https URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpc = c }
}

// WithProgress sets the progress callback.
func WithProgress(p ProgressFunc) Option {
	return func(f *Fetcher) { f.progress = p }
}

// WithDataset tags every progress event with a dataset name.
func WithDataset(name string) Option {
	return func(f *Fetcher) { f.dataset = name }
}

// New returns a Fetcher storing files under dir.
func New(dir string, cfg Settings, opts ...Option) *Fetcher {
	f := &Fetcher{dir: filepath.Clean(dir), fs: afero.NewOsFs()}
	for _, o := range opts {
		o(f)
	}
	if f.httpc == nil {
		f.httpc = buildHTTPClient()
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxActiveDownloads <= 0 {
		cfg.MaxActiveDownloads = 2
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	f.cfg = cfg
	f.threshold, f.thresholdErr = ParseSize(cfg.MultipartThreshold, 64<<20)
	f.ftpTimeout = parseDuration(cfg.Timeout, 30*time.Second)
	return f
}

// Dir returns the data directory.
func (f *Fetcher) Dir() string { return f.dir }

// Fs returns the filesystem the fetcher works on.
func (f *Fetcher) Fs() afero.Fs { return f.fs }

// DryRun reports whether the fetcher only plans.
func (f *Fetcher) DryRun() bool { return f.cfg.DryRun }

// Warn emits a warning event.
func (f *Fetcher) Warn(format string, args ...any) {
	f.emit(ProgressEvent{Level: "warn", Event: "warning", Message: fmt.Sprintf(format, args...)})
}

func (f *Fetcher) emit(ev ProgressEvent) {
	if f.progress == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Dataset == "" {
		ev.Dataset = f.dataset
	}
	f.progress(ev)
}

// Fetch is a convenience wrapper around New(dir, cfg).Fetch.
func Fetch(ctx context.Context, dir string, entries []Entry, cfg Settings, progress ProgressFunc) ([]string, error) {
	return New(dir, cfg, WithProgress(progress)).Fetch(ctx, entries)
}

// urlGroup is the set of manifest entries served by one URL.
type urlGroup struct {
	url     string
	opts    Options
	indexes []int
}

// Fetch makes every entry present in the data directory and returns the
// absolute target paths, in manifest order.
//
// Targets that already exist are left alone unless Settings.Force is set, so
// repeating a successful call performs no network I/O. Entries sharing a URL
// are served by a single download.
func (f *Fetcher) Fetch(ctx context.Context, entries []Entry) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.thresholdErr != nil {
		return nil, fmt.Errorf("invalid multipart-threshold: %w", f.thresholdErr)
	}

	targets := make([]string, len(entries))
	for i, e := range entries {
		if e.URL == "" {
			return nil, fmt.Errorf("entry %q: empty URL", e.Path)
		}
		t, err := safeJoin(f.dir, e.Path)
		if err != nil {
			return nil, err
		}
		targets[i] = t
	}

	f.emit(ProgressEvent{Event: "scan_start", Message: fmt.Sprintf("checking %d files in %s", len(entries), f.dir)})

	var missing []int
	for i, e := range entries {
		state := "cached"
		if f.cfg.Force || !f.exists(targets[i]) {
			state = "missing"
			missing = append(missing, i)
		}
		f.emit(ProgressEvent{Event: "plan_item", Path: e.Path, URL: redactURL(e.URL), Message: state})
	}
	cached := len(entries) - len(missing)

	if f.cfg.DryRun {
		f.emit(ProgressEvent{Event: "done", Message: fmt.Sprintf("dry run (cached %d, missing %d)", cached, len(missing))})
		return targets, nil
	}
	if len(missing) == 0 {
		f.emit(ProgressEvent{Event: "done", Message: fmt.Sprintf("fetch complete (downloaded 0, extracted 0, cached %d)", cached)})
		return targets, nil
	}

	if err := f.checkWritable(); err != nil {
		f.emit(ProgressEvent{Level: "error", Event: "error", Message: err.Error()})
		return nil, err
	}

	var downloaded, extracted int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.MaxActiveDownloads)
	for _, grp := range groupByURL(entries, missing) {
		grp := grp
		g.Go(func() error {
			st, err := f.fetchGroup(gctx, grp, entries, targets)
			if st.downloaded {
				atomic.AddInt64(&downloaded, 1)
			}
			if st.extracted {
				atomic.AddInt64(&extracted, 1)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		f.emit(ProgressEvent{Level: "error", Event: "error", Message: err.Error()})
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f.emit(ProgressEvent{
		Event:   "done",
		Message: fmt.Sprintf("fetch complete (downloaded %d, extracted %d, cached %d)", downloaded, extracted, cached),
	})
	return targets, nil
}

func groupByURL(entries []Entry, indexes []int) []*urlGroup {
	var groups []*urlGroup
	byURL := make(map[string]*urlGroup)
	for _, i := range indexes {
		e := entries[i]
		g, ok := byURL[e.URL]
		if !ok {
			g = &urlGroup{url: e.URL, opts: e.Opts}
			byURL[e.URL] = g
			groups = append(groups, g)
		}
		g.indexes = append(g.indexes, i)
		if e.Opts.Uncompress {
			g.opts.Uncompress = true
		}
		if g.opts.Move == "" {
			g.opts.Move = e.Opts.Move
		}
		if g.opts.MD5Sum == "" {
			g.opts.MD5Sum = e.Opts.MD5Sum
		}
		if g.opts.SHA256 == "" {
			g.opts.SHA256 = e.Opts.SHA256
		}
	}
	return groups
}

type groupStats struct {
	downloaded bool
	extracted  bool
}

func (f *Fetcher) fetchGroup(ctx context.Context, g *urlGroup, entries []Entry, targets []string) (groupStats, error) {
	var st groupStats
	if err := ctx.Err(); err != nil {
		return st, err
	}

	sandbox := filepath.Join(f.dir, sandboxName(g.url))
	unlock := sandboxLocks.lock(sandbox)
	defer unlock()

	// Another fetcher may have served this URL while we waited.
	if !f.cfg.Force {
		done := true
		for _, i := range g.indexes {
			if !f.exists(targets[i]) {
				done = false
				break
			}
		}
		if done {
			for _, i := range g.indexes {
				f.emit(ProgressEvent{Event: "target_done", Path: entries[i].Path, Message: "cached"})
			}
			return st, nil
		}
	}

	staged := make([]string, len(g.indexes))
	complete := true
	for k, i := range g.indexes {
		p, err := safeJoin(sandbox, entries[i].Path)
		if err != nil {
			return st, err
		}
		staged[k] = p
		if !f.exists(p) {
			complete = false
		}
	}

	if !complete {
		if err := f.fs.MkdirAll(sandbox, 0o755); err != nil {
			return st, err
		}
		file := filepath.Join(sandbox, remoteFileName(g.url))
		fetched, err := f.retrieve(ctx, g, file)
		if err != nil {
			return st, &DownloadError{URL: redactURL(g.url), Err: err}
		}
		st.downloaded = fetched

		if g.opts.Move != "" {
			moved, err := safeJoin(sandbox, g.opts.Move)
			if err != nil {
				return st, err
			}
			if moved != file {
				if err := f.fs.MkdirAll(filepath.Dir(moved), 0o755); err != nil {
					return st, err
				}
				if err := f.fs.Rename(file, moved); err != nil {
					return st, err
				}
				file = moved
			}
		}

		if g.opts.Uncompress {
			name := filepath.Base(file)
			f.emit(ProgressEvent{Event: "extract_start", Path: name})
			if err := extract(f.fs, file, !f.cfg.KeepArchives); err != nil {
				return st, err
			}
			f.emit(ProgressEvent{Event: "extract_done", Path: name})
			st.extracted = true
		}

		for k, i := range g.indexes {
			if !f.exists(staged[k]) {
				return st, &MissingTargetError{Path: entries[i].Path, URL: redactURL(g.url)}
			}
		}
	}

	if err := moveTree(f.fs, sandbox, f.dir, f.cfg.Force); err != nil {
		return st, err
	}
	if err := f.fs.RemoveAll(sandbox); err != nil {
		return st, err
	}
	for _, i := range g.indexes {
		f.emit(ProgressEvent{Event: "target_done", Path: entries[i].Path, URL: redactURL(g.url)})
	}
	return st, nil
}

// retrieve downloads the group URL to file unless a previous download is
// still there. It reports whether network I/O happened.
func (f *Fetcher) retrieve(ctx context.Context, g *urlGroup, file string) (bool, error) {
	name := filepath.Base(file)
	if !f.cfg.Force && f.exists(file) {
		f.emit(ProgressEvent{Event: "file_done", Path: name, Message: "skip (already downloaded)"})
		return false, nil
	}

	t, err := f.transportFor(g.url, g.opts)
	if err != nil {
		return false, err
	}

	f.emit(ProgressEvent{Event: "file_start", Path: name, URL: redactURL(g.url)})
	size, err := f.download(ctx, t, file)
	if err != nil {
		return true, err
	}
	if err := verifyChecksums(f.fs, file, g.opts); err != nil {
		_ = f.fs.Remove(file)
		return true, err
	}
	f.emit(ProgressEvent{Event: "file_done", Path: name, URL: redactURL(g.url), Bytes: size, Total: size})
	return true, nil
}

func (f *Fetcher) exists(p string) bool {
	_, err := f.fs.Stat(p)
	return err == nil
}

// checkWritable fails with ErrReadOnly when no file can be created in the
// data directory.
func (f *Fetcher) checkWritable() error {
	if err := f.fs.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %s", ErrReadOnly, f.dir)
	}
	tmp, err := afero.TempFile(f.fs, f.dir, ".nidata-write-")
	if err != nil {
		return fmt.Errorf("%w: %s", ErrReadOnly, f.dir)
	}
	name := tmp.Name()
	tmp.Close()
	return f.fs.Remove(name)
}
