// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// downloadMultipart downloads a file using multiple parallel range requests.
// Parts already complete on disk are kept, so an interrupted multipart
// download resumes part by part.
func (f *Fetcher) downloadMultipart(ctx context.Context, t *httpTransport, size int64, dst string) error {
	name := filepath.Base(dst)

	// Plan parts
	n := f.cfg.Concurrency
	chunk := size / int64(n)
	if chunk <= 0 {
		chunk = size
		n = 1
	}

	tmpParts := make([]string, n)
	for i := 0; i < n; i++ {
		tmpParts[i] = fmt.Sprintf("%s.part-%02d", dst, i)
	}
	if f.cfg.Force || f.cfg.NoResume {
		f.removeParts(dst)
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Emit periodic progress
	go func() {
		t := time.NewTicker(200 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-pctx.Done():
				return
			case <-t.C:
				var downloaded int64
				for _, p := range tmpParts {
					if fi, err := f.fs.Stat(p); err == nil {
						downloaded += fi.Size()
					}
				}
				f.emit(ProgressEvent{Event: "file_progress", Path: name, Downloaded: downloaded, Total: size})
			}
		}
	}()

	g, gctx := errgroup.WithContext(pctx)
	for i := 0; i < n; i++ {
		i := i
		start := int64(i) * chunk
		end := start + chunk - 1
		if i == n-1 {
			end = size - 1
		}
		g.Go(func() error {
			return f.downloadPart(gctx, t, tmpParts[i], start, end, name)
		})
	}
	if err := g.Wait(); err != nil {
		if isRangeUnsupported(err) {
			for _, p := range tmpParts {
				_ = f.fs.Remove(p)
			}
		}
		return err
	}
	cancel()

	// Assemble parts
	out, err := f.fs.Create(dst + ".part")
	if err != nil {
		return err
	}
	for _, p := range tmpParts {
		in, err := f.fs.Open(p)
		if err != nil {
			out.Close()
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			return err
		}
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := f.fs.Rename(dst+".part", dst); err != nil {
		return err
	}
	for _, p := range tmpParts {
		_ = f.fs.Remove(p)
	}
	f.emit(ProgressEvent{Event: "file_progress", Path: name, Downloaded: size, Total: size})
	return nil
}

// removeParts deletes every partial download of dst, whatever part count
// produced it.
func (f *Fetcher) removeParts(dst string) {
	parts, _ := afero.Glob(f.fs, dst+".part-*")
	for _, p := range append(parts, dst+".part") {
		_ = f.fs.Remove(p)
	}
}

func (f *Fetcher) downloadPart(ctx context.Context, t *httpTransport, tmp string, start, end int64, name string) error {
	// Resume: skip if already correct size
	if fi, err := f.fs.Stat(tmp); err == nil && fi.Size() == (end-start+1) {
		return nil
	}

	retry := newRetry(f.cfg)
	var lastErr error

	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = f.fetchRange(ctx, t, tmp, start, end)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isRangeUnsupported(lastErr) || !retryable(lastErr) {
			return lastErr
		}

		if attempt < f.cfg.Retries {
			f.emit(ProgressEvent{Event: "retry", Path: name, Attempt: attempt + 1, Message: lastErr.Error()})
			if d := retry.Next(); !sleepCtx(ctx, d) {
				return ctx.Err()
			}
		}
	}
	return lastErr
}

func (f *Fetcher) fetchRange(ctx context.Context, t *httpTransport, tmp string, start, end int64) error {
	rq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return err
	}
	t.decorate(rq)
	rq.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	rs, err := t.client.Do(rq)
	if err != nil {
		return err
	}
	defer rs.Body.Close()

	switch {
	case rs.StatusCode == http.StatusPartialContent:
	case rs.StatusCode >= 200 && rs.StatusCode < 300:
		return fmt.Errorf("%w (status %s)", errRangeUnsupported, rs.Status)
	default:
		return &StatusError{StatusCode: rs.StatusCode, Status: rs.Status, URL: redactURL(t.url)}
	}

	out, err := f.fs.Create(tmp)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, rs.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n != end-start+1 {
		return fmt.Errorf("short range %d-%d: got %d bytes", start, end, n)
	}
	return nil
}
