// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// progressReader wraps an io.Reader and emits progress events during reads.
type progressReader struct {
	reader     io.Reader
	total      int64
	downloaded int64
	path       string
	emit       func(ProgressEvent)
	lastEmit   time.Time
	interval   time.Duration
}

func newProgressReader(r io.Reader, offset, total int64, path string, emit func(ProgressEvent)) *progressReader {
	return &progressReader{
		reader:     r,
		total:      total,
		downloaded: offset,
		path:       path,
		emit:       emit,
		lastEmit:   time.Now(),
		interval:   200 * time.Millisecond, // Emit at most 5 times per second
	}
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)
		// Throttle emissions to avoid flooding
		if time.Since(pr.lastEmit) >= pr.interval || err == io.EOF {
			pr.emit(ProgressEvent{
				Event:      "file_progress",
				Path:       pr.path,
				Downloaded: pr.downloaded,
				Total:      pr.total,
			})
			pr.lastEmit = time.Now()
		}
	}
	return n, err
}

// remoteFile is an open download stream. Offset is where the stream starts
// in the remote file; Total is the full remote size, 0 if unknown.
type remoteFile struct {
	Body   io.ReadCloser
	Offset int64
	Total  int64
}

// transport opens a remote file, resuming at offset when it can. A
// transport that cannot resume returns a stream with Offset 0.
type transport interface {
	open(ctx context.Context, offset int64) (*remoteFile, error)
}

// transportFor picks the transport for a URL and checks its credentials.
func (f *Fetcher) transportFor(rawURL string, opts Options) (transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(u.Scheme)

	switch scheme {
	case "http", "https":
		username, password := opts.Username, opts.Password
		if username == "" && scheme == "https" {
			username, password = f.cfg.Username, f.cfg.Password
		}
		if username != "" && scheme != "https" {
			return nil, fmt.Errorf("%w: %s", ErrInsecureAuth, redactURL(rawURL))
		}
		return &httpTransport{
			client:    f.httpc,
			url:       rawURL,
			opts:      opts,
			username:  username,
			password:  password,
			userAgent: f.cfg.UserAgent,
		}, nil
	case "ftp":
		if opts.Username != "" {
			return nil, fmt.Errorf("%w: %s", ErrInsecureAuth, redactURL(rawURL))
		}
		return &ftpTransport{url: u, timeout: f.ftpTimeout}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// download fetches t into dst through dst+".part" and returns the size of
// the result.
func (f *Fetcher) download(ctx context.Context, t transport, dst string) (int64, error) {
	if ht, ok := t.(*httpTransport); ok {
		if size, ranges := ht.probe(ctx); ranges && size >= f.threshold && size > 0 {
			err := f.downloadMultipart(ctx, ht, size, dst)
			if err == nil {
				return size, nil
			}
			if !isRangeUnsupported(err) {
				return 0, err
			}
		}
	}
	return f.downloadSingle(ctx, t, dst)
}

// downloadSingle downloads a file as one stream, resuming a previous
// ".part" file unless resuming is disabled.
func (f *Fetcher) downloadSingle(ctx context.Context, t transport, dst string) (int64, error) {
	tmp := dst + ".part"
	name := filepath.Base(dst)
	if f.cfg.NoResume || f.cfg.Force {
		_ = f.fs.Remove(tmp)
	}

	retry := newRetry(f.cfg)
	var lastErr error

	for attempt := 0; attempt <= f.cfg.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		var offset int64
		if !f.cfg.NoResume {
			if fi, err := f.fs.Stat(tmp); err == nil {
				offset = fi.Size()
			}
		}

		n, err := f.copyOnce(ctx, t, tmp, offset, name)
		if err == nil {
			return n, f.fs.Rename(tmp, dst)
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if !retryable(lastErr) {
			return 0, lastErr
		}

		if attempt < f.cfg.Retries {
			f.emit(ProgressEvent{Event: "retry", Path: name, Attempt: attempt + 1, Message: lastErr.Error()})
			if d := retry.Next(); !sleepCtx(ctx, d) {
				return 0, ctx.Err()
			}
		}
	}
	return 0, lastErr
}

// copyOnce runs one download attempt into tmp and returns the size of tmp.
func (f *Fetcher) copyOnce(ctx context.Context, t transport, tmp string, offset int64, name string) (int64, error) {
	rf, err := t.open(ctx, offset)
	if err != nil {
		return 0, err
	}
	defer rf.Body.Close()

	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if rf.Offset > 0 {
		flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	out, err := f.fs.OpenFile(tmp, flag, 0o644)
	if err != nil {
		return 0, err
	}

	pr := newProgressReader(rf.Body, rf.Offset, rf.Total, name, f.emit)
	_, cerr := io.Copy(out, pr)
	if err := out.Close(); err != nil && cerr == nil {
		cerr = err
	}
	if cerr != nil {
		return 0, cerr
	}
	if rf.Total > 0 && pr.downloaded != rf.Total {
		return 0, fmt.Errorf("short read: got %d of %d bytes", pr.downloaded, rf.Total)
	}
	return pr.downloaded, nil
}
