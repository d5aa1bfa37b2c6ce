// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultUserAgent is sent when Settings.UserAgent is empty.
const DefaultUserAgent = "nidata/1"

// buildHTTPClient creates an HTTP client with sensible defaults.
func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

type httpTransport struct {
	client    *http.Client
	url       string
	opts      Options
	username  string
	password  string
	userAgent string
}

// decorate adds the user agent, credentials, headers and cookies.
func (t *httpTransport) decorate(req *http.Request) {
	ua := t.userAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Connection", "Keep-Alive")
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	for k, v := range t.opts.Headers {
		req.Header.Set(k, v)
	}
	names := make([]string, 0, len(t.opts.Cookies))
	for k := range t.opts.Cookies {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		req.AddCookie(&http.Cookie{Name: k, Value: t.opts.Cookies[k]})
	}
}

func (t *httpTransport) open(ctx context.Context, offset int64) (*remoteFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, err
	}
	t.decorate(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}

	if offset > 0 {
		switch {
		case resp.StatusCode == http.StatusPartialContent &&
			strings.HasPrefix(resp.Header.Get("Content-Range"), fmt.Sprintf("bytes %d-", offset)):
			total := contentRangeTotal(resp.Header.Get("Content-Range"))
			if total <= 0 && resp.ContentLength >= 0 {
				total = offset + resp.ContentLength
			}
			return &remoteFile{Body: resp.Body, Offset: offset, Total: total}, nil
		case resp.StatusCode == http.StatusOK:
			// Server ignored the range; this is the whole file.
		default:
			// 416 or a range we did not ask for: start over.
			resp.Body.Close()
			return t.open(ctx, 0)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, URL: redactURL(t.url)}
	}
	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	return &remoteFile{Body: resp.Body, Total: total}, nil
}

// probe issues a HEAD request and reports the size and range support.
// Failures count as "unknown size, no ranges".
func (t *httpTransport) probe(ctx context.Context) (int64, bool) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.url, nil)
	if err != nil {
		return 0, false
	}
	t.decorate(req)
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, false
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false
	}
	return resp.ContentLength, strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes")
}

// contentRangeTotal extracts the complete length from "bytes a-b/total".
func contentRangeTotal(h string) int64 {
	i := strings.LastIndexByte(h, '/')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseInt(h[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

var errRangeUnsupported = errors.New("range requests not supported")

func isRangeUnsupported(err error) bool {
	return errors.Is(err, errRangeUnsupported)
}
