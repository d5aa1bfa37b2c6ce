// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the package.
var (
	// ErrReadOnly is returned when targets are missing and the data
	// directory cannot be written.
	ErrReadOnly = errors.New("dataset files are missing but the data directory is read-only")

	// ErrInsecureAuth is returned when credentials are given for a URL
	// that is not https.
	ErrInsecureAuth = errors.New("credentials require an https URL")

	// ErrUnknownArchive is returned when an archive format is not recognized.
	ErrUnknownArchive = errors.New("unknown archive file format")

	// ErrUnsafePath is returned for manifest paths or archive members that
	// would land outside their directory.
	ErrUnsafePath = errors.New("path escapes the data directory")

	// ErrUnsupportedScheme is returned for URLs that are not http, https or ftp.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrUnauthorized is returned when the server rejects the request credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when the remote file does not exist.
	ErrNotFound = errors.New("remote file not found")

	// ErrRateLimited is returned when the server throttles requests.
	ErrRateLimited = errors.New("rate limited: too many requests")
)

// DownloadError wraps an error with the URL being fetched.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// VerificationError is returned when a downloaded file fails its checksum.
type VerificationError struct {
	Path     string
	Expected string
	Actual   string
	Method   string // "md5", "sha256"
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for %s: %s mismatch (expected %s, got %s)",
		e.Path, e.Method, e.Expected, e.Actual)
}

// MissingTargetError is returned when a download (after extraction) does
// not contain a file the manifest expects from it.
type MissingTargetError struct {
	Path string
	URL  string
}

func (e *MissingTargetError) Error() string {
	return fmt.Sprintf("expected target %s cannot be found in %s", e.Path, e.URL)
}

// StatusError is an unexpected HTTP response status.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status %s for %s", e.Status, e.URL)
}

// IsRetryable returns true if the request might succeed on retry: any 5xx,
// 408 or 429.
func (e *StatusError) IsRetryable() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// Is implements errors.Is for common error comparisons.
func (e *StatusError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return target == ErrUnauthorized
	case http.StatusNotFound, http.StatusGone:
		return target == ErrNotFound
	case http.StatusTooManyRequests:
		return target == ErrRateLimited
	default:
		return false
	}
}

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, ErrInsecureAuth) && !errors.Is(err, ErrUnsupportedScheme)
}
