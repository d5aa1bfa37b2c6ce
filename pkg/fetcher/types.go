// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetcher

import "time"

// Entry is one line of a dataset manifest.
//
// Example:
//
//	fetcher.Entry{
//	    Path: "HarvardOxford/HarvardOxford-cort-maxprob-thr25-2mm.nii.gz",
//	    URL:  "https://www.nitrc.org/frs/download.php/7363/HarvardOxford.tgz",
//	    Opts: fetcher.Options{Uncompress: true},
//	}
type Entry struct {
	// Path is the target file, relative to the data directory.
	// It must not be absolute or escape the data directory.
	Path string `json:"path"`

	// URL is where the target (or the archive containing it) comes from.
	// Supported schemes: http, https, ftp.
	URL string `json:"url"`

	// Opts controls how the download becomes the target.
	Opts Options `json:"opts,omitempty"`
}

// Options describes how a downloaded file is verified and unpacked.
type Options struct {
	// Uncompress extracts the download (zip, gzip, bzip2, tar) in place.
	Uncompress bool `json:"uncompress,omitempty"`

	// MD5Sum is the expected md5 of the downloaded file, hex encoded.
	MD5Sum string `json:"md5sum,omitempty"`

	// SHA256 is the expected sha256 of the downloaded file, hex encoded.
	SHA256 string `json:"sha256,omitempty"`

	// Move renames the downloaded file, relative to the sandbox, before
	// extraction. Archives are then extracted next to their new location,
	// which is how members land in a subdirectory.
	Move string `json:"move,omitempty"`

	// Username and Password enable HTTP basic auth. A username is only
	// accepted for https URLs.
	Username string `json:"username,omitempty"`
	Password string `json:"-"`

	// Headers are added to every HTTP request for this entry.
	Headers map[string]string `json:"headers,omitempty"`

	// Cookies are sent with every HTTP request for this entry.
	Cookies map[string]string `json:"cookies,omitempty"`
}

// Settings configures fetch behavior.
//
// The zero value is usable; DefaultSettings documents the effective defaults.
type Settings struct {
	// Concurrency is the number of parallel range requests used for a
	// multipart download. If <= 0, defaults to 4.
	Concurrency int

	// MaxActiveDownloads limits how many URLs are fetched at once.
	// If <= 0, defaults to 2.
	MaxActiveDownloads int

	// MultipartThreshold is the minimum size for a multipart download.
	// Accepts human-readable sizes: "32MiB", "256MB", "1GiB".
	// If empty, defaults to "64MiB".
	MultipartThreshold string

	// Retries is the maximum number of retry attempts per download.
	// If < 0, defaults to 0; the zero value means no retry.
	Retries int

	// BackoffInitial is the delay before the first retry. Defaults to "400ms".
	BackoffInitial string

	// BackoffMax caps the delay between retries. Defaults to "10s".
	BackoffMax string

	// Timeout bounds FTP dial and control exchanges. Defaults to "30s".
	Timeout string

	// Username and Password are used for entries that set none.
	Username string
	Password string

	// UserAgent overrides the User-Agent header.
	UserAgent string

	// NoResume discards ".part" files instead of resuming them.
	NoResume bool

	// Force refetches targets that already exist.
	Force bool

	// KeepArchives keeps archives after extraction.
	KeepArchives bool

	// DryRun reports the manifest against the data directory without
	// fetching anything.
	DryRun bool
}

// DefaultSettings returns Settings with the defaults filled in.
func DefaultSettings() Settings {
	return Settings{
		Concurrency:        4,
		MaxActiveDownloads: 2,
		MultipartThreshold: "64MiB",
		Retries:            4,
		BackoffInitial:     "400ms",
		BackoffMax:         "10s",
		Timeout:            "30s",
	}
}

// ProgressEvent represents a progress update while fetching.
//
// The Event field indicates the type of event:
//   - "scan_start": the manifest is being checked against the data directory
//   - "plan_item": one manifest entry; Message is "cached" or "missing"
//   - "file_start": a download has started (Path is the remote file name)
//   - "file_progress": periodic progress of a download
//   - "file_done": a download finished; Message starts with "skip" when
//     a previous download was reused
//   - "extract_start", "extract_done": archive extraction
//   - "target_done": a manifest entry is now present in the data directory
//   - "retry": a download attempt failed and will be retried
//   - "warning": a dataset adjusted its parameters (Level is "warn")
//   - "error": the fetch failed
//   - "done": the fetch completed
type ProgressEvent struct {
	Time       time.Time `json:"time"`
	Level      string    `json:"level,omitempty"`
	Event      string    `json:"event"`
	Dataset    string    `json:"dataset,omitempty"`
	Path       string    `json:"path,omitempty"`
	URL        string    `json:"url,omitempty"`
	Bytes      int64     `json:"bytes,omitempty"`
	Total      int64     `json:"total,omitempty"`
	Downloaded int64     `json:"downloaded,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// ProgressFunc is a callback for receiving progress events.
// It is invoked from multiple goroutines and must be thread-safe.
type ProgressFunc func(ProgressEvent)
