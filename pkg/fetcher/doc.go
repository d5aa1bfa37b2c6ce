// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package fetcher downloads the files named in a dataset manifest into a local
data directory, with caching, resume, checksum verification and archive
extraction.

# Manifests

A manifest is an ordered list of Entry values. Each entry names a path
relative to the data directory, the URL the path comes from, and Options
describing how to turn the download into the target:

	entries := []fetcher.Entry{
		{Path: "MSDL_rois/msdl_rois.nii", URL: msdlURL, Opts: fetcher.Options{Uncompress: true}},
		{Path: "MSDL_rois/msdl_rois_labels.csv", URL: msdlURL, Opts: fetcher.Options{Uncompress: true}},
	}

	paths, err := fetcher.Fetch(ctx, "/data/nidata/msdl_atlas", entries, fetcher.DefaultSettings(), nil)

Fetch returns absolute paths in manifest order. Entries sharing a URL are
downloaded once.

# Caching

A target that already exists is returned as-is unless Settings.Force is set.
When every target exists the call performs no I/O beyond a stat per entry,
which lets read-only shared data directories serve cached datasets.

Missing targets are fetched into a sandbox directory named after the md5 of
the URL, inside the data directory. Only after the download completes, passes
verification, is extracted and yields every expected target is the sandbox
merged into the data directory. A failed fetch therefore never leaves a
partial file at a target path.

# Transports

http and https URLs are fetched with net/http. Partial downloads are kept as
".part" files and resumed with a Range request when the server answers with a
matching Content-Range; otherwise the download restarts. Large files on
servers advertising byte ranges are fetched in parallel parts.

ftp URLs are fetched with github.com/jlaffaye/ftp, anonymously unless the URL
carries credentials. Resume uses REST.

# Archives

With Options.Uncompress the download is extracted in place: zip, gzip,
bzip2 and tar, including the .tar.gz, .tgz and .tar.bz2 combinations. The
archive is removed afterwards unless Settings.KeepArchives is set.

# Progress

A ProgressFunc receives ProgressEvent values while fetching. It is called
from multiple goroutines and must be safe for concurrent use.
*/
package fetcher
