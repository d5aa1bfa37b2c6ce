// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetcher

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

var (
	zipMagics  = [][]byte{[]byte("PK\x03\x04"), []byte("PK\x05\x06"), []byte("PK\x07\x08")}
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
)

// compressedExts maps a single-file compression suffix to the suffix of the
// decompressed file.
var compressedExts = map[string]string{
	".gz":   "",
	".tgz":  ".tar",
	".bz2":  "",
	".tbz2": ".tar",
	".tbz":  ".tar",
}

// extract unpacks file in its own directory.
//
// Zip files are recognized by magic. gzip and bzip2 files are recognized by
// suffix or magic and decompressed next to the archive; if the result is a
// tar it is unpacked in turn. Anything else is ErrUnknownArchive.
func extract(fs afero.Fs, file string, deleteArchive bool) error {
	dir := filepath.Dir(file)
	header, err := readHeader(fs, file, 4)
	if err != nil {
		return err
	}
	ext := strings.ToLower(filepath.Ext(file))
	processed := false

	switch {
	case isZip(header):
		if err := unzip(fs, file, dir); err != nil {
			return fmt.Errorf("unzip %s: %w", filepath.Base(file), err)
		}
		processed = true
	case ext == ".gz" || ext == ".tgz" || bytes.HasPrefix(header, gzipMagic):
		out, err := decompress(fs, file, func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		})
		if err != nil {
			return fmt.Errorf("gunzip %s: %w", filepath.Base(file), err)
		}
		if deleteArchive {
			if err := fs.Remove(file); err != nil {
				return err
			}
		}
		file = out
		processed = true
	case ext == ".bz2" || ext == ".tbz2" || ext == ".tbz" || bytes.HasPrefix(header, bzip2Magic):
		out, err := decompress(fs, file, func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(bzip2.NewReader(r)), nil
		})
		if err != nil {
			return fmt.Errorf("bunzip2 %s: %w", filepath.Base(file), err)
		}
		if deleteArchive {
			if err := fs.Remove(file); err != nil {
				return err
			}
		}
		file = out
		processed = true
	}

	tarball := false
	if !isZip(header) {
		ok, err := isTar(fs, file)
		if err != nil {
			return err
		}
		if ok {
			if err := untar(fs, file, dir); err != nil {
				return fmt.Errorf("untar %s: %w", filepath.Base(file), err)
			}
			processed = true
			tarball = true
		}
	}

	if !processed {
		return fmt.Errorf("%w: %s", ErrUnknownArchive, filepath.Base(file))
	}

	// A decompressed file that is not a tar is the payload itself.
	if deleteArchive && (tarball || isZip(header)) {
		return fs.Remove(file)
	}
	return nil
}

func readHeader(fs afero.Fs, file string, n int) ([]byte, error) {
	f, err := fs.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	m, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:m], nil
}

func isZip(header []byte) bool {
	for _, m := range zipMagics {
		if bytes.HasPrefix(header, m) {
			return true
		}
	}
	return false
}

// decompressedName strips a known compression suffix, mapping .tgz-style
// suffixes to .tar.
func decompressedName(file string) string {
	ext := filepath.Ext(file)
	if repl, ok := compressedExts[strings.ToLower(ext)]; ok {
		return strings.TrimSuffix(file, ext) + repl
	}
	return file + ".out"
}

func decompress(fs afero.Fs, file string, open func(io.Reader) (io.ReadCloser, error)) (string, error) {
	in, err := fs.Open(file)
	if err != nil {
		return "", err
	}
	defer in.Close()

	r, err := open(in)
	if err != nil {
		return "", err
	}
	defer r.Close()

	out := decompressedName(file)
	if err := writeFile(fs, out, r, 0o644); err != nil {
		_ = fs.Remove(out)
		return "", err
	}
	return out, nil
}

func isTar(fs afero.Fs, file string) (bool, error) {
	f, err := fs.Open(file)
	if err != nil {
		return false, err
	}
	defer f.Close()
	_, err = tar.NewReader(f).Next()
	return err == nil, nil
}

func untar(fs afero.Fs, file, dir string) error {
	f, err := fs.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := memberPath(dir, hdr.Name)
		if err != nil {
			return err
		}
		mode := hdr.FileInfo().Mode()
		switch {
		case mode.IsDir():
			if err := fs.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case mode.IsRegular():
			if err := writeFile(fs, target, tr, mode.Perm()); err != nil {
				return err
			}
		default:
			// links and devices are not part of any dataset archive
		}
	}
}

func unzip(fs afero.Fs, file, dir string) error {
	f, err := fs.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}

	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		if zr != nil {
			// the reader is usable but some member names are not local
			return fmt.Errorf("%w: %v", ErrUnsafePath, err)
		}
		return err
	}
	for _, zf := range zr.File {
		target, err := memberPath(dir, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := fs.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = writeFile(fs, target, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// memberPath resolves an archive member name under dir.
func memberPath(dir, name string) (string, error) {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	if name == "" || name == "." {
		return dir, nil
	}
	p, err := safeJoin(dir, name)
	if err != nil {
		return "", fmt.Errorf("archive member %q: %w", name, ErrUnsafePath)
	}
	return p, nil
}

func writeFile(fs afero.Fs, target string, r io.Reader, perm os.FileMode) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
