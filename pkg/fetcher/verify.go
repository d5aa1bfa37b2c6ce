// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package fetcher

import (
	"bufio"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"strings"

	"github.com/spf13/afero"
)

// hashFile computes the hex digest of a file.
func hashFile(fs afero.Fs, path string, h hash.Hash) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// verifyChecksums checks the download against the md5 and sha256 declared
// for it, if any.
func verifyChecksums(fs afero.Fs, path string, opts Options) error {
	checks := []struct {
		method   string
		expected string
		h        hash.Hash
	}{
		{"md5", opts.MD5Sum, md5.New()},
		{"sha256", opts.SHA256, sha256.New()},
	}
	for _, c := range checks {
		if c.expected == "" {
			continue
		}
		sum, err := hashFile(fs, path, c.h)
		if err != nil {
			return err
		}
		if !strings.EqualFold(sum, c.expected) {
			return &VerificationError{Path: path, Expected: c.expected, Actual: sum, Method: c.method}
		}
	}
	return nil
}

// ReadMD5SumFile parses a file in md5sum(1) output format, mapping each file
// name to its md5. Binary markers ("*name") and leading "./" are dropped.
func ReadMD5SumFile(fs afero.Fs, path string) (map[string]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sums := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		name := strings.TrimPrefix(strings.Join(fields[1:], " "), "*")
		name = strings.TrimPrefix(name, "./")
		sums[name] = strings.ToLower(fields[0])
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return sums, nil
}
