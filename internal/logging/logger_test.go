// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/roshan-srin/nidata/pkg/fetcher"
)

func TestNewDefaultsToStderr(t *testing.T) {
	logger, err := New(Options{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.Out != os.Stderr {
		t.Fatal("logger should write to stderr by default")
	}
	if logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("default level should be info, got %s", logger.GetLevel())
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(Options{Level: "chatty"}); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

func TestNewWritesRotatingFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "nidata.log")
	logger, err := New(Options{Level: "debug", File: path, Output: &console})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.WithFields(BaseFields("fetch", "msdl_atlas")).Info("fetch complete")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected a log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("file entries should be JSON: %v (%s)", err, data)
	}
	if entry["msg"] != "fetch complete" || entry["dataset"] != "msdl_atlas" {
		t.Errorf("unexpected entry %v", entry)
	}
	if !strings.Contains(console.String(), "fetch complete") || strings.HasPrefix(console.String(), "{") {
		t.Errorf("console output should be text, got %q", console.String())
	}
}

func TestNewFallsBackWhenFileUnusable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	var console bytes.Buffer
	logger, err := New(Options{File: filepath.Join(blocker, "sub", "nidata.log"), Output: &console})
	if err != nil {
		t.Fatalf("New should not fail: %v", err)
	}
	if !strings.Contains(console.String(), "logger_fallback") {
		t.Errorf("expected a fallback warning, got %q", console.String())
	}
	if len(logger.Hooks[logrus.InfoLevel]) != 0 {
		t.Error("no file hook should be installed")
	}
}

func TestLogEvent(t *testing.T) {
	var out bytes.Buffer
	logger, err := New(Options{Level: "debug", JSON: true, Output: &out})
	if err != nil {
		t.Fatal(err)
	}
	LogEvent(logger, fetcher.ProgressEvent{Level: "warn", Event: "warning", Dataset: "nyu_rest", Message: "there are only 25 subjects"})
	LogEvent(logger, fetcher.ProgressEvent{Event: "retry", Path: "a.tgz", Attempt: 2, Message: "retrying"})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two entries, got %q", out.String())
	}
	var first, second map[string]any
	_ = json.Unmarshal([]byte(lines[0]), &first)
	_ = json.Unmarshal([]byte(lines[1]), &second)
	if first["level"] != "warning" || first["dataset"] != "nyu_rest" {
		t.Errorf("unexpected warning entry %v", first)
	}
	if second["level"] != "debug" || second["attempt"] != float64(2) {
		t.Errorf("unexpected retry entry %v", second)
	}
}
