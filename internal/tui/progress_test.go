// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/roshan-srin/nidata/pkg/fetcher"
)

func TestLiveRendererPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	lr := NewLiveRenderer(&buf, Header{Dataset: "msdl_atlas", DataDir: "/data/msdl_atlas", Settings: fetcher.DefaultSettings()})
	h := lr.Handler()

	h(fetcher.ProgressEvent{Event: "plan_item", Path: "MSDL_rois/msdl_rois.nii", Message: "cached"})
	h(fetcher.ProgressEvent{Event: "plan_item", Path: "MSDL_rois/msdl_rois_labels.csv", Message: "missing"})
	h(fetcher.ProgressEvent{Event: "file_start", Path: "MSDL_rois.zip", Total: 2048})
	h(fetcher.ProgressEvent{Event: "file_progress", Path: "MSDL_rois.zip", Downloaded: 1024, Total: 2048})
	h(fetcher.ProgressEvent{Event: "file_done", Path: "MSDL_rois.zip"})
	h(fetcher.ProgressEvent{Event: "target_done", Path: "MSDL_rois/msdl_rois_labels.csv"})
	h(fetcher.ProgressEvent{Event: "warning", Level: "warn", Message: "there are only 25 subjects"})
	lr.Close()

	out := buf.String()
	for _, want := range []string{
		"Dataset: msdl_atlas",
		"Targets: 2/2",
		"Cached: 1",
		"MSDL_rois.zip",
		"2.0 KiB/2.0 KiB",
		"warning: there are only 25 subjects",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("plain output must not contain escape sequences")
	}

	// Closing twice is harmless.
	lr.Close()
}

func TestLiveRendererShowsFailure(t *testing.T) {
	var buf bytes.Buffer
	lr := NewLiveRenderer(&buf, Header{Dataset: "yeo_2011"})
	lr.Handler()(fetcher.ProgressEvent{Event: "retry", Path: "Yeo.zip", Attempt: 2, Message: "connection reset"})
	lr.Handler()(fetcher.ProgressEvent{Event: "error", Level: "error", Path: "Yeo.zip", Message: "download failed"})
	lr.Close()

	if !strings.Contains(buf.String(), "error: download failed") {
		t.Errorf("final frame should show the failure:\n%s", buf.String())
	}
}

func TestHelpers(t *testing.T) {
	if got := humanBytes(1536); got != "1.5 KiB" {
		t.Errorf("humanBytes = %q", got)
	}
	if got := fmtDuration(3723 * time.Second); got != "01:02:03" {
		t.Errorf("fmtDuration = %q", got)
	}
	if got := ellipsizeMiddle("abcdefghijklmnopqrstuvwxyz", 9); got != "abc...xyz" {
		t.Errorf("ellipsizeMiddle = %q", got)
	}
	if ratio(5, 0) != 0 || ratio(20, 10) != 1 {
		t.Error("ratio must stay within [0, 1]")
	}
}
