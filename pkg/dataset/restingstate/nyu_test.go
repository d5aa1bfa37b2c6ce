// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package restingstate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/dataset/datasettest"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

func testOptions(t *testing.T, srv *datasettest.Server) dataset.Options {
	t.Helper()
	cfg := fetcher.DefaultSettings()
	cfg.Retries = 0
	opts := dataset.Options{DataDir: t.TempDir(), Settings: cfg}
	if srv != nil {
		opts.HTTPClient = srv.Client()
	}
	return opts
}

func sessionArchive(t *testing.T, subjects []string) []byte {
	files := map[string]string{}
	for _, sub := range subjects {
		for _, f := range []string{nyuAnatAnon, nyuAnatSkull, nyuFunc} {
			files[sub+"/"+f] = sub + " " + f
		}
	}
	return datasettest.TarGz(t, files)
}

func TestNYUArchiveURL(t *testing.T) {
	cases := map[string]string{
		NYUArchiveURL(1, "a"): "http://www.nitrc.org/frs/download.php/1071/NYU_TRT_session1a.tar.gz",
		NYUArchiveURL(1, "b"): "http://www.nitrc.org/frs/download.php/1072/NYU_TRT_session1b.tar.gz",
		NYUArchiveURL(2, "b"): "http://www.nitrc.org/frs/download.php/1074/NYU_TRT_session2b.tar.gz",
		NYUArchiveURL(3, "a"): "http://www.nitrc.org/frs/download.php/1075/NYU_TRT_session3a.tar.gz",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	}
}

func TestFetchNYURest(t *testing.T) {
	srv := datasettest.NewServer(t, map[string][]byte{
		"/frs/download.php/1071/NYU_TRT_session1a.tar.gz": sessionArchive(t, nyuSubjectsA),
		"/frs/download.php/1072/NYU_TRT_session1b.tar.gz": sessionArchive(t, nyuSubjectsB),
	})
	opts := testOptions(t, srv)

	res, err := FetchNYURest(context.Background(), NYUParams{NSubjects: 15}, opts)
	if err != nil {
		t.Fatalf("FetchNYURest failed: %v", err)
	}
	if len(res.AnatAnon) != 15 || len(res.AnatSkull) != 15 || len(res.Func) != 15 || len(res.Session) != 15 {
		t.Fatalf("Unexpected result sizes %+v", res)
	}

	want := filepath.Join(opts.DataDir, nyuName, "session1", "sub47000", "func", "lfo.nii.gz")
	if res.Func[14] != want {
		t.Errorf("Expected %s, got %s", want, res.Func[14])
	}
	if b, _ := os.ReadFile(res.AnatSkull[0]); string(b) != "sub05676 "+nyuAnatSkull {
		t.Errorf("Unexpected skull-stripped anat %q", b)
	}
	for _, s := range res.Session {
		if s != 1 {
			t.Fatalf("Unexpected sessions %v", res.Session)
		}
	}
	if n := len(srv.Requests()); n != 2 {
		t.Errorf("Expected one download per archive, got %d", n)
	}
}

func TestFetchNYURest_Sessions(t *testing.T) {
	if _, err := FetchNYURest(context.Background(), NYUParams{Sessions: []int{1, 4}}, testOptions(t, nil)); err == nil {
		t.Error("Expected an error for session 4")
	}

	opts := testOptions(t, nil)
	opts.Settings.DryRun = true
	var warnings int
	urls := map[string]bool{}
	opts.Progress = func(ev fetcher.ProgressEvent) {
		switch ev.Event {
		case "warning":
			warnings++
		case "plan_item":
			urls[ev.URL] = true
		}
	}

	res, err := FetchNYURest(context.Background(), NYUParams{NSubjects: 30, Sessions: []int{3, 2}}, opts)
	if err != nil {
		t.Fatalf("Dry run failed: %v", err)
	}
	if warnings != 1 {
		t.Errorf("Expected one clamping warning, got %d", warnings)
	}
	if len(res.Func) != 2*NYUMaxSubjects {
		t.Fatalf("Expected %d entries, got %d", 2*NYUMaxSubjects, len(res.Func))
	}
	if res.Session[0] != 3 || res.Session[NYUMaxSubjects] != 2 {
		t.Errorf("Sessions must follow the requested order: %v", res.Session)
	}
	if !strings.Contains(res.AnatAnon[NYUMaxSubjects], "session2") {
		t.Errorf("Unexpected path %s", res.AnatAnon[NYUMaxSubjects])
	}
	if len(urls) != 4 {
		t.Errorf("Expected four archives planned, got %v", urls)
	}
}

func TestNYUManifestMove(t *testing.T) {
	entries := nyuManifest(2, NYUMaxSubjects, nyuFunc)
	last := entries[len(entries)-1]
	if last.Opts.Move != "session2/NYU_TRT_session2b.tar.gz" || !last.Opts.Uncompress {
		t.Errorf("Unexpected options %+v", last.Opts)
	}
	if entries[12].URL != NYUArchiveURL(2, "a") || entries[13].URL != NYUArchiveURL(2, "b") {
		t.Error("The first 13 subjects come from archive a")
	}
}
