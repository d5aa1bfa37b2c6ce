// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package localizer

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

const subjectsCSV = "Subject ID;Age;Sex\nS02;25;F\nS01;30;M\nS03;22;M\n"

const questionnairesCSV = "subject_id;Age;Date\nS01;31;2010-01-01\nS02;26;2011-02-02\n"

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

func mapsArchive(t *testing.T, contrast string, types ...string) []byte {
	files := map[string]string{}
	for _, s := range []string{"S01", "S02"} {
		for _, typ := range types {
			name := strings.ReplaceAll(typ+"_"+contrast, " ", "_") + ".nii.gz"
			files["brainomics_data/"+s+"/"+name] = s + " " + typ + " " + contrast
		}
	}
	return datasettest.Zip(t, files)
}

func TestQuote(t *testing.T) {
	cases := []struct {
		in, safe, want string
	}{
		{"Any X WHERE X is Subject", "/", "Any%20X%20WHERE%20X%20is%20Subject"},
		{`X type IN("c map"), X label "a&b"`, ",()", `X%20type%20IN(%22c%20map%22),%20X%20label%20%22a%26b%22`},
		{"S identifier <= \"S02\"", ",()", "S%20identifier%20%3C%3D%20%22S02%22"},
		{"a/b,c", ",", "a%2Fb,c"},
		{"é", "", "%C3%A9"},
	}
	for _, tc := range cases {
		if got := quote(tc.in, tc.safe); got != tc.want {
			t.Errorf("quote(%q, %q) = %q, want %q", tc.in, tc.safe, got, tc.want)
		}
	}
}

func TestResolveContrast(t *testing.T) {
	name, idx, err := resolveContrast("sentence listening")
	if err != nil || name != "auditory sentences" || idx != 5 {
		t.Errorf("friendly name: %q %d %v", name, idx, err)
	}
	name, idx, err = resolveContrast("cognitive processing vs motor")
	if err != nil || name != "cognitive processing vs motor" || idx != 20 {
		t.Errorf("brainomics name: %q %d %v", name, idx, err)
	}
	if _, _, err := resolveContrast("juggling"); err == nil || !strings.Contains(err.Error(), "visual calculation") {
		t.Errorf("unknown contrast should list valid ones: %v", err)
	}
	if len(Contrasts()) != 32 {
		t.Errorf("expected 32 contrasts, got %d", len(Contrasts()))
	}
}

func TestBrainomicsManifest(t *testing.T) {
	plan := brainomicsManifest([]string{"checkerboard", "auditory sentences"}, []int{0, 5},
		BrainomicsParams{GetTmaps: true, GetAnats: true}, 3)

	// 3 subjects x 2 types x 2 contrasts, 3 anats, 2 exports
	if len(plan.entries) != 12+3+2 {
		t.Fatalf("Unexpected manifest size %d", len(plan.entries))
	}
	first := plan.entries[plan.tmaps[1]]
	if first.Path != "brainomics_data/S01/t_map_auditory_sentences.nii.gz" {
		t.Errorf("Unexpected t map path %s", first.Path)
	}
	if !strings.HasPrefix(first.URL, BrainomicsURL+"brainomics_data_5.zip?rql=") || !strings.HasSuffix(first.URL, "&vid=data-zip") {
		t.Errorf("Unexpected archive URL %s", first.URL)
	}
	if !strings.Contains(first.URL, "S%20identifier%20%3C%3D%20%22S03%22") {
		t.Errorf("Query should be limited to the last subject: %s", first.URL)
	}
	if !strings.Contains(first.URL, "IN(%22c%20map%22,%20%22t%20map%22)") {
		t.Errorf("Query should ask for both map types: %s", first.URL)
	}
	if len(plan.cmaps) != 6 || len(plan.anats) != 3 || plan.masks != nil {
		t.Errorf("Unexpected plan %+v", plan)
	}
	anat := plan.entries[plan.anats[2]]
	if anat.Path != "brainomics_data/S03/normalized_T1_anat_defaced.nii.gz" || !strings.Contains(anat.URL, "brainomics_data_anats.zip") {
		t.Errorf("Unexpected anat entry %+v", anat)
	}

	csv := plan.entries[len(plan.entries)-2]
	if csv.URL != BrainomicsURL+"dataset/cubicwebexport.csv?rql=Any%20X%20WHERE%20X%20is%20Subject&vid=csvexport" {
		t.Errorf("Unexpected subjects export URL %s", csv.URL)
	}

	mirrored := brainomicsManifest([]string{"checkerboard"}, []int{0}, BrainomicsParams{URL: "http://mirror/localizer/"}, 1)
	if got := mirrored.entries[len(mirrored.entries)-1].URL; got != "http://mirror/localizer/cubicwebexport2.csv" {
		t.Errorf("Unexpected mirrored export URL %s", got)
	}
}

func TestFetchLocalizerContrasts(t *testing.T) {
	srv := datasettest.NewServer(t, map[string][]byte{
		"/localizer/brainomics_data_0.zip": mapsArchive(t, "checkerboard", "c map", "t map"),
		"/localizer/brainomics_data_5.zip": mapsArchive(t, "auditory sentences", "c map", "t map"),
		"/localizer/brainomics_data_masks.zip": datasettest.Zip(t, map[string]string{
			"brainomics_data/S01/boolean_mask_mask.nii.gz": "m1",
			"brainomics_data/S02/boolean_mask_mask.nii.gz": "m2",
		}),
		"/localizer/dataset/cubicwebexport.csv":  []byte(subjectsCSV),
		"/localizer/dataset/cubicwebexport2.csv": []byte(questionnairesCSV),
	})
	opts := testOptions(t, srv)

	res, err := FetchLocalizerContrasts(context.Background(), BrainomicsParams{
		Contrasts: []string{"checkerboard", "sentence listening"},
		NSubjects: 2,
		GetTmaps:  true,
		GetMasks:  true,
	}, opts)
	if err != nil {
		t.Fatalf("FetchLocalizerContrasts failed: %v", err)
	}

	if len(res.Cmaps) != 4 || len(res.Tmaps) != 4 || len(res.Masks) != 2 || res.Anats != nil {
		t.Fatalf("Unexpected result sizes %+v", res)
	}
	if b, _ := os.ReadFile(res.Cmaps[1]); string(b) != "S01 c map auditory sentences" {
		t.Errorf("Unexpected second c map %q", b)
	}
	if b, _ := os.ReadFile(res.Tmaps[2]); string(b) != "S02 t map checkerboard" {
		t.Errorf("Unexpected third t map %q", b)
	}
	if b, _ := os.ReadFile(res.Masks[1]); string(b) != "m2" {
		t.Errorf("Unexpected mask %q", b)
	}

	if len(res.ExtVars) != 2 {
		t.Fatalf("Expected two joined subjects, got %v", res.ExtVars)
	}
	s1 := res.ExtVars[0]
	if s1["subject_id"] != "S01" || s1["age1"] != "30" || s1["age2"] != "31" || s1["sex"] != "M" || s1["date"] != "2010-01-01" {
		t.Errorf("Unexpected first row %v", s1)
	}

	if n := len(srv.Requests()); n != 5 {
		t.Errorf("Expected one request per URL, got %d", n)
	}
}

func TestFetchLocalizerCalculationTask(t *testing.T) {
	srv := datasettest.NewServer(t, map[string][]byte{
		"/localizer/brainomics_data_11.zip": mapsArchive(t, "auditory&visual calculation", "c map"),
		"/mirror/cubicwebexport.csv":        []byte(subjectsCSV),
		"/mirror/cubicwebexport2.csv":       []byte(questionnairesCSV),
	})

	res, err := FetchLocalizerCalculationTask(context.Background(), 1, "http://example.org/mirror", testOptions(t, srv))
	if err != nil {
		t.Fatalf("FetchLocalizerCalculationTask failed: %v", err)
	}
	if len(res.Cmaps) != 1 || filepath.Base(res.Cmaps[0]) != "c_map_auditory&visual_calculation.nii.gz" {
		t.Errorf("Unexpected cmaps %q", res.Cmaps)
	}
	if len(res.ExtVars) != 1 || res.ExtVars[0]["subject_id"] != "S01" {
		t.Errorf("ext_vars should be truncated to one subject: %v", res.ExtVars)
	}
}

func TestFetchLocalizerContrasts_Validation(t *testing.T) {
	if _, err := FetchLocalizerContrasts(context.Background(), BrainomicsParams{Contrasts: []string{"nope"}}, testOptions(t, nil)); err == nil {
		t.Error("Expected an error for an unknown contrast")
	}

	opts := testOptions(t, nil)
	opts.Settings.DryRun = true
	var warned bool
	opts.Progress = func(ev fetcher.ProgressEvent) {
		if ev.Event == "warning" {
			warned = true
		}
	}
	res, err := FetchLocalizerContrasts(context.Background(), BrainomicsParams{Contrasts: []string{"checkerboard"}, NSubjects: 200}, opts)
	if err != nil {
		t.Fatalf("Dry run failed: %v", err)
	}
	if !warned || len(res.Cmaps) != BrainomicsSubjects {
		t.Errorf("Expected a warning and %d subjects, got %v and %d", BrainomicsSubjects, warned, len(res.Cmaps))
	}
}

func TestJoinTables(t *testing.T) {
	a, err := parseTable(strings.NewReader("subject_id;x\n"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := parseTable(strings.NewReader("id;y\n1;2\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := joinTables(a, b); err == nil {
		t.Error("Expected an error when the join key is missing")
	}
}
