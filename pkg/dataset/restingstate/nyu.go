// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package restingstate fetches resting-state fMRI datasets.
package restingstate

import (
	"context"
	"fmt"

	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const nyuName = "nyu_rest"

// NYU subjects, split by the archive that holds them.
var (
	nyuSubjectsA = []string{
		"sub05676", "sub08224", "sub08889", "sub09607", "sub14864",
		"sub18604", "sub22894", "sub27641", "sub33259", "sub34482",
		"sub36678", "sub38579", "sub39529",
	}
	nyuSubjectsB = []string{
		"sub45463", "sub47000", "sub49401", "sub52738", "sub55441",
		"sub58949", "sub60624", "sub76987", "sub84403", "sub86146",
		"sub90179", "sub94293",
	}
)

// NYUMaxSubjects is the number of subjects scanned in every session.
const NYUMaxSubjects = 13 + 12

const (
	nyuAnatAnon  = "anat/mprage_anonymized.nii.gz"
	nyuAnatSkull = "anat/mprage_skullstripped.nii.gz"
	nyuFunc      = "func/lfo.nii.gz"
)

// NYUArchiveURL returns the URL of the archive of a session half ("a" or
// "b").
func NYUArchiveURL(session int, half string) string {
	id := 1071 + 2*(session-1)
	if half == "b" {
		id++
	}
	return fmt.Sprintf("http://www.nitrc.org/frs/download.php/%d/NYU_TRT_session%d%s.tar.gz", id, session, half)
}

// NYUParams configures FetchNYURest.
type NYUParams struct {
	// NSubjects defaults to 25. Larger values are clamped.
	NSubjects int
	// Sessions is a subset of {1, 2, 3}. It defaults to {1}.
	Sessions []int
}

// NYUResult holds one entry per (session, subject), sessions in the
// requested order.
type NYUResult struct {
	AnatAnon  []string `json:"anat_anon"`
	AnatSkull []string `json:"anat_skull"`
	Func      []string `json:"func"`
	Session   []int    `json:"session"`
}

func nyuEntry(session int, subject, file string, half string) fetcher.Entry {
	archive := fmt.Sprintf("NYU_TRT_session%d%s.tar.gz", session, half)
	return fetcher.Entry{
		Path: fmt.Sprintf("session%d/%s/%s", session, subject, file),
		URL:  NYUArchiveURL(session, half),
		Opts: fetcher.Options{
			Uncompress: true,
			Move:       fmt.Sprintf("session%d/%s", session, archive),
		},
	}
}

// nyuManifest returns the entries of one file kind for the first n
// subjects of a session.
func nyuManifest(session, n int, file string) []fetcher.Entry {
	var entries []fetcher.Entry
	for i, sub := range append(append([]string(nil), nyuSubjectsA...), nyuSubjectsB...) {
		if i >= n {
			break
		}
		half := "a"
		if i >= len(nyuSubjectsA) {
			half = "b"
		}
		entries = append(entries, nyuEntry(session, sub, file, half))
	}
	return entries
}

// FetchNYURest fetches the NYU test-retest resting-state dataset.
func FetchNYURest(ctx context.Context, p NYUParams, opts dataset.Options) (*NYUResult, error) {
	sessions := p.Sessions
	if len(sessions) == 0 {
		sessions = []int{1}
	}
	for _, s := range sessions {
		if s < 1 || s > 3 {
			return nil, fmt.Errorf("%s: session id must be in [1, 2, 3], got %d", nyuName, s)
		}
	}
	n := p.NSubjects
	if n == 0 {
		n = NYUMaxSubjects
	}
	if n < 0 {
		return nil, fmt.Errorf("%s: n_subjects must be positive, got %d", nyuName, n)
	}

	b, err := dataset.NewBase(nyuName, dataset.RestingState, nil, opts)
	if err != nil {
		return nil, err
	}
	if n > NYUMaxSubjects {
		b.Warn("there are only %d subjects", NYUMaxSubjects)
		n = NYUMaxSubjects
	}

	var anon, skull, fn []fetcher.Entry
	res := &NYUResult{}
	for _, s := range sessions {
		anon = append(anon, nyuManifest(s, n, nyuAnatAnon)...)
		skull = append(skull, nyuManifest(s, n, nyuAnatSkull)...)
		fn = append(fn, nyuManifest(s, n, nyuFunc)...)
		for i := 0; i < n; i++ {
			res.Session = append(res.Session, s)
		}
	}

	entries := append(append(append([]fetcher.Entry(nil), anon...), skull...), fn...)
	files, err := b.Fetch(ctx, entries)
	if err != nil {
		return nil, err
	}
	res.AnatAnon = files[:len(anon)]
	res.AnatSkull = files[len(anon) : len(anon)+len(skull)]
	res.Func = files[len(anon)+len(skull):]
	return res, nil
}

func init() {
	dataset.MustRegister(dataset.Descriptor{
		Name:        nyuName,
		Modality:    dataset.RestingState,
		Description: "NYU test-retest resting-state fMRI (25 subjects, 3 sessions)",
		Params: []dataset.Param{
			{Name: "n_subjects", Help: "number of subjects, at most 25", Default: "25"},
			{Name: "sessions", Help: "comma-separated sessions among 1, 2, 3", Default: "1"},
		},
		Fetch: func(ctx context.Context, p dataset.Params, opts dataset.Options) (any, error) {
			n, err := p.Int("n_subjects", NYUMaxSubjects)
			if err != nil {
				return nil, err
			}
			sessions, err := p.Ints("sessions")
			if err != nil {
				return nil, err
			}
			return FetchNYURest(ctx, NYUParams{NSubjects: n, Sessions: sessions}, opts)
		},
	})
}
