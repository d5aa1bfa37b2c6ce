// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package functional

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const haxby2001Name = "haxby_etal_2001"

const (
	// Haxby2001SimpleURL is the PyMVPA example subset of the dataset.
	Haxby2001SimpleURL = "http://www.pymvpa.org/files/pymvpa_exampledata.tar.bz2"

	// Haxby2001URL is the base URL of the full dataset.
	Haxby2001URL = "http://data.pymvpa.org/datasets/haxby2001/"

	// Haxby2001MaxSubjects is the number of subjects in the full dataset.
	Haxby2001MaxSubjects = 6
)

// haxby2001SubjectFiles is the content of each subject archive, in result
// order. Subject 6 has no anatomical scan.
var haxby2001SubjectFiles = []string{
	"bold.nii.gz",
	"labels.txt",
	"mask4_vt.nii.gz",
	"mask8b_face_vt.nii.gz",
	"mask8b_house_vt.nii.gz",
	"mask8_face_vt.nii.gz",
	"mask8_house_vt.nii.gz",
	"anat.nii.gz",
}

const haxby2001NoAnatSubject = 6

// Haxby2001Params configures FetchHaxby2001.
type Haxby2001Params struct {
	// NSubjects defaults to 1. Values above 6 are clamped.
	NSubjects    int
	FetchStimuli bool
	// URL overrides the base URL; it must end with a slash.
	URL string
}

// Haxby2001Result holds one path per subject in each list. Anat is empty
// for subject 6.
type Haxby2001Result struct {
	Anat            []string `json:"anat"`
	Func            []string `json:"func"`
	SessionTarget   []string `json:"session_target"`
	MaskVT          []string `json:"mask_vt"`
	MaskFace        []string `json:"mask_face"`
	MaskHouse       []string `json:"mask_house"`
	MaskFaceLittle  []string `json:"mask_face_little"`
	MaskHouseLittle []string `json:"mask_house_little"`

	// Stimuli maps a directory under stimuli/ to the images it holds.
	Stimuli map[string][]string `json:"stimuli,omitempty"`
}

// Haxby2001SimpleResult is the PyMVPA example subset.
type Haxby2001SimpleResult struct {
	Func             string `json:"func"`
	SessionTarget    string `json:"session_target"`
	Mask             string `json:"mask"`
	ConditionsTarget string `json:"conditions_target"`
}

func haxby2001SimpleManifest(url string) []fetcher.Entry {
	url = or(url, Haxby2001SimpleURL)
	opts := fetcher.Options{Uncompress: true}
	var entries []fetcher.Entry
	for _, f := range []string{"attributes.txt", "bold.nii.gz", "mask.nii.gz", "attributes_literal.txt"} {
		entries = append(entries, fetcher.Entry{Path: "pymvpa-exampledata/" + f, URL: url, Opts: opts})
	}
	return entries
}

// FetchHaxby2001Simple fetches the PyMVPA example subset of Haxby et al. 2001.
func FetchHaxby2001Simple(ctx context.Context, url string, opts dataset.Options) (*Haxby2001SimpleResult, error) {
	b, err := dataset.NewBase(haxby2001Name, dataset.Functional, nil, opts)
	if err != nil {
		return nil, err
	}
	files, err := b.Fetch(ctx, haxby2001SimpleManifest(url))
	if err != nil {
		return nil, err
	}
	return &Haxby2001SimpleResult{
		Func:             files[1],
		SessionTarget:    files[0],
		Mask:             files[2],
		ConditionsTarget: files[3],
	}, nil
}

func haxby2001SubjectArchive(subject int) string {
	return fmt.Sprintf("subj%d-2010.01.14.tar.gz", subject)
}

// haxby2001Manifest lists the subject files, subject by subject in
// haxby2001SubjectFiles order, skipping the missing anat of subject 6.
func haxby2001Manifest(base string, nSubjects int, sums map[string]string) []fetcher.Entry {
	var entries []fetcher.Entry
	for i := 1; i <= nSubjects; i++ {
		archive := haxby2001SubjectArchive(i)
		for _, f := range haxby2001SubjectFiles {
			if f == "anat.nii.gz" && i == haxby2001NoAnatSubject {
				continue
			}
			entries = append(entries, fetcher.Entry{
				Path: fmt.Sprintf("subj%d/%s", i, f),
				URL:  base + archive,
				Opts: fetcher.Options{Uncompress: true, MD5Sum: sums[archive]},
			})
		}
	}
	return entries
}

// FetchHaxby2001 fetches the full Haxby et al. 2001 dataset. Archives are
// checked against the MD5SUMS file published next to them.
func FetchHaxby2001(ctx context.Context, p Haxby2001Params, opts dataset.Options) (*Haxby2001Result, error) {
	n := p.NSubjects
	if n == 0 {
		n = 1
	}
	if n < 0 {
		return nil, fmt.Errorf("%s: n_subjects must be positive, got %d", haxby2001Name, n)
	}

	b, err := dataset.NewBase(haxby2001Name, dataset.Functional, nil, opts)
	if err != nil {
		return nil, err
	}
	if n > Haxby2001MaxSubjects {
		b.Warn("there are only %d subjects, fetching %d instead of %d", Haxby2001MaxSubjects, Haxby2001MaxSubjects, n)
		n = Haxby2001MaxSubjects
	}
	base := or(p.URL, Haxby2001URL)

	md5sums, err := b.Fetch(ctx, []fetcher.Entry{{Path: "MD5SUMS", URL: base + "MD5SUMS"}})
	if err != nil {
		return nil, err
	}
	sums, err := fetcher.ReadMD5SumFile(b.Fs(), md5sums[0])
	if err != nil && !(b.DryRun() && errors.Is(err, fs.ErrNotExist)) {
		return nil, fmt.Errorf("%s: read MD5SUMS: %w", haxby2001Name, err)
	}

	files, err := b.Fetch(ctx, haxby2001Manifest(base, n, sums))
	if err != nil {
		return nil, err
	}

	res := &Haxby2001Result{}
	for i := 1; i <= n; i++ {
		width := len(haxby2001SubjectFiles)
		if i == haxby2001NoAnatSubject {
			width--
		}
		sub := files[:width]
		files = files[width:]

		anat := ""
		if i != haxby2001NoAnatSubject {
			anat = sub[7]
		}
		res.Anat = append(res.Anat, anat)
		res.Func = append(res.Func, sub[0])
		res.SessionTarget = append(res.SessionTarget, sub[1])
		res.MaskVT = append(res.MaskVT, sub[2])
		res.MaskFace = append(res.MaskFace, sub[3])
		res.MaskHouse = append(res.MaskHouse, sub[4])
		res.MaskFaceLittle = append(res.MaskFaceLittle, sub[5])
		res.MaskHouseLittle = append(res.MaskHouseLittle, sub[6])
	}

	if p.FetchStimuli {
		readme, err := b.Fetch(ctx, []fetcher.Entry{{
			Path: "stimuli/README",
			URL:  base + "stimuli-2010.01.14.tar.gz",
			Opts: fetcher.Options{Uncompress: true},
		}})
		if err != nil {
			return nil, err
		}
		if !b.DryRun() {
			if res.Stimuli, err = stimuliTree(b, filepath.Dir(readme[0])); err != nil {
				return nil, err
			}
		}
	}
	return res, nil
}

func stimuliTree(b *dataset.Base, dir string) (map[string][]string, error) {
	tree, err := fetcher.Tree(b.Fs(), dir, "*.jpg")
	if err != nil {
		return nil, fmt.Errorf("%s: list stimuli: %w", haxby2001Name, err)
	}
	for key, files := range tree {
		for i, f := range files {
			files[i] = filepath.Join(dir, filepath.FromSlash(f))
		}
		tree[key] = files
	}
	return tree, nil
}

func init() {
	dataset.MustRegister(dataset.Descriptor{
		Name:        haxby2001Name,
		Modality:    dataset.Functional,
		Description: "Haxby et al. 2001 face and object recognition fMRI",
		Params: []dataset.Param{
			{Name: "simple", Help: "fetch the PyMVPA example subset only", Default: "false"},
			{Name: "n_subjects", Help: "number of subjects, 1 to 6", Default: "1"},
			{Name: "fetch_stimuli", Help: "also fetch the stimuli images", Default: "false"},
			{Name: urlParam, Help: "override the download URL"},
		},
		Fetch: func(ctx context.Context, p dataset.Params, opts dataset.Options) (any, error) {
			simple, err := p.Bool("simple", false)
			if err != nil {
				return nil, err
			}
			if simple {
				return FetchHaxby2001Simple(ctx, p.String(urlParam, ""), opts)
			}
			n, err := p.Int("n_subjects", 1)
			if err != nil {
				return nil, err
			}
			stimuli, err := p.Bool("fetch_stimuli", false)
			if err != nil {
				return nil, err
			}
			return FetchHaxby2001(ctx, Haxby2001Params{NSubjects: n, FetchStimuli: stimuli, URL: p.String(urlParam, "")}, opts)
		},
	})
}
