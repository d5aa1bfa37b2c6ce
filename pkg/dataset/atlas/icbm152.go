// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package atlas

import (
	"context"

	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const icbm152Name = "icbm152_2009"

// ICBM152URL is the ICBM 2009a nonlinear symmetric template archive.
const ICBM152URL = "http://www.bic.mni.mcgill.ca/~vfonov/icbm/2009/mni_icbm152_nlin_sym_09a_nifti.zip"

// ICBM152Params configures FetchICBM152.
type ICBM152Params struct {
	// URL overrides ICBM152URL.
	URL string
}

// ICBM152Result holds the template volumes.
type ICBM152Result struct {
	CSF      string `json:"csf"`
	GM       string `json:"gm"`
	WM       string `json:"wm"`
	PD       string `json:"pd"`
	T1       string `json:"t1"`
	T2       string `json:"t2"`
	T2Relax  string `json:"t2_relax"`
	EyeMask  string `json:"eye_mask"`
	FaceMask string `json:"face_mask"`
	Mask     string `json:"mask"`
}

func icbm152Manifest(p ICBM152Params) []fetcher.Entry {
	const dir = "mni_icbm152_nlin_sym_09a/"
	return dataset.Entries(or(p.URL, ICBM152URL), fetcher.Options{Uncompress: true},
		dir+"mni_icbm152_csf_tal_nlin_sym_09a.nii",
		dir+"mni_icbm152_gm_tal_nlin_sym_09a.nii",
		dir+"mni_icbm152_wm_tal_nlin_sym_09a.nii",
		dir+"mni_icbm152_pd_tal_nlin_sym_09a.nii",
		dir+"mni_icbm152_t1_tal_nlin_sym_09a.nii",
		dir+"mni_icbm152_t2_tal_nlin_sym_09a.nii",
		dir+"mni_icbm152_t2_relx_tal_nlin_sym_09a.nii",
		dir+"mni_icbm152_t1_tal_nlin_sym_09a_eye_mask.nii",
		dir+"mni_icbm152_t1_tal_nlin_sym_09a_face_mask.nii",
		dir+"mni_icbm152_t1_tal_nlin_sym_09a_mask.nii",
	)
}

// FetchICBM152 fetches the ICBM152 2009 template.
func FetchICBM152(ctx context.Context, p ICBM152Params, opts dataset.Options) (*ICBM152Result, error) {
	b, err := dataset.NewBase(icbm152Name, dataset.Atlas, nil, opts)
	if err != nil {
		return nil, err
	}
	f, err := b.Fetch(ctx, icbm152Manifest(p))
	if err != nil {
		return nil, err
	}
	return &ICBM152Result{
		CSF: f[0], GM: f[1], WM: f[2], PD: f[3], T1: f[4], T2: f[5],
		T2Relax: f[6], EyeMask: f[7], FaceMask: f[8], Mask: f[9],
	}, nil
}

func init() {
	dataset.MustRegister(dataset.Descriptor{
		Name:        icbm152Name,
		Modality:    dataset.Atlas,
		Description: "ICBM152 2009a nonlinear symmetric template",
		Params:      []dataset.Param{{Name: urlParam, Help: "override the download URL"}},
		Fetch: func(ctx context.Context, p dataset.Params, opts dataset.Options) (any, error) {
			return FetchICBM152(ctx, ICBM152Params{URL: p.String(urlParam, "")}, opts)
		},
	})
}
