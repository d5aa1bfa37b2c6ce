// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package atlas

import (
	"context"

	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const yeoName = "yeo_2011"

// YeoURL is the Yeo 2011 parcellation archive in MNI152 space.
const YeoURL = "ftp://surfer.nmr.mgh.harvard.edu/pub/data/Yeo_JNeurophysiol11_MNI152.zip"

// YeoParams configures FetchYeo2011.
type YeoParams struct {
	URL string
}

// YeoResult holds the 7 and 17 network parcellations.
type YeoResult struct {
	Thin7    string `json:"thin_7"`
	Thick7   string `json:"thick_7"`
	Thin17   string `json:"thin_17"`
	Thick17  string `json:"thick_17"`
	Colors7  string `json:"colors_7"`
	Colors17 string `json:"colors_17"`
	Anat     string `json:"anat"`
}

func yeoManifest(p YeoParams) []fetcher.Entry {
	const dir = "Yeo_JNeurophysiol11_MNI152/"
	return dataset.Entries(or(p.URL, YeoURL), fetcher.Options{Uncompress: true},
		dir+"Yeo2011_7Networks_MNI152_FreeSurferConformed1mm.nii.gz",
		dir+"Yeo2011_7Networks_MNI152_FreeSurferConformed1mm_LiberalMask.nii.gz",
		dir+"Yeo2011_17Networks_MNI152_FreeSurferConformed1mm.nii.gz",
		dir+"Yeo2011_17Networks_MNI152_FreeSurferConformed1mm_LiberalMask.nii.gz",
		dir+"Yeo2011_7Networks_ColorLUT.txt",
		dir+"Yeo2011_17Networks_ColorLUT.txt",
		dir+"FSL_MNI152_FreeSurferConformed_1mm.nii.gz",
	)
}

// FetchYeo2011 fetches the Yeo 2011 resting state network parcellations.
func FetchYeo2011(ctx context.Context, p YeoParams, opts dataset.Options) (*YeoResult, error) {
	b, err := dataset.NewBase(yeoName, dataset.Atlas, nil, opts)
	if err != nil {
		return nil, err
	}
	f, err := b.Fetch(ctx, yeoManifest(p))
	if err != nil {
		return nil, err
	}
	return &YeoResult{
		Thin7: f[0], Thick7: f[1], Thin17: f[2], Thick17: f[3],
		Colors7: f[4], Colors17: f[5], Anat: f[6],
	}, nil
}

func init() {
	dataset.MustRegister(dataset.Descriptor{
		Name:        yeoName,
		Modality:    dataset.Atlas,
		Description: "Yeo 2011 7 and 17 network cortical parcellations",
		Params:      []dataset.Param{{Name: urlParam, Help: "override the download URL"}},
		Fetch: func(ctx context.Context, p dataset.Params, opts dataset.Options) (any, error) {
			return FetchYeo2011(ctx, YeoParams{URL: p.String(urlParam, "")}, opts)
		},
	})
}
