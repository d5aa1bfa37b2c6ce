// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package atlas

import (
	"context"

	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const mni152Name = "mni152_template"

// MNI152URL is the skull-stripped MNI152 T1 template.
const MNI152URL = "https://raw.githubusercontent.com/nilearn/nilearn/master/nilearn/data/avg152T1_brain.nii.gz"

// MNI152Params configures FetchMNI152.
type MNI152Params struct {
	URL string
}

// MNI152Result holds the template path.
type MNI152Result struct {
	Template string `json:"template"`
}

// FetchMNI152 fetches the MNI152 T1 brain template.
func FetchMNI152(ctx context.Context, p MNI152Params, opts dataset.Options) (*MNI152Result, error) {
	b, err := dataset.NewBase(mni152Name, dataset.Atlas, nil, opts)
	if err != nil {
		return nil, err
	}
	files, err := b.Fetch(ctx, []fetcher.Entry{{Path: "avg152T1_brain.nii.gz", URL: or(p.URL, MNI152URL)}})
	if err != nil {
		return nil, err
	}
	return &MNI152Result{Template: files[0]}, nil
}

func init() {
	dataset.MustRegister(dataset.Descriptor{
		Name:        mni152Name,
		Modality:    dataset.Atlas,
		Description: "MNI152 T1 brain template",
		Params:      []dataset.Param{{Name: urlParam, Help: "override the download URL"}},
		Fetch: func(ctx context.Context, p dataset.Params, opts dataset.Options) (any, error) {
			return FetchMNI152(ctx, MNI152Params{URL: p.String(urlParam, "")}, opts)
		},
	})
}
