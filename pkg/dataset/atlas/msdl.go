// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package atlas

import (
	"context"

	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const msdlName = "msdl_atlas"

// MSDLURL is the MSDL probabilistic atlas archive.
const MSDLURL = "https://team.inria.fr/parietal/files/2015/01/MSDL_rois.zip"

// MSDLParams configures FetchMSDL.
type MSDLParams struct {
	URL string
}

// MSDLResult holds the atlas maps and their labels table.
type MSDLResult struct {
	Labels string `json:"labels"`
	Maps   string `json:"maps"`
}

// FetchMSDL fetches the MSDL atlas of functional regions.
func FetchMSDL(ctx context.Context, p MSDLParams, opts dataset.Options) (*MSDLResult, error) {
	b, err := dataset.NewBase(msdlName, dataset.Atlas, nil, opts)
	if err != nil {
		return nil, err
	}
	files, err := b.Fetch(ctx, dataset.Entries(or(p.URL, MSDLURL), fetcher.Options{Uncompress: true},
		"MSDL_rois/msdl_rois_labels.csv",
		"MSDL_rois/msdl_rois.nii",
	))
	if err != nil {
		return nil, err
	}
	return &MSDLResult{Labels: files[0], Maps: files[1]}, nil
}

func init() {
	dataset.MustRegister(dataset.Descriptor{
		Name:        msdlName,
		Modality:    dataset.Atlas,
		Description: "MSDL probabilistic atlas of functional regions",
		Params:      []dataset.Param{{Name: urlParam, Help: "override the download URL"}},
		Fetch: func(ctx context.Context, p dataset.Params, opts dataset.Options) (any, error) {
			return FetchMSDL(ctx, MSDLParams{URL: p.String(urlParam, "")}, opts)
		},
	})
}
