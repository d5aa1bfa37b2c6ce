// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package atlas

import (
	"context"

	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const craddockName = "craddock_2012"

// CraddockURL is the archive of the Craddock 2012 parcellations.
const CraddockURL = "ftp://www.nitrc.org/home/groups/cluster_roi/htdocs/Parcellations/craddock_2011_parcellations.tar.gz"

// CraddockParams configures FetchCraddock2012.
type CraddockParams struct {
	// URL overrides CraddockURL.
	URL string
}

// CraddockResult holds the parcellation volumes.
type CraddockResult struct {
	ScorrMean   string `json:"scorr_mean"`
	TcorrMean   string `json:"tcorr_mean"`
	Scorr2Level string `json:"scorr_2level"`
	Tcorr2Level string `json:"tcorr_2level"`
	Random      string `json:"random"`
}

func craddockManifest(p CraddockParams) []fetcher.Entry {
	return dataset.Entries(or(p.URL, CraddockURL), fetcher.Options{Uncompress: true},
		"scorr05_mean_all.nii.gz",
		"tcorr05_mean_all.nii.gz",
		"scorr05_2level_all.nii.gz",
		"tcorr05_2level_all.nii.gz",
		"random_all.nii.gz",
	)
}

// FetchCraddock2012 fetches the Craddock 2012 spatially constrained
// spectral clustering parcellations.
func FetchCraddock2012(ctx context.Context, p CraddockParams, opts dataset.Options) (*CraddockResult, error) {
	b, err := dataset.NewBase(craddockName, dataset.Atlas, nil, opts)
	if err != nil {
		return nil, err
	}
	files, err := b.Fetch(ctx, craddockManifest(p))
	if err != nil {
		return nil, err
	}
	return &CraddockResult{
		ScorrMean:   files[0],
		TcorrMean:   files[1],
		Scorr2Level: files[2],
		Tcorr2Level: files[3],
		Random:      files[4],
	}, nil
}

func init() {
	dataset.MustRegister(dataset.Descriptor{
		Name:        craddockName,
		Modality:    dataset.Atlas,
		Description: "Craddock 2012 parcellations from spatially constrained spectral clustering",
		Params:      []dataset.Param{{Name: urlParam, Help: "override the download URL"}},
		Fetch: func(ctx context.Context, p dataset.Params, opts dataset.Options) (any, error) {
			return FetchCraddock2012(ctx, CraddockParams{URL: p.String(urlParam, "")}, opts)
		},
	})
}
