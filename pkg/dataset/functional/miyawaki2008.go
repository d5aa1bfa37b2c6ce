// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package functional

import (
	"context"
	"fmt"

	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const miyawakiName = "miyawaki_2008"

// MiyawakiURL is the archive holding the whole dataset.
const MiyawakiURL = "https://www.nitrc.org/frs/download.php/5899/miyawaki2008.tgz?i_agree=1&download_now=1"

const (
	miyawakiFigureRuns = 12
	miyawakiRandomRuns = 20
)

// miyawakiROIs are the visual area masks, per hemisphere.
var miyawakiROIs = []string{
	"lag0to1", "lag10to11", "lag1to2", "lag2to3", "lag3to4", "lag4to5",
	"lag5to6", "lag6to7", "lag7to8", "lag8to9", "lag9to10",
	"V1d", "V1v", "V2d", "V2v", "V3A", "V3", "V4v", "VP",
}

// MiyawakiResult holds the runs (12 figure runs then 20 random runs), their
// stimulus labels in the same order, and the masks.
type MiyawakiResult struct {
	Func    []string `json:"func"`
	Label   []string `json:"label"`
	Mask    string   `json:"mask"`
	MaskROI []string `json:"mask_roi"`
}

func miyawakiManifest(url string) []fetcher.Entry {
	var paths []string
	for i := 1; i <= miyawakiFigureRuns; i++ {
		paths = append(paths, fmt.Sprintf("func/data_figure_run%02d.nii.gz", i))
	}
	for i := 1; i <= miyawakiRandomRuns; i++ {
		paths = append(paths, fmt.Sprintf("func/data_random_run%02d.nii.gz", i))
	}
	for i := 1; i <= miyawakiFigureRuns; i++ {
		paths = append(paths, fmt.Sprintf("label/data_figure_run%02d_label.csv", i))
	}
	for i := 1; i <= miyawakiRandomRuns; i++ {
		paths = append(paths, fmt.Sprintf("label/data_random_run%02d_label.csv", i))
	}
	paths = append(paths, "mask/mask.nii.gz")
	for _, hemi := range []string{"LH", "RH"} {
		for _, roi := range miyawakiROIs {
			paths = append(paths, "mask/"+hemi+roi+".nii.gz")
		}
	}
	return dataset.Entries(or(url, MiyawakiURL), fetcher.Options{Uncompress: true}, paths...)
}

// FetchMiyawaki2008 fetches the Miyawaki et al. 2008 visual image
// reconstruction dataset.
func FetchMiyawaki2008(ctx context.Context, url string, opts dataset.Options) (*MiyawakiResult, error) {
	b, err := dataset.NewBase(miyawakiName, dataset.Functional, nil, opts)
	if err != nil {
		return nil, err
	}
	files, err := b.Fetch(ctx, miyawakiManifest(url))
	if err != nil {
		return nil, err
	}
	runs := miyawakiFigureRuns + miyawakiRandomRuns
	return &MiyawakiResult{
		Func:    files[:runs],
		Label:   files[runs : 2*runs],
		Mask:    files[2*runs],
		MaskROI: files[2*runs+1:],
	}, nil
}

func init() {
	dataset.MustRegister(dataset.Descriptor{
		Name:        miyawakiName,
		Modality:    dataset.Functional,
		Description: "Miyawaki et al. 2008 visual image reconstruction fMRI",
		Params:      []dataset.Param{{Name: urlParam, Help: "override the download URL"}},
		Fetch: func(ctx context.Context, p dataset.Params, opts dataset.Options) (any, error) {
			return FetchMiyawaki2008(ctx, p.String(urlParam, ""), opts)
		},
	})
}
