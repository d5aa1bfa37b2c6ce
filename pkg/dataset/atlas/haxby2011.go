// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package atlas

import (
	"context"
	"fmt"

	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const haxby2011Name = "haxby_etal_2011"

// Haxby2011URL is the hyperalignment tutorial data, an HDF5 dump of the
// subjects' preprocessed runs.
const Haxby2011URL = "http://data.pymvpa.org/datasets/hyperalignment_tutorial_data/hyperalignment_tutorial_data_2.4.hdf5.gz"

// Haxby2011MaxSubjects is the number of subjects in the raw data.
const Haxby2011MaxSubjects = 10

// Haxby2011Params configures FetchHaxby2011.
type Haxby2011Params struct {
	// NSubjects defaults to Haxby2011MaxSubjects.
	NSubjects int
}

// Haxby2011Result points at the raw hyperalignment data. Conversion to
// per-subject volumes is left to the caller.
type Haxby2011Result struct {
	RawData   string `json:"raw_data"`
	NSubjects int    `json:"n_subjects"`
}

// FetchHaxby2011 fetches the Haxby et al. 2011 hyperalignment data.
func FetchHaxby2011(ctx context.Context, p Haxby2011Params, opts dataset.Options) (*Haxby2011Result, error) {
	n := p.NSubjects
	if n == 0 {
		n = Haxby2011MaxSubjects
	}
	if n < 1 || n > Haxby2011MaxSubjects {
		return nil, fmt.Errorf("%s: n_subjects must be between 1 and %d, got %d", haxby2011Name, Haxby2011MaxSubjects, n)
	}

	b, err := dataset.NewBase(haxby2011Name, dataset.Atlas, nil, opts)
	if err != nil {
		return nil, err
	}
	files, err := b.Fetch(ctx, []fetcher.Entry{{
		Path: "hyperalignment_tutorial_data_2.4.hdf5.gz",
		URL:  Haxby2011URL,
	}})
	if err != nil {
		return nil, err
	}
	return &Haxby2011Result{RawData: files[0], NSubjects: n}, nil
}

func init() {
	dataset.MustRegister(dataset.Descriptor{
		Name:        haxby2011Name,
		Modality:    dataset.Atlas,
		Description: "Haxby et al. 2011 hyperalignment tutorial data (raw HDF5)",
		Params: []dataset.Param{
			{Name: "n_subjects", Help: "number of subjects, at most 10", Default: "10"},
		},
		Fetch: func(ctx context.Context, p dataset.Params, opts dataset.Options) (any, error) {
			n, err := p.Int("n_subjects", Haxby2011MaxSubjects)
			if err != nil {
				return nil, err
			}
			return FetchHaxby2011(ctx, Haxby2011Params{NSubjects: n}, opts)
		},
	})
}
