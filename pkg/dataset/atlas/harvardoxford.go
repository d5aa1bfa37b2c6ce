// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package atlas

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const harvardOxfordName = "harvard_oxford"

// HarvardOxfordURL is the FSL Harvard-Oxford atlas archive.
const HarvardOxfordURL = "https://www.nitrc.org/frs/download.php/7363/HarvardOxford.tgz"

// HarvardOxfordAtlases lists the atlases shipped in the archive.
var HarvardOxfordAtlases = []string{
	"cort-maxprob-thr0-1mm", "cort-maxprob-thr0-2mm",
	"cort-maxprob-thr25-1mm", "cort-maxprob-thr25-2mm",
	"cort-maxprob-thr50-1mm", "cort-maxprob-thr50-2mm",
	"sub-maxprob-thr0-1mm", "sub-maxprob-thr0-2mm",
	"sub-maxprob-thr25-1mm", "sub-maxprob-thr25-2mm",
	"sub-maxprob-thr50-1mm", "sub-maxprob-thr50-2mm",
	"cort-prob-1mm", "cort-prob-2mm",
	"sub-prob-1mm", "sub-prob-2mm",
}

// harvardOxfordEnv lets an FSL installation serve as the data directory.
var harvardOxfordEnv = []string{"FSL_DIR", "FSLDIR"}

// HarvardOxfordParams configures FetchHarvardOxford.
type HarvardOxfordParams struct {
	// AtlasName is one of HarvardOxfordAtlases.
	AtlasName string
}

// HarvardOxfordResult is one atlas volume with its region names.
type HarvardOxfordResult struct {
	Atlas string `json:"atlas"`
	Maps  string `json:"maps"`
	// Labels[i] names the region with value i; 0 is "Background".
	Labels []string `json:"labels"`
}

func validAtlas(name string) error {
	for _, a := range HarvardOxfordAtlases {
		if a == name {
			return nil
		}
	}
	return fmt.Errorf("invalid atlas name: %q; choose among:\n%s", name, strings.Join(HarvardOxfordAtlases, "\n"))
}

func harvardOxfordLabelFile(atlas string) string {
	if strings.HasPrefix(atlas, "c") {
		return "HarvardOxford-Cortical.xml"
	}
	return "HarvardOxford-Subcortical.xml"
}

func harvardOxfordManifest(atlases []string) []fetcher.Entry {
	opts := fetcher.Options{Uncompress: true}
	var entries []fetcher.Entry
	for _, a := range atlases {
		entries = append(entries,
			fetcher.Entry{Path: "HarvardOxford/HarvardOxford-" + a + ".nii.gz", URL: HarvardOxfordURL, Opts: opts},
			fetcher.Entry{Path: harvardOxfordLabelFile(a), URL: HarvardOxfordURL, Opts: opts},
		)
	}
	return entries
}

// FetchHarvardOxford fetches one Harvard-Oxford atlas and its labels.
func FetchHarvardOxford(ctx context.Context, p HarvardOxfordParams, opts dataset.Options) (*HarvardOxfordResult, error) {
	if err := validAtlas(p.AtlasName); err != nil {
		return nil, err
	}
	results, err := fetchHarvardOxford(ctx, []string{p.AtlasName}, opts)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// FetchHarvardOxfordAll fetches every Harvard-Oxford atlas. They share one
// archive, which is downloaded once.
func FetchHarvardOxfordAll(ctx context.Context, opts dataset.Options) ([]*HarvardOxfordResult, error) {
	return fetchHarvardOxford(ctx, HarvardOxfordAtlases, opts)
}

func fetchHarvardOxford(ctx context.Context, atlases []string, opts dataset.Options) ([]*HarvardOxfordResult, error) {
	b, err := dataset.NewBase(harvardOxfordName, dataset.Atlas, harvardOxfordEnv, opts)
	if err != nil {
		return nil, err
	}
	files, err := b.Fetch(ctx, harvardOxfordManifest(atlases))
	if err != nil {
		return nil, err
	}

	labels := make(map[string][]string)
	results := make([]*HarvardOxfordResult, len(atlases))
	for i, a := range atlases {
		maps, labelFile := files[2*i], files[2*i+1]
		res := &HarvardOxfordResult{Atlas: a, Maps: maps}
		if !b.DryRun() {
			if _, ok := labels[labelFile]; !ok {
				names, err := readHarvardOxfordLabels(b.Fs(), labelFile)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", harvardOxfordName, err)
				}
				labels[labelFile] = names
			}
			res.Labels = labels[labelFile]
		}
		results[i] = res
	}
	return results, nil
}

type xmlLabel struct {
	Index int    `xml:"index,attr"`
	Name  string `xml:",chardata"`
}

// readHarvardOxfordLabels reads the <label index="i"> elements of an FSL
// atlas description. Region i+1 is named by the label with index i.
func readHarvardOxfordLabels(fs afero.Fs, path string) ([]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	byValue := map[int]string{0: "Background"}
	max := 0
	dec := xml.NewDecoder(f)
	// FSL ships these files as ISO-8859-1.
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		enc, err := ianaindex.IANA.Encoding(label)
		if err != nil {
			return nil, err
		}
		if enc == nil {
			return nil, fmt.Errorf("unsupported charset %q", label)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "label" {
			continue
		}
		var l xmlLabel
		if err := dec.DecodeElement(&l, &se); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		byValue[l.Index+1] = strings.TrimSpace(l.Name)
		if l.Index+1 > max {
			max = l.Index + 1
		}
	}

	names := make([]string, max+1)
	for v, n := range byValue {
		if v >= 0 {
			names[v] = n
		}
	}
	return names, nil
}

func init() {
	dataset.MustRegister(dataset.Descriptor{
		Name:        harvardOxfordName,
		Modality:    dataset.Atlas,
		Description: "Harvard-Oxford cortical and subcortical structural atlases (FSL)",
		EnvVars:     harvardOxfordEnv,
		Params: []dataset.Param{
			{Name: "atlas_name", Help: "atlas to fetch, e.g. cort-maxprob-thr25-2mm; empty fetches all"},
		},
		Fetch: func(ctx context.Context, p dataset.Params, opts dataset.Options) (any, error) {
			name := p.String("atlas_name", "")
			if name == "" {
				return FetchHarvardOxfordAll(ctx, opts)
			}
			return FetchHarvardOxford(ctx, HarvardOxfordParams{AtlasName: name}, opts)
		},
	})
}
