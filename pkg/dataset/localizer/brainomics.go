// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package localizer fetches the Brainomics functional localizer: per-subject
// contrast and t maps, masks, anatomical scans and the subjects' external
// variables.
package localizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/roshan-srin/nidata/pkg/dataset"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const brainomicsName = "brainomics_localizer"

const (
	// BrainomicsURL is the root of the Brainomics data export service.
	BrainomicsURL = "http://brainomics.cea.fr/localizer/"

	// BrainomicsSubjects is the number of subjects in the dataset.
	BrainomicsSubjects = 94
)

const (
	cMap = "c map"
	tMap = "t map"
)

// BrainomicsParams configures FetchLocalizerContrasts.
type BrainomicsParams struct {
	// Contrasts accepts Brainomics or friendly names. Empty means all.
	Contrasts []string
	// NSubjects defaults to 94; out of range values are reset to 94.
	NSubjects int
	GetTmaps  bool
	GetMasks  bool
	GetAnats  bool
	// URL overrides where the subject exports come from.
	URL string
}

// BrainomicsResult lists files subject by subject. Within a subject, maps
// follow the requested contrast order.
type BrainomicsResult struct {
	Cmaps   []string            `json:"cmaps"`
	Tmaps   []string            `json:"tmaps,omitempty"`
	Masks   []string            `json:"masks,omitempty"`
	Anats   []string            `json:"anats,omitempty"`
	ExtVars []map[string]string `json:"ext_vars"`
}

// CalculationResult holds the contrast maps of the calculation task.
type CalculationResult struct {
	Cmaps   []string            `json:"cmaps"`
	ExtVars []map[string]string `json:"ext_vars"`
}

func brainomicsQuery(lastSubject, types, label string) string {
	return "Any X,XT,XL,XI,XF,XD WHERE X is Scan, X type XT, " +
		"X concerns S, " +
		"X label XL, X identifier XI, " +
		"X format XF, X description XD, " +
		fmt.Sprintf(`S identifier <= "%s", `, lastSubject) +
		fmt.Sprintf(`X type IN(%s), X label "%s"`, types, label)
}

func brainomicsZipURL(archive, query string) string {
	return fmt.Sprintf("%sbrainomics_data_%s.zip?rql=%s&vid=data-zip", BrainomicsURL, archive, quote(query, ",()"))
}

func exportURLs(override string) (string, string) {
	if override != "" {
		override = strings.TrimSuffix(override, "/")
		return override + "/cubicwebexport.csv", override + "/cubicwebexport2.csv"
	}
	subjects := BrainomicsURL + "dataset/cubicwebexport.csv?rql=" +
		quote("Any X WHERE X is Subject", "/") + "&vid=csvexport"
	questionnaires := BrainomicsURL + "dataset/cubicwebexport2.csv?rql=" +
		quote("Any X,XI,XD WHERE X is QuestionnaireRun, X identifier XI, X datetime XD", ",") + "&vid=csvexport"
	return subjects, questionnaires
}

// brainomicsPlan is a manifest plus where each result field lives in it.
type brainomicsPlan struct {
	entries []fetcher.Entry
	cmaps   []int
	tmaps   []int
	masks   []int
	anats   []int
}

func (p *brainomicsPlan) add(path, url string) int {
	p.entries = append(p.entries, fetcher.Entry{Path: path, URL: url, Opts: fetcher.Options{Uncompress: true}})
	return len(p.entries) - 1
}

func brainomicsManifest(names []string, indices []int, p BrainomicsParams, nSubjects int) *brainomicsPlan {
	subjects := make([]string, nSubjects)
	for i := range subjects {
		subjects[i] = fmt.Sprintf("S%02d", i+1)
	}
	last := subjects[len(subjects)-1]

	types := []string{cMap}
	if p.GetTmaps {
		types = append(types, tMap)
	}
	quoted := make([]string, len(types))
	for i, t := range types {
		quoted[i] = `"` + t + `"`
	}
	rqlTypes := strings.Join(quoted, ", ")

	urls := make([]string, len(names))
	for i, name := range names {
		urls[i] = brainomicsZipURL(fmt.Sprint(indices[i]), brainomicsQuery(last, rqlTypes, name))
	}

	plan := &brainomicsPlan{}
	for _, subject := range subjects {
		for _, typ := range types {
			for i, name := range names {
				file := strings.ReplaceAll(typ+"_"+name, " ", "_") + ".nii.gz"
				idx := plan.add("brainomics_data/"+subject+"/"+file, urls[i])
				if typ == cMap {
					plan.cmaps = append(plan.cmaps, idx)
				} else {
					plan.tmaps = append(plan.tmaps, idx)
				}
			}
		}
	}
	if p.GetMasks {
		url := brainomicsZipURL("masks", brainomicsQuery(last, `"boolean mask"`, "mask"))
		for _, subject := range subjects {
			plan.masks = append(plan.masks, plan.add("brainomics_data/"+subject+"/boolean_mask_mask.nii.gz", url))
		}
	}
	if p.GetAnats {
		url := brainomicsZipURL("anats", brainomicsQuery(last, `"normalized T1"`, "anatomy"))
		for _, subject := range subjects {
			plan.anats = append(plan.anats, plan.add("brainomics_data/"+subject+"/normalized_T1_anat_defaced.nii.gz", url))
		}
	}

	subjectsCSV, questionnairesCSV := exportURLs(p.URL)
	plan.entries = append(plan.entries,
		fetcher.Entry{Path: "cubicwebexport.csv", URL: subjectsCSV},
		fetcher.Entry{Path: "cubicwebexport2.csv", URL: questionnairesCSV},
	)
	return plan
}

func pick(files []string, indices []int) []string {
	if indices == nil {
		return nil
	}
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = files[idx]
	}
	return out
}

// FetchLocalizerContrasts fetches Brainomics localizer maps for the given
// contrasts and subjects.
func FetchLocalizerContrasts(ctx context.Context, p BrainomicsParams, opts dataset.Options) (*BrainomicsResult, error) {
	names := p.Contrasts
	if len(names) == 0 {
		names = Contrasts()
	}
	resolved := make([]string, len(names))
	indices := make([]int, len(names))
	for i, name := range names {
		var err error
		if resolved[i], indices[i], err = resolveContrast(name); err != nil {
			return nil, fmt.Errorf("%s: %w", brainomicsName, err)
		}
	}

	b, err := dataset.NewBase(brainomicsName, dataset.Localizer, nil, opts)
	if err != nil {
		return nil, err
	}
	n := p.NSubjects
	if n == 0 {
		n = BrainomicsSubjects
	}
	if n < 1 || n > BrainomicsSubjects {
		b.Warn("wrong value for n_subjects (%d), the maximum value (%d) will be used instead", n, BrainomicsSubjects)
		n = BrainomicsSubjects
	}

	plan := brainomicsManifest(resolved, indices, p, n)
	files, err := b.Fetch(ctx, plan.entries)
	if err != nil {
		return nil, err
	}

	res := &BrainomicsResult{
		Cmaps: pick(files, plan.cmaps),
		Tmaps: pick(files, plan.tmaps),
		Masks: pick(files, plan.masks),
		Anats: pick(files, plan.anats),
	}
	if b.DryRun() {
		return res, nil
	}

	subjects, err := readTable(b.Fs(), files[len(files)-2])
	if err != nil {
		return nil, fmt.Errorf("%s: read cubicwebexport.csv: %w", brainomicsName, err)
	}
	questionnaires, err := readTable(b.Fs(), files[len(files)-1])
	if err != nil {
		return nil, fmt.Errorf("%s: read cubicwebexport2.csv: %w", brainomicsName, err)
	}
	ext, err := joinTables(subjects, questionnaires)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", brainomicsName, err)
	}
	if len(ext) > n {
		ext = ext[:n]
	}
	res.ExtVars = ext
	return res, nil
}

// FetchLocalizerCalculationTask fetches the contrast maps of the
// "calculation (auditory and visual cue)" contrast.
func FetchLocalizerCalculationTask(ctx context.Context, nSubjects int, url string, opts dataset.Options) (*CalculationResult, error) {
	res, err := FetchLocalizerContrasts(ctx, BrainomicsParams{
		Contrasts: []string{"calculation (auditory and visual cue)"},
		NSubjects: nSubjects,
		URL:       url,
	}, opts)
	if err != nil {
		return nil, err
	}
	return &CalculationResult{Cmaps: res.Cmaps, ExtVars: res.ExtVars}, nil
}

func init() {
	dataset.MustRegister(dataset.Descriptor{
		Name:        brainomicsName,
		Modality:    dataset.Localizer,
		Description: "Brainomics functional localizer contrast maps (94 subjects)",
		Params: []dataset.Param{
			{Name: "contrasts", Help: "comma-separated contrasts, Brainomics or friendly names; all when empty"},
			{Name: "n_subjects", Help: "number of subjects, 1 to 94", Default: "94"},
			{Name: "get_tmaps", Help: "also fetch t maps", Default: "false"},
			{Name: "get_masks", Help: "also fetch brain masks", Default: "false"},
			{Name: "get_anats", Help: "also fetch normalized anatomical scans", Default: "false"},
			{Name: "url", Help: "override where the subject exports come from"},
		},
		Fetch: func(ctx context.Context, p dataset.Params, opts dataset.Options) (any, error) {
			bp := BrainomicsParams{Contrasts: p.Strings("contrasts"), URL: p.String("url", "")}
			var err error
			if bp.NSubjects, err = p.Int("n_subjects", BrainomicsSubjects); err != nil {
				return nil, err
			}
			if bp.GetTmaps, err = p.Bool("get_tmaps", false); err != nil {
				return nil, err
			}
			if bp.GetMasks, err = p.Bool("get_masks", false); err != nil {
				return nil, err
			}
			if bp.GetAnats, err = p.Bool("get_anats", false); err != nil {
				return nil, err
			}
			return FetchLocalizerContrasts(ctx, bp, opts)
		},
	})

	dataset.MustRegister(dataset.Descriptor{
		Name:        "localizer_calculation_task",
		Modality:    dataset.Localizer,
		Description: "Brainomics localizer calculation task contrast maps",
		Params: []dataset.Param{
			{Name: "n_subjects", Help: "number of subjects, 1 to 94", Default: "94"},
			{Name: "url", Help: "override where the subject exports come from"},
		},
		Fetch: func(ctx context.Context, p dataset.Params, opts dataset.Options) (any, error) {
			n, err := p.Int("n_subjects", BrainomicsSubjects)
			if err != nil {
				return nil, err
			}
			return FetchLocalizerCalculationTask(ctx, n, p.String("url", ""), opts)
		},
	})
}
