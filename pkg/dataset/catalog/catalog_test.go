// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"testing"

	"github.com/roshan-srin/nidata/pkg/dataset"
)

func TestEveryDatasetRegistered(t *testing.T) {
	want := []string{
		"brainomics_localizer",
		"craddock_2012",
		"harvard_oxford",
		"haxby_etal_2001",
		"haxby_etal_2011",
		"icbm152_2009",
		"localizer_calculation_task",
		"miyawaki_2008",
		"mni152_template",
		"msdl_atlas",
		"nyu_rest",
		"yeo_2011",
	}
	got := dataset.Names()
	if len(got) != len(want) {
		t.Fatalf("Expected %d datasets, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Dataset %d is %s, want %s", i, got[i], want[i])
		}
	}
}
