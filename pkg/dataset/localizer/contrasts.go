// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package localizer

import (
	"fmt"
	"sort"
	"strings"
)

type contrast struct {
	friendly   string
	brainomics string
}

// contrasts are in Brainomics order: a contrast's index names its archive.
var contrasts = []contrast{
	{"checkerboard", "checkerboard"},
	{"horizontal checkerboard", "horizontal checkerboard"},
	{"vertical checkerboard", "vertical checkerboard"},
	{"horizontal vs vertical checkerboard", "horizontal vs vertical checkerboard"},
	{"vertical vs horizontal checkerboard", "vertical vs horizontal checkerboard"},

	{"sentence listening", "auditory sentences"},
	{"sentence reading", "visual sentences"},
	{"sentence listening and reading", "auditory&visual sentences"},
	{"sentence reading vs checkerboard", "visual sentences vs checkerboard"},

	{"calculation (auditory cue)", "auditory calculation"},
	{"calculation (visual cue)", "visual calculation"},
	{"calculation (auditory and visual cue)", "auditory&visual calculation"},
	{"calculation (auditory cue) vs sentence listening", "auditory calculation vs auditory sentences"},
	{"calculation (visual cue) vs sentence reading", "visual calculation vs sentences"},
	{"calculation vs sentences", "auditory&visual calculation vs sentences"},

	{"calculation (auditory cue) and sentence listening", "auditory processing"},
	{"calculation (visual cue) and sentence reading", "visual processing"},
	{"calculation (visual cue) and sentence reading vs calculation (auditory cue) and sentence listening", "visual processing vs auditory processing"},
	{"calculation (auditory cue) and sentence listening vs calculation (visual cue) and sentence reading", "auditory processing vs visual processing"},
	{"calculation (visual cue) and sentence reading vs checkerboard", "visual processing vs checkerboard"},
	{"calculation and sentence listening/reading vs button press", "cognitive processing vs motor"},

	{"left button press (auditory cue)", "left auditory click"},
	{"left button press (visual cue)", "left visual click"},
	{"left button press", "left auditory&visual click"},
	{"left vs right button press", "left auditory & visual click vs right auditory&visual click"},
	{"right button press (auditory cue)", "right auditory click"},
	{"right button press (visual cue)", "right visual click"},
	{"right button press", "right auditory & visual click"},
	{"right vs left button press", "right auditory & visual click vs left auditory&visual click"},
	{"button press (auditory cue) vs sentence listening", "auditory click vs auditory sentences"},
	{"button press (visual cue) vs sentence reading", "visual click vs visual sentences"},
	{"button press vs calculation and sentence listening/reading", "auditory&visual motor vs cognitive processing"},
}

// Contrasts returns the Brainomics names of every contrast, in archive order.
func Contrasts() []string {
	out := make([]string, len(contrasts))
	for i, c := range contrasts {
		out[i] = c.brainomics
	}
	return out
}

// resolveContrast accepts a Brainomics or friendly name and returns the
// Brainomics name with its index.
func resolveContrast(name string) (string, int, error) {
	for i, c := range contrasts {
		if c.brainomics == name {
			return c.brainomics, i, nil
		}
	}
	for i, c := range contrasts {
		if c.friendly == name {
			return c.brainomics, i, nil
		}
	}
	names := Contrasts()
	sort.Strings(names)
	return "", 0, fmt.Errorf("contrast %q is not available, choose one of: %s", name, strings.Join(names, "; "))
}
