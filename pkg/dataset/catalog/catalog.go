// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package catalog registers every dataset shipped with nidata.
package catalog

import (
	_ "github.com/roshan-srin/nidata/pkg/dataset/atlas"
	_ "github.com/roshan-srin/nidata/pkg/dataset/functional"
	_ "github.com/roshan-srin/nidata/pkg/dataset/localizer"
	_ "github.com/roshan-srin/nidata/pkg/dataset/restingstate"
)
