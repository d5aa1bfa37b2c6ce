// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package functional fetches task fMRI datasets: Haxby et al. 2001 and
// Miyawaki et al. 2008.
package functional

const urlParam = "url"

func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
