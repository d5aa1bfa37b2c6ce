// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package atlas fetches brain atlases and templates: Craddock 2012,
// Harvard-Oxford, Haxby 2011 hyperalignment data, ICBM152 2009, the MNI152
// template, MSDL and Yeo 2011.
package atlas

// urlParam is the parameter every atlas accepts to override its download URL.
const urlParam = "url"

func or(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
