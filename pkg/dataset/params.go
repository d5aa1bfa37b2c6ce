// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"fmt"
	"strconv"
	"strings"
)

// Params are untyped dataset parameters, as given on the command line
// ("--set n_subjects=4") or in an API request.
type Params map[string]string

// ParseParams parses "key=value" pairs. Keys are case-insensitive.
func ParseParams(kvs []string) (Params, error) {
	p := make(Params, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", kv)
		}
		p[k] = strings.TrimSpace(v)
	}
	return p, nil
}

// Has reports whether key is set.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the value of key or def.
func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Int returns key as an int, or def when unset.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %q is not an integer", key, v)
	}
	return n, nil
}

// Bool returns key as a bool, or def when unset.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parameter %s: %q is not a boolean", key, v)
	}
	return b, nil
}

// Strings splits a comma-separated value. Unset keys give nil.
func (p Params) Strings(key string) []string {
	v, ok := p[key]
	if !ok {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Ints splits a comma-separated list of integers. Unset keys give nil.
func (p Params) Ints(key string) ([]int, error) {
	parts := p.Strings(key)
	if parts == nil {
		return nil, nil
	}
	out := make([]int, len(parts))
	for i, s := range parts {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %q is not an integer", key, s)
		}
		out[i] = n
	}
	return out, nil
}
