// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownDataset is returned by Run for names nobody registered.
var ErrUnknownDataset = errors.New("unknown dataset")

// Param documents one dataset parameter.
type Param struct {
	Name    string `json:"name"`
	Help    string `json:"help"`
	Default string `json:"default,omitempty"`
}

// FetchFunc fetches a dataset from untyped parameters and returns its
// typed result.
type FetchFunc func(ctx context.Context, p Params, opts Options) (any, error)

// Descriptor is a registered dataset.
type Descriptor struct {
	Name        string    `json:"name"`
	Modality    Modality  `json:"modality"`
	Description string    `json:"description"`
	EnvVars     []string  `json:"env_vars,omitempty"`
	Params      []Param   `json:"params,omitempty"`
	Fetch       FetchFunc `json:"-"`
}

// HasParam reports whether the dataset accepts the named parameter.
func (d Descriptor) HasParam(name string) bool {
	for _, p := range d.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

var globalRegistry = newRegistry()

type registry struct {
	mu       sync.RWMutex
	datasets map[string]Descriptor
}

func newRegistry() *registry {
	return &registry{datasets: make(map[string]Descriptor)}
}

// Register adds a dataset to the global registry. Duplicate names fail.
func Register(d Descriptor) error {
	return globalRegistry.register(d)
}

// MustRegister panics when registration fails; meant for init functions.
func MustRegister(d Descriptor) {
	if err := Register(d); err != nil {
		panic(err)
	}
}

// Lookup returns the dataset registered under name.
func Lookup(name string) (Descriptor, bool) {
	return globalRegistry.lookup(name)
}

// List returns the registered datasets sorted by name.
func List() []Descriptor {
	return globalRegistry.list()
}

// Names returns the registered dataset names, sorted.
func Names() []string {
	items := List()
	result := make([]string, len(items))
	for i, d := range items {
		result[i] = d.Name
	}
	return result
}

// Run fetches a registered dataset. Parameters the dataset does not declare
// are rejected.
func Run(ctx context.Context, name string, p Params, opts Options) (any, error) {
	d, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownDataset, name, strings.Join(Names(), ", "))
	}
	for key := range p {
		if !d.HasParam(key) {
			valid := make([]string, len(d.Params))
			for i, dp := range d.Params {
				valid[i] = dp.Name
			}
			return nil, fmt.Errorf("%s: unknown parameter %q (valid: %s)", d.Name, key, strings.Join(valid, ", "))
		}
	}
	return d.Fetch(ctx, p, opts)
}

func (r *registry) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(d Descriptor) error {
	key := r.normalizeKey(d.Name)
	if key == "" {
		return fmt.Errorf("dataset name is required")
	}
	if d.Fetch == nil {
		return fmt.Errorf("dataset %s has no fetch function", key)
	}
	d.Name = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.datasets[key]; exists {
		return fmt.Errorf("dataset %s already registered", key)
	}
	r.datasets[key] = d
	return nil
}

func (r *registry) lookup(name string) (Descriptor, bool) {
	if name == "" {
		return Descriptor{}, false
	}
	key := r.normalizeKey(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.datasets[key]
	return d, ok
}

func (r *registry) list() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.datasets) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.datasets))
	for key := range r.datasets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Descriptor, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.datasets[key])
	}
	return result
}
