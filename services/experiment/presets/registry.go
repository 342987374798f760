// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package presets holds named experiment parameter sets.
//
// Presets are sample data. A built-in table ships embedded in the binary and
// any YAML file with the same shape replaces it wholesale:
//
//	presets:
//	  - name: checkout-button
//	    description: Checkout button copy change
//	    baseline_rate: 0.032
//	    minimum_detectable_effect: 0.10
//	    confidence_level: 0.95
//	    statistical_power: 0.8
//
// Every preset is validated with ab.ValidateParameters when a table is
// loaded. A table with any invalid or duplicate entry is rejected as a whole
// and the previous table stays in effect.
package presets

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/AleutianAI/abstat/pkg/validation"
	"github.com/AleutianAI/abstat/services/experiment/ab"
	"gopkg.in/yaml.v3"
)

//go:embed default_presets.yaml
var defaultTable []byte

var (
	// ErrNotFound is returned by Get for an unknown preset name.
	ErrNotFound = errors.New("preset not found")

	// ErrInvalidTable is returned when a preset table cannot be used.
	ErrInvalidTable = errors.New("invalid preset table")
)

// Preset is a named, described parameter set.
type Preset struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`

	ab.Parameters `yaml:",inline"`
}

// presetFile is the on-disk shape.
type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// Registry is a swappable table of presets.
//
// Thread Safety: Safe for concurrent use. Readers never observe a partially
// loaded table.
type Registry struct {
	mu      sync.RWMutex
	presets []Preset
	byName  map[string]int
	source  string
}

// NewRegistry returns a Registry holding the built-in table.
func NewRegistry() *Registry {
	r := &Registry{}
	if err := r.LoadBytes(defaultTable, "builtin"); err != nil {
		// The embedded table is covered by tests.
		panic(fmt.Sprintf("presets: built-in table: %v", err))
	}
	return r
}

// Load replaces the table with the contents of the YAML file at path.
func (r *Registry) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read presets file: %w", err)
	}
	return r.LoadBytes(data, path)
}

// LoadBytes parses and validates data, then swaps it in.
//
// Inputs:
//   - data: YAML document with a top-level "presets" list.
//   - source: Label reported by Source, typically the file path.
//
// Outputs:
//   - error: ErrInvalidTable wrapping the first problem found. On error the
//     current table is unchanged.
func (r *Registry) LoadBytes(data []byte, source string) error {
	presets, err := parseTable(data)
	if err != nil {
		return err
	}

	byName := make(map[string]int, len(presets))
	for i, p := range presets {
		byName[p.Name] = i
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets = presets
	r.byName = byName
	r.source = source
	return nil
}

// List returns a copy of all presets in table order.
func (r *Registry) List() []Preset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.presets)
}

// Get returns the preset with the given name.
func (r *Registry) Get(name string) (Preset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return r.presets[i], nil
}

// Source returns where the current table came from.
func (r *Registry) Source() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.source
}

func parseTable(data []byte) ([]Preset, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	if len(file.Presets) == 0 {
		return nil, fmt.Errorf("%w: no presets defined", ErrInvalidTable)
	}

	names := make([]string, len(file.Presets))
	for i := range file.Presets {
		names[i] = validation.NormalizePresetName(file.Presets[i].Name)
	}
	if err := validation.ValidatePresetNames(names); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}

	seen := make(map[string]bool, len(file.Presets))
	for i := range file.Presets {
		p := &file.Presets[i]
		p.Name = names[i]
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: duplicate preset %q", ErrInvalidTable, p.Name)
		}
		seen[p.Name] = true

		if err := ab.ValidateParameters(p.Parameters); err != nil {
			return nil, fmt.Errorf("%w: preset %q: %w", ErrInvalidTable, p.Name, err)
		}
	}
	return file.Presets, nil
}
