// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for user-supplied identifiers.
//
// Preset names arrive from YAML files, URL path segments and CLI flags, and
// end up in log attributes and metric labels. Restricting them to a small
// alphabet keeps all three safe to print and cheap to index.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidName is wrapped by every name validation failure.
var ErrInvalidName = errors.New("invalid name")

// presetNamePattern matches valid preset names.
// Allows: lowercase letters, digits, hyphens; must start with a letter or digit
// Max length: 64 characters
var presetNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// ValidatePresetName validates a preset name.
//
// Valid names:
//   - 1-64 characters
//   - Lowercase letters a-z
//   - Digits 0-9
//   - Hyphens (-), not leading
//
// Example:
//
//	if err := validation.ValidatePresetName(name); err != nil {
//	    return fmt.Errorf("preset: %w", err)
//	}
func ValidatePresetName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}

	if !presetNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (must be 1-64 lowercase alphanumeric chars or hyphens)", ErrInvalidName, name)
	}

	return nil
}

// ValidatePresetNames validates multiple names.
// Returns an error listing all invalid names if any fail validation.
func ValidatePresetNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidatePresetName(n); err != nil {
			invalid = append(invalid, n)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("%w: %q", ErrInvalidName, invalid)
	}
	return nil
}

// SanitizePresetName normalizes and validates a preset name.
// Returns the trimmed, lowercase name if valid.
//
//	name, err := validation.SanitizePresetName(userInput)
//	if err != nil {
//	    return err
//	}
func SanitizePresetName(name string) (string, error) {
	normalized := NormalizePresetName(name)
	if err := ValidatePresetName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// NormalizePresetName trims and lowercases name without validating it.
func NormalizePresetName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
