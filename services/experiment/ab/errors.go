// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ab

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidParameter indicates a numeric input outside its documented range.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDegenerateInput indicates input that cannot be analyzed, such as an
	// empty observation sequence.
	ErrDegenerateInput = errors.New("degenerate input")

	// ErrArithmeticDomain indicates a computation that would otherwise
	// produce NaN or Inf.
	ErrArithmeticDomain = errors.New("arithmetic domain error")
)

// ParameterError describes which parameter failed validation and why.
//
// It matches ErrInvalidParameter under errors.Is.
type ParameterError struct {
	// Field is the parameter name as exposed to callers (e.g. "baseline_rate").
	Field string

	// Value is the rejected value.
	Value float64

	// Reason is a human-readable explanation suitable for display.
	Reason string
}

// Error implements error.
func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Reason, e.Value)
}

// Is reports whether target is ErrInvalidParameter.
func (e *ParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// domainErrorf wraps ErrArithmeticDomain with context.
func domainErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrArithmeticDomain, fmt.Sprintf(format, args...))
}
