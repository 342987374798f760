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

	"github.com/go-playground/validator/v10"
)

// -----------------------------------------------------------------------------
// Experiment Parameters
// -----------------------------------------------------------------------------

// Parameters describes a planned experiment.
//
// Rates are bounded exclusively by (0,1). Confidence and power accept the
// conventional floor of 0.8 and exclude 1. Field order is the order in which
// checks run; validation reports only the first failure.
type Parameters struct {
	// BaselineRate is the control conversion rate, in (0,1).
	BaselineRate float64 `json:"baseline_rate" yaml:"baseline_rate" validate:"gt=0,lt=1"`

	// MinimumDetectableEffect is the relative lift to detect, in (0,1).
	// 0.05 means a 5% relative increase over BaselineRate.
	MinimumDetectableEffect float64 `json:"minimum_detectable_effect" yaml:"minimum_detectable_effect" validate:"gt=0,lt=1"`

	// ConfidenceLevel is 1 − α, in [0.8,1).
	ConfidenceLevel float64 `json:"confidence_level" yaml:"confidence_level" validate:"gte=0.8,lt=1"`

	// StatisticalPower is 1 − β, in [0.8,1).
	StatisticalPower float64 `json:"statistical_power" yaml:"statistical_power" validate:"gte=0.8,lt=1"`
}

// MinLevel is the inclusive floor for ConfidenceLevel and StatisticalPower.
// It must agree with the gte tags on Parameters.
const MinLevel = 0.8

// ValidLevel reports whether v is an acceptable confidence level or power,
// that is v in [MinLevel,1).
func ValidLevel(v float64) bool {
	return v >= MinLevel && v < 1
}

// paramValidate is shared; validator.Validate caches struct metadata and is
// safe for concurrent use.
var paramValidate = validator.New(validator.WithRequiredStructEnabled())

// fieldRules maps struct fields to their caller-facing name and reason.
var fieldRules = map[string]struct {
	name   string
	reason string
}{
	"BaselineRate":            {"baseline_rate", "baseline rate must be strictly between 0 and 1"},
	"MinimumDetectableEffect": {"minimum_detectable_effect", "minimum detectable effect must be strictly between 0 and 1"},
	"ConfidenceLevel":         {"confidence_level", "confidence level must be at least 0.8 and below 1"},
	"StatisticalPower":        {"statistical_power", "statistical power must be at least 0.8 and below 1"},
}

// ValidateParameters checks p against the documented bounds.
//
// Description:
//
//	Checks run in a fixed order: baseline rate, minimum detectable effect,
//	confidence level, statistical power. The first failing check is
//	returned; later fields are not reported. NaN fails every check.
//
// Inputs:
//   - p: The parameters to check.
//
// Outputs:
//   - error: nil if all checks pass, otherwise a *ParameterError that
//     matches ErrInvalidParameter.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func ValidateParameters(p Parameters) error {
	err := paramValidate.Struct(p)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}

	first := verrs[0]
	rule, ok := fieldRules[first.StructField()]
	if !ok {
		return fmt.Errorf("%w: %s failed %s", ErrInvalidParameter, first.StructField(), first.Tag())
	}
	value, _ := first.Value().(float64)
	return &ParameterError{Field: rule.name, Value: value, Reason: rule.reason}
}

// Validate is the positional form of ValidateParameters.
//
// Outputs:
//   - string: The reason for the first failing check, or "".
//   - bool: True if all checks pass.
func Validate(baselineRate, mde, confidence, power float64) (string, bool) {
	err := ValidateParameters(Parameters{
		BaselineRate:            baselineRate,
		MinimumDetectableEffect: mde,
		ConfidenceLevel:         confidence,
		StatisticalPower:        power,
	})
	if err == nil {
		return "", true
	}

	var perr *ParameterError
	if errors.As(err, &perr) {
		return perr.Reason, false
	}
	return err.Error(), false
}
