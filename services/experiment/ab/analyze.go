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
	"fmt"
	"math"
	"strings"
)

// -----------------------------------------------------------------------------
// Observations
// -----------------------------------------------------------------------------

// Observations is an ordered sequence of Bernoulli outcomes for one arm.
// Every element must be 0 or 1.
type Observations []uint8

// Validate checks that every element is 0 or 1.
func (o Observations) Validate() error {
	for i, v := range o {
		if v > 1 {
			return elementError(i, float64(v))
		}
	}
	return nil
}

func elementError(i int, v float64) error {
	return &ParameterError{
		Field:  "observations",
		Value:  v,
		Reason: fmt.Sprintf("element %d must be 0 or 1", i),
	}
}

// ObservationsFromInts converts decoded integers, such as a JSON or YAML
// array, into Observations. Any value other than 0 or 1 is rejected.
func ObservationsFromInts(values []int) (Observations, error) {
	out := make(Observations, len(values))
	for i, v := range values {
		if v != 0 && v != 1 {
			return nil, elementError(i, float64(v))
		}
		out[i] = uint8(v)
	}
	return out, nil
}

// Successes returns the number of 1s.
func (o Observations) Successes() int {
	n := 0
	for _, v := range o {
		n += int(v)
	}
	return n
}

// Rate returns the success fraction, or 0 for an empty sequence.
func (o Observations) Rate() float64 {
	if len(o) == 0 {
		return 0
	}
	return float64(o.Successes()) / float64(len(o))
}

// -----------------------------------------------------------------------------
// Outcome Types
// -----------------------------------------------------------------------------

// Conclusion is the categorical verdict of an analysis.
type Conclusion string

const (
	// ConclusionInconclusive means the difference was not significant.
	ConclusionInconclusive Conclusion = "inconclusive"

	// ConclusionVariantWins means the variant rate is significantly higher.
	ConclusionVariantWins Conclusion = "variant outperformed control"

	// ConclusionControlWins means the control rate is significantly higher.
	ConclusionControlWins Conclusion = "control outperformed variant"
)

// DegenerateFlags tags numeric conditions under which part of the record is
// defined by convention rather than computed.
type DegenerateFlags uint8

const (
	// DegenerateZeroVariance: pooled rate is 0 or 1, so the standard error
	// is zero. ZScore is 0, PValue is 1 and the result is not significant.
	DegenerateZeroVariance DegenerateFlags = 1 << iota

	// DegenerateZeroBaseline: control rate is 0, so relative improvement is
	// undefined. RelativeImprovement is reported as 0.
	DegenerateZeroBaseline
)

// Has reports whether f contains flag.
func (f DegenerateFlags) Has(flag DegenerateFlags) bool {
	return f&flag != 0
}

// String returns a comma-separated list of set flags, or "none".
func (f DegenerateFlags) String() string {
	var parts []string
	if f.Has(DegenerateZeroVariance) {
		parts = append(parts, "zero_variance")
	}
	if f.Has(DegenerateZeroBaseline) {
		parts = append(parts, "zero_baseline")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// MarshalText encodes the flags as their String form.
func (f DegenerateFlags) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText decodes the String form.
func (f *DegenerateFlags) UnmarshalText(text []byte) error {
	*f = 0
	for _, part := range strings.Split(string(text), ",") {
		switch part {
		case "zero_variance":
			*f |= DegenerateZeroVariance
		case "zero_baseline":
			*f |= DegenerateZeroBaseline
		case "none", "":
		default:
			return fmt.Errorf("unknown degenerate flag %q", part)
		}
	}
	return nil
}

// Interval is a [Low, High] confidence interval.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Contains returns true if v lies within the interval.
func (i Interval) Contains(v float64) bool {
	return v >= i.Low && v <= i.High
}

// Width returns High − Low.
func (i Interval) Width() float64 {
	return i.High - i.Low
}

// OutOfRange reports whether the interval extends past [0,1]. The Wald form
// does this for rates near the boundaries; the bounds are not clamped.
func (i Interval) OutOfRange() bool {
	return i.Low < 0 || i.High > 1
}

// ArmIntervals holds one interval per arm.
type ArmIntervals struct {
	Control Interval `json:"control"`
	Variant Interval `json:"variant"`
}

// OutcomeRecord is the result of analyzing one control/variant pair.
type OutcomeRecord struct {
	// ControlRate is the control success fraction.
	ControlRate float64 `json:"control_rate"`

	// VariantRate is the variant success fraction.
	VariantRate float64 `json:"variant_rate"`

	// RelativeImprovement is (VariantRate−ControlRate)/ControlRate.
	// Zero when DegenerateZeroBaseline is set.
	RelativeImprovement float64 `json:"relative_improvement"`

	// ZScore is the pooled two-proportion test statistic.
	ZScore float64 `json:"z_score"`

	// PValue is the two-sided p-value.
	PValue float64 `json:"p_value"`

	// Significant is true if PValue < 1 − Confidence.
	Significant bool `json:"significant"`

	// Confidence is the level used for the test and the intervals.
	Confidence float64 `json:"confidence"`

	// ConfidenceIntervals are per-arm Wald intervals.
	ConfidenceIntervals ArmIntervals `json:"confidence_intervals"`

	// Conclusion is the categorical verdict.
	Conclusion Conclusion `json:"conclusion"`

	// Degenerate lists conventions applied to degenerate inputs.
	Degenerate DegenerateFlags `json:"degenerate"`

	// ControlSize and VariantSize are the sequence lengths.
	ControlSize int `json:"control_size"`
	VariantSize int `json:"variant_size"`
}

// -----------------------------------------------------------------------------
// Two-Proportion z-Test
// -----------------------------------------------------------------------------

// Analyze runs a pooled two-proportion z-test on two observation sequences.
//
// Description:
//
//	Tests the null hypothesis that both arms share one success rate:
//
//	    p̂  = (Σcontrol + Σvariant) / (n1 + n2)
//	    SE = sqrt(p̂·(1−p̂)·(1/n1 + 1/n2))
//	    z  = (variantRate − controlRate) / SE
//	    p  = 2·(1 − Φ(|z|))
//
//	Per-arm intervals use the unpooled Wald form
//	rate ± Φ⁻¹(1−(1−confidence)/2)·sqrt(rate·(1−rate)/n).
//
// Inputs:
//   - control: Control arm outcomes. Must be non-empty.
//   - variant: Variant arm outcomes. Must be non-empty.
//   - confidence: Confidence level in (0,1).
//
// Outputs:
//   - *OutcomeRecord: The result. Never contains NaN or Inf.
//   - error: ErrDegenerateInput for an empty arm, ErrInvalidParameter for a
//     non-binary element or a confidence outside (0,1).
//
// Thread Safety: This function is stateless and safe for concurrent use.
func Analyze(control, variant Observations, confidence float64) (*OutcomeRecord, error) {
	if len(control) == 0 || len(variant) == 0 {
		return nil, fmt.Errorf("%w: control has %d observations, variant has %d",
			ErrDegenerateInput, len(control), len(variant))
	}
	if err := checkConfidence(confidence); err != nil {
		return nil, err
	}
	if err := control.Validate(); err != nil {
		return nil, err
	}
	if err := variant.Validate(); err != nil {
		return nil, err
	}

	zCrit, err := twoSidedCritical(confidence)
	if err != nil {
		return nil, err
	}
	return outcome(control.Successes(), len(control), variant.Successes(), len(variant), confidence, zCrit), nil
}

func checkConfidence(confidence float64) error {
	if math.IsNaN(confidence) || confidence <= 0 || confidence >= 1 {
		return &ParameterError{
			Field:  "confidence",
			Value:  confidence,
			Reason: "confidence must be strictly between 0 and 1",
		}
	}
	return nil
}

// outcome builds the record for s1 successes in n1 control observations and
// s2 in n2 variant observations. n1 and n2 must be positive and zCrit must be
// the two-sided critical value for confidence.
func outcome(s1, n1, s2, n2 int, confidence, zCrit float64) *OutcomeRecord {
	f1 := float64(n1)
	f2 := float64(n2)
	controlRate := float64(s1) / f1
	variantRate := float64(s2) / f2

	record := &OutcomeRecord{
		ControlRate: controlRate,
		VariantRate: variantRate,
		Confidence:  confidence,
		ControlSize: n1,
		VariantSize: n2,
		ConfidenceIntervals: ArmIntervals{
			Control: waldInterval(controlRate, f1, zCrit),
			Variant: waldInterval(variantRate, f2, zCrit),
		},
	}

	if controlRate == 0 {
		record.Degenerate |= DegenerateZeroBaseline
	} else {
		record.RelativeImprovement = (variantRate - controlRate) / controlRate
	}

	pooled := float64(s1+s2) / (f1 + f2)
	se := math.Sqrt(pooled * (1 - pooled) * (1/f1 + 1/f2))
	if se == 0 {
		record.Degenerate |= DegenerateZeroVariance
		record.PValue = 1
	} else {
		record.ZScore = (variantRate - controlRate) / se
		record.PValue = twoSidedPValue(record.ZScore)
	}

	record.Significant = record.PValue < 1-confidence
	record.Conclusion = conclude(record.Significant, controlRate, variantRate)
	return record
}

// waldInterval returns rate ± z·sqrt(rate·(1−rate)/n).
func waldInterval(rate, n, z float64) Interval {
	margin := z * math.Sqrt(rate*(1-rate)/n)
	return Interval{Low: rate - margin, High: rate + margin}
}

func conclude(significant bool, controlRate, variantRate float64) Conclusion {
	switch {
	case !significant:
		return ConclusionInconclusive
	case variantRate > controlRate:
		return ConclusionVariantWins
	default:
		return ConclusionControlWins
	}
}
