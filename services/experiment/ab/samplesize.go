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
	"math"
)

// -----------------------------------------------------------------------------
// Power Analysis
// -----------------------------------------------------------------------------

// maxSampleSize bounds PerArm so the float-to-int conversion stays defined.
const maxSampleSize = 1 << 53

// SampleSizePlan holds the result of a sample size calculation along with
// the intermediate quantities that produced it.
type SampleSizePlan struct {
	// PerArm is the required number of observations in each arm.
	PerArm int `json:"per_arm"`

	// Total is PerArm for both arms combined.
	Total int `json:"total"`

	// BaselineRate is p1.
	BaselineRate float64 `json:"baseline_rate"`

	// TargetRate is p2 = p1·(1+mde).
	TargetRate float64 `json:"target_rate"`

	// PooledRate is (p1+p2)/2.
	PooledRate float64 `json:"pooled_rate"`

	// ZAlpha is the two-sided critical value Φ⁻¹(1−α/2).
	ZAlpha float64 `json:"z_alpha"`

	// ZBeta is Φ⁻¹(power).
	ZBeta float64 `json:"z_beta"`

	// Parameters echoes the inputs.
	Parameters Parameters `json:"parameters"`
}

// PlanSampleSize calculates the per-arm sample size for a two-proportion test.
//
// Description:
//
//	With α = 1 − confidence, z_α = Φ⁻¹(1−α/2), z_β = Φ⁻¹(power),
//	p2 = p1·(1+mde) and p̄ = (p1+p2)/2:
//
//	    n = ceil( 2·p̄·(1−p̄)·(z_α+z_β)² / (p2−p1)² )
//
//	A non-positive effect and a target rate at or above 1 are arithmetic
//	domain errors and are checked first. Remaining range violations are
//	reported as ErrInvalidParameter.
//
// Inputs:
//   - p: Experiment parameters.
//
// Outputs:
//   - *SampleSizePlan: The plan. PerArm is always >= 1.
//   - error: ErrArithmeticDomain or ErrInvalidParameter.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func PlanSampleSize(p Parameters) (*SampleSizePlan, error) {
	p1 := p.BaselineRate
	mde := p.MinimumDetectableEffect

	if math.IsNaN(mde) || mde <= 0 {
		return nil, domainErrorf("minimum detectable effect must be positive, got %v", mde)
	}
	p2 := p1 * (1 + mde)
	if math.IsNaN(p2) || p2 >= 1 {
		return nil, domainErrorf("target rate %v = %v·(1+%v) must be below 1", p2, p1, mde)
	}

	if err := ValidateParameters(p); err != nil {
		return nil, err
	}

	alpha := 1 - p.ConfidenceLevel
	zAlpha, err := NormalQuantile(1 - alpha/2)
	if err != nil {
		return nil, err
	}
	zBeta, err := NormalQuantile(p.StatisticalPower)
	if err != nil {
		return nil, err
	}

	pBar := (p1 + p2) / 2
	delta := p2 - p1

	raw := 2 * pBar * (1 - pBar) * math.Pow(zAlpha+zBeta, 2) / (delta * delta)
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw > maxSampleSize {
		return nil, domainErrorf("sample size not representable for %+v", p)
	}

	n := int(math.Ceil(raw))
	if n < 1 {
		n = 1
	}

	return &SampleSizePlan{
		PerArm:       n,
		Total:        2 * n,
		BaselineRate: p1,
		TargetRate:   p2,
		PooledRate:   pBar,
		ZAlpha:       zAlpha,
		ZBeta:        zBeta,
		Parameters:   p,
	}, nil
}

// ComputeSampleSize returns only the per-arm size from PlanSampleSize.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func ComputeSampleSize(p Parameters) (int, error) {
	plan, err := PlanSampleSize(p)
	if err != nil {
		return 0, err
	}
	return plan.PerArm, nil
}
