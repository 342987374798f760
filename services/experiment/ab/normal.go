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

	"gonum.org/v1/gonum/stat/distuv"
)

// -----------------------------------------------------------------------------
// Standard Normal Primitives
// -----------------------------------------------------------------------------

// NormalCDF returns Φ(x), the standard normal cumulative distribution.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func NormalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// NormalQuantile returns Φ⁻¹(p), the standard normal inverse CDF.
//
// Description:
//
//	Only the open interval (0,1) has a finite quantile. Probabilities at or
//	beyond the endpoints, and NaN, are rejected rather than mapped to ±Inf.
//
// Inputs:
//   - p: Probability in (0,1).
//
// Outputs:
//   - float64: The z value with Φ(z) = p.
//   - error: ErrArithmeticDomain if p is outside (0,1).
//
// Thread Safety: This function is stateless and safe for concurrent use.
func NormalQuantile(p float64) (float64, error) {
	if math.IsNaN(p) || p <= 0 || p >= 1 {
		return 0, domainErrorf("normal quantile undefined for p=%v", p)
	}
	return distuv.UnitNormal.Quantile(p), nil
}

// twoSidedCritical returns Φ⁻¹(1 − (1−level)/2).
func twoSidedCritical(level float64) (float64, error) {
	return NormalQuantile(1 - (1-level)/2)
}

// twoSidedPValue returns 2·(1 − Φ(|z|)).
//
// The upper tail is evaluated as Φ(−|z|), which is the same quantity without
// the cancellation error of 1 − Φ for large |z|.
func twoSidedPValue(z float64) float64 {
	p := 2 * NormalCDF(-math.Abs(z))
	return math.Min(1, math.Max(0, p))
}
