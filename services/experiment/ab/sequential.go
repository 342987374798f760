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
	"context"
	"fmt"
)

// -----------------------------------------------------------------------------
// Sequential Monitoring
// -----------------------------------------------------------------------------

// Checkpoint is one look at the data during sequential monitoring.
type Checkpoint struct {
	// SampleSize is the prefix length analyzed in each arm.
	SampleSize int `json:"sample_size"`

	// PValue is the two-sided p-value at this look.
	PValue float64 `json:"p_value"`

	// RelativeImprovement is the variant lift over control at this look.
	RelativeImprovement float64 `json:"relative_improvement"`

	// Significant is true if this look alone would have declared a winner.
	Significant bool `json:"significant"`
}

// Monitor analyzes growing prefixes of both sequences.
//
// Description:
//
//	Reports the Analyze result on prefixes of length k, 2k, 3k, … up to
//	min(len(control), len(variant)). A trailing remainder shorter than k is
//	not analyzed. Each look is reported without multiple-testing correction.
//	Success counts accumulate in a single pass, so the cost is linear in the
//	sequence length for any k.
//
// Inputs:
//   - control: Control arm outcomes.
//   - variant: Variant arm outcomes.
//   - checkpointSize: Step k. Must be positive.
//   - confidence: Confidence level in (0,1).
//
// Outputs:
//   - []Checkpoint: One entry per full multiple of k, in increasing order.
//     Empty (not nil) if the shorter sequence has fewer than k elements.
//   - error: ErrInvalidParameter for k <= 0, a confidence outside (0,1) or a
//     non-binary element inside an analyzed prefix.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func Monitor(control, variant Observations, checkpointSize int, confidence float64) ([]Checkpoint, error) {
	return MonitorContext(context.Background(), control, variant, checkpointSize, confidence)
}

// MonitorContext is Monitor with cancellation. It returns ctx.Err() if ctx
// is done before the last look.
func MonitorContext(ctx context.Context, control, variant Observations, checkpointSize int, confidence float64) ([]Checkpoint, error) {
	if checkpointSize <= 0 {
		return nil, &ParameterError{
			Field:  "checkpoint_size",
			Value:  float64(checkpointSize),
			Reason: "checkpoint size must be positive",
		}
	}
	if err := checkConfidence(confidence); err != nil {
		return nil, err
	}
	zCrit, err := twoSidedCritical(confidence)
	if err != nil {
		return nil, err
	}

	looks := min(len(control), len(variant)) / checkpointSize
	checkpoints := make([]Checkpoint, 0, looks)
	end := looks * checkpointSize

	s1, s2 := 0, 0
	for i := 0; i < end; i++ {
		c, v := control[i], variant[i]
		if c > 1 || v > 1 {
			look := (i/checkpointSize + 1) * checkpointSize
			return nil, fmt.Errorf("checkpoint at %d: %w", look, elementError(i, float64(max(c, v))))
		}
		s1 += int(c)
		s2 += int(v)

		size := i + 1
		if size%checkpointSize != 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record := outcome(s1, size, s2, size, confidence, zCrit)
		checkpoints = append(checkpoints, Checkpoint{
			SampleSize:          size,
			PValue:              record.PValue,
			RelativeImprovement: record.RelativeImprovement,
			Significant:         record.Significant,
		})
	}

	return checkpoints, nil
}

// FirstSignificant returns the earliest checkpoint that crossed the
// significance threshold.
func FirstSignificant(checkpoints []Checkpoint) (Checkpoint, bool) {
	for _, cp := range checkpoints {
		if cp.Significant {
			return cp, true
		}
	}
	return Checkpoint{}, false
}
