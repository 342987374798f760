// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ab provides the statistical engine for two-arm conversion experiments.
//
// # Architecture
//
// The engine is four stateless components layered on the standard normal
// distribution:
//
//	┌─────────────────────────────────────────────────────────────────────────┐
//	│                           AB ENGINE                                      │
//	├─────────────────────────────────────────────────────────────────────────┤
//	│                                                                          │
//	│   Parameters ──► Validate ──► ComputeSampleSize ──► n per arm            │
//	│                                                                          │
//	│   control ─┐                                                             │
//	│            ├──► Analyze ──► OutcomeRecord                                │
//	│   variant ─┘       ▲                                                     │
//	│                    │                                                     │
//	│               Monitor (prefixes k, 2k, 3k, …) ──► []Checkpoint           │
//	│                                                                          │
//	│   NormalCDF / NormalQuantile (gonum distuv.UnitNormal)                   │
//	│                                                                          │
//	└─────────────────────────────────────────────────────────────────────────┘
//
// # Components
//
//   - Validate: range checks on experiment parameters, first failure wins
//   - ComputeSampleSize: per-arm size for a two-proportion z-test
//   - Analyze: pooled two-proportion z-test with per-arm Wald intervals
//   - Monitor: repeated Analyze over growing prefixes ("peeking")
//
// # Usage
//
//	params := ab.Parameters{
//	    BaselineRate:            0.10,
//	    MinimumDetectableEffect: 0.05,
//	    ConfidenceLevel:         0.95,
//	    StatisticalPower:        0.80,
//	}
//	n, err := ab.ComputeSampleSize(params)
//
//	record, err := ab.Analyze(control, variant, 0.95)
//	if record.Significant {
//	    fmt.Println(record.Conclusion)
//	}
//
// # Degenerate Inputs
//
// No function in this package returns NaN or Inf. Empty observation
// sequences are rejected with ErrDegenerateInput. A pooled rate of exactly
// 0 or 1 yields a defined record (PValue 1, not significant) tagged with
// DegenerateZeroVariance. A zero control rate tags DegenerateZeroBaseline
// and reports a relative improvement of 0.
//
// # Sequential Checks
//
// Monitor reproduces repeated significance testing as data accumulates.
// Checking after every batch inflates the false-positive rate; the package
// reports each look as-is and applies no correction.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package ab
