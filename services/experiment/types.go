// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package experiment

import (
	"github.com/AleutianAI/abstat/services/experiment/ab"
	"github.com/AleutianAI/abstat/services/experiment/presets"
	"github.com/AleutianAI/abstat/services/experiment/simulate"
)

// =============================================================================
// Requests
// =============================================================================

// ParametersRequest is the body of POST /validate and POST /sample-size.
//
// When Preset is set, the named preset's parameters are used and the inline
// fields are ignored.
type ParametersRequest struct {
	// Preset optionally names a preset from the registry.
	Preset string `json:"preset,omitempty" binding:"omitempty,max=128"`

	ab.Parameters
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	// Control is the control arm, one 0/1 outcome per unit.
	Control []int `json:"control" binding:"required"`

	// Variant is the variant arm, one 0/1 outcome per unit.
	Variant []int `json:"variant" binding:"required"`

	// Confidence is the test confidence level. Zero means DefaultConfidence.
	Confidence float64 `json:"confidence,omitempty"`
}

// SequentialRequest is the body of POST /sequential.
type SequentialRequest struct {
	AnalyzeRequest

	// CheckpointSize is the number of observations per arm added between
	// looks. Must be positive.
	CheckpointSize int `json:"checkpoint_size"`
}

// SimulateRequest is the body of POST /simulate.
type SimulateRequest struct {
	ParametersRequest

	// Seed makes the run reproducible.
	Seed uint64 `json:"seed"`

	// TrueLift overrides the lift the variant is drawn with. When omitted the
	// variant is drawn at the minimum detectable effect.
	TrueLift *float64 `json:"true_lift,omitempty"`

	// CheckpointSize is the sequential step. Zero picks a default.
	CheckpointSize int `json:"checkpoint_size,omitempty" binding:"gte=0"`

	// Replicates additionally runs that many independent trials to measure
	// how often a peeking analyst would stop on a significant result.
	Replicates int `json:"replicates,omitempty" binding:"gte=0"`
}

// =============================================================================
// Responses
// =============================================================================

// ValidateResponse is returned by POST /validate.
type ValidateResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
	Field  string `json:"field,omitempty"`
}

// SequentialResponse is returned by POST /sequential.
type SequentialResponse struct {
	CheckpointSize   int             `json:"checkpoint_size"`
	Checkpoints      []ab.Checkpoint `json:"checkpoints"`
	FirstSignificant *ab.Checkpoint  `json:"first_significant,omitempty"`
}

// SimulateResponse is returned by POST /simulate.
type SimulateResponse struct {
	Seed       uint64                     `json:"seed"`
	Experiment *simulate.ExperimentReport `json:"experiment"`
	Replicates *simulate.ReplicateReport  `json:"replicates,omitempty"`
}

// PresetsResponse is returned by GET /presets.
type PresetsResponse struct {
	Source  string           `json:"source"`
	Presets []presets.Preset `json:"presets"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Presets int    `json:"presets"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}
