// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package simulate produces synthetic observation sequences for the ab engine.
//
// Draws come from an injected random source so that every simulation is
// reproducible from its seed. The engine itself never draws random numbers.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/AleutianAI/abstat/services/experiment/ab"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrInvalidRate is returned for a success rate outside [0,1].
	ErrInvalidRate = errors.New("rate must be within [0,1]")

	// ErrInvalidLength is returned for a negative sequence length.
	ErrInvalidLength = errors.New("length must be non-negative")
)

// Generator draws Bernoulli observation sequences.
//
// Thread Safety: Not safe for concurrent use. Give each goroutine its own
// Generator.
type Generator struct {
	src rand.Source
}

// NewGenerator creates a Generator seeded deterministically from seed.
func NewGenerator(seed uint64) *Generator {
	return NewGeneratorFromSource(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NewGeneratorFromSource creates a Generator backed by src.
func NewGeneratorFromSource(src rand.Source) *Generator {
	return &Generator{src: src}
}

// Generate returns n independent draws with success probability rate.
//
// Inputs:
//   - rate: Success probability in [0,1].
//   - n: Sequence length. Zero yields an empty, non-nil sequence.
//
// Outputs:
//   - ab.Observations: The draws.
//   - error: ErrInvalidRate or ErrInvalidLength.
func (g *Generator) Generate(rate float64, n int) (ab.Observations, error) {
	if math.IsNaN(rate) || rate < 0 || rate > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidRate, rate)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLength, n)
	}

	dist := distuv.Bernoulli{P: rate, Src: g.src}
	out := make(ab.Observations, n)
	for i := range out {
		if dist.Rand() == 1 {
			out[i] = 1
		}
	}
	return out, nil
}

// Trial describes one synthetic two-arm experiment.
type Trial struct {
	// BaselineRate is the true control rate.
	BaselineRate float64 `json:"baseline_rate"`

	// TrueLift is the true relative lift of the variant. Zero simulates an
	// A/A test, where every significant result is a false positive.
	TrueLift float64 `json:"true_lift"`

	// SampleSize is the number of observations per arm.
	SampleSize int `json:"sample_size"`
}

// VariantRate returns BaselineRate·(1+TrueLift).
func (t Trial) VariantRate() float64 {
	return t.BaselineRate * (1 + t.TrueLift)
}

// RunTrial draws the control arm at BaselineRate and the variant arm at
// VariantRate, control first. ctx is checked before each arm.
func (g *Generator) RunTrial(ctx context.Context, t Trial) (control, variant ab.Observations, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	control, err = g.Generate(t.BaselineRate, t.SampleSize)
	if err != nil {
		return nil, nil, fmt.Errorf("control arm: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	variant, err = g.Generate(t.VariantRate(), t.SampleSize)
	if err != nil {
		return nil, nil, fmt.Errorf("variant arm: %w", err)
	}
	return control, variant, nil
}
