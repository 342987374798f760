// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package simulate

import (
	"context"
	"fmt"
	"runtime"

	"github.com/AleutianAI/abstat/services/experiment/ab"
	"golang.org/x/sync/errgroup"
)

// -----------------------------------------------------------------------------
// Single Experiment
// -----------------------------------------------------------------------------

// ExperimentConfig configures one simulated experiment.
type ExperimentConfig struct {
	// Parameters size the experiment.
	Parameters ab.Parameters

	// TrueLift overrides the lift used to generate the variant arm. When nil
	// the variant is drawn at exactly the planned minimum detectable effect.
	TrueLift *float64

	// CheckpointSize is the sequential monitoring step. Zero picks
	// PerArm/DefaultCheckpoints (at least 1).
	CheckpointSize int

	// MaxPerArm rejects plans larger than this many observations per arm
	// before anything is drawn. Zero means no limit.
	MaxPerArm int
}

// DefaultCheckpoints is the number of looks used when CheckpointSize is zero.
const DefaultCheckpoints = 20

// ExperimentReport is everything the presentation layer renders for one run.
type ExperimentReport struct {
	Plan           *ab.SampleSizePlan `json:"plan"`
	Trial          Trial              `json:"trial"`
	CheckpointSize int                `json:"checkpoint_size"`
	Outcome        *ab.OutcomeRecord  `json:"outcome"`
	Checkpoints    []ab.Checkpoint    `json:"checkpoints"`
}

// RunExperiment sizes, generates, analyzes and monitors one experiment.
//
// Description:
//
//	Computes the per-arm sample size from cfg.Parameters, draws both arms,
//	runs the final analysis at the planned confidence level and the
//	sequential monitor over the same data.
//
// Outputs:
//   - *ExperimentReport: The full run.
//   - error: ErrInvalidParameter when the plan exceeds cfg.MaxPerArm,
//     ctx.Err() on cancellation, or any error from sizing, generation or
//     analysis.
func (g *Generator) RunExperiment(ctx context.Context, cfg ExperimentConfig) (*ExperimentReport, error) {
	plan, err := ab.PlanSampleSize(cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("plan sample size: %w", err)
	}
	if cfg.MaxPerArm > 0 && plan.PerArm > cfg.MaxPerArm {
		return nil, &ab.ParameterError{
			Field:  "sample_size",
			Value:  float64(plan.PerArm),
			Reason: fmt.Sprintf("planned %d observations per arm exceeds the simulation limit of %d", plan.PerArm, cfg.MaxPerArm),
		}
	}

	lift := cfg.Parameters.MinimumDetectableEffect
	if cfg.TrueLift != nil {
		lift = *cfg.TrueLift
	}
	trial := Trial{
		BaselineRate: cfg.Parameters.BaselineRate,
		TrueLift:     lift,
		SampleSize:   plan.PerArm,
	}

	step := cfg.CheckpointSize
	if step == 0 {
		step = max(1, plan.PerArm/DefaultCheckpoints)
	}

	control, variant, err := g.RunTrial(ctx, trial)
	if err != nil {
		return nil, err
	}

	confidence := cfg.Parameters.ConfidenceLevel
	outcome, err := ab.Analyze(control, variant, confidence)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	checkpoints, err := ab.MonitorContext(ctx, control, variant, step, confidence)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	return &ExperimentReport{
		Plan:           plan,
		Trial:          trial,
		CheckpointSize: step,
		Outcome:        outcome,
		Checkpoints:    checkpoints,
	}, nil
}

// -----------------------------------------------------------------------------
// Replicates
// -----------------------------------------------------------------------------

// ReplicateConfig configures a batch of independent simulated trials.
type ReplicateConfig struct {
	// Trial is run once per replicate.
	Trial Trial

	// Replicates is the number of trials. Must be positive.
	Replicates int

	// CheckpointSize is the sequential monitoring step. Must be positive.
	CheckpointSize int

	// Confidence is the test confidence level.
	Confidence float64

	// Seed is the base seed; replicate i uses Seed+i.
	Seed uint64

	// Parallelism bounds concurrent replicates. Zero means GOMAXPROCS.
	Parallelism int
}

// ReplicateReport summarizes a batch of trials.
//
// With TrueLift of zero, FinalSignificantRate estimates the false-positive
// rate of a single look and PeekingSignificantRate that of stopping at the
// first significant look. The gap is the inflation caused by peeking.
type ReplicateReport struct {
	Replicates             int     `json:"replicates"`
	FinalSignificant       int     `json:"final_significant"`
	PeekingSignificant     int     `json:"peeking_significant"`
	FinalSignificantRate   float64 `json:"final_significant_rate"`
	PeekingSignificantRate float64 `json:"peeking_significant_rate"`

	// MeanStoppingSize is the mean sample size at the first significant look
	// among replicates that had one, or 0.
	MeanStoppingSize float64 `json:"mean_stopping_size"`
}

type replicateResult struct {
	final    bool
	peeked   bool
	stopSize int
}

// RunReplicates runs cfg.Replicates independent trials concurrently.
//
// Description:
//
//	Each replicate has its own Generator seeded with cfg.Seed+i, so the
//	report is identical for a given config regardless of scheduling.
//	Canceling ctx stops scheduling new replicates and returns ctx.Err().
//
// Thread Safety: Safe for concurrent use.
func RunReplicates(ctx context.Context, cfg ReplicateConfig) (*ReplicateReport, error) {
	if cfg.Replicates <= 0 {
		return nil, fmt.Errorf("%w: replicates must be positive, got %d", ab.ErrInvalidParameter, cfg.Replicates)
	}
	if cfg.CheckpointSize <= 0 {
		return nil, fmt.Errorf("%w: checkpoint size must be positive, got %d", ab.ErrInvalidParameter, cfg.CheckpointSize)
	}

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	results := make([]replicateResult, cfg.Replicates)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i := 0; i < cfg.Replicates; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			gen := NewGenerator(cfg.Seed + uint64(i))
			control, variant, err := gen.RunTrial(gctx, cfg.Trial)
			if err != nil {
				return fmt.Errorf("replicate %d: %w", i, err)
			}
			outcome, err := ab.Analyze(control, variant, cfg.Confidence)
			if err != nil {
				return fmt.Errorf("replicate %d: %w", i, err)
			}
			checkpoints, err := ab.MonitorContext(gctx, control, variant, cfg.CheckpointSize, cfg.Confidence)
			if err != nil {
				return fmt.Errorf("replicate %d: %w", i, err)
			}

			res := replicateResult{final: outcome.Significant}
			if cp, ok := ab.FirstSignificant(checkpoints); ok {
				res.peeked = true
				res.stopSize = cp.SampleSize
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &ReplicateReport{Replicates: cfg.Replicates}
	stopTotal := 0
	for _, r := range results {
		if r.final {
			report.FinalSignificant++
		}
		if r.peeked {
			report.PeekingSignificant++
			stopTotal += r.stopSize
		}
	}
	n := float64(cfg.Replicates)
	report.FinalSignificantRate = float64(report.FinalSignificant) / n
	report.PeekingSignificantRate = float64(report.PeekingSignificant) / n
	if report.PeekingSignificant > 0 {
		report.MeanStoppingSize = float64(stopTotal) / float64(report.PeekingSignificant)
	}

	return report, nil
}
