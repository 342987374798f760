// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package experiment exposes the ab engine to the CLI and over HTTP.
//
// Service adds tracing, metrics and preset resolution around the pure
// functions in package ab. Handlers map Service results onto the
// /v1/experiments routes.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/abstat/pkg/logging"
	"github.com/AleutianAI/abstat/pkg/telemetry"
	"github.com/AleutianAI/abstat/pkg/validation"
	"github.com/AleutianAI/abstat/services/experiment/ab"
	"github.com/AleutianAI/abstat/services/experiment/presets"
	"github.com/AleutianAI/abstat/services/experiment/simulate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "1.0.0"

// DefaultConfidence is used by Analyze and Sequential when the caller passes 0.
const DefaultConfidence = 0.95

const tracerName = "abstat.experiment"

// ErrTooManyReplicates is returned when a simulation asks for more replicates
// than ServiceConfig.MaxReplicates.
var ErrTooManyReplicates = errors.New("too many replicates")

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Presets resolves preset names. Default: presets.NewRegistry().
	Presets *presets.Registry

	// Logger receives operation logs. Default: logging.Nop().
	Logger *logging.Logger

	// MaxReplicates bounds SimulateInput.Replicates. Default: 10000.
	MaxReplicates int

	// MaxSimulatedPerArm bounds the planned per-arm size of a simulation.
	// Larger plans are rejected with ab.ErrInvalidParameter before any draw.
	// Default: 1000000.
	MaxSimulatedPerArm int

	// MaxReplicateObservations bounds Replicates times the per-arm size.
	// Default: 50000000.
	MaxReplicateObservations int

	// Meter creates the service instruments. Default: otel.Meter.
	Meter metric.Meter
}

// Service runs engine operations with tracing and metrics.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	presets         *presets.Registry
	logger          *logging.Logger
	maxReplicates   int
	maxPerArm       int
	maxReplicateObs int

	operations metric.Int64Counter
	duration   metric.Float64Histogram
	verdicts   metric.Int64Counter
}

// NewService creates a Service.
//
// Outputs:
//   - *Service: Ready to use.
//   - error: Non-nil if an instrument cannot be created.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Presets == nil {
		cfg.Presets = presets.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.MaxReplicates <= 0 {
		cfg.MaxReplicates = 10000
	}
	if cfg.MaxSimulatedPerArm <= 0 {
		cfg.MaxSimulatedPerArm = 1_000_000
	}
	if cfg.MaxReplicateObservations <= 0 {
		cfg.MaxReplicateObservations = 50_000_000
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter(tracerName)
	}

	s := &Service{
		presets:         cfg.Presets,
		logger:          cfg.Logger,
		maxReplicates:   cfg.MaxReplicates,
		maxPerArm:       cfg.MaxSimulatedPerArm,
		maxReplicateObs: cfg.MaxReplicateObservations,
	}

	var err error
	s.operations, err = cfg.Meter.Int64Counter(
		"abstat_operations_total",
		metric.WithDescription("Engine operations by name and result"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create operations counter: %w", err)
	}

	s.duration, err = cfg.Meter.Float64Histogram(
		"abstat_operation_duration_seconds",
		metric.WithDescription("Engine operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	s.verdicts, err = cfg.Meter.Int64Counter(
		"abstat_analysis_verdicts_total",
		metric.WithDescription("Analysis conclusions by verdict"),
		metric.WithUnit("{analysis}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create verdicts counter: %w", err)
	}

	return s, nil
}

// Presets returns the preset registry.
func (s *Service) Presets() *presets.Registry {
	return s.presets
}

// ResolveParameters returns the named preset's parameters, or p when name is
// empty. Names are matched case-insensitively. It does not validate p.
func (s *Service) ResolveParameters(name string, p ab.Parameters) (ab.Parameters, error) {
	if name == "" {
		return p, nil
	}
	name, err := validation.SanitizePresetName(name)
	if err != nil {
		return ab.Parameters{}, err
	}
	preset, err := s.presets.Get(name)
	if err != nil {
		return ab.Parameters{}, err
	}
	return preset.Parameters, nil
}

// Validate checks p.
func (s *Service) Validate(ctx context.Context, p ab.Parameters) error {
	_, span, done := s.begin(ctx, "Service.Validate", parameterAttrs(p)...)
	defer span.End()

	err := ab.ValidateParameters(p)
	done(err)
	return err
}

// SampleSize plans the per-arm sample size for p.
func (s *Service) SampleSize(ctx context.Context, p ab.Parameters) (*ab.SampleSizePlan, error) {
	_, span, done := s.begin(ctx, "Service.SampleSize", parameterAttrs(p)...)
	defer span.End()

	plan, err := ab.PlanSampleSize(p)
	done(err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("plan.per_arm", plan.PerArm))
	s.logger.Debug("sample size planned", "per_arm", plan.PerArm, "target_rate", plan.TargetRate)
	return plan, nil
}

// Analyze runs the two-proportion test. A confidence of 0 means
// DefaultConfidence.
func (s *Service) Analyze(ctx context.Context, control, variant ab.Observations, confidence float64) (*ab.OutcomeRecord, error) {
	if confidence == 0 {
		confidence = DefaultConfidence
	}
	ctx, span, done := s.begin(ctx, "Service.Analyze",
		attribute.Int("control.size", len(control)),
		attribute.Int("variant.size", len(variant)),
		attribute.Float64("confidence", confidence),
	)
	defer span.End()

	record, err := ab.Analyze(control, variant, confidence)
	done(err)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Float64("outcome.p_value", record.PValue),
		attribute.Bool("outcome.significant", record.Significant),
		attribute.String("outcome.degenerate", record.Degenerate.String()),
	)
	s.verdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("conclusion", string(record.Conclusion))))
	return record, nil
}

// Sequential runs the sequential monitor. A confidence of 0 means
// DefaultConfidence.
func (s *Service) Sequential(ctx context.Context, control, variant ab.Observations, checkpointSize int, confidence float64) ([]ab.Checkpoint, error) {
	if confidence == 0 {
		confidence = DefaultConfidence
	}
	ctx, span, done := s.begin(ctx, "Service.Sequential",
		attribute.Int("control.size", len(control)),
		attribute.Int("variant.size", len(variant)),
		attribute.Int("checkpoint_size", checkpointSize),
	)
	defer span.End()

	checkpoints, err := ab.MonitorContext(ctx, control, variant, checkpointSize, confidence)
	done(err)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("checkpoints", len(checkpoints)))
	return checkpoints, nil
}

// SimulateInput configures Simulate.
type SimulateInput struct {
	Parameters     ab.Parameters
	Seed           uint64
	TrueLift       *float64
	CheckpointSize int
	Replicates     int
}

// Simulate runs one seeded experiment and, when Replicates > 0, a batch of
// independent replicates of the same trial.
func (s *Service) Simulate(ctx context.Context, in SimulateInput) (*SimulateResponse, error) {
	ctx, span, done := s.begin(ctx, "Service.Simulate",
		attribute.Int64("seed", int64(in.Seed)),
		attribute.Int("replicates", in.Replicates),
	)
	defer span.End()

	resp, err := s.simulate(ctx, in)
	done(err)
	return resp, err
}

func (s *Service) simulate(ctx context.Context, in SimulateInput) (*SimulateResponse, error) {
	if in.Replicates < 0 {
		return nil, &ab.ParameterError{Field: "replicates", Value: float64(in.Replicates), Reason: "replicates must not be negative"}
	}
	if in.Replicates > s.maxReplicates {
		return nil, fmt.Errorf("%w: %d exceeds limit of %d", ErrTooManyReplicates, in.Replicates, s.maxReplicates)
	}

	report, err := simulate.NewGenerator(in.Seed).RunExperiment(ctx, simulate.ExperimentConfig{
		Parameters:     in.Parameters,
		TrueLift:       in.TrueLift,
		CheckpointSize: in.CheckpointSize,
		MaxPerArm:      s.maxPerArm,
	})
	if err != nil {
		return nil, err
	}

	resp := &SimulateResponse{Seed: in.Seed, Experiment: report}
	if in.Replicates == 0 {
		return resp, nil
	}
	if work := in.Replicates * report.Trial.SampleSize; work > s.maxReplicateObs {
		return nil, fmt.Errorf("%w: %d replicates of %d observations per arm exceeds limit of %d",
			ErrTooManyReplicates, in.Replicates, report.Trial.SampleSize, s.maxReplicateObs)
	}

	resp.Replicates, err = simulate.RunReplicates(ctx, simulate.ReplicateConfig{
		Trial:          report.Trial,
		Replicates:     in.Replicates,
		CheckpointSize: report.CheckpointSize,
		Confidence:     in.Parameters.ConfidenceLevel,
		Seed:           in.Seed + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("replicates: %w", err)
	}
	s.logger.Info("replicates complete",
		"replicates", resp.Replicates.Replicates,
		"final_significant_rate", resp.Replicates.FinalSignificantRate,
		"peeking_significant_rate", resp.Replicates.PeekingSignificantRate)
	return resp, nil
}

// begin starts a span and returns a completion func that records the result
// on the span and the service instruments.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, func(error)) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, op, trace.WithAttributes(attrs...))
	start := time.Now()

	return ctx, span, func(err error) {
		result := resultLabel(err)
		set := metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("result", result),
		)
		s.operations.Add(ctx, 1, set)
		s.duration.Record(ctx, time.Since(start).Seconds(), set)
		if err != nil {
			telemetry.RecordError(span, err, attribute.String("result", result))
		}
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ab.ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, ab.ErrDegenerateInput):
		return "degenerate_input"
	case errors.Is(err, ab.ErrArithmeticDomain):
		return "domain_error"
	default:
		return "error"
	}
}

func parameterAttrs(p ab.Parameters) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64("params.baseline_rate", p.BaselineRate),
		attribute.Float64("params.mde", p.MinimumDetectableEffect),
		attribute.Float64("params.confidence", p.ConfidenceLevel),
		attribute.Float64("params.power", p.StatisticalPower),
	}
}
