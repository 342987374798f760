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
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// arm builds a sequence with the given number of ones followed by zeros.
func arm(ones, zeros int) Observations {
	out := make(Observations, 0, ones+zeros)
	for i := 0; i < ones; i++ {
		out = append(out, 1)
	}
	for i := 0; i < zeros; i++ {
		out = append(out, 0)
	}
	return out
}

// interleaved spreads successes evenly so every prefix has a similar rate.
func interleaved(n, every int) Observations {
	out := make(Observations, n)
	for i := range out {
		if i%every == 0 {
			out[i] = 1
		}
	}
	return out
}

// erfinvQuantile is an independent Φ⁻¹ used to cross-check the engine.
func erfinvQuantile(p float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*p-1)
}

// -----------------------------------------------------------------------------
// Normal Primitive Tests
// -----------------------------------------------------------------------------

func TestNormalQuantile(t *testing.T) {
	t.Run("known values", func(t *testing.T) {
		z, err := NormalQuantile(0.975)
		require.NoError(t, err)
		assert.InDelta(t, 1.959964, z, 1e-6)

		z, err = NormalQuantile(0.5)
		require.NoError(t, err)
		assert.InDelta(t, 0, z, 1e-12)
	})

	t.Run("round trip with CDF", func(t *testing.T) {
		for _, p := range []float64{0.001, 0.1, 0.3, 0.8, 0.999} {
			z, err := NormalQuantile(p)
			require.NoError(t, err)
			assert.InDelta(t, p, NormalCDF(z), 1e-9, "p=%v", p)
		}
	})

	t.Run("rejects closed endpoints and NaN", func(t *testing.T) {
		for _, p := range []float64{0, 1, -0.5, 1.5, math.NaN()} {
			_, err := NormalQuantile(p)
			assert.ErrorIs(t, err, ErrArithmeticDomain, "p=%v", p)
		}
	})
}

func TestTwoSidedPValue(t *testing.T) {
	assert.Equal(t, 1.0, twoSidedPValue(0))
	assert.InDelta(t, 0.05, twoSidedPValue(1.959964), 1e-6)
	assert.Equal(t, twoSidedPValue(2.5), twoSidedPValue(-2.5))

	p := twoSidedPValue(40)
	assert.False(t, math.IsNaN(p))
	assert.GreaterOrEqual(t, p, 0.0)
}

// -----------------------------------------------------------------------------
// Validation Tests
// -----------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	t.Run("typical parameters pass", func(t *testing.T) {
		reason, ok := Validate(0.1, 0.05, 0.95, 0.8)
		assert.True(t, ok)
		assert.Empty(t, reason)
	})

	t.Run("confidence and power floors are inclusive", func(t *testing.T) {
		_, ok := Validate(0.1, 0.05, 0.8, 0.8)
		assert.True(t, ok)
	})

	t.Run("confidence at upper bound fails", func(t *testing.T) {
		reason, ok := Validate(0.1, 0.05, 1.0, 0.8)
		assert.False(t, ok)
		assert.Equal(t, "confidence level must be at least 0.8 and below 1", reason)
	})

	t.Run("first failure wins", func(t *testing.T) {
		err := ValidateParameters(Parameters{
			BaselineRate:            0,
			MinimumDetectableEffect: 2,
			ConfidenceLevel:         0.5,
			StatisticalPower:        0.5,
		})
		var perr *ParameterError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "baseline_rate", perr.Field)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	cases := []struct {
		name   string
		params Parameters
		field  string
	}{
		{"baseline zero", Parameters{0, 0.05, 0.95, 0.9}, "baseline_rate"},
		{"baseline one", Parameters{1, 0.05, 0.95, 0.9}, "baseline_rate"},
		{"mde zero", Parameters{0.1, 0, 0.95, 0.9}, "minimum_detectable_effect"},
		{"mde one", Parameters{0.1, 1, 0.95, 0.9}, "minimum_detectable_effect"},
		{"confidence low", Parameters{0.1, 0.05, 0.79, 0.9}, "confidence_level"},
		{"power low", Parameters{0.1, 0.05, 0.95, 0.5}, "statistical_power"},
		{"power high", Parameters{0.1, 0.05, 0.95, 1}, "statistical_power"},
		{"baseline NaN", Parameters{math.NaN(), 0.05, 0.95, 0.9}, "baseline_rate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateParameters(tc.params)
			var perr *ParameterError
			require.True(t, errors.As(err, &perr), "expected ParameterError, got %v", err)
			assert.Equal(t, tc.field, perr.Field)
		})
	}
}

// -----------------------------------------------------------------------------
// Sample Size Tests
// -----------------------------------------------------------------------------

func TestComputeSampleSize_MatchesClosedForm(t *testing.T) {
	for _, p1 := range []float64{0.01, 0.05, 0.1, 0.3, 0.6} {
		for _, mde := range []float64{0.02, 0.1, 0.25, 0.5} {
			for _, conf := range []float64{0.8, 0.9, 0.95, 0.99} {
				for _, power := range []float64{0.8, 0.9, 0.95} {
					params := Parameters{p1, mde, conf, power}
					p2 := p1 * (1 + mde)
					if p2 >= 1 {
						continue
					}

					zA := erfinvQuantile(1 - (1-conf)/2)
					zB := erfinvQuantile(power)
					pBar := (p1 + p2) / 2
					want := math.Ceil(2 * pBar * (1 - pBar) * (zA + zB) * (zA + zB) / ((p2 - p1) * (p2 - p1)))

					got, err := ComputeSampleSize(params)
					require.NoError(t, err, "%+v", params)
					assert.Positive(t, got)
					// Quantile implementations may differ in the last ulp, which
					// can move the ceiling by one.
					assert.InDelta(t, want, float64(got), 1, "%+v", params)
				}
			}
		}
	}
}

func TestPlanSampleSize(t *testing.T) {
	plan, err := PlanSampleSize(Parameters{0.1, 0.05, 0.95, 0.9})
	require.NoError(t, err)

	assert.InDelta(t, 0.105, plan.TargetRate, 1e-12)
	assert.InDelta(t, 0.1025, plan.PooledRate, 1e-12)
	assert.InDelta(t, 1.959964, plan.ZAlpha, 1e-6)
	assert.InDelta(t, 1.281552, plan.ZBeta, 1e-6)
	assert.Equal(t, 2*plan.PerArm, plan.Total)
}

func TestComputeSampleSize_DomainErrors(t *testing.T) {
	t.Run("zero mde", func(t *testing.T) {
		_, err := ComputeSampleSize(Parameters{0.1, 0, 0.95, 0.9})
		assert.ErrorIs(t, err, ErrArithmeticDomain)
	})

	t.Run("negative mde", func(t *testing.T) {
		_, err := ComputeSampleSize(Parameters{0.1, -0.1, 0.95, 0.9})
		assert.ErrorIs(t, err, ErrArithmeticDomain)
	})

	t.Run("target rate reaches one", func(t *testing.T) {
		_, err := ComputeSampleSize(Parameters{0.8, 0.25, 0.95, 0.9})
		assert.ErrorIs(t, err, ErrArithmeticDomain)
	})

	t.Run("target rate above one", func(t *testing.T) {
		_, err := ComputeSampleSize(Parameters{0.9, 0.5, 0.95, 0.9})
		assert.ErrorIs(t, err, ErrArithmeticDomain)
	})

	t.Run("range violation", func(t *testing.T) {
		_, err := ComputeSampleSize(Parameters{0.1, 0.05, 0.5, 0.9})
		assert.ErrorIs(t, err, ErrInvalidParameter)
		assert.NotErrorIs(t, err, ErrArithmeticDomain)
	})
}

// -----------------------------------------------------------------------------
// Analysis Tests
// -----------------------------------------------------------------------------

func TestAnalyze_IdenticalAllZeros(t *testing.T) {
	record, err := Analyze(arm(0, 100), arm(0, 100), 0.95)
	require.NoError(t, err)

	assert.Equal(t, 0.0, record.RelativeImprovement)
	assert.False(t, record.Significant)
	assert.Equal(t, 1.0, record.PValue)
	assert.Equal(t, ConclusionInconclusive, record.Conclusion)
	assert.True(t, record.Degenerate.Has(DegenerateZeroVariance))
	assert.True(t, record.Degenerate.Has(DegenerateZeroBaseline))
}

func TestAnalyze_IdenticalAllOnes(t *testing.T) {
	record, err := Analyze(arm(50, 0), arm(50, 0), 0.95)
	require.NoError(t, err)

	assert.Equal(t, 0.0, record.RelativeImprovement)
	assert.Equal(t, 1.0, record.PValue)
	assert.False(t, record.Significant)
	assert.True(t, record.Degenerate.Has(DegenerateZeroVariance))
	assert.False(t, record.Degenerate.Has(DegenerateZeroBaseline))
}

func TestAnalyze_VariantDominates(t *testing.T) {
	record, err := Analyze(arm(0, 100), arm(100, 0), 0.95)
	require.NoError(t, err)

	assert.True(t, record.Significant)
	assert.Equal(t, ConclusionVariantWins, record.Conclusion)
	assert.Equal(t, 0.0, record.ControlRate)
	assert.Equal(t, 1.0, record.VariantRate)
	// pooled 0.5, SE = sqrt(0.25·0.02), z = 1/SE = sqrt(200)
	assert.InDelta(t, math.Sqrt(200), record.ZScore, 1e-9)
	assert.False(t, math.IsNaN(record.RelativeImprovement))
	assert.True(t, record.Degenerate.Has(DegenerateZeroBaseline))
	assert.False(t, record.Degenerate.Has(DegenerateZeroVariance))
}

func TestAnalyze_ControlDominates(t *testing.T) {
	record, err := Analyze(arm(60, 40), arm(30, 70), 0.95)
	require.NoError(t, err)

	assert.True(t, record.Significant)
	assert.Equal(t, ConclusionControlWins, record.Conclusion)
	assert.InDelta(t, -0.5, record.RelativeImprovement, 1e-12)
	assert.Less(t, record.ZScore, 0.0)
}

func TestAnalyze_MatchesHandComputation(t *testing.T) {
	control := arm(100, 900) // 0.10
	variant := arm(130, 870) // 0.13

	record, err := Analyze(control, variant, 0.95)
	require.NoError(t, err)

	pooled := 230.0 / 2000.0
	se := math.Sqrt(pooled * (1 - pooled) * (2.0 / 1000.0))
	z := 0.03 / se
	wantP := 2 * (1 - 0.5*(1+math.Erf(z/math.Sqrt2)))

	assert.InDelta(t, z, record.ZScore, 1e-9)
	assert.InDelta(t, wantP, record.PValue, 1e-9)
	assert.InDelta(t, 0.3, record.RelativeImprovement, 1e-9)
	assert.Equal(t, record.PValue < 0.05, record.Significant)

	zc := erfinvQuantile(0.975)
	margin := zc * math.Sqrt(0.1*0.9/1000)
	assert.InDelta(t, 0.1-margin, record.ConfidenceIntervals.Control.Low, 1e-9)
	assert.InDelta(t, 0.1+margin, record.ConfidenceIntervals.Control.High, 1e-9)
}

func TestAnalyze_IntervalsBracketEstimates(t *testing.T) {
	record, err := Analyze(arm(30, 70), arm(45, 55), 0.9)
	require.NoError(t, err)

	assert.True(t, record.ConfidenceIntervals.Control.Contains(record.ControlRate))
	assert.True(t, record.ConfidenceIntervals.Variant.Contains(record.VariantRate))
	assert.False(t, record.ConfidenceIntervals.Control.OutOfRange())
	assert.Positive(t, record.ConfidenceIntervals.Variant.Width())
}

func TestAnalyze_WaldIntervalNotClamped(t *testing.T) {
	record, err := Analyze(arm(1, 19), arm(2, 18), 0.95)
	require.NoError(t, err)

	assert.True(t, record.ConfidenceIntervals.Control.OutOfRange(),
		"Wald interval near zero should extend below 0")
	assert.Less(t, record.ConfidenceIntervals.Control.Low, 0.0)
}

func TestAnalyze_Errors(t *testing.T) {
	t.Run("empty control", func(t *testing.T) {
		_, err := Analyze(Observations{}, arm(1, 1), 0.95)
		assert.ErrorIs(t, err, ErrDegenerateInput)
	})

	t.Run("nil variant", func(t *testing.T) {
		_, err := Analyze(arm(1, 1), nil, 0.95)
		assert.ErrorIs(t, err, ErrDegenerateInput)
	})

	t.Run("non-binary element", func(t *testing.T) {
		_, err := Analyze(Observations{0, 1, 2}, arm(1, 1), 0.95)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("confidence out of range", func(t *testing.T) {
		for _, c := range []float64{0, 1, -1, math.NaN()} {
			_, err := Analyze(arm(1, 1), arm(1, 1), c)
			assert.ErrorIs(t, err, ErrInvalidParameter, "confidence=%v", c)
		}
	})
}

func TestAnalyze_Idempotent(t *testing.T) {
	control := interleaved(500, 7)
	variant := interleaved(500, 5)

	a, err := Analyze(control, variant, 0.95)
	require.NoError(t, err)
	b, err := Analyze(control, variant, 0.95)
	require.NoError(t, err)

	assert.Equal(t, math.Float64bits(a.PValue), math.Float64bits(b.PValue))
	assert.Equal(t, math.Float64bits(a.ZScore), math.Float64bits(b.ZScore))
	assert.Equal(t, *a, *b)
}

func TestAnalyze_ConcurrentCalls(t *testing.T) {
	control := interleaved(400, 9)
	variant := interleaved(400, 6)
	want, err := Analyze(control, variant, 0.95)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Analyze(control, variant, 0.95)
			if assert.NoError(t, err) {
				assert.Equal(t, *want, *got)
			}
		}()
	}
	wg.Wait()
}

func TestOutcomeRecord_JSON(t *testing.T) {
	record, err := Analyze(arm(0, 10), arm(0, 10), 0.95)
	require.NoError(t, err)

	data, err := json.Marshal(record)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"degenerate":"zero_variance,zero_baseline"`)

	var decoded OutcomeRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, record.Degenerate, decoded.Degenerate)
}

// -----------------------------------------------------------------------------
// Sequential Monitor Tests
// -----------------------------------------------------------------------------

func TestMonitor_CheckpointCount(t *testing.T) {
	control := interleaved(1000, 10)
	variant := interleaved(1000, 8)

	for _, k := range []int{1, 7, 100, 333, 1000, 1001} {
		cps, err := Monitor(control, variant, k, 0.95)
		require.NoError(t, err)
		require.Len(t, cps, 1000/k, "k=%d", k)

		for i, cp := range cps {
			assert.Equal(t, (i+1)*k, cp.SampleSize)
			if i > 0 {
				assert.Greater(t, cp.SampleSize, cps[i-1].SampleSize)
			}
		}
	}
}

func TestMonitor_UsesShorterArm(t *testing.T) {
	cps, err := Monitor(interleaved(95, 3), interleaved(250, 3), 10, 0.95)
	require.NoError(t, err)
	require.Len(t, cps, 9)
	assert.Equal(t, 90, cps[len(cps)-1].SampleSize)
}

func TestMonitor_MatchesAnalyzeOnPrefix(t *testing.T) {
	control := interleaved(300, 10)
	variant := interleaved(300, 4)

	cps, err := Monitor(control, variant, 50, 0.95)
	require.NoError(t, err)

	for _, cp := range cps {
		record, err := Analyze(control[:cp.SampleSize], variant[:cp.SampleSize], 0.95)
		require.NoError(t, err)
		assert.Equal(t, record.PValue, cp.PValue)
		assert.Equal(t, record.RelativeImprovement, cp.RelativeImprovement)
		assert.Equal(t, record.Significant, cp.Significant)
	}
}

func TestMonitor_EveryObservationOnLongSequence(t *testing.T) {
	const n = 200_000
	control := interleaved(n, 10)
	variant := interleaved(n, 9)

	cps, err := Monitor(control, variant, 1, 0.95)
	require.NoError(t, err)
	require.Len(t, cps, n)

	full, err := Analyze(control, variant, 0.95)
	require.NoError(t, err)
	last := cps[n-1]
	assert.Equal(t, n, last.SampleSize)
	assert.Equal(t, full.PValue, last.PValue)
	assert.Equal(t, full.RelativeImprovement, last.RelativeImprovement)
	assert.Equal(t, full.Significant, last.Significant)
}

func TestMonitorContext_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := MonitorContext(ctx, interleaved(100, 5), interleaved(100, 5), 10, 0.95)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMonitor_Errors(t *testing.T) {
	t.Run("non-positive checkpoint", func(t *testing.T) {
		for _, k := range []int{0, -5} {
			_, err := Monitor(arm(1, 1), arm(1, 1), k, 0.95)
			assert.ErrorIs(t, err, ErrInvalidParameter, "k=%d", k)
		}
	})

	t.Run("bad element inside prefix", func(t *testing.T) {
		_, err := Monitor(Observations{0, 1, 3, 0}, arm(2, 2), 2, 0.95)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	})

	t.Run("bad confidence", func(t *testing.T) {
		_, err := Monitor(arm(5, 5), arm(5, 5), 5, 1)
		var perr *ParameterError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "confidence", perr.Field)
	})

	t.Run("bad element past the last look is not analyzed", func(t *testing.T) {
		cps, err := Monitor(Observations{0, 1, 1, 0, 7}, arm(2, 3), 2, 0.95)
		require.NoError(t, err)
		assert.Len(t, cps, 2)
	})

	t.Run("sequences shorter than k", func(t *testing.T) {
		cps, err := Monitor(arm(1, 1), arm(1, 1), 5, 0.95)
		require.NoError(t, err)
		assert.NotNil(t, cps)
		assert.Empty(t, cps)
	})
}

func TestFirstSignificant(t *testing.T) {
	cps := []Checkpoint{
		{SampleSize: 10, PValue: 0.4},
		{SampleSize: 20, PValue: 0.03, Significant: true},
		{SampleSize: 30, PValue: 0.01, Significant: true},
	}

	cp, ok := FirstSignificant(cps)
	require.True(t, ok)
	assert.Equal(t, 20, cp.SampleSize)

	_, ok = FirstSignificant(cps[:1])
	assert.False(t, ok)
}

func TestObservationsFromInts(t *testing.T) {
	obs, err := ObservationsFromInts([]int{0, 1, 1, 0})
	require.NoError(t, err)
	assert.Equal(t, Observations{0, 1, 1, 0}, obs)
	assert.Equal(t, 2, obs.Successes())

	for _, bad := range [][]int{{0, 2}, {-1}, {1, 0, 256}} {
		_, err := ObservationsFromInts(bad)
		var perr *ParameterError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "observations", perr.Field)
		assert.ErrorIs(t, err, ErrInvalidParameter)
	}

	empty, err := ObservationsFromInts(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
