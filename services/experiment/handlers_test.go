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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/abstat/services/experiment/ab"
	"github.com/AleutianAI/abstat/services/experiment/presets"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(t *testing.T, cfg RouterConfig) *gin.Engine {
	t.Helper()
	svc, err := NewService(ServiceConfig{})
	require.NoError(t, err)
	return NewRouter(NewHandlers(svc, nil), cfg)
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

var validParams = map[string]any{
	"baseline_rate":             0.1,
	"minimum_detectable_effect": 0.05,
	"confidence_level":          0.95,
	"statistical_power":         0.8,
}

func TestHandlers_HandleHealth(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/experiments/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.Positive(t, resp.Presets)
}

func TestHandlers_RequestID(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/experiments/health", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/v1/experiments/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestHandlers_HandleValidate(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})

	t.Run("valid", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/validate", validParams)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, decode[ValidateResponse](t, w).Valid)
	})

	t.Run("confidence at excluded upper bound", func(t *testing.T) {
		body := map[string]any{
			"baseline_rate":             0.1,
			"minimum_detectable_effect": 0.05,
			"confidence_level":          1.0,
			"statistical_power":         0.8,
		}
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/validate", body)
		require.Equal(t, http.StatusOK, w.Code)

		resp := decode[ValidateResponse](t, w)
		assert.False(t, resp.Valid)
		assert.Equal(t, "confidence_level", resp.Field)
		assert.Equal(t, "confidence level must be at least 0.8 and below 1", resp.Reason)
	})

	t.Run("preset", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/validate", map[string]any{"preset": "signup-form"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, decode[ValidateResponse](t, w).Valid)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/validate", "{not json")
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)
	})
}

func TestHandlers_HandleSampleSize(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})

	t.Run("ok", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/sample-size", validParams)
		require.Equal(t, http.StatusOK, w.Code)

		want, err := ab.ComputeSampleSize(ab.Parameters{
			BaselineRate:            0.1,
			MinimumDetectableEffect: 0.05,
			ConfidenceLevel:         0.95,
			StatisticalPower:        0.8,
		})
		require.NoError(t, err)

		plan := decode[ab.SampleSizePlan](t, w)
		assert.Equal(t, want, plan.PerArm)
		assert.Equal(t, 2*want, plan.Total)
	})

	t.Run("preset", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/sample-size", map[string]any{"preset": "checkout-button"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Positive(t, decode[ab.SampleSizePlan](t, w).PerArm)
	})

	t.Run("zero mde is a domain error", func(t *testing.T) {
		body := map[string]any{
			"baseline_rate":             0.1,
			"minimum_detectable_effect": 0,
			"confidence_level":          0.95,
			"statistical_power":         0.8,
		}
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/sample-size", body)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "DOMAIN_ERROR", decode[ErrorResponse](t, w).Code)
	})

	t.Run("target rate reaches 1", func(t *testing.T) {
		body := map[string]any{
			"baseline_rate":             0.8,
			"minimum_detectable_effect": 0.25,
			"confidence_level":          0.95,
			"statistical_power":         0.8,
		}
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/sample-size", body)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "DOMAIN_ERROR", decode[ErrorResponse](t, w).Code)
	})

	t.Run("out of range", func(t *testing.T) {
		body := map[string]any{
			"baseline_rate":             0.1,
			"minimum_detectable_effect": 0.05,
			"confidence_level":          0.5,
			"statistical_power":         0.8,
		}
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/sample-size", body)
		require.Equal(t, http.StatusBadRequest, w.Code)

		resp := decode[ErrorResponse](t, w)
		assert.Equal(t, "INVALID_PARAMETER", resp.Code)
		assert.Equal(t, "confidence_level", resp.Field)
	})

	t.Run("unknown preset", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/sample-size", map[string]any{"preset": "nope"})
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "PRESET_NOT_FOUND", decode[ErrorResponse](t, w).Code)
	})
}

func TestHandlers_HandleAnalyze(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})

	t.Run("variant outperforms", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/analyze", AnalyzeRequest{
			Control: repeat(0, 100),
			Variant: repeat(1, 100),
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		record := decode[ab.OutcomeRecord](t, w)
		assert.True(t, record.Significant)
		assert.Equal(t, ab.ConclusionVariantWins, record.Conclusion)
		assert.Equal(t, DefaultConfidence, record.Confidence)
	})

	t.Run("all zeros is defined", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/analyze", AnalyzeRequest{
			Control:    repeat(0, 100),
			Variant:    repeat(0, 100),
			Confidence: 0.9,
		})
		require.Equal(t, http.StatusOK, w.Code)

		record := decode[ab.OutcomeRecord](t, w)
		assert.False(t, record.Significant)
		assert.Equal(t, 0.0, record.RelativeImprovement)
		assert.True(t, record.Degenerate.Has(ab.DegenerateZeroVariance))
	})

	t.Run("empty arm", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/analyze", AnalyzeRequest{
			Control: []int{},
			Variant: []int{1, 0},
		})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "DEGENERATE_INPUT", decode[ErrorResponse](t, w).Code)
	})

	t.Run("non-binary element", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/analyze", AnalyzeRequest{
			Control: []int{0, 1, 2},
			Variant: []int{1, 0},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)

		resp := decode[ErrorResponse](t, w)
		assert.Equal(t, "INVALID_PARAMETER", resp.Code)
		assert.Equal(t, "observations", resp.Field)
	})

	t.Run("missing arm", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/analyze", `{"control":[0,1]}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)
	})

	t.Run("confidence out of range", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/analyze", AnalyzeRequest{
			Control:    []int{0, 1},
			Variant:    []int{1, 0},
			Confidence: 1.5,
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_PARAMETER", decode[ErrorResponse](t, w).Code)
	})
}

func TestHandlers_HandleSequential(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})

	control := make([]int, 1000)
	variant := make([]int, 1000)
	for i := range variant {
		if i%4 == 0 {
			variant[i] = 1
		}
		if i%10 == 0 {
			control[i] = 1
		}
	}

	t.Run("ok", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/sequential", SequentialRequest{
			AnalyzeRequest: AnalyzeRequest{Control: control, Variant: variant},
			CheckpointSize: 300,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		resp := decode[SequentialResponse](t, w)
		require.Len(t, resp.Checkpoints, 3)
		for i, cp := range resp.Checkpoints {
			assert.Equal(t, 300*(i+1), cp.SampleSize)
		}
		require.NotNil(t, resp.FirstSignificant)
		assert.True(t, resp.FirstSignificant.Significant)
	})

	t.Run("every observation", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/sequential", SequentialRequest{
			AnalyzeRequest: AnalyzeRequest{Control: control, Variant: variant},
			CheckpointSize: 1,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Len(t, decode[SequentialResponse](t, w).Checkpoints, 1000)
	})

	t.Run("body over size limit", func(t *testing.T) {
		var body strings.Builder
		body.WriteString(`{"checkpoint_size":1,"variant":[1],"control":[`)
		for body.Len() < MaxRequestBytes {
			body.WriteString("0,")
		}
		body.WriteString("0]}")

		w := doJSON(t, router, http.MethodPost, "/v1/experiments/sequential", body.String())
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, "REQUEST_TOO_LARGE", decode[ErrorResponse](t, w).Code)
	})

	t.Run("zero checkpoint size", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/sequential", SequentialRequest{
			AnalyzeRequest: AnalyzeRequest{Control: control, Variant: variant},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)

		resp := decode[ErrorResponse](t, w)
		assert.Equal(t, "INVALID_PARAMETER", resp.Code)
		assert.Equal(t, "checkpoint_size", resp.Field)
	})
}

func TestHandlers_HandleSimulate(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})

	body := map[string]any{"preset": "onboarding-tour", "seed": 7}

	t.Run("deterministic for a seed", func(t *testing.T) {
		first := doJSON(t, router, http.MethodPost, "/v1/experiments/simulate", body)
		require.Equal(t, http.StatusOK, first.Code, first.Body.String())
		second := doJSON(t, router, http.MethodPost, "/v1/experiments/simulate", body)
		require.Equal(t, http.StatusOK, second.Code)

		assert.JSONEq(t, first.Body.String(), second.Body.String())

		resp := decode[SimulateResponse](t, first)
		assert.Equal(t, uint64(7), resp.Seed)
		require.NotNil(t, resp.Experiment)
		assert.Equal(t, resp.Experiment.Plan.PerArm, resp.Experiment.Outcome.ControlSize)
		assert.Nil(t, resp.Replicates)
	})

	t.Run("with replicates", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/simulate", map[string]any{
			"preset":     "onboarding-tour",
			"seed":       7,
			"true_lift":  0,
			"replicates": 8,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		resp := decode[SimulateResponse](t, w)
		require.NotNil(t, resp.Replicates)
		assert.Equal(t, 8, resp.Replicates.Replicates)
		assert.Equal(t, 0.0, resp.Experiment.Trial.TrueLift)
	})

	t.Run("too many replicates", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/simulate", map[string]any{
			"preset":     "onboarding-tour",
			"replicates": 1_000_000,
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_PARAMETER", decode[ErrorResponse](t, w).Code)
	})

	t.Run("planned size above simulation limit", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/simulate", map[string]any{
			"baseline_rate":             0.01,
			"minimum_detectable_effect": 0.01,
			"confidence_level":          0.99,
			"statistical_power":         0.99,
		})
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

		resp := decode[ErrorResponse](t, w)
		assert.Equal(t, "INVALID_PARAMETER", resp.Code)
		assert.Equal(t, "sample_size", resp.Field)
	})

	t.Run("negative replicates", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/simulate", map[string]any{
			"preset":     "onboarding-tour",
			"replicates": -1,
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)
	})

	t.Run("variant rate above 1", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/v1/experiments/simulate", map[string]any{
			"preset":    "onboarding-tour",
			"true_lift": 5,
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_PARAMETER", decode[ErrorResponse](t, w).Code)
	})
}

func TestHandlers_Presets(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})

	w := doJSON(t, router, http.MethodGet, "/v1/experiments/presets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[PresetsResponse](t, w)
	assert.Equal(t, "builtin", list.Source)
	require.NotEmpty(t, list.Presets)

	name := list.Presets[0].Name
	w = doJSON(t, router, http.MethodGet, "/v1/experiments/presets/"+name, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, name, decode[presets.Preset](t, w).Name)

	w = doJSON(t, router, http.MethodGet, "/v1/experiments/presets/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PRESET_NOT_FOUND", decode[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodGet, "/v1/experiments/presets/Bad_Name", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PRESET_NAME", decode[ErrorResponse](t, w).Code)

	w = doJSON(t, router, http.MethodGet, "/v1/experiments/presets/"+strings.ToUpper(name), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, name, decode[presets.Preset](t, w).Name)
}

func TestHandlers_RateLimit(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{RateLimit: 0.001, Burst: 1})

	w := doJSON(t, router, http.MethodGet, "/v1/experiments/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/experiments/health", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, w).Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRouter_Metrics(t *testing.T) {
	router := setupTestRouter(t, RouterConfig{})
	doJSON(t, router, http.MethodGet, "/v1/experiments/health", nil)

	w := doJSON(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "abstat_http_requests_total"))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&ab.ParameterError{Field: "x"}, http.StatusBadRequest, "INVALID_PARAMETER"},
		{ab.ErrDegenerateInput, http.StatusUnprocessableEntity, "DEGENERATE_INPUT"},
		{ab.ErrArithmeticDomain, http.StatusUnprocessableEntity, "DOMAIN_ERROR"},
		{presets.ErrNotFound, http.StatusNotFound, "PRESET_NOT_FOUND"},
		{ErrTooManyReplicates, http.StatusBadRequest, "INVALID_PARAMETER"},
		{assert.AnError, http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, code := errorStatus(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}
