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
	"context"
	"errors"
	"net/http"

	"github.com/AleutianAI/abstat/pkg/logging"
	"github.com/AleutianAI/abstat/pkg/validation"
	"github.com/AleutianAI/abstat/services/experiment/ab"
	"github.com/AleutianAI/abstat/services/experiment/presets"
	"github.com/AleutianAI/abstat/services/experiment/simulate"
	"github.com/gin-gonic/gin"
)

// Handlers contains the HTTP handlers for the experiment API.
type Handlers struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandlers creates handlers for svc. A nil logger discards output.
func NewHandlers(svc *Service, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handlers{svc: svc, logger: logger}
}

// HandleValidate handles POST /v1/experiments/validate.
//
// Response:
//
//	200 OK: ValidateResponse, valid or not
//	400 Bad Request: Malformed body
//	404 Not Found: Unknown preset
func (h *Handlers) HandleValidate(c *gin.Context) {
	logger := h.requestLogger(c, "HandleValidate")

	var req ParametersRequest
	if !h.bind(c, logger, &req) {
		return
	}
	params, err := h.svc.ResolveParameters(req.Preset, req.Parameters)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	err = h.svc.Validate(c.Request.Context(), params)
	if err == nil {
		c.JSON(http.StatusOK, ValidateResponse{Valid: true})
		return
	}

	var perr *ab.ParameterError
	if errors.As(err, &perr) {
		c.JSON(http.StatusOK, ValidateResponse{Valid: false, Reason: perr.Reason, Field: perr.Field})
		return
	}
	c.JSON(http.StatusOK, ValidateResponse{Valid: false, Reason: err.Error()})
}

// HandleSampleSize handles POST /v1/experiments/sample-size.
//
// Response:
//
//	200 OK: ab.SampleSizePlan
//	400 Bad Request: INVALID_PARAMETER
//	404 Not Found: Unknown preset
//	422 Unprocessable Entity: DOMAIN_ERROR
func (h *Handlers) HandleSampleSize(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSampleSize")

	var req ParametersRequest
	if !h.bind(c, logger, &req) {
		return
	}
	params, err := h.svc.ResolveParameters(req.Preset, req.Parameters)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	plan, err := h.svc.SampleSize(c.Request.Context(), params)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	logger.Info("Sample size computed", "per_arm", plan.PerArm, "preset", req.Preset)
	c.JSON(http.StatusOK, plan)
}

// HandleAnalyze handles POST /v1/experiments/analyze.
//
// Response:
//
//	200 OK: ab.OutcomeRecord
//	400 Bad Request: INVALID_REQUEST or INVALID_PARAMETER
//	422 Unprocessable Entity: DEGENERATE_INPUT
func (h *Handlers) HandleAnalyze(c *gin.Context) {
	logger := h.requestLogger(c, "HandleAnalyze")

	var req AnalyzeRequest
	if !h.bind(c, logger, &req) {
		return
	}
	control, variant, err := req.observations()
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	record, err := h.svc.Analyze(c.Request.Context(), control, variant, req.Confidence)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	logger.Info("Outcome analyzed",
		"control_size", record.ControlSize,
		"variant_size", record.VariantSize,
		"p_value", record.PValue,
		"conclusion", record.Conclusion)
	c.JSON(http.StatusOK, record)
}

// HandleSequential handles POST /v1/experiments/sequential.
//
// Response:
//
//	200 OK: SequentialResponse
//	400 Bad Request: INVALID_REQUEST or INVALID_PARAMETER
//	422 Unprocessable Entity: DEGENERATE_INPUT
func (h *Handlers) HandleSequential(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSequential")

	var req SequentialRequest
	if !h.bind(c, logger, &req) {
		return
	}
	control, variant, err := req.observations()
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	checkpoints, err := h.svc.Sequential(c.Request.Context(), control, variant, req.CheckpointSize, req.Confidence)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	resp := SequentialResponse{CheckpointSize: req.CheckpointSize, Checkpoints: checkpoints}
	if cp, ok := ab.FirstSignificant(checkpoints); ok {
		resp.FirstSignificant = &cp
	}
	logger.Info("Sequential checks complete", "checkpoints", len(checkpoints))
	c.JSON(http.StatusOK, resp)
}

// HandleSimulate handles POST /v1/experiments/simulate.
//
// Response:
//
//	200 OK: SimulateResponse
//	400 Bad Request: INVALID_REQUEST or INVALID_PARAMETER
//	404 Not Found: Unknown preset
//	422 Unprocessable Entity: DOMAIN_ERROR
func (h *Handlers) HandleSimulate(c *gin.Context) {
	logger := h.requestLogger(c, "HandleSimulate")

	var req SimulateRequest
	if !h.bind(c, logger, &req) {
		return
	}
	params, err := h.svc.ResolveParameters(req.Preset, req.Parameters)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	resp, err := h.svc.Simulate(c.Request.Context(), SimulateInput{
		Parameters:     params,
		Seed:           req.Seed,
		TrueLift:       req.TrueLift,
		CheckpointSize: req.CheckpointSize,
		Replicates:     req.Replicates,
	})
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	logger.Info("Simulation complete", "seed", req.Seed, "per_arm", resp.Experiment.Plan.PerArm)
	c.JSON(http.StatusOK, resp)
}

// HandleListPresets handles GET /v1/experiments/presets.
func (h *Handlers) HandleListPresets(c *gin.Context) {
	registry := h.svc.Presets()
	c.JSON(http.StatusOK, PresetsResponse{
		Source:  registry.Source(),
		Presets: registry.List(),
	})
}

// HandleGetPreset handles GET /v1/experiments/presets/:name.
//
// Response:
//
//	200 OK: presets.Preset
//	400 Bad Request: INVALID_PRESET_NAME
//	404 Not Found: PRESET_NOT_FOUND
func (h *Handlers) HandleGetPreset(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetPreset")

	name, err := validation.SanitizePresetName(c.Param("name"))
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	preset, err := h.svc.Presets().Get(name)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, preset)
}

// HandleHealth handles GET /v1/experiments/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Presets: len(h.svc.Presets().List()),
	})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handlers) requestLogger(c *gin.Context, handler string) *logging.Logger {
	return h.logger.With("request_id", requestID(c), "handler", handler)
}

// MaxRequestBytes bounds every JSON request body.
const MaxRequestBytes = 8 << 20

func (h *Handlers) bind(c *gin.Context, logger *logging.Logger, req any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBytes)
	if err := c.ShouldBindJSON(req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("Request body too large", "limit", tooLarge.Limit)
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: "Request body exceeds the size limit",
				Code:  "REQUEST_TOO_LARGE",
			})
			return false
		}
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return false
	}
	return true
}

func (h *Handlers) fail(c *gin.Context, logger *logging.Logger, err error) {
	status, code := errorStatus(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var perr *ab.ParameterError
	if errors.As(err, &perr) {
		resp.Field = perr.Field
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err, "code", code)
	} else {
		logger.Warn("Request rejected", "error", err, "code", code)
	}
	c.JSON(status, resp)
}

// errorStatus maps an error to its HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, presets.ErrNotFound):
		return http.StatusNotFound, "PRESET_NOT_FOUND"
	case errors.Is(err, validation.ErrInvalidName):
		return http.StatusBadRequest, "INVALID_PRESET_NAME"
	case errors.Is(err, ab.ErrInvalidParameter):
		return http.StatusBadRequest, "INVALID_PARAMETER"
	case errors.Is(err, simulate.ErrInvalidRate), errors.Is(err, ErrTooManyReplicates):
		return http.StatusBadRequest, "INVALID_PARAMETER"
	case errors.Is(err, ab.ErrDegenerateInput):
		return http.StatusUnprocessableEntity, "DEGENERATE_INPUT"
	case errors.Is(err, ab.ErrArithmeticDomain):
		return http.StatusUnprocessableEntity, "DOMAIN_ERROR"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "CANCELED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (r AnalyzeRequest) observations() (control, variant ab.Observations, err error) {
	control, err = ab.ObservationsFromInts(r.Control)
	if err != nil {
		return nil, nil, err
	}
	variant, err = ab.ObservationsFromInts(r.Variant)
	if err != nil {
		return nil, nil, err
	}
	return control, variant, nil
}
