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
	"github.com/AleutianAI/abstat/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the experiment routes under rg.
//
// Endpoints:
//
//	POST /experiments/validate    - Check parameters
//	POST /experiments/sample-size - Plan per-arm sample size
//	POST /experiments/analyze     - Two-proportion z-test
//	POST /experiments/sequential  - Checks at growing prefixes
//	POST /experiments/simulate    - Seeded synthetic experiment
//	GET  /experiments/presets     - List presets
//	GET  /experiments/presets/:name
//	GET  /experiments/health
//
// Example:
//
//	v1 := router.Group("/v1")
//	experiment.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	experiments := rg.Group("/experiments")
	{
		experiments.POST("/validate", handlers.HandleValidate)
		experiments.POST("/sample-size", handlers.HandleSampleSize)
		experiments.POST("/analyze", handlers.HandleAnalyze)
		experiments.POST("/sequential", handlers.HandleSequential)
		experiments.POST("/simulate", handlers.HandleSimulate)

		experiments.GET("/presets", handlers.HandleListPresets)
		experiments.GET("/presets/:name", handlers.HandleGetPreset)

		experiments.GET("/health", handlers.HandleHealth)
	}
}

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName labels server spans.
	ServiceName string

	// RateLimit is the sustained request rate per second. 0 disables it.
	RateLimit float64

	// Burst is the token bucket size.
	Burst int
}

// NewRouter builds the full HTTP engine: recovery, tracing, request IDs,
// metrics, rate limiting, the /v1 routes and /metrics.
func NewRouter(handlers *Handlers, cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "abstat"
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.ServiceName),
		RequestID(),
		Metrics(),
	)

	metricsHandler := telemetry.MetricsHandler()
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))

	v1 := router.Group("/v1", RateLimit(cfg.RateLimit, cfg.Burst))
	RegisterRoutes(v1, handlers)

	return router
}
