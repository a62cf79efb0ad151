// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/shopkit/experiments/services/experiments/eventstore"
	"github.com/shopkit/experiments/services/experiments/handlers"
	"github.com/shopkit/experiments/services/experiments/service"
)

// SetupRoutes registers the records API and, when svc is non-nil, the
// assignment surface on the router.
func SetupRoutes(router *gin.Engine, svc *service.Service, store eventstore.Store, ingestLimiter *rate.Limiter) {
	router.Use(otelgin.Middleware("experiments"))

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		experiments := v1.Group("/experiments")
		{
			experiments.POST("", handlers.CreateExperiment(store))
			experiments.GET("", handlers.ListExperiments(store))
			experiments.GET("/:id", handlers.GetExperiment(store))
			experiments.PUT("/:id", handlers.UpdateExperiment(store))
			experiments.DELETE("/:id", handlers.DeleteExperiment(store))
			experiments.GET("/:id/events", handlers.ExperimentEvents(store))
			experiments.GET("/:id/funnel", handlers.Funnel(store))
			experiments.GET("/:id/summary", handlers.Summary(store))
		}

		events := v1.Group("/events")
		{
			events.POST("", handlers.RateLimit(ingestLimiter), handlers.InsertEvent(store))
			events.GET("", handlers.QueryEvents(store))
		}

		if svc != nil {
			v1.POST("/users", handlers.SetUser(svc))
			v1.GET("/assignments", handlers.ActiveAssignments(svc))
			v1.GET("/assignments/:experimentId", handlers.GetVariant(svc))
			v1.POST("/conversions", handlers.TrackConversion(svc))
		}
	}
}
