// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shopkit/experiments/pkg/validation"
	"github.com/shopkit/experiments/services/experiments/datatypes"
	"github.com/shopkit/experiments/services/experiments/service"
)

// SetUser replaces the orchestrator's current subject and returns the
// assignments evaluated for it.
func SetUser(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var user datatypes.User
		if err := c.ShouldBindJSON(&user); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user payload"})
			return
		}
		if user.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user id is required"})
			return
		}
		if err := validation.ValidateID(user.ID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		svc.SetUser(c.Request.Context(), user)
		c.JSON(http.StatusOK, gin.H{
			"user_id":     user.ID,
			"assignments": svc.ActiveAssignments(),
		})
	}
}

// GetVariant answers a variant lookup for the current user. Exclusion
// and assignment are both 200s; the storefront treats a null variant as
// "render the default".
func GetVariant(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		experimentID := c.Param("experimentId")
		variant := svc.GetVariant(c.Request.Context(), experimentID)
		if variant == nil {
			c.JSON(http.StatusOK, gin.H{"experiment_id": experimentID, "variant": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"experiment_id": experimentID, "variant": variant})
	}
}

// ActiveAssignments lists the current user's assignments.
func ActiveAssignments(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"assignments": svc.ActiveAssignments()})
	}
}

type conversionRequest struct {
	ExperimentID    string  `json:"experimentId" binding:"required"`
	ConversionType  string  `json:"conversionType"`
	ConversionValue float64 `json:"conversionValue"`
}

// TrackConversion records a conversion for the current user.
func TrackConversion(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req conversionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "experimentId is required"})
			return
		}
		svc.TrackConversion(c.Request.Context(), req.ExperimentID,
			req.ConversionType, req.ConversionValue)
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	}
}
