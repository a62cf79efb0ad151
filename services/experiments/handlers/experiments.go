// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shopkit/experiments/pkg/validation"
	"github.com/shopkit/experiments/services/experiments/datatypes"
	"github.com/shopkit/experiments/services/experiments/eventstore"
	"github.com/shopkit/experiments/services/experiments/registry"
)

// CreateExperiment persists a new experiment definition record.
func CreateExperiment(store eventstore.ExperimentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var exp datatypes.Experiment
		if err := c.ShouldBindJSON(&exp); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid experiment payload"})
			return
		}
		if err := validation.ValidateID(exp.ID); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		if err := registry.Validate(&exp); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		if err := store.CreateExperiment(c.Request.Context(), exp); err != nil {
			if errors.Is(err, eventstore.ErrDuplicateExperiment) {
				c.JSON(http.StatusConflict, gin.H{"error": "experiment already exists"})
				return
			}
			slog.Error("failed to create experiment", "experiment_id", exp.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create experiment"})
			return
		}
		slog.Info("experiment created", "experiment_id", exp.ID)
		c.JSON(http.StatusCreated, exp)
	}
}

// GetExperiment returns one experiment definition by id.
func GetExperiment(store eventstore.ExperimentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		exp, err := store.GetExperiment(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, eventstore.ErrExperimentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "experiment not found"})
				return
			}
			slog.Error("failed to load experiment", "experiment_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load experiment"})
			return
		}
		c.JSON(http.StatusOK, exp)
	}
}

// ListExperiments returns all experiment definition records.
func ListExperiments(store eventstore.ExperimentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		experiments, err := store.ListExperiments(c.Request.Context())
		if err != nil {
			slog.Error("failed to list experiments", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list experiments"})
			return
		}
		if experiments == nil {
			experiments = []datatypes.Experiment{}
		}
		c.JSON(http.StatusOK, gin.H{"experiments": experiments})
	}
}

// UpdateExperiment replaces an existing definition record.
func UpdateExperiment(store eventstore.ExperimentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var exp datatypes.Experiment
		if err := c.ShouldBindJSON(&exp); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid experiment payload"})
			return
		}
		if exp.ID == "" {
			exp.ID = id
		}
		if exp.ID != id {
			c.JSON(http.StatusBadRequest, gin.H{"error": "experiment id mismatch"})
			return
		}
		if err := registry.Validate(&exp); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		if err := store.UpdateExperiment(c.Request.Context(), exp); err != nil {
			if errors.Is(err, eventstore.ErrExperimentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "experiment not found"})
				return
			}
			slog.Error("failed to update experiment", "experiment_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update experiment"})
			return
		}
		slog.Info("experiment updated", "experiment_id", id)
		c.JSON(http.StatusOK, exp)
	}
}

// DeleteExperiment removes a definition record.
func DeleteExperiment(store eventstore.ExperimentStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := store.DeleteExperiment(c.Request.Context(), id); err != nil {
			if errors.Is(err, eventstore.ErrExperimentNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "experiment not found"})
				return
			}
			slog.Error("failed to delete experiment", "experiment_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete experiment"})
			return
		}
		slog.Info("experiment deleted", "experiment_id", id)
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "experiment_id": id})
	}
}
