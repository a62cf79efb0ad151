// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shopkit/experiments/services/experiments/eventstore"
)

// Funnel returns per-variant, per-event-type funnel counts for one
// experiment.
func Funnel(store eventstore.EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		rows, err := store.Funnel(c.Request.Context(), id)
		if err != nil {
			slog.Error("funnel query failed", "experiment_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "funnel query failed"})
			return
		}
		if rows == nil {
			rows = []eventstore.FunnelRow{}
		}
		c.JSON(http.StatusOK, gin.H{"experiment_id": id, "funnel": rows})
	}
}

// Summary returns the per-variant conversion and revenue summary for
// one experiment.
func Summary(store eventstore.EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		rows, err := store.Summary(c.Request.Context(), id)
		if err != nil {
			slog.Error("summary query failed", "experiment_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "summary query failed"})
			return
		}
		if rows == nil {
			rows = []eventstore.VariantSummary{}
		}
		c.JSON(http.StatusOK, gin.H{"experiment_id": id, "variants": rows})
	}
}
