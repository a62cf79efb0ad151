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
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/shopkit/experiments/pkg/validation"
	"github.com/shopkit/experiments/services/experiments/datatypes"
	"github.com/shopkit/experiments/services/experiments/eventstore"
	"github.com/shopkit/experiments/services/experiments/metrics"
)

// RateLimit rejects requests beyond the limiter's budget with 429.
// Applied to the event ingest route, which the storefront fires on
// every page view.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				gin.H{"error": "event ingest rate exceeded"})
			return
		}
		c.Next()
	}
}

// InsertEvent ingests one analytics event.
//
// Missing event ids and timestamps are filled server-side so thin
// clients can post bare events; a duplicate id is acknowledged without
// a second insert, keeping retries idempotent.
func InsertEvent(store eventstore.EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var event datatypes.AnalyticsEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event payload"})
			return
		}
		if event.EventType == "" || event.UserID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "eventType and userId are required"})
			return
		}
		if err := validation.ValidateID(event.UserID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if event.EventID == "" {
			event.EventID = uuid.NewString()
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		if err := store.InsertEvent(c.Request.Context(), event); err != nil {
			if errors.Is(err, eventstore.ErrDuplicateEvent) {
				c.JSON(http.StatusOK, gin.H{"status": "duplicate", "event_id": event.EventID})
				return
			}
			slog.Error("failed to insert event", "event_id", event.EventID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to insert event"})
			return
		}
		metrics.EventsIngestedTotal.WithLabelValues(event.EventType).Inc()
		c.JSON(http.StatusCreated, gin.H{"status": "created", "event_id": event.EventID})
	}
}

// QueryEvents serves the event query surface. Exactly one filter is
// applied, in precedence order: user_id, type, then from/to.
func QueryEvents(store eventstore.EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if userID := c.Query("user_id"); userID != "" {
			if err := validation.ValidateID(userID); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			limit := 0
			if raw := c.Query("limit"); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil || parsed < 0 {
					c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
					return
				}
				limit = parsed
			}
			events, err := store.EventsByUser(ctx, userID, limit)
			respondEvents(c, events, err)
			return
		}

		if eventType := c.Query("type"); eventType != "" {
			events, err := store.EventsByType(ctx, eventType)
			respondEvents(c, events, err)
			return
		}

		fromRaw, toRaw := c.Query("from"), c.Query("to")
		if fromRaw != "" && toRaw != "" {
			from, err := time.Parse(time.RFC3339, fromRaw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
				return
			}
			to, err := time.Parse(time.RFC3339, toRaw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
				return
			}
			events, err := store.EventsByRange(ctx, from, to)
			respondEvents(c, events, err)
			return
		}

		c.JSON(http.StatusBadRequest,
			gin.H{"error": "one of user_id, type, or from/to is required"})
	}
}

// ExperimentEvents returns the events scoped to one experiment.
func ExperimentEvents(store eventstore.EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := store.EventsByExperiment(c.Request.Context(), c.Param("id"))
		respondEvents(c, events, err)
	}
}

func respondEvents(c *gin.Context, events []datatypes.AnalyticsEvent, err error) {
	if err != nil {
		slog.Error("event query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event query failed"})
		return
	}
	if events == nil {
		events = []datatypes.AnalyticsEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}
