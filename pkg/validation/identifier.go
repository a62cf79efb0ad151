// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for identifiers that
// reach storage keys and SQL queries.
//
// Experiment, variant, and user ids arrive from URL paths and request
// bodies and end up in key-value keys and relational filters. Using
// these validators keeps injection attempts and path-traversal style
// ids out of both.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// idPattern matches valid identifiers.
// Allows: letters, digits, then dots, underscores, hyphens (exp-cta,
// user_42, checkout.v2). Max length: 64 characters.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-]{0,63}$`)

// ValidateID validates an experiment, variant, or user identifier.
//
// Valid identifiers:
//   - 1-64 characters
//   - letters and digits
//   - dots (.), underscores (_), and hyphens (-) after the first character
//
// Returns an error if the identifier is invalid.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid identifier: %q (must be 1-64 alphanumeric chars, dots, underscores, or hyphens)", id)
	}

	return nil
}

// ValidateIDs validates multiple identifiers.
// Returns an error listing all invalid identifiers if any fail validation.
func ValidateIDs(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateID(id); err != nil {
			invalid = append(invalid, id)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid identifiers: %v", invalid)
	}
	return nil
}

// SanitizeID trims surrounding whitespace and validates the result.
// Returns the trimmed identifier if valid, or an error if invalid.
func SanitizeID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateID(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
