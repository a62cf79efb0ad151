// Copyright (C) 2025 Shopkit Labs (engineering@shopkit.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validation

import (
	"testing"
)

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid identifiers
		{"simple", "exp-cta", false},
		{"single char", "a", false},
		{"with digits", "user42", false},
		{"dotted", "checkout.v2", false},
		{"underscored", "user_42", false},
		{"uppercase", "EXP-CTA", false},
		{"max length", strings64(), false},

		// Invalid identifiers - injection attempts
		{"empty", "", true},
		{"sql injection", "x'; DROP TABLE--", true},
		{"newline injection", "exp\ndrop", true},
		{"path traversal", "../assignments", true},
		{"key separator", "assignments:user-1", true},
		{"too long", strings64() + "x", true},
		{"special chars", "exp@#$", true},
		{"spaces", "exp cta", true},
		{"starts with dot", ".exp", true},
		{"starts with hyphen", "-exp", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func strings64() string {
	s := make([]byte, 64)
	for i := range s {
		s[i] = 'a'
	}
	return string(s)
}

func TestValidateIDs(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		wantErr bool
	}{
		{"all valid", []string{"exp-cta", "user-1", "control"}, false},
		{"one invalid", []string{"exp-cta", "bad!", "control"}, true},
		{"all invalid", []string{"", "a b"}, true},
		{"empty slice", []string{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIDs(tt.ids)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIDs(%v) error = %v, wantErr %v", tt.ids, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{"passthrough", "exp-cta", "exp-cta", false},
		{"trimmed", "  exp-cta  ", "exp-cta", false},
		{"invalid rejected", "bad!", "", true},
		{"whitespace only", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizeID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SanitizeID(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}
