// Package subject validates subject identifiers before they are allowed
// anywhere near the remote gateway. A subject id is the canonical textual
// UUID form (8-4-4-4-12 lowercase-or-uppercase hex groups); anything else
// is rejected synchronously by the engine without a network call.
package subject

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Valid reports whether value is a canonical textual UUID.
// uuid.Parse accepts several relaxed encodings (urn: prefix, braces,
// undashed hex), so the shape is checked before parsing.
func Valid(value string) bool {
	if len(value) != 36 {
		return false
	}
	if value[8] != '-' || value[13] != '-' || value[18] != '-' || value[23] != '-' {
		return false
	}
	_, err := uuid.Parse(value)
	return err == nil
}

// ExplainInvalid returns a human-readable diagnostic for a rejected value.
// Diagnostic only — callers must branch on Valid, never on this string.
func ExplainInvalid(value string) string {
	switch {
	case value == "":
		return "subject id is empty"
	case len(value) != 36:
		return fmt.Sprintf("subject id has length %d, want 36", len(value))
	case strings.Count(value, "-") != 4:
		return "subject id is not in 8-4-4-4-12 form"
	default:
		if _, err := uuid.Parse(value); err != nil {
			return fmt.Sprintf("subject id is not a UUID: %v", err)
		}
		return "subject id is valid"
	}
}
