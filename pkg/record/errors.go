package record

import (
	"errors"
	"fmt"
	"strings"
)

// Integrity failures surfaced by Verify.
var (
	ErrChecksumMismatch = errors.New("payload checksum mismatch")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrInvalidWrapper   = errors.New("invalid record wrapper")
)

// ValidationIssue is one field-level schema or business-rule failure.
type ValidationIssue struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// DetailedValidationError aggregates every issue found in a payload.
// Validation never surfaces opaque blobs; callers can render Issues
// directly in a CLI or HTTP envelope.
type DetailedValidationError struct {
	RecordType Type
	Issues     []ValidationIssue
}

func (e *DetailedValidationError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("%s validation failed", e.RecordType)
	}
	parts := make([]string, 0, len(e.Issues))
	for _, iss := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", iss.Field, iss.Message))
	}
	return fmt.Sprintf("%s validation failed: %s", e.RecordType, strings.Join(parts, "; "))
}

// AsValidationError unwraps a DetailedValidationError if err carries one.
func AsValidationError(err error) (*DetailedValidationError, bool) {
	var ve *DetailedValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
