package scans

import (
	"errors"
	"fmt"
)

// ErrPayloadTooLarge indicates the upload exceeded the configured byte cap.
var ErrPayloadTooLarge = errors.New("payload too large")

// ErrNotReady indicates the threat intelligence feed is still initializing.
var ErrNotReady = errors.New("scanner is still initializing, retry later")

// ValidationError is a user-correctable problem with the upload itself
// (wrong type, wrong count, missing file). Raised before any analyzer runs.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NewValidationError formats a ValidationError.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// StageError wraps a mandatory analyzer failure with the stage that raised
// it. The scan ID stays with the ScanResult so failures remain correlatable.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
