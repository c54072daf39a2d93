package models

import (
	"errors"
	"fmt"
)

// Common validation errors for models.
var (
	// ErrIdentityRequired indicates a required identity field is empty.
	ErrIdentityRequired = errors.New("identity is required")

	// ErrFilenameRequired indicates a required source filename is empty.
	ErrFilenameRequired = errors.New("source filename is required")

	// ErrInvalidStatus indicates an unknown job status value.
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrInvalidFrameStyle indicates an unknown framing mode.
	ErrInvalidFrameStyle = errors.New("invalid frame style: must be 'blur' or 'crop'")
)

// ErrorKind identifies a failure within the fixed processing taxonomy.
type ErrorKind string

// Processing error kinds, grouped by origin category.
const (
	// Bad input.
	ErrKindUnsupportedFormat ErrorKind = "unsupported_format"
	ErrKindCorruptFile       ErrorKind = "corrupt_file"
	ErrKindOversizeInput     ErrorKind = "oversize_input"

	// Processing failure.
	ErrKindEncodeFailure   ErrorKind = "encode_failure"
	ErrKindFrameExtraction ErrorKind = "frame_extraction_failure"
	ErrKindMuxFailure      ErrorKind = "mux_failure"
	ErrKindMemoryOverflow  ErrorKind = "memory_overflow"
	ErrKindTimeout         ErrorKind = "timeout"

	// System/environment.
	ErrKindCapabilityAbsent ErrorKind = "capability_absent"
	ErrKindPermissionDenied ErrorKind = "permission_denied"

	// Network/API.
	ErrKindNetwork           ErrorKind = "network_error"
	ErrKindUpstreamRateLimit ErrorKind = "upstream_rate_limit"
	ErrKindUploadFailure     ErrorKind = "upload_failure"

	ErrKindUnknown ErrorKind = "unknown"
)

// ErrorCategory is the origin category of an ErrorKind.
type ErrorCategory string

// Error origin categories.
const (
	CategoryVideoInput ErrorCategory = "video_input"
	CategoryProcessing ErrorCategory = "processing"
	CategorySystem     ErrorCategory = "system"
	CategoryNetwork    ErrorCategory = "network"
	CategoryUnknown    ErrorCategory = "unknown"
)

// Category returns the origin category for the kind.
func (k ErrorKind) Category() ErrorCategory {
	switch k {
	case ErrKindUnsupportedFormat, ErrKindCorruptFile, ErrKindOversizeInput:
		return CategoryVideoInput
	case ErrKindEncodeFailure, ErrKindFrameExtraction, ErrKindMuxFailure,
		ErrKindMemoryOverflow, ErrKindTimeout:
		return CategoryProcessing
	case ErrKindCapabilityAbsent, ErrKindPermissionDenied:
		return CategorySystem
	case ErrKindNetwork, ErrKindUpstreamRateLimit, ErrKindUploadFailure:
		return CategoryNetwork
	default:
		return CategoryUnknown
	}
}

// RecoveryStrategy is the action the recovery policy associates with a failure.
type RecoveryStrategy string

// Recovery strategies.
const (
	// RecoveryRetry sanctions a bounded re-attempt after a fixed delay.
	RecoveryRetry RecoveryStrategy = "retry"
	// RecoveryFallback reduces quality or switches method; no automatic retry.
	RecoveryFallback RecoveryStrategy = "fallback"
	// RecoveryUserIntervention requires the user to change the input.
	RecoveryUserIntervention RecoveryStrategy = "user_intervention"
	// RecoveryAbort gives up.
	RecoveryAbort RecoveryStrategy = "abort"
)

// ProcessingError is a classified failure with recovery bookkeeping.
// RetryCount is incremented only by the recovery policy and never decremented.
type ProcessingError struct {
	Kind        ErrorKind
	Message     string
	Recoverable bool
	RetryCount  int
	MaxRetries  int
	Strategy    RecoveryStrategy
	Cause       error
}

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Exhausted returns true once the retry budget is spent.
func (e *ProcessingError) Exhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// AsProcessingError extracts a ProcessingError from an error chain, wrapping
// unclassified errors as ErrKindUnknown.
func AsProcessingError(err error) *ProcessingError {
	var perr *ProcessingError
	if errors.As(err, &perr) {
		return perr
	}
	return &ProcessingError{
		Kind:        ErrKindUnknown,
		Message:     err.Error(),
		Recoverable: true,
		MaxRetries:  1,
		Strategy:    RecoveryRetry,
		Cause:       err,
	}
}
