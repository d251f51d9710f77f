package schema

import "fmt"

// Error codes for structured error reporting.
const (
	// Instruction-level.
	ErrCodePathNotFound       = "PATH_NOT_FOUND"
	ErrCodeIndexOutOfRange    = "INDEX_OUT_OF_RANGE"
	ErrCodeIdentifierMismatch = "IDENTIFIER_MISMATCH"

	// Document-level.
	ErrCodeNodeNotFound = "NODE_NOT_FOUND"
	ErrCodeEdgeNotFound = "EDGE_NOT_FOUND"
	ErrCodeSheetNotFound = "SHEET_NOT_FOUND"

	// Registry / routing.
	ErrCodeResourceUnavailable  = "RESOURCE_UNAVAILABLE"
	ErrCodeRegistrationRejected = "REGISTRATION_REJECTED"
	ErrCodeNoServerAvailable    = "NO_SERVER_AVAILABLE"

	// Ambient.
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeTimeout    = "TIMEOUT_ERROR"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeStore      = "STORE_ERROR"
)

// SyncError is the structured error type for all graphsync operations.
type SyncError struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	ResourceKey string         `json:"resource_key,omitempty"`
	Cause       error          `json:"-"`
}

func (e *SyncError) Error() string {
	if e.ResourceKey != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.ResourceKey, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// NewError creates a new SyncError.
func NewError(code, message string) *SyncError {
	return &SyncError{Code: code, Message: message}
}

// NewErrorf creates a new SyncError with a formatted message.
func NewErrorf(code, format string, args ...any) *SyncError {
	return &SyncError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithResource attaches a resource key to the error.
func (e *SyncError) WithResource(key string) *SyncError {
	e.ResourceKey = key
	return e
}

// WithCause attaches an underlying cause.
func (e *SyncError) WithCause(err error) *SyncError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *SyncError) WithDetails(details map[string]any) *SyncError {
	e.Details = details
	return e
}

// CodeOf returns the SyncError code of err, or "" if err is not a SyncError.
func CodeOf(err error) string {
	if se, ok := err.(*SyncError); ok {
		return se.Code
	}
	return ""
}
