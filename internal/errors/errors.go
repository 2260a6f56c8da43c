package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// TransientStore indicates a lock or IO failure in the backing store; retry the run later
	TransientStore ErrorCode = "TRANSIENT_STORE"
	// MalformedCheckpoint indicates a checkpoint row that cannot be interpreted
	MalformedCheckpoint ErrorCode = "MALFORMED_CHECKPOINT"
	// RemapInconsistency indicates a line mapping that produced out-of-bounds indices
	RemapInconsistency ErrorCode = "REMAP_INCONSISTENCY"
	// PipelineFailure indicates the external discovery pipeline returned an error
	PipelineFailure ErrorCode = "PIPELINE_FAILURE"
	// ProjectNotFound indicates an unknown project id
	ProjectNotFound ErrorCode = "PROJECT_NOT_FOUND"
	// InvalidConfig indicates a configuration value outside its allowed range
	InvalidConfig ErrorCode = "INVALID_CONFIG"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// EditConfig suggests changing a configuration value
	EditConfig FixActionType = "edit-config"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
}

// IndexError is an error carrying a stable code, a message and optional suggestions
type IndexError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a new IndexError with the default fixes for its code
func New(code ErrorCode, message string, cause error) *IndexError {
	return &IndexError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Error implements the error interface
func (e *IndexError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *IndexError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *IndexError) WithDetails(details interface{}) *IndexError {
	e.Details = details
	return e
}

// Transient wraps a store failure that should be retried on the next run
func Transient(message string, cause error) *IndexError {
	return New(TransientStore, message, cause)
}

// Pipeline wraps a failure returned by the discovery pipeline
func Pipeline(message string, cause error) *IndexError {
	return New(PipelineFailure, message, cause)
}

// Malformed describes a checkpoint entry that was skipped
func Malformed(message string) *IndexError {
	return New(MalformedCheckpoint, message, nil)
}

// CodeOf returns the code of the first IndexError in err's chain, or "" if none
func CodeOf(err error) ErrorCode {
	var ie *IndexError
	if stderrors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// IsCode reports whether err's chain contains an IndexError with the given code
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	TransientStore: {
		{
			Type:        RunCommand,
			Command:     "connidx run --project ${project}",
			Safe:        true,
			Description: "Retry the incremental run; pending checkpoints were left untouched",
		},
	},
	PipelineFailure: {
		{
			Type:        RunCommand,
			Command:     "connidx status --project ${project}",
			Safe:        true,
			Description: "Inspect deferred files; they are retried on the next run",
		},
	},
	ProjectNotFound: {
		{
			Type:        RunCommand,
			Command:     "connidx projects add ${project} ${path}",
			Safe:        true,
			Description: "Register the project in projects.toml",
		},
	},
	InvalidConfig: {
		{
			Type:        EditConfig,
			Description: "Fix the value in .connidx/config.json",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
