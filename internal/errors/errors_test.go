package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("database is locked")

	err := New(TransientStore, "load checkpoints", cause)

	if err.Code != TransientStore {
		t.Errorf("Code = %v, want %v", err.Code, TransientStore)
	}
	if err.Message != "load checkpoints" {
		t.Errorf("Message = %q, want %q", err.Message, "load checkpoints")
	}
	if len(err.SuggestedFixes) != 1 {
		t.Errorf("len(SuggestedFixes) = %d, want 1", len(err.SuggestedFixes))
	}
}

func TestIndexError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      PipelineFailure,
			message:   "batch 2 failed",
			cause:     errors.New("connection refused"),
			wantParts: []string{"PIPELINE_FAILURE", "batch 2 failed", "connection refused"},
		},
		{
			name:      "without cause",
			code:      MalformedCheckpoint,
			message:   "missing change_type",
			cause:     nil,
			wantParts: []string{"MALFORMED_CHECKPOINT", "missing change_type"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.code, tt.message, tt.cause).Error()

			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestIndexError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(InternalError, "something went wrong", cause)

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}

	if New(InternalError, "no cause", nil).Unwrap() != nil {
		t.Error("Unwrap() on error without cause should return nil")
	}
}

func TestIsCode(t *testing.T) {
	wrapped := fmt.Errorf("run project p1: %w", Transient("begin tx", errors.New("busy")))

	if !IsCode(wrapped, TransientStore) {
		t.Error("IsCode should see through fmt.Errorf wrapping")
	}
	if IsCode(wrapped, PipelineFailure) {
		t.Error("IsCode matched the wrong code")
	}
	if IsCode(nil, TransientStore) {
		t.Error("IsCode(nil) should be false")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf on a plain error should be empty")
	}
}

func TestWithDetails(t *testing.T) {
	err := Malformed("bad key")
	details := map[string]string{"file_path": ""}

	if result := err.WithDetails(details); result != err {
		t.Error("WithDetails should return the same error for chaining")
	}
	if err.Details == nil {
		t.Error("Details should be set")
	}
}

func TestGetSuggestedFixes(t *testing.T) {
	tests := []struct {
		code    ErrorCode
		wantNil bool
	}{
		{TransientStore, false},
		{PipelineFailure, false},
		{ProjectNotFound, false},
		{InvalidConfig, false},
		{RemapInconsistency, true},
		{MalformedCheckpoint, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			fixes := GetSuggestedFixes(tt.code)
			if tt.wantNil != (fixes == nil) {
				t.Errorf("GetSuggestedFixes(%v) = %v, wantNil %v", tt.code, fixes, tt.wantNil)
			}
		})
	}
}

func TestErrorActionsMap(t *testing.T) {
	for code, fixes := range ErrorActions {
		if len(fixes) == 0 {
			t.Errorf("ErrorActions[%v] has no fix actions", code)
		}
		for i, fix := range fixes {
			if fix.Type == "" {
				t.Errorf("ErrorActions[%v][%d].Type is empty", code, i)
			}
		}
	}
}
