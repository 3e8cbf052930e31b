package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets retryable defaults", func(t *testing.T) {
		tests := []struct {
			code ErrorCode
			want bool
		}{
			{ErrCodeNetworkError, true},
			{ErrCodeOperationTimeout, true},
			{ErrCodeFetchFailed, true},
			{ErrCodeValidationFailed, false},
			{ErrCodeOperationCanceled, false},
			{ErrCodeObjectNotFound, false},
			{ErrCodeAccessDenied, false},
		}
		for _, tt := range tests {
			if got := NewError(tt.code, "x").Retryable; got != tt.want {
				t.Errorf("%v: Retryable = %v, want %v", tt.code, got, tt.want)
			}
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeConfigLoad, CategoryConfiguration},
		{ErrCodeNetworkError, CategoryConnection},
		{ErrCodeFetchFailed, CategoryStorage},
		{ErrCodeCacheError, CategoryResource},
		{ErrCodeInitializationFailed, CategoryState},
		{ErrCodeValidationFailed, CategoryOperation},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}
	for _, tt := range tests {
		if got := GetCategory(tt.code); got != tt.want {
			t.Errorf("GetCategory(%v) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeFetchFailed, "range 0-9").
		WithComponent("block").
		WithOperation("fetch").
		WithCause(fmt.Errorf("connection reset"))

	msg := err.Error()
	if !strings.HasPrefix(msg, "[block:fetch] FETCH_FAILED: range 0-9") {
		t.Errorf("Error() = %q", msg)
	}
	if !strings.HasSuffix(msg, "connection reset") {
		t.Errorf("Error() should carry the cause, got %q", msg)
	}

	s := err.WithDetail("attempts", 3).String()
	for _, want := range []string{"Code=FETCH_FAILED", "Component=block", "Retryable=true", `"attempts":3`} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

func TestErrorChains(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrCodeOperationTimeout, "slow")
	outer := NewError(ErrCodeFetchFailed, "gave up").WithCause(inner)
	wrapped := fmt.Errorf("reading: %w", outer)

	if !errors.Is(wrapped, NewError(ErrCodeFetchFailed, "")) {
		t.Error("errors.Is should match on code")
	}
	if !IsCode(wrapped, ErrCodeOperationTimeout) {
		t.Error("IsCode should walk causes")
	}
	if IsCode(wrapped, ErrCodeAccessDenied) {
		t.Error("IsCode matched an absent code")
	}
	code, ok := CodeOf(wrapped)
	if !ok || code != ErrCodeFetchFailed {
		t.Errorf("CodeOf = %v, %v", code, ok)
	}
	if _, ok := CodeOf(fmt.Errorf("plain")); ok {
		t.Error("CodeOf matched a plain error")
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", fmt.Errorf("boom"), false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), true},
		{"network", NewError(ErrCodeNetworkError, "reset"), true},
		{"overridden", NewError(ErrCodeNetworkError, "reset").WithRetryable(false), false},
		{"invalid input", InvalidInput("read", "negative position %d", -1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	if got := FromContext(context.DeadlineExceeded, "read"); got.Code != ErrCodeOperationTimeout {
		t.Errorf("deadline mapped to %v", got.Code)
	}
	if got := FromContext(context.Canceled, "read"); got.Code != ErrCodeOperationCanceled {
		t.Errorf("cancel mapped to %v", got.Code)
	}
}
