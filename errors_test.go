package agentcore

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorWithContext_MessageAndUnwrap(t *testing.T) {
	err := WithContext(ErrInputTooLong, map[string]interface{}{"length": 5000})
	if !errors.Is(err, ErrInputTooLong) {
		t.Error("wrapped error lost its sentinel")
	}
	msg := err.Error()
	if msg == ErrInputTooLong.Error() {
		t.Error("context not included in message")
	}

	var ctxErr *ErrorWithContext
	if !errors.As(err, &ctxErr) {
		t.Fatal("errors.As failed")
	}
	if ctxErr.Context["length"] != 5000 {
		t.Errorf("context = %v", ctxErr.Context)
	}
}

func TestWithContext_NilPassthrough(t *testing.T) {
	if WithContext(nil, map[string]interface{}{"a": 1}) != nil {
		t.Error("nil error must stay nil")
	}
	if WithRetryAfter(nil, time.Second) != nil {
		t.Error("nil error must stay nil")
	}
}

func TestRetryAfter_SurvivesWrapping(t *testing.T) {
	err := WithRetryAfter(ErrRateLimited, 45*time.Second)
	err = WithContext(err, map[string]interface{}{"identifier": "user:alice"})
	err = fmt.Errorf("turn failed: %w", err)

	after, ok := RetryAfter(err)
	if !ok || after != 45*time.Second {
		t.Errorf("RetryAfter = %v, %v", after, ok)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("sentinel lost through wrapping")
	}
}

func TestRetryAfter_AbsentByDefault(t *testing.T) {
	if _, ok := RetryAfter(ErrRateLimited); ok {
		t.Error("bare sentinel should carry no hint")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err        error
		user       bool
		quota      bool
		busy       bool
		dependency bool
	}{
		{ErrEmptyInput, true, false, false, false},
		{ErrInputTooLong, true, false, false, false},
		{ErrPromptInjection, true, false, false, false},
		{ErrRateLimited, false, true, false, false},
		{ErrLockHeld, false, false, true, false},
		{ErrLockTimeout, false, false, true, false},
		{ErrCircuitOpen, false, false, true, false},
		{ErrLLMFailure, false, false, false, true},
		{ErrVectorStoreFailure, false, false, false, true},
		{errors.New("mystery"), false, false, false, false},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("outer: %w", tc.err)
		if IsUserError(wrapped) != tc.user {
			t.Errorf("%v: IsUserError = %v", tc.err, !tc.user)
		}
		if IsQuotaError(wrapped) != tc.quota {
			t.Errorf("%v: IsQuotaError = %v", tc.err, !tc.quota)
		}
		if IsBusyError(wrapped) != tc.busy {
			t.Errorf("%v: IsBusyError = %v", tc.err, !tc.busy)
		}
		if IsDependencyError(wrapped) != tc.dependency {
			t.Errorf("%v: IsDependencyError = %v", tc.err, !tc.dependency)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrCircuitOpen) || !IsRetryable(ErrLLMFailure) {
		t.Error("busy and dependency errors are retryable")
	}
	if IsRetryable(ErrPromptInjection) || IsRetryable(ErrRateLimited) {
		t.Error("user and quota errors are not retryable")
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrEmptyInput, "EMPTY_INPUT"},
		{ErrInputTooLong, "INPUT_TOO_LONG"},
		{ErrPromptInjection, "PROMPT_INJECTION_DETECTED"},
		{ErrInvalidInput, "VALIDATION_ERROR"},
		{ErrRateLimited, "RATE_LIMIT_EXCEEDED"},
		{ErrLockTimeout, "SERVICE_UNAVAILABLE"},
		{ErrLLMFailure, "SERVICE_UNAVAILABLE"},
		{errors.New("mystery"), "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		if got := ErrorCode(WithContext(tc.err, nil)); got != tc.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
