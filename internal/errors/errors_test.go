package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrBrokerUnavailable, cause)

	if err.Code != ErrBrokerUnavailable.Code {
		t.Errorf("code = %q, want %q", err.Code, ErrBrokerUnavailable.Code)
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error should unwrap to its cause")
	}
	if !errors.Is(err, ErrBrokerUnavailable) {
		t.Error("wrapped error should match its sentinel")
	}
	if errors.Is(err, ErrInsufficientFunds) {
		t.Error("wrapped error should not match a different sentinel")
	}
}

func TestWithMessage(t *testing.T) {
	err := WithMessage(ErrInvalidInput, "unknown job")
	if err.Message != "unknown job" {
		t.Errorf("message = %q", err.Message)
	}
	if err.StatusCode != ErrInvalidInput.StatusCode {
		t.Errorf("status = %d, want %d", err.StatusCode, ErrInvalidInput.StatusCode)
	}
	if !errors.Is(fmt.Errorf("ctx: %w", err), ErrInvalidInput) {
		t.Error("errors.Is should see through fmt wrapping")
	}
}
