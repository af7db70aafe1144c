package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := New(CodeConnectionFailed, "cannot reach database").
		WithComponent("sqlite").
		WithOperation("load").
		WithKey("anime:123")

	got := err.Error()
	want := "[sqlite:load] CONNECTION_FAILED: cannot reach database"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := stderrors.New("disk i/o error")
	err := New(CodeConnectionFailed, "open failed").WithCause(cause)

	if !stderrors.Is(err, cause) {
		t.Error("wrapped cause not matched by errors.Is")
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("outer: %w", New(CodeCircuitOpen, "rejected"))
	if !stderrors.Is(err, New(CodeCircuitOpen, "different message")) {
		t.Error("errors with the same code should match")
	}
	if stderrors.Is(err, New(CodeStorageBusy, "rejected")) {
		t.Error("errors with different codes should not match")
	}
}

func TestCategoryOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code Code
		want Category
	}{
		{CodeInvalidKey, CategoryValidation},
		{CodeInvalidValue, CategoryValidation},
		{CodeConnectionFailed, CategoryStorage},
		{CodeConstraintViolation, CategoryStorage},
		{CodeDeserialization, CategorySerialization},
		{CodeEnvelopeVersion, CategorySerialization},
		{CodeCircuitOpen, CategoryCircuit},
		{CodeAlreadyStarted, CategoryState},
		{CodeInternal, CategoryInternal},
	}

	for _, tt := range tests {
		if got := New(tt.code, "x").Category; got != tt.want {
			t.Errorf("category of %s = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestIsBreakerTripping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection failed", New(CodeConnectionFailed, "x"), true},
		{"connection lost", New(CodeConnectionLost, "x"), true},
		{"timeout", New(CodeOperationTimeout, "x"), true},
		{"busy", New(CodeStorageBusy, "x"), true},
		{"internal storage", New(CodeStorageInternal, "x"), true},
		{"constraint violation", New(CodeConstraintViolation, "x"), false},
		{"malformed query", New(CodeMalformedQuery, "x"), false},
		{"data too long", New(CodeDataTooLong, "x"), false},
		{"validation", New(CodeInvalidKey, "x"), false},
		{"serialization", New(CodeDeserialization, "x"), false},
		{"wrapped tripping", fmt.Errorf("op: %w", New(CodeStorageBusy, "x")), true},
		{"unclassified", stderrors.New("mystery failure"), true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsBreakerTripping(tt.err); got != tt.want {
				t.Errorf("IsBreakerTripping(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	if !IsTransient(New(CodeStorageBusy, "x")) {
		t.Error("storage busy should be transient")
	}
	if IsTransient(New(CodeConstraintViolation, "x")) {
		t.Error("constraint violations are not transient")
	}
	if IsTransient(stderrors.New("plain")) {
		t.Error("unclassified errors are not transient")
	}
	if !IsTransient(New(CodeConstraintViolation, "x").WithRetryable(true)) {
		t.Error("explicit retryable override ignored")
	}
}

func TestHelpers(t *testing.T) {
	t.Parallel()

	if !IsValidation(New(CodeInvalidKey, "x")) {
		t.Error("IsValidation failed for invalid key")
	}
	if !IsSerialization(New(CodeEnvelopeVersion, "x")) {
		t.Error("IsSerialization failed for envelope version")
	}
	if !IsCircuitOpen(fmt.Errorf("wrap: %w", New(CodeCircuitOpen, "x"))) {
		t.Error("IsCircuitOpen failed for wrapped rejection")
	}
	if IsCircuitOpen(New(CodeStorageBusy, "x")) {
		t.Error("IsCircuitOpen matched a storage error")
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	if got := CodeOf(New(CodeDataTooLong, "x")); got != CodeDataTooLong {
		t.Errorf("CodeOf = %s, want %s", got, CodeDataTooLong)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeInternal {
		t.Errorf("CodeOf(plain) = %s, want %s", got, CodeInternal)
	}
}
