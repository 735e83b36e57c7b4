package coins

import (
	"errors"
	"testing"
)

func TestWrapErrorFormatsSegments(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("store", "account", "save", ErrConcurrentModification)
	expected := "store.account.save: concurrent modification"
	if wrapped.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrapped.Error())
	}
	if !errors.Is(wrapped, ErrConcurrentModification) {
		test.Fatalf("expected wrapped error to match sentinel")
	}
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected OperationError")
	}
	if operationError.Operation() != "store" || operationError.Subject() != "account" || operationError.Code() != "save" {
		test.Fatalf("unexpected segments: %+v", operationError)
	}
}

func TestWrapErrorPassesNilThrough(test *testing.T) {
	test.Parallel()
	if WrapError("store", "account", "save", nil) != nil {
		test.Fatalf("expected nil for nil error")
	}
}
