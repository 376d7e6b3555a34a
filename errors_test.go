package nanotube

import (
	"errors"
	"os"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("AddChannel", ErrCodeInvalidParameters, "duplicate channel id")

	if err.Op != "AddChannel" {
		t.Errorf("Expected Op=AddChannel, got %s", err.Op)
	}
	if err.Code != ErrCodeInvalidParameters {
		t.Errorf("Expected Code=ErrCodeInvalidParameters, got %s", err.Code)
	}

	expected := "nanotube: duplicate channel id (op=AddChannel)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestChannelError(t *testing.T) {
	err := NewChannelError("FindChannel", "ingress", ErrCodeContractViolation, "no such channel")

	if err.Channel != "ingress" {
		t.Errorf("Expected Channel=ingress, got %s", err.Channel)
	}

	expected := "nanotube: no such channel (op=FindChannel)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestMapError(t *testing.T) {
	err := NewMapError("MapOp", 7, ErrCodeMapReject, "key not present")

	if err.MapID != 7 {
		t.Errorf("Expected MapID=7, got %d", err.MapID)
	}
}

func TestWrapError(t *testing.T) {
	inner := os.ErrNotExist
	err := WrapError("LoadDump", inner)

	if err.Code != ErrCodeInvalidParameters {
		t.Errorf("Expected Code=ErrCodeInvalidParameters, got %s", err.Code)
	}
	if !errors.Is(err, inner) {
		t.Error("Expected wrapped error to satisfy errors.Is for the inner sentinel")
	}
}

func TestWrapErrorPreservesStructuredError(t *testing.T) {
	inner := NewMapError("MapOp", 3, ErrCodeMapReject, "absent key")
	wrapped := WrapError("Arbiter.dispatch", inner)

	if wrapped.Code != ErrCodeMapReject {
		t.Errorf("Expected code to carry through, got %s", wrapped.Code)
	}
	if wrapped.MapID != 3 {
		t.Errorf("Expected MapID to carry through, got %d", wrapped.MapID)
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("Flush", ErrCodeTimeout, "graph did not idle in time")

	if !IsCode(err, ErrCodeTimeout) {
		t.Error("IsCode should return true for matching code")
	}
	if IsCode(err, ErrCodeIO) {
		t.Error("IsCode should return false for non-matching code")
	}
	if IsCode(nil, ErrCodeTimeout) {
		t.Error("IsCode should return false for nil error")
	}
}
