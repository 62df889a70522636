package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"ack timeout", ErrAckTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"link degraded", ErrLinkDegraded, true},
		{"actuator write", ErrActuatorWrite, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"checksum failed", ErrChecksumFailed, false},
		{"unknown peer", ErrUnknownPeer, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"network error", fmt.Errorf("network send failed"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"unknown peer", ErrUnknownPeer, true},
		{"unknown role", ErrUnknownRole, true},
		{"broken chain", ErrBrokenChain, true},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"ack timeout", ErrAckTimeout, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsFatal(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"decode failed", ErrDecodeFailed, true},
		{"unknown version", ErrUnknownVersion, true},
		{"unknown payload", ErrUnknownPayload, true},
		{"checksum failed", ErrChecksumFailed, true},
		{"truncated", ErrTruncated, true},
		{"dimension mismatch", ErrDimensionMismatch, true},
		{"ack timeout", ErrAckTimeout, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil defaults to transient", nil, ErrorTransient},
		{"decode error is invalid", ErrDecodeFailed, ErrorInvalid},
		{"topology error is fatal", ErrUnknownPeer, ErrorFatal},
		{"ack timeout is transient", ErrAckTimeout, ErrorTransient},
		{"unknown defaults to transient", errors.New("mystery"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("socket closed")
	wrapped := Wrap(base, "ReliableLink", "Send", "datagram write")

	if wrapped == nil {
		t.Fatal("expected non-nil wrapped error")
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should unwrap to base")
	}
	expected := "ReliableLink.Send: datagram write failed: socket closed"
	if wrapped.Error() != expected {
		t.Errorf("expected %q, got %q", expected, wrapped.Error())
	}

	if Wrap(nil, "c", "m", "a") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("underlying")

	transient := WrapTransient(base, "comp", "op", "action")
	if !IsTransient(transient) {
		t.Error("WrapTransient result should classify as transient")
	}
	if !errors.Is(transient, base) {
		t.Error("classified error should unwrap to base")
	}

	invalid := WrapInvalid(base, "comp", "op", "action")
	if !IsInvalid(invalid) {
		t.Error("WrapInvalid result should classify as invalid")
	}

	fatal := WrapFatal(base, "comp", "op", "action")
	if !IsFatal(fatal) {
		t.Error("WrapFatal result should classify as fatal")
	}

	if !strings.Contains(fatal.Error(), "comp.op") {
		t.Errorf("classified message should carry component context, got %q", fatal.Error())
	}
}

func TestClassifiedError_Unwrap(t *testing.T) {
	base := ErrLinkDegraded
	ce := WrapTransient(base, "ReservoirNode", "receive", "inbound link")

	var classified *ClassifiedError
	if !errors.As(ce, &classified) {
		t.Fatal("expected *ClassifiedError")
	}
	if classified.Component != "ReservoirNode" {
		t.Errorf("expected component ReservoirNode, got %s", classified.Component)
	}
	if !errors.Is(ce, ErrLinkDegraded) {
		t.Error("should unwrap to ErrLinkDegraded sentinel")
	}
}
