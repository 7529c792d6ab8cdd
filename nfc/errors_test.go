package nfc

import (
	"errors"
	"fmt"
	"testing"
)

func TestNFCError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *NFCError
		expected string
	}{
		{
			name: "with op and message",
			err: &NFCError{
				Code:    ErrCodeNotSupported,
				Op:      "Publish",
				Message: "operation not supported",
			},
			expected: "Publish: operation not supported",
		},
		{
			name: "with op, message, and cause",
			err: &NFCError{
				Code:    ErrCodeNoDevice,
				Op:      "Open",
				Message: "no proximity device available",
				Cause:   errors.New("reader unplugged"),
			},
			expected: "Open: no proximity device available: reader unplugged",
		},
		{
			name: "message only",
			err: &NFCError{
				Code:    ErrCodeMalformedRecord,
				Message: "malformed record",
			},
			expected: "malformed record",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("NFCError.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNFCError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewTransportError("publication", cause)

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("NFCError.Unwrap() = %v, want %v", unwrapped, cause)
	}

	if unwrapped := NewSessionClosedError("Publish").Unwrap(); unwrapped != nil {
		t.Errorf("NFCError.Unwrap() = %v, want nil", unwrapped)
	}
}

func TestNFCError_Is(t *testing.T) {
	err := Errorf(ErrCodeTruncatedPayload, "DecodeMime", "payload is %d bytes", 200)
	wrapped := fmt.Errorf("read screen: %w", err)

	if !errors.Is(wrapped, ErrTruncatedPayload) {
		t.Error("errors.Is(wrapped, ErrTruncatedPayload) = false, want true")
	}
	if errors.Is(wrapped, ErrMissingMimeTerminator) {
		t.Error("errors.Is(wrapped, ErrMissingMimeTerminator) = true, want false")
	}
}

func TestErrorPredicates(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		noDevice bool
		closed   bool
		codec    bool
		wantCode ErrorCode
	}{
		{"nil", nil, false, false, false, 0},
		{"plain error", errors.New("boom"), false, false, false, 0},
		{"no device", NewNoDeviceError("Open", nil), true, false, false, ErrCodeNoDevice},
		{"session closed", NewSessionClosedError("Publish"), false, true, false, ErrCodeSessionClosed},
		{"mime too long", ErrMimeTooLong, false, false, true, ErrCodeMimeTooLong},
		{"malformed record", NewMalformedRecordError("DecodePerson", nil), false, false, true, ErrCodeMalformedRecord},
		{"wrapped codec", fmt.Errorf("x: %w", ErrInvalidMimeEncoding), false, false, true, ErrCodeInvalidMimeEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNoDeviceError(tt.err); got != tt.noDevice {
				t.Errorf("IsNoDeviceError() = %v, want %v", got, tt.noDevice)
			}
			if got := IsSessionClosedError(tt.err); got != tt.closed {
				t.Errorf("IsSessionClosedError() = %v, want %v", got, tt.closed)
			}
			if got := IsCodecError(tt.err); got != tt.codec {
				t.Errorf("IsCodecError() = %v, want %v", got, tt.codec)
			}
			if got := GetErrorCode(tt.err); got != tt.wantCode {
				t.Errorf("GetErrorCode() = %v, want %v", got, tt.wantCode)
			}
		})
	}
}
