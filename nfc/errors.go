package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of NFC error for programmatic handling.
type ErrorCode int

const (
	// Device and session errors (100-199)
	ErrCodeNoDevice ErrorCode = iota + 100
	ErrCodeSessionClosed
	ErrCodeNotSupported
	ErrCodeTransportFailed
	ErrCodeReadOnly
	ErrCodeCapacityExceeded
)

const (
	// Codec errors (200-299)
	ErrCodeMimeTooLong ErrorCode = iota + 200
	ErrCodeMissingMimeTerminator
	ErrCodeTruncatedPayload
	ErrCodeInvalidMimeEncoding
	ErrCodeMalformedRecord
	ErrCodeInvalidProtocolID
)

// Sentinel errors for use with errors.Is. Matching is by Code only.
var (
	ErrNoDevice              = &NFCError{Code: ErrCodeNoDevice, Message: "no proximity device available"}
	ErrSessionClosed         = &NFCError{Code: ErrCodeSessionClosed, Message: "session is closed"}
	ErrNotSupported          = &NFCError{Code: ErrCodeNotSupported, Message: "operation not supported"}
	ErrTransportFailed       = &NFCError{Code: ErrCodeTransportFailed, Message: "transport failed"}
	ErrReadOnly              = &NFCError{Code: ErrCodeReadOnly, Message: "tag is read-only"}
	ErrCapacityExceeded      = &NFCError{Code: ErrCodeCapacityExceeded, Message: "data exceeds tag capacity"}
	ErrMimeTooLong           = &NFCError{Code: ErrCodeMimeTooLong, Message: "mime type too long"}
	ErrMissingMimeTerminator = &NFCError{Code: ErrCodeMissingMimeTerminator, Message: "mime type terminator not found"}
	ErrTruncatedPayload      = &NFCError{Code: ErrCodeTruncatedPayload, Message: "payload shorter than mime header"}
	ErrInvalidMimeEncoding   = &NFCError{Code: ErrCodeInvalidMimeEncoding, Message: "mime type is not valid text"}
	ErrMalformedRecord       = &NFCError{Code: ErrCodeMalformedRecord, Message: "malformed record"}
	ErrInvalidProtocolID     = &NFCError{Code: ErrCodeInvalidProtocolID, Message: "invalid protocol id"}
)

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "Publish", "DecodeMime")
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewNoDeviceError creates an error for a missing or disabled proximity device.
func NewNoDeviceError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeNoDevice,
		Op:      op,
		Message: "no proximity device available",
		Cause:   cause,
	}
}

// NewSessionClosedError creates an error for operations on a closed session.
func NewSessionClosedError(op string) *NFCError {
	return &NFCError{
		Code:    ErrCodeSessionClosed,
		Op:      op,
		Message: "session is closed",
	}
}

// NewNotSupportedError creates an error for unsupported operations.
func NewNotSupportedError(op string) *NFCError {
	return &NFCError{
		Code:    ErrCodeNotSupported,
		Op:      op,
		Message: "operation not supported",
	}
}

// NewTransportError creates an error for platform transport failures.
func NewTransportError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeTransportFailed,
		Op:      op,
		Message: "transport failed",
		Cause:   cause,
	}
}

// NewMalformedRecordError creates an error for records that cannot be parsed.
func NewMalformedRecordError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeMalformedRecord,
		Op:      op,
		Message: "malformed record",
		Cause:   cause,
	}
}

// IsNoDeviceError checks if an error indicates a missing proximity device.
func IsNoDeviceError(err error) bool {
	return GetErrorCode(err) == ErrCodeNoDevice
}

// IsSessionClosedError checks if an error indicates a closed session.
func IsSessionClosedError(err error) bool {
	return GetErrorCode(err) == ErrCodeSessionClosed
}

// IsNotSupportedError checks if an error indicates an unsupported operation.
func IsNotSupportedError(err error) bool {
	return GetErrorCode(err) == ErrCodeNotSupported
}

// IsCodecError reports whether err came from the mime or record codecs.
// Codec errors are local to a single payload and never affect a session.
func IsCodecError(err error) bool {
	code := GetErrorCode(err)
	return code >= ErrCodeMimeTooLong && code <= ErrCodeInvalidProtocolID
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns 0 if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}

// WrapError wraps an existing error with NFC context.
func WrapError(code ErrorCode, op, message string, cause error) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates an NFCError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...any) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}
