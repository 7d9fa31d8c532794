package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents the failure kinds a bulk load can end with
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors, raised before any network call
	ErrCodeUsage ErrorCode = 1000

	// Cluster/data errors
	ErrCodeHostUnavailable      ErrorCode = 2000
	ErrCodeCorruptSource        ErrorCode = 2001
	ErrCodeRouting              ErrorCode = 2002
	ErrCodePartialStreamFailure ErrorCode = 2003
	ErrCodeCanceled             ErrorCode = 2004
	ErrCodeInternal             ErrorCode = 2100
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                   "OK",
	ErrCodeUsage:                "UsageError",
	ErrCodeHostUnavailable:      "HostUnavailable",
	ErrCodeCorruptSource:        "CorruptSource",
	ErrCodeRouting:              "RoutingError",
	ErrCodePartialStreamFailure: "PartialStreamFailure",
	ErrCodeCanceled:             "Canceled",
	ErrCodeInternal:             "Internal",
}

// String returns the taxonomy name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// LoadError represents a structured error with code and context
type LoadError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts LoadError to gRPC status
func (e *LoadError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *LoadError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeUsage:
		return codes.InvalidArgument
	case ErrCodeHostUnavailable:
		return codes.Unavailable
	case ErrCodeCorruptSource:
		return codes.DataLoss
	case ErrCodeRouting:
		return codes.FailedPrecondition
	case ErrCodePartialStreamFailure:
		return codes.Aborted
	case ErrCodeCanceled:
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// NewLoadError creates a new LoadError
func NewLoadError(code ErrorCode, message string, cause error) *LoadError {
	return &LoadError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *LoadError) WithDetail(key string, value interface{}) *LoadError {
	e.Details[key] = value
	return e
}

// Convenience constructors for the load taxonomy

func Usage(message string, cause error) *LoadError {
	return NewLoadError(ErrCodeUsage, message, cause)
}

func Usagef(format string, args ...interface{}) *LoadError {
	return NewLoadError(ErrCodeUsage, fmt.Sprintf(format, args...), nil)
}

func HostUnavailable(message string, cause error) *LoadError {
	return NewLoadError(ErrCodeHostUnavailable, message, cause)
}

func CorruptSource(path, reason string, cause error) *LoadError {
	return NewLoadError(ErrCodeCorruptSource, fmt.Sprintf("corrupt source file %s: %s", path, reason), cause).
		WithDetail("path", path)
}

func Routing(message string, cause error) *LoadError {
	return NewLoadError(ErrCodeRouting, message, cause)
}

func PartialStreamFailure(failed, total int, cause error) *LoadError {
	return NewLoadError(ErrCodePartialStreamFailure,
		fmt.Sprintf("streaming failed for %d of %d range units", failed, total), cause).
		WithDetail("failed_units", failed).
		WithDetail("total_units", total)
}

func Canceled(message string, cause error) *LoadError {
	return NewLoadError(ErrCodeCanceled, message, cause)
}

func InternalError(message string, cause error) *LoadError {
	return NewLoadError(ErrCodeInternal, message, cause)
}

// GetCode extracts the outermost error code from an error chain
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var le *LoadError
	if stderrors.As(err, &le) {
		return le.Code
	}
	return ErrCodeInternal
}

// Is reports whether any LoadError in the chain carries the given code
func Is(err error, code ErrorCode) bool {
	for err != nil {
		if le, ok := err.(*LoadError); ok && le.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsTransient reports whether a connection-level error is worth retrying.
// Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		default:
			return false
		}
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return stderrors.As(err, &opErr)
}
