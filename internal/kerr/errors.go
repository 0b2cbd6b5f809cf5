// Package kerr provides the structured error type shared across the root
// task: every subsystem reports failures through *kerr.Error so callers can
// branch on Code without string-matching messages.
package kerr

import (
	"errors"
	"fmt"
)

// Error represents a structured root-task error with call-site context.
type Error struct {
	Op     string // operation that failed, e.g. "RETYPE", "ATTACH", "VIRTIO_PROBE"
	Phase  string // bootstrap phase in effect, if any (empty otherwise)
	Kernel int32  // raw seL4 error code (0 if not applicable)
	Code   Code   // high-level error category
	Msg    string // human-readable message
	Inner  error  // wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	if e.Kernel != 0 {
		parts = append(parts, fmt.Sprintf("kernel_err=%d", e.Kernel))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("queenroot: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("queenroot: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is compares structured errors by Code.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// Code represents a high-level error category, per the root task's error
// taxonomy: every subsystem maps its failures onto one of these.
type Code string

const (
	CodeRange            Code = "range"
	CodeInvalidArgument  Code = "invalid argument"
	CodeKernel           Code = "kernel error"
	CodeCapacity         Code = "capacity exhausted"
	CodeNotEnoughMemory  Code = "not enough memory"
	CodeInvalidCap       Code = "invalid capability"
	CodeFailedLookup     Code = "failed lookup"
	CodeNoDevice         Code = "no device"
	CodeNoQueue          Code = "no queue"
	CodeBufferExhausted  Code = "buffer exhausted"
	CodeThrottled        Code = "throttled"
	CodeRateLimited      Code = "rate limited"
	CodeUnauthenticated  Code = "unauthenticated"
	CodePermissionDenied Code = "permission denied"
	CodeQuotaExceeded    Code = "quota exceeded"
	CodeInvalidPath      Code = "invalid path"
	CodeInvalidClaims    Code = "invalid claims"
	CodeExpired          Code = "expired"
	CodeUnsupported      Code = "unsupported"
	CodeUnavailable      Code = "unavailable"
	CodeBridgeError      Code = "bridge error"
	CodeFatal            Code = "fatal"
)

// NewError creates a new structured error.
func NewError(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewKernelError creates an error carrying a raw seL4 error code.
func NewKernelError(op string, kernelErr int32, msg string) *Error {
	return &Error{Op: op, Code: CodeKernel, Kernel: kernelErr, Msg: msg}
}

// NewPhaseError creates an error tagged with the bootstrap phase that failed.
func NewPhaseError(op, phase string, code Code, msg string) *Error {
	return &Error{Op: op, Phase: phase, Code: code, Msg: msg}
}

// WrapError wraps an existing error with root-task context, preserving the
// inner error's Code when it is already structured.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if ke, ok := inner.(*Error); ok {
		return &Error{
			Op:     op,
			Phase:  ke.Phase,
			Kernel: ke.Kernel,
			Code:   ke.Code,
			Msg:    ke.Msg,
			Inner:  ke.Inner,
		}
	}
	return &Error{Op: op, Code: CodeFatal, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err is a *Error with the given Code.
func IsCode(err error, code Code) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code == code
	}
	return false
}

// mapKernelErrno maps a raw seL4 error value (seL4_Error enum ordinal) to a
// Code. The ordinals follow the kernel's seL4_Error layout: 0 is success and
// never reaches here.
func mapKernelErrno(e int32) Code {
	switch e {
	case 1: // seL4_InvalidArgument
		return CodeInvalidArgument
	case 2, 3, 4, 5, 6: // seL4_Invalid{Capability,...}, seL4_IllegalOperation family
		return CodeInvalidCap
	case 7: // seL4_RangeError
		return CodeRange
	case 8: // seL4_AlignmentError
		return CodeInvalidArgument
	case 9: // seL4_FailedLookup
		return CodeFailedLookup
	case 10: // seL4_TruncatedMessage
		return CodeKernel
	case 11: // seL4_DeleteFirst
		return CodeCapacity
	case 12: // seL4_RevokeFirst
		return CodeCapacity
	case 13: // seL4_NotEnoughMemory
		return CodeNotEnoughMemory
	default:
		return CodeKernel
	}
}

// NewKernelErrorAuto is like NewKernelError but derives Code from the raw
// seL4 error value via mapKernelErrno instead of requiring the caller to
// pick one.
func NewKernelErrorAuto(op string, kernelErr int32, msg string) *Error {
	return &Error{Op: op, Code: mapKernelErrno(kernelErr), Kernel: kernelErr, Msg: msg}
}
