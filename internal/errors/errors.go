// Package errors defines the structured application error type and the
// rendering pipeline error taxonomy.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeValidation indicates an invalid job spec; reported at submission, never retried.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeUnsafeContent indicates the SVG sanitizer rejected the document; never retried.
	ErrCodeUnsafeContent ErrorCode = "unsafe_content"
	// ErrCodeMalformedSVG indicates the SVG parser could not extract required structure; never retried.
	ErrCodeMalformedSVG ErrorCode = "malformed_svg"
	// ErrCodeLayoutOverflow indicates the spec under-provisions ticket slots; never retried.
	ErrCodeLayoutOverflow ErrorCode = "layout_overflow"
	// ErrCodeRenderingUnavailable indicates the required external renderer is missing; not retried
	// unless a later probe flips the capability state.
	ErrCodeRenderingUnavailable ErrorCode = "rendering_unavailable"
	// ErrCodeRenderIO indicates a transient rendering failure; retried up to the ceiling.
	ErrCodeRenderIO ErrorCode = "render_io"
	// ErrCodeStorage indicates a transient storage failure; retried up to the ceiling.
	ErrCodeStorage ErrorCode = "storage"
	// ErrCodeStaleLock indicates a worker lease expired mid-job; triggers requeue, not a user failure.
	ErrCodeStaleLock ErrorCode = "stale_lock"
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
)

// AppError is a structured application error with a code, message and optional cause.
// It supports errors.Is and errors.As through Unwrap.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
	// Field is the spec field that caused a validation error (optional).
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error, preserving the cause for errors.Is/As.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// UnsafeContent creates an unsafe_content error for a rejected SVG construct.
func UnsafeContent(message string) *AppError {
	return New(ErrCodeUnsafeContent, message)
}

// UnsafeContentf creates an unsafe_content error with a formatted message.
func UnsafeContentf(format string, args ...any) *AppError {
	return Newf(ErrCodeUnsafeContent, format, args...)
}

// MalformedSVG creates a malformed_svg error.
func MalformedSVG(message string) *AppError {
	return New(ErrCodeMalformedSVG, message)
}

// MalformedSVGf creates a malformed_svg error with a formatted message.
func MalformedSVGf(format string, args ...any) *AppError {
	return Newf(ErrCodeMalformedSVG, format, args...)
}

// LayoutOverflowf creates a layout_overflow error with a formatted message.
func LayoutOverflowf(format string, args ...any) *AppError {
	return Newf(ErrCodeLayoutOverflow, format, args...)
}

// RenderingUnavailable creates a rendering_unavailable error.
func RenderingUnavailable(message string) *AppError {
	return New(ErrCodeRenderingUnavailable, message)
}

// RenderIO wraps a transient rendering failure.
func RenderIO(err error, message string) *AppError {
	return Wrap(err, ErrCodeRenderIO, message)
}

// Storage wraps a transient storage failure.
func Storage(err error, message string) *AppError {
	return Wrap(err, ErrCodeStorage, message)
}

// Validation creates a validation error.
func Validation(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// ValidationField creates a validation error for a specific spec field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// NotFoundf creates a not_found error with a formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return Newf(ErrCodeNotFound, format, args...)
}

// GetCode returns the ErrorCode carried by err, or empty string for plain errors.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return isCode(err, ErrCodeValidation) }

// IsUnsafeContent reports whether err is an unsafe_content error.
func IsUnsafeContent(err error) bool { return isCode(err, ErrCodeUnsafeContent) }

// IsMalformedSVG reports whether err is a malformed_svg error.
func IsMalformedSVG(err error) bool { return isCode(err, ErrCodeMalformedSVG) }

// IsLayoutOverflow reports whether err is a layout_overflow error.
func IsLayoutOverflow(err error) bool { return isCode(err, ErrCodeLayoutOverflow) }

// IsRenderingUnavailable reports whether err is a rendering_unavailable error.
func IsRenderingUnavailable(err error) bool { return isCode(err, ErrCodeRenderingUnavailable) }

// IsNotFound reports whether err is a not_found error.
func IsNotFound(err error) bool { return isCode(err, ErrCodeNotFound) }

// Retryable classifies an error per the propagation policy: content-safety,
// validation, layout and capability errors re-fail deterministically and are
// terminal; transient render/storage/internal failures are retried up to the
// attempt ceiling. Unclassified errors are treated as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case ErrCodeValidation,
		ErrCodeUnsafeContent,
		ErrCodeMalformedSVG,
		ErrCodeLayoutOverflow,
		ErrCodeRenderingUnavailable,
		ErrCodeNotFound:
		return false
	default:
		return true
	}
}
