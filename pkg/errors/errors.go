package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes into the categories callers branch on.
type Kind string

const (
	KindValidation  Kind = "VALIDATION"
	KindConflict    Kind = "CONFLICT"
	KindCapacity    Kind = "CAPACITY"
	KindEligibility Kind = "ELIGIBILITY"
	KindState       Kind = "STATE"
	KindPartialUndo Kind = "PARTIAL_UNDO"
	KindNotFound    Kind = "NOT_FOUND"
	KindAuth        Kind = "AUTH"
	KindInternal    Kind = "INTERNAL"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string      `json:"code"`
	Kind    Kind        `json:"kind"`
	Message string      `json:"message"`
	Status  int         `json:"status"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so errors.Is works against the
// predefined values even after Clone or Wrap.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

var kindsByCode = map[string]Kind{}

// New creates a new Error instance and records its kind for later lookups by code.
func New(code string, kind Kind, status int, message string) *Error {
	kindsByCode[code] = kind
	return &Error{Code: code, Kind: kind, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	kind, ok := kindsByCode[code]
	if !ok {
		kind = KindInternal
	}
	return &Error{Code: code, Kind: kind, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", KindNotFound, http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", KindAuth, http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", KindAuth, http.StatusUnauthorized, "unauthorized")
	ErrValidation   = New("VALIDATION_ERROR", KindValidation, http.StatusBadRequest, "validation failed")
	ErrDayMismatch  = New("DAY_MISMATCH", KindValidation, http.StatusBadRequest, "date does not fall on the slot weekday")
	ErrConflict     = New("CONFLICT", KindConflict, http.StatusConflict, "conflict")
	ErrSlotFull     = New("SLOT_FULL", KindCapacity, http.StatusConflict, "slot has no free capacity")
	ErrInternal     = New("INTERNAL_ERROR", KindInternal, http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", KindInternal, http.StatusInternalServerError, "cache miss")

	ErrCreditExpired     = New("CREDIT_EXPIRED", KindEligibility, http.StatusUnprocessableEntity, "credit expired")
	ErrCreditExhausted   = New("CREDIT_EXHAUSTED", KindEligibility, http.StatusUnprocessableEntity, "credit has no remaining uses")
	ErrIneligibleAbsence = New("INELIGIBLE_ABSENCE", KindEligibility, http.StatusUnprocessableEntity, "absence notice is not eligible for credit")
	ErrModalityMismatch  = New("MODALITY_MISMATCH", KindEligibility, http.StatusUnprocessableEntity, "credit is restricted to another modality")

	ErrAlreadyResolved = New("ALREADY_RESOLVED", KindState, http.StatusConflict, "occurrence already has an active resolution")
	ErrSameDay         = New("SAME_DAY", KindState, http.StatusUnprocessableEntity, "target date equals source date")
	ErrWindowExceeded  = New("WINDOW_EXCEEDED", KindState, http.StatusUnprocessableEntity, "target date outside the reschedule window")
	ErrInvalidState    = New("INVALID_STATE", KindState, http.StatusConflict, "operation not allowed in current state")

	ErrPartialUndo = New("PARTIAL_UNDO", KindPartialUndo, http.StatusConflict, "undo completed partially; manual reconciliation required")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithDetails returns a copy of err carrying a machine readable payload.
func WithDetails(err *Error, message string, details interface{}) *Error {
	clone := Clone(err, message)
	if clone != nil {
		clone.Details = details
	}
	return clone
}

// KindOf reports the category of err, INTERNAL for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return FromError(err).Kind
}

// IsExpected reports whether err is a routine business rejection rather than a fault.
func IsExpected(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindConflict, KindCapacity, KindEligibility, KindState, KindNotFound, KindAuth:
		return true
	default:
		return false
	}
}
