package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
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

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios. Registration policy failures are
// request-rejection outcomes reported as 4xx, never treated as system errors.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrDeadlinePassed        = New("DEADLINE_PASSED", http.StatusUnprocessableEntity, "term add/drop deadline has passed")
	ErrDuplicateEnrollment   = New("DUPLICATE_ENROLLMENT", http.StatusConflict, "student already has an active enrollment for this section")
	ErrDuplicateApproval     = New("DUPLICATE_APPROVAL_REQUEST", http.StatusConflict, "a pending approval request already exists for this section")
	ErrApprovalRequired      = New("APPROVAL_REQUIRED", http.StatusUnprocessableEntity, "advisor approval is required before registering")
	ErrOutsideWindow         = New("OUTSIDE_REGISTRATION_WINDOW", http.StatusUnprocessableEntity, "registration time ticket window is not open")
	ErrSwapUnauthorized      = New("SWAP_UNAUTHORIZED", http.StatusForbidden, "actor does not own the source enrollment")
	ErrSectionNotFound       = New("SECTION_NOT_FOUND", http.StatusNotFound, "course section not found")
	ErrEnrollmentNotFound    = New("ENROLLMENT_NOT_FOUND", http.StatusNotFound, "enrollment not found")
	ErrSectionNotOpen        = New("SECTION_NOT_OPEN", http.StatusUnprocessableEntity, "course section is not open for registration")
	ErrApprovalNotPending    = New("APPROVAL_NOT_PENDING", http.StatusConflict, "approval request already resolved")
	ErrDenialReasonRequired  = New("DENIAL_REASON_REQUIRED", http.StatusBadRequest, "a non-empty note is required to deny a request")
	ErrAdvisorNotAssigned    = New("ADVISOR_NOT_ASSIGNED", http.StatusUnprocessableEntity, "student has no assigned advisor")
	ErrApprovalNotApplicable = New("APPROVAL_NOT_APPLICABLE", http.StatusUnprocessableEntity, "student is not flagged for advisor approval")
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
