package service

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to callers. Password and certificate failures share
// CodeInvalidCredentials so a rejected login never reveals which check failed.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalid2FA         = "INVALID_2FA"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeIdentityNotFound   = "IDENTITY_NOT_FOUND"
	CodeDuplicateUsername  = "DUPLICATE_USERNAME"
	CodeDuplicateEmail     = "DUPLICATE_EMAIL"
	CodeDuplicateVote      = "DUPLICATE_VOTE"
	CodeBadRequest         = "BAD_REQUEST"
	CodeForbidden          = "FORBIDDEN"
	CodeInternal           = "INTERNAL_ERROR"
)

type AppError struct {
	HTTPStatus int
	Code       string
	Message    string
	Retryable  bool
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func NewAppError(status int, code, msg string, retryable bool, cause error) *AppError {
	return &AppError{
		HTTPStatus: status,
		Code:       code,
		Message:    msg,
		Retryable:  retryable,
		Cause:      cause,
	}
}

func IsCode(err error, code string) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == code
}

func Internal(msg string, cause error) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeInternal, msg, true, cause)
}

// invalidCredentials is the single generic rejection for phase-1 login and
// the vote-time password re-check.
func invalidCredentials(cause error) *AppError {
	return NewAppError(http.StatusUnauthorized, CodeInvalidCredentials, "invalid credentials or certificate", false, cause)
}

func invalidToken(cause error) *AppError {
	return NewAppError(http.StatusUnauthorized, CodeInvalidToken, "invalid or expired token", false, cause)
}
