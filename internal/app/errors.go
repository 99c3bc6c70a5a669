package app

import (
	"errors"
	"fmt"
	"net/http"
)

// Kinds a DomainError can carry. Match them with errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrConflict        = errors.New("conflict")
	ErrUnavailable     = errors.New("unavailable")
	ErrStorage         = errors.New("storage error")
)

type DomainError struct {
	Kind    error
	Status  int
	Code    string
	Message string
	Details any
	cause   error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

func domainError(kind error, status int, code, message string, details any) *DomainError {
	return &DomainError{
		Kind:    kind,
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, fields map[string]string) *DomainError {
	var details any
	if len(fields) > 0 {
		details = map[string]any{"fields": fields}
	}
	return domainError(ErrValidation, http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func notFound(message string) *DomainError {
	return domainError(ErrNotFound, http.StatusNotFound, "NOT_FOUND", message, nil)
}

func forbidden(message string) *DomainError {
	return domainError(ErrForbidden, http.StatusForbidden, "FORBIDDEN", message, nil)
}

func unauthenticated() *DomainError {
	return domainError(ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
}

func storageError(err error) *DomainError {
	e := domainError(ErrStorage, http.StatusInternalServerError, "STORAGE_ERROR", "Storage error", nil)
	e.cause = err
	return e
}
