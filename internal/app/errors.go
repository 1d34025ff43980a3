package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/failure"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch failure.KindOf(err) {
	case failure.ErrAuth:
		return http.StatusUnauthorized, "AUTH_FAILED", "Invalid name or PIN", nil
	case failure.ErrInvalidToken:
		return http.StatusUnauthorized, "SESSION_INVALID", "Please sign in", nil
	case failure.ErrExpired:
		return http.StatusUnauthorized, "SESSION_EXPIRED", "Your session expired; sign in again to resume your draft", nil
	case failure.ErrValidation:
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", causeMessage(err), nil
	case failure.ErrNotFound:
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case failure.ErrConflict:
		return http.StatusConflict, "CONFLICT", causeMessage(err), nil
	case failure.ErrStorageUnavailable, failure.ErrAllocationConflict:
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Storage is temporarily unavailable, please retry", nil
	case failure.ErrExternalService:
		return http.StatusBadGateway, "EXTERNAL_SERVICE", causeMessage(err), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// causeMessage strips the operation and kind prefixes off a classified error.
func causeMessage(err error) string {
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Err != nil {
		return fe.Err.Error()
	}
	return err.Error()
}
