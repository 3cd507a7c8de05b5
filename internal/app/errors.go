package app

import (
	"fmt"
	"net/http"
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

func errValidation(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

// errGroupMissing is the FamilyMissing case: an authenticated caller with no
// active group context.
func errGroupMissing() *DomainError {
	return domainError(http.StatusBadRequest, "GROUP_MISSING", "No active group", nil)
}

// errStorage surfaces a backing-store fault. Never auto-retried; clients are
// expected to refetch authoritative state instead.
func errStorage(message string) *DomainError {
	return domainError(http.StatusInternalServerError, "STORAGE_FAILURE", message, nil)
}
