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

var (
	errForbidden       = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errPendingApproval = domainError(http.StatusForbidden, "PENDING_APPROVAL", "Account is awaiting admin approval", nil)
	errNoAttachments   = domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "File storage is not configured", nil)
)

func notFound(entity string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", entity+" not found", nil)
}
