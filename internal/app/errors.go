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
	errDocumentNotFound = domainError(http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document not found or access denied", nil)
	errNoEditPermission = domainError(http.StatusForbidden, "NO_EDIT_PERMISSION", "No edit permission", nil)
	errOwnerOnlyShare   = domainError(http.StatusForbidden, "OWNER_ONLY", "Only document owner can share", nil)
	errUserNotFound     = domainError(http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
)

func validationError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}
