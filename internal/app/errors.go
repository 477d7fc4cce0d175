package app

import (
	"errors"
	"fmt"
	"net/http"

	"tapestry/engine/internal/session"
	"tapestry/engine/internal/store"
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

// classify maps engine failures onto the API error taxonomy. Anything not
// recognized is a storage failure: transactional writes either committed or
// did not, so no retry is attempted here.
func classify(err error) *DomainError {
	var domain *DomainError
	switch {
	case errors.As(err, &domain):
		return domain
	case errors.Is(err, store.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Project or revision not found", nil)
	case errors.Is(err, session.ErrNoSession):
		return domainError(http.StatusConflict, "NO_ACTIVE_PROJECT", "No project is open", nil)
	default:
		return domainError(http.StatusInternalServerError, "STORAGE_FAILED", err.Error(), nil)
	}
}
