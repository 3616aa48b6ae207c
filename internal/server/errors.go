// Package server provides the HTTP REST API over the publication store and
// the synthetic analytics served to the dashboard.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/publication-pipeline/internal/store"
)

// ErrInvalidCredentials indicates the admin password did not match
type ErrInvalidCredentials struct{}

func (e *ErrInvalidCredentials) Error() string {
	return "invalid password"
}

// ErrAdminDisabled indicates admin endpoints are not configured
type ErrAdminDisabled struct {
	Reason string
}

func (e *ErrAdminDisabled) Error() string {
	return fmt.Sprintf("admin access is disabled: %s", e.Reason)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		invalid  *ErrInvalidCredentials
		disabled *ErrAdminDisabled
		valid    *ErrValidation
	)
	switch {
	case errors.As(err, &invalid):
		return http.StatusUnauthorized
	case errors.As(err, &disabled):
		return http.StatusServiceUnavailable
	case errors.As(err, &valid):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
