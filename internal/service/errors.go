package service

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by the ContactProxy matches exactly one of them with errors.Is.
var (
	// ErrConfiguration means the HubSpot token is missing.
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation means the request was malformed. No call to the CRM has been made.
	ErrValidation = errors.New("validation error")
	// ErrConnectivity means the CRM could not be reached or did not answer in time.
	ErrConnectivity = errors.New("connectivity error")
	// ErrUpstream means the CRM answered with a status the operation cannot handle.
	ErrUpstream = errors.New("upstream error")
	// ErrNotFound means the CRM confirmed that the contact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a create ran into a duplicate that could not be located afterwards.
	ErrConflict = errors.New("conflict")
)

// Error is the error type of all ContactProxy operations.
type Error struct {
	// Kind is one of the Err* sentinels above.
	Kind error
	// Op names the operation in which the error occurred, e.g. "create" or "delete-by-email".
	Op string
	// Status is the HTTP status the CRM answered with, or 0.
	Status int
	// Message is safe to show to the client.
	Message string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrNotFound) and friends work.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// httpStatus maps an error onto the status code of the local response.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrConfiguration):
		return http.StatusInternalServerError
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrConnectivity):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
