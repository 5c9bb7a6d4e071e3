package catalog

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	ERROR_CONFLICT     ErrorKind = "conflict"
	ERROR_VALIDATION   ErrorKind = "validation"
	ERROR_NOT_FOUND    ErrorKind = "not-found"
	ERROR_UNAUTHORIZED ErrorKind = "unauthorized"
	ERROR_UNAVAILABLE  ErrorKind = "unavailable"
)

// CatalogError is returned by every catalog operation that fails.
type CatalogError struct {
	Kind    ErrorKind
	Op      string
	Key     Key
	Status  int
	Message string
	Err     error
}

func (e *CatalogError) Error() string {
	target := e.Key.String()
	if e.Key.Identifier == "" {
		target = e.Key.Blueprint
	}

	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if e.Status != 0 {
		return fmt.Sprintf("%s %s failed (%s, status %d): %s", e.Op, target, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s %s failed (%s): %s", e.Op, target, e.Kind, msg)
}

func (e *CatalogError) Unwrap() error {
	return e.Err
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusConflict:
		return ERROR_CONFLICT
	case status == http.StatusNotFound:
		return ERROR_NOT_FOUND
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ERROR_UNAUTHORIZED
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ERROR_VALIDATION
	}
	return ERROR_UNAVAILABLE
}

// IsKind reports whether err is a CatalogError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *CatalogError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}
