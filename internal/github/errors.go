package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/achievio/badgehunter/internal/retry"
)

// APIError is any non-2xx response, carrying enough for the retry policy's
// classification: the HTTP status, GitHub's machine-readable message, and
// whether the response was a primary or secondary rate-limit rejection.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Throttled bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) RetryClass() retry.Class {
	if e.Throttled || e.Status == http.StatusTooManyRequests {
		return retry.ClassThrottled
	}
	switch {
	case e.Status == http.StatusUnauthorized:
		return retry.ClassAuth
	case e.Status == http.StatusForbidden:
		return retry.ClassAuth
	case e.Status == http.StatusNotFound, e.Status == http.StatusUnprocessableEntity,
		e.Status == http.StatusBadRequest, e.Status == http.StatusConflict:
		return retry.ClassValidation
	case e.Status >= 500:
		return retry.ClassTransient
	default:
		return retry.ClassTransient
	}
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsAlreadyExists matches the 422 GitHub returns when creating a ref or
// pull request that already exists, which the idempotent step replay
// treats as success.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnprocessableEntity {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "already exists")
}
