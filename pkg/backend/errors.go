package backend

import (
	"errors"
	"fmt"
	"strings"
)

// AuthRejectedError is returned when a server rejects the given credentials.
// It is distinct from network and server errors.
type AuthRejectedError struct {
	Username string
	URL      string
}

func (e *AuthRejectedError) Error() string {
	return fmt.Sprintf("credentials of %q rejected by %s", e.Username, e.URL)
}

// BadRequestError is a 4xx response carrying the server's error body.
type BadRequestError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, strings.TrimSpace(e.Body))
}

// ResponseError is any other unexpected response.
type ResponseError struct {
	StatusCode int
	Method     string
	URL        string
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// IsAuthRejected reports whether err is an AuthRejectedError.
func IsAuthRejected(err error) bool {
	var e *AuthRejectedError
	return errors.As(err, &e)
}

// AsBadRequest returns the BadRequestError in err's chain, if any.
func AsBadRequest(err error) (*BadRequestError, bool) {
	var e *BadRequestError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsInvalidURL reports whether the server rejected a URL in the request as invalid.
func IsInvalidURL(err error) bool {
	e, ok := AsBadRequest(err)
	return ok && strings.Contains(e.Body, "valid URL")
}
