// Package remote classifies failures from the speech-to-text, chat and
// text-to-speech providers.
package remote

import (
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// ErrMissingAPIKey is returned without a network round trip when a provider
// has no credential configured.
var ErrMissingAPIKey = errors.New("api key not configured")

// ServiceError is any failure of a remote capability: unreachable,
// unauthenticated, rate limited or an error status.
type ServiceError struct {
	Service    string
	Op         string
	StatusCode int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// New builds a ServiceError with an explicit status (0 when unknown).
func New(service, op string, status int, err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Service: service, Op: op, StatusCode: status, Err: err}
}

// Wrap converts err into a ServiceError, pulling the HTTP status out of
// go-openai errors. An existing ServiceError is returned unchanged.
func Wrap(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	return &ServiceError{Service: service, Op: op, StatusCode: statusOf(err), Err: err}
}

// MissingKey is the error every client returns when its credential is empty.
func MissingKey(service, op string) error {
	return &ServiceError{Service: service, Op: op, StatusCode: http.StatusUnauthorized, Err: ErrMissingAPIKey}
}

// IsAuth reports whether err is an authentication or authorization failure.
func IsAuth(err error) bool {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		return false
	}
	return svcErr.StatusCode == http.StatusUnauthorized || svcErr.StatusCode == http.StatusForbidden
}

// IsRateLimited reports whether the provider throttled the request.
func IsRateLimited(err error) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.StatusCode == http.StatusTooManyRequests
}

func statusOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
