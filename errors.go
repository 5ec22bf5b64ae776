package session

import (
	"errors"
	"fmt"

	"go.pilab.hu/session/store"
)

var (
	// ErrMalformedResponse is returned when the configured user field path
	// cannot be resolved in a response body.
	ErrMalformedResponse = errors.New("malformed response: user field not found")

	// ErrMissingTokens is returned when a required token field path cannot
	// be resolved in a response body. No store write happens in that case.
	ErrMissingTokens = errors.New("missing tokens in response")

	// ErrNoRefreshToken is returned when a refresh is attempted while no
	// refresh token is stored, or refresh is not configured at all.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// StorageError is the persistence-medium failure kind, kept distinct from
// protocol errors. It is produced by the store layer and re-exported here so
// callers can branch on it without importing the store package.
type StorageError = store.Error

// RequestFailedError reports a non-success status from a configured endpoint.
type RequestFailedError struct {
	Status   int
	Endpoint string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request to %s failed with status %d", e.Endpoint, e.Status)
}
