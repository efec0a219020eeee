package client

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrServerUnreachable = errors.New("server can't be reached")
	ErrBadURL            = errors.New("invalid URL")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrUserAlreadyExists = errors.New("username already in use")
)

// RemoteError is an error response the server sent that no other error kind covers.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error (%d)", e.Status)
	}
	return fmt.Sprintf("remote error (%d): %s", e.Status, e.Message)
}

// statusMapping turns an HTTP status into one of the sentinel errors above.
// Statuses without an entry become *RemoteError.
type statusMapping map[int]mappedError

type mappedError struct {
	kind error
	hint string
}

var (
	storyCreateStatuses = statusMapping{
		400: {ErrBadURL, "please input a valid URL"},
		401: {ErrNotAuthenticated, "session expired, please log in again"},
	}
	signupStatuses = statusMapping{
		409: {ErrUserAlreadyExists, ""},
	}
	loginStatuses = statusMapping{
		401: {ErrNotAuthenticated, "incorrect username or password"},
	}
	authenticatedStatuses = statusMapping{
		401: {ErrNotAuthenticated, "session expired, please log in again"},
	}
)

func (m statusMapping) errorFor(status int, message string) error {
	if mapped, ok := m[status]; ok {
		switch {
		case mapped.hint != "":
			return fmt.Errorf("%w: %s", mapped.kind, mapped.hint)
		case message != "":
			return fmt.Errorf("%w: %s", mapped.kind, message)
		default:
			return mapped.kind
		}
	}
	return &RemoteError{Status: status, Message: message}
}

func unreachable(err error) error {
	return fmt.Errorf("%w: %w", ErrServerUnreachable, err)
}
