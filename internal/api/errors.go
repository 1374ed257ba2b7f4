package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized is returned for a 401 response or when no admin token
	// is stored. The body of a 401 is never read.
	ErrUnauthorized = errors.New("api: unauthorized")

	// ErrMalformed means a success status carried a body of the wrong shape
	// that was not an error payload either.
	ErrMalformed = errors.New("api: malformed response")
)

// Error is a well-formed error payload from the backend.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Message)
}

// NetworkError means the request never completed.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("api: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// Message returns the server supplied message of err, or fallback.
func Message(err error, fallback string) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return fallback
}

// errorPayload extracts {"message": ...} or {"error": ...} from body.
func errorPayload(status int, body []byte) *Error {
	var env struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	msg := strings.TrimSpace(env.Message)
	if msg == "" {
		msg = strings.TrimSpace(env.Error)
	}
	if msg == "" {
		return nil
	}
	return &Error{StatusCode: status, Message: msg}
}

func statusError(status int, body []byte) error {
	if e := errorPayload(status, body); e != nil {
		return e
	}
	return &Error{StatusCode: status, Message: http.StatusText(status)}
}
