package checkin

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRateLimited marks provider errors that should move the classifier to the next model.
	ErrRateLimited = errors.New("rate limited")

	// ErrResidentNotFound is returned when a resident id does not exist.
	ErrResidentNotFound = errors.New("resident not found")

	// ErrCallLogNotFound is returned when a call log id does not exist.
	ErrCallLogNotFound = errors.New("call log not found")

	// ErrSessionConflict is returned when a session id already belongs to another resident's call log.
	ErrSessionConflict = errors.New("session belongs to another resident")

	// ErrSenderDisabled is returned by a Sender with no chat credentials; nothing was delivered.
	ErrSenderDisabled = errors.New("chat sender not configured")
)

// MissingInputError means the caller did not supply what the operation needs. Not retryable.
type MissingInputError struct {
	What string
}

func (e *MissingInputError) Error() string {
	return "missing input: " + e.What
}

// ClassificationError is a non-rate-limit failure from the LLM provider.
type ClassificationError struct {
	Model string
	Err   error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify with %s: %v", e.Model, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// AllModelsExhaustedError is returned when every model in the chain was rate limited.
type AllModelsExhaustedError struct {
	Models []string
	Err    error
}

func (e *AllModelsExhaustedError) Error() string {
	return fmt.Sprintf("all models exhausted (%s): %v", strings.Join(e.Models, ", "), e.Err)
}

func (e *AllModelsExhaustedError) Unwrap() error { return e.Err }

// MalformedResponseError means the model answered but not with a valid CallAnalysis.
type MalformedResponseError struct {
	Model   string
	Payload string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Model, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// DispatchError is a chat API transport failure; the alert was not delivered.
type DispatchError struct {
	Recipient ChatAddress
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch alert to %s: %v", e.Recipient, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// PersistenceError is a store failure; fatal for the current event.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
