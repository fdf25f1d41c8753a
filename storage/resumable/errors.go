package resumable

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned for unusable Config or UploadParams values.
var ErrInvalidConfig = errors.New("invalid upload configuration")

// ErrMissingLocation is returned when the server creates a session but does not tell where it lives.
var ErrMissingLocation = errors.New("no Location header in session creation response")

// SessionCreationError is returned when the server does not answer the
// session creation request with 201 Created. It is never retried.
type SessionCreationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SessionCreationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("create upload session (HTTP %d): %s", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("create upload session: HTTP %d: %s", e.StatusCode, e.Body)
}

func (e *SessionCreationError) Unwrap() error {
	return e.Err
}

// TransferError is returned when a chunk request is answered with a status
// other than 204 No Content or 409 Conflict.
type TransferError struct {
	Offset     int64
	StatusCode int
	Body       string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("upload failed at offset %d: HTTP %d: %s", e.Offset, e.StatusCode, e.Body)
}

// ConflictUnrecoverableError is returned when the server rejected a chunk
// because of an offset mismatch and its authoritative offset is not ahead of
// the local progress.
type ConflictUnrecoverableError struct {
	LocalOffset  int64
	ServerOffset int64
	Err          error
}

func (e *ConflictUnrecoverableError) Error() string {
	msg := fmt.Sprintf("unrecoverable offset conflict: local offset %d, server offset %d", e.LocalOffset, e.ServerOffset)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictUnrecoverableError) Unwrap() error {
	return e.Err
}

// NetworkError wraps a transport level failure of a request.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies an upload failure.
type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindSessionCreation ErrorKind = "session_creation"
	KindTransfer        ErrorKind = "transfer"
	KindConflict        ErrorKind = "conflict_unrecoverable"
	KindNetwork         ErrorKind = "network"
	KindCancelled       ErrorKind = "cancelled"
	KindUnknown         ErrorKind = "unknown"
)

// Kind returns the discriminator of err. A request that timed out on its own
// is a network failure, only an aborted upload is KindCancelled.
func Kind(err error) ErrorKind {
	var (
		sessionErr  *SessionCreationError
		transferErr *TransferError
		conflictErr *ConflictUnrecoverableError
		networkErr  *NetworkError
	)

	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &sessionErr):
		return KindSessionCreation
	case errors.As(err, &conflictErr):
		return KindConflict
	case errors.As(err, &transferErr):
		return KindTransfer
	case errors.As(err, &networkErr):
		return KindNetwork
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindUnknown
	}
}
