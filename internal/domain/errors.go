package domain

import (
	"errors"
	"fmt"
)

// TransferErrorKind classifies a failed transfer or playback artifact
type TransferErrorKind string

const (
	ErrorKindHTTPStatus         TransferErrorKind = "http_status"
	ErrorKindMissingFilename    TransferErrorKind = "missing_filename"
	ErrorKindInvalidDestination TransferErrorKind = "invalid_destination"
	ErrorKindNotAVideo          TransferErrorKind = "not_a_video"
	ErrorKindNetwork            TransferErrorKind = "network"
	ErrorKindCancelled          TransferErrorKind = "cancelled"
)

// TransferError is the typed error surfaced by transfers and artifact checks
type TransferError struct {
	Kind       TransferErrorKind
	StatusCode int
	Err        error
}

// Error implements error
func (e *TransferError) Error() string {
	switch e.Kind {
	case ErrorKindHTTPStatus:
		return fmt.Sprintf("transfer failed: http status %d", e.StatusCode)
	case ErrorKindNetwork:
		if e.Err != nil {
			return fmt.Sprintf("transfer failed: network error: %v", e.Err)
		}
		return "transfer failed: network error"
	default:
		if e.Err != nil {
			return fmt.Sprintf("transfer failed: %s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("transfer failed: %s", e.Kind)
	}
}

// Unwrap returns the underlying cause
func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is matches another *TransferError of the same kind. A target with a zero
// StatusCode matches any status.
func (e *TransferError) Is(target error) bool {
	t, ok := target.(*TransferError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.StatusCode == 0 || t.StatusCode == e.StatusCode
}

var (
	ErrMissingFilename    = &TransferError{Kind: ErrorKindMissingFilename}
	ErrInvalidDestination = &TransferError{Kind: ErrorKindInvalidDestination}
	ErrNotAVideo          = &TransferError{Kind: ErrorKindNotAVideo}
	ErrNetwork            = &TransferError{Kind: ErrorKindNetwork}
	ErrCancelled          = &TransferError{Kind: ErrorKindCancelled}
	ErrHTTPStatus         = &TransferError{Kind: ErrorKindHTTPStatus}
)

// NewHTTPStatusError returns the error for a non-2xx response
func NewHTTPStatusError(code int) *TransferError {
	return &TransferError{Kind: ErrorKindHTTPStatus, StatusCode: code}
}

// NewNetworkError wraps a transport-level failure
func NewNetworkError(err error) *TransferError {
	return &TransferError{Kind: ErrorKindNetwork, Err: err}
}

// NewNotAVideoError records why an artifact was rejected
func NewNotAVideoError(reason error) *TransferError {
	return &TransferError{Kind: ErrorKindNotAVideo, Err: reason}
}

// ErrTokenUnavailable means a token producer could not supply a credential
var ErrTokenUnavailable = errors.New("auth token unavailable")

// AuthError is returned when auth headers cannot be produced. The request is
// never sent in that case.
type AuthError struct {
	Mode AuthMode
	Err  error
}

// Error implements error
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v: %v", e.Mode, ErrTokenUnavailable, e.Err)
	}
	return fmt.Sprintf("auth %s: %v", e.Mode, ErrTokenUnavailable)
}

// Unwrap exposes both the sentinel and the producer's cause
func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTokenUnavailable}
	}
	return []error{ErrTokenUnavailable, e.Err}
}

var (
	ErrTransferInProgress = errors.New("a transfer is already in progress for this session")
	ErrTransferNotFound   = errors.New("transfer not found")
	ErrManagerClosed      = errors.New("transfer manager closed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionTerminal    = errors.New("session already finished, start a new session")
	ErrSessionDisposed    = errors.New("session disposed")
)

// ErrorKind returns the kind label of err for logs and API responses
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var transferErr *TransferError
	if errors.As(err, &transferErr) {
		return string(transferErr.Kind)
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return "token_unavailable"
	}
	return "internal"
}

// UserMessage returns a short message for the presentation layer. It never
// includes raw transport error text.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var transferErr *TransferError
	if errors.As(err, &transferErr) {
		switch transferErr.Kind {
		case ErrorKindHTTPStatus:
			return fmt.Sprintf("The recorder answered with status %d.", transferErr.StatusCode)
		case ErrorKindMissingFilename:
			return "No file name was given for the clip."
		case ErrorKindInvalidDestination:
			return "The clip file name is not allowed."
		case ErrorKindNotAVideo:
			return "The downloaded file is not a playable video."
		case ErrorKindNetwork:
			return "Could not reach the recorder."
		case ErrorKindCancelled:
			return "Cancelled."
		}
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return "Could not obtain credentials for the recorder."
	}
	return "Playback failed."
}
