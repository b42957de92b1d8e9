package core

import "errors"

// Error codes for relay errors. They are part of the wire contract.
const (
	ErrCodeUnauthenticated      = "unauthenticated"
	ErrCodeAlreadyAuthenticated = "already_authenticated"
	ErrCodeNotAuthorized        = "not_authorized"
	ErrCodePersistenceFailure   = "persistence_failure"
	ErrCodeMalformedEvent       = "malformed_event"
	ErrCodeRoomBusy             = "room_busy"
	ErrCodeRateLimited          = "rate_limited"
	ErrCodeUnsupportedProtocol  = "unsupported_protocol"
)

var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrPersistence          = errors.New("persistence failure")
	ErrMalformedEvent       = errors.New("malformed event")
	ErrRoomBusy             = errors.New("room busy")
	ErrRelayStopped         = errors.New("relay stopped")
	ErrNoStore              = errors.New("no store configured")
)

var codeErrors = map[string]error{
	ErrCodeUnauthenticated:      ErrUnauthenticated,
	ErrCodeAlreadyAuthenticated: ErrAlreadyAuthenticated,
	ErrCodeNotAuthorized:        ErrNotAuthorized,
	ErrCodePersistenceFailure:   ErrPersistence,
	ErrCodeMalformedEvent:       ErrMalformedEvent,
	ErrCodeRoomBusy:             ErrRoomBusy,
}

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// Unwrap maps the code to its sentinel so callers can use errors.Is.
func (e *CoreError) Unwrap() error {
	return codeErrors[e.Code]
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
