package core

import "errors"

// Error codes for the sync engine error taxonomy.
const (
	ErrCodeAuth       = "auth"
	ErrCodeNetwork    = "network"
	ErrCodeProtocol   = "protocol"
	ErrCodePublish    = "publish"
	ErrCodeModeration = "moderation"
	ErrCodeValidation = "validation"
)

var (
	ErrAuth         = errors.New("authentication failed")
	ErrNetwork      = errors.New("network unavailable")
	ErrProtocol     = errors.New("protocol violation")
	ErrPublish      = errors.New("publish failed")
	ErrModeration   = errors.New("report failed")
	ErrValidation   = errors.New("invalid input")
	ErrNotConnected = errors.New("not connected")
	ErrSelfReport   = errors.New("cannot report yourself")
	ErrUnknownRoom  = errors.New("room is not subscribed")
)

// CoreError wraps a taxonomy code, a human-readable message and the cause.
type CoreError struct {
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *CoreError) Error() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error that belongs to the same code, so callers can
// write errors.Is(err, core.ErrAuth) regardless of the wrapped cause.
func (e *CoreError) Is(target error) bool {
	return codeSentinel(e.Code) == target
}

func codeSentinel(code string) error {
	switch code {
	case ErrCodeAuth:
		return ErrAuth
	case ErrCodeNetwork:
		return ErrNetwork
	case ErrCodeProtocol:
		return ErrProtocol
	case ErrCodePublish:
		return ErrPublish
	case ErrCodeModeration:
		return ErrModeration
	case ErrCodeValidation:
		return ErrValidation
	}
	return nil
}

func newError(code, msg string, retryable bool, cause error) *CoreError {
	return &CoreError{Code: code, Message: msg, Retryable: retryable, Err: cause}
}

func AuthError(msg string, cause error) *CoreError {
	return newError(ErrCodeAuth, msg, false, cause)
}

func NetworkError(msg string, cause error) *CoreError {
	return newError(ErrCodeNetwork, msg, true, cause)
}

func ProtocolError(msg string, cause error) *CoreError {
	return newError(ErrCodeProtocol, msg, false, cause)
}

func PublishError(msg string, cause error) *CoreError {
	return newError(ErrCodePublish, msg, true, cause)
}

func ModerationError(msg string, cause error) *CoreError {
	return newError(ErrCodeModeration, msg, true, cause)
}

func ValidationError(msg string, cause error) *CoreError {
	return newError(ErrCodeValidation, msg, false, cause)
}

// Code extracts the taxonomy code from err, or "" when err is not a CoreError.
func Code(err error) string {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsRetryable reports whether the caller may offer the user a retry.
func IsRetryable(err error) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
