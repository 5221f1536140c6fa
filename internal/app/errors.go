package app

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownPeer    = errors.New("unknown peer")
	ErrUnknownContent = errors.New("unknown content")
	ErrIllegalState   = errors.New("operation not allowed in current state")
	ErrCallCancelled  = errors.New("call cancelled before the offer was sent")
)

// ErrorCode classifies a failed telephony operation for the caller.
type ErrorCode int

const (
	GeneralError ErrorCode = iota + 1
	NotFound
	InternalError
	IllegalArgument
)

func (c ErrorCode) String() string {
	switch c {
	case NotFound:
		return "not-found"
	case InternalError:
		return "internal-error"
	case IllegalArgument:
		return "illegal-argument"
	default:
		return "general-error"
	}
}

// OperationError is returned by call setup and control operations.
type OperationError struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *OperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *OperationError) Unwrap() error { return e.Err }

func opError(code ErrorCode, err error, format string, args ...any) *OperationError {
	return &OperationError{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first OperationError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Code, true
	}
	return 0, false
}
