package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies bridge failures.
type Kind int

const (
	// KindInit covers collaborator resolution and construction failures.
	KindInit Kind = iota + 1
	// KindNotReady is a call made before a successful Initialize.
	KindNotReady
	// KindMarshal is a field set that could not be built; the call is skipped.
	KindMarshal
	// KindForeign is an exception raised by the collaborator during a call.
	KindForeign
	// KindRejected is a record refused by the admission policy.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindNotReady:
		return "not_ready"
	case KindMarshal:
		return "marshal"
	case KindForeign:
		return "foreign"
	case KindRejected:
		return "rejected"
	}
	return "unknown"
}

var (
	// ErrNotReady is wrapped by every KindNotReady error.
	ErrNotReady = errors.New("bridge: not initialized")
	// ErrAlreadyInitialized is returned by Initialize on a ready session.
	ErrAlreadyInitialized = errors.New("bridge: already initialized")
	// ErrInvalidParams is returned by Initialize when a parameter is empty.
	ErrInvalidParams = errors.New("bridge: invalid params")
)

// Error is the error type returned by Session operations.
type Error struct {
	Kind Kind
	// Op is the session operation ("initialize", "log_metric", ...).
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("bridge: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or 0 when err is not a *Error.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return 0
}
