// Package failure defines the error kinds shared by the intake services.
//
// Kinds are sentinel errors. Callers wrap a cause with a kind via New or Wrap
// and test for it with errors.Is; the underlying cause stays reachable.
package failure

import (
	"errors"
	"fmt"
)

var (
	ErrAuth               = errors.New("authentication failed")
	ErrExpired            = errors.New("session expired")
	ErrInvalidToken       = errors.New("invalid session token")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrAllocationConflict = errors.New("allocation conflict")
	ErrExternalService    = errors.New("external service failure")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("conflict")
)

var kinds = []error{
	ErrAuth,
	ErrExpired,
	ErrInvalidToken,
	ErrStorageUnavailable,
	ErrAllocationConflict,
	ErrExternalService,
	ErrNotFound,
	ErrValidation,
	ErrConflict,
}

// Error attaches a kind and the failing operation to a cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ErrorKind reports the sentinel kind.
func (e *Error) ErrorKind() error {
	if e == nil {
		return nil
	}
	return e.Kind
}

// New returns an error of the given kind with a formatted message as cause.
func New(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches kind to err. A nil err yields nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the first known kind found in err's chain, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var classified interface{ ErrorKind() error }
	if errors.As(err, &classified) {
		if kind := classified.ErrorKind(); kind != nil {
			return kind
		}
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Is reports whether err carries kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
