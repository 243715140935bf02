package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/print-queue/pkg/log"
)

type Kind int

const (
	ErrValidation Kind = iota
	ErrNotFound
	ErrConflict
	ErrDevice
	ErrPersistence
	ErrUnknown
)

func (k Kind) String() string {
	switch k {
	case ErrValidation:
		return "Validation"
	case ErrNotFound:
		return "NotFound"
	case ErrConflict:
		return "Conflict"
	case ErrDevice:
		return "Device"
	case ErrPersistence:
		return "Persistence"
	default:
		return "Unknown"
	}
}

// Recoverable reports whether the monitor loop may simply retry on its next tick.
// Every kind raised by this service is recoverable; the process never exits on one.
func (k Kind) Recoverable() bool {
	return true
}

type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

func Wrap(err error, kind Kind, message string) *Error {
	e := New(kind, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// Describe renders err for end users: the message and cause chain without the
// kind tag or context.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + Describe(e.Cause)
}

// KindOf returns the kind of the first *Error in err's chain, or ErrUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrUnknown
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// SafeExecute runs fn and converts a panic into an ErrUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Newf(ErrUnknown, "runtime error: %v", r)
		}
	}()

	return fn()
}

// LogRecovered logs err with its kind and reports whether it was recoverable.
func LogRecovered(scope string, err error) bool {
	if err == nil {
		return true
	}
	kind := KindOf(err)
	log.Error("%s: %v (kind=%s, retrying next tick)", scope, err, kind)
	return kind.Recoverable()
}
