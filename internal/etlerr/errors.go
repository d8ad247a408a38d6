package etlerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure for the retry policy
type Kind string

const (
	// KindUnknown is reported for errors that carry no classification
	KindUnknown Kind = "unknown"
	// KindConfiguration is fatal: bad credentials, missing dataset, incompatible schema
	KindConfiguration Kind = "configuration"
	// KindTransientSource covers warehouse timeouts, quota and availability problems
	KindTransientSource Kind = "transient_source"
	// KindTransientSink covers target database availability problems
	KindTransientSink Kind = "transient_sink"
	// KindData covers malformed records rejected by either side
	KindData Kind = "data"
)

// Error is a classified pipeline error
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind so errors.Is(err, etlerr.ErrConfiguration) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrTransientSource = &Error{Kind: KindTransientSource}
	ErrTransientSink   = &Error{Kind: KindTransientSink}
	ErrData            = &Error{Kind: KindData}
)

// New wraps err with the given kind. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Configuration(op string, err error) error {
	return New(KindConfiguration, op, err)
}

func TransientSource(op string, err error) error {
	return New(KindTransientSource, op, err)
}

func TransientSink(op string, err error) error {
	return New(KindTransientSink, op, err)
}

func Data(op string, err error) error {
	return New(KindData, op, err)
}

// KindOf returns the kind of the outermost classified error in the chain.
// Bare context deadline errors are treated as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientSource
	}
	return KindUnknown
}

// IsRetryable reports whether the next scheduled cycle may succeed without operator action.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransientSource, KindTransientSink, KindUnknown:
		return true
	default:
		return false
	}
}
