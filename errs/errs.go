// Package errs defines the typed error taxonomy shared by every component.
// Each kind is a sentinel comparable with errors.Is; constructors attach
// structured context, and Wrap records call-site stack info on the wrapped
// cause via github.com/pkg/errors.WithStack.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for retry/propagation policy (see spec §7).
type Kind int

const (
	KindUnknown Kind = iota
	KindRetryableKV
	KindNonRetryableKV
	KindUniquenessViolation
	KindPartitionRequired
	KindMissingPartitionFields
	KindUnsupportedType
	KindTupleEncoding
	KindInvalidQuery
	KindValidationFailed
	KindTimeout
	KindOversizeValue
	KindUnsupportedAggregationDelete
)

func (k Kind) String() string {
	switch k {
	case KindRetryableKV:
		return "RetryableKV"
	case KindNonRetryableKV:
		return "NonRetryableKV"
	case KindUniquenessViolation:
		return "UniquenessViolation"
	case KindPartitionRequired:
		return "PartitionRequired"
	case KindMissingPartitionFields:
		return "MissingPartitionFields"
	case KindUnsupportedType:
		return "UnsupportedType"
	case KindTupleEncoding:
		return "TupleEncodingError"
	case KindInvalidQuery:
		return "InvalidQuery"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindTimeout:
		return "Timeout"
	case KindOversizeValue:
		return "OversizeValue"
	case KindUnsupportedAggregationDelete:
		return "UnsupportedAggregationDelete"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried through the system. Context is
// a free-form map so each origin can attach whatever fields it needs
// (field, value, existing_id, fields...) without growing the struct.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	cause   error
}

func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Kind, e.Message, e.Context)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is(err, errs.New(KindX, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// With attaches structured context fields, returning the same error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, 4)
	}
	e.Context[key] = value
	return e
}

// Wrap attaches a call-site cause, preserving the Kind for errors.Is checks
// while keeping the underlying error reachable via errors.Unwrap.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.WithStack(cause)}
}

// IsRetryable reports whether the transaction runtime should re-invoke the
// user closure for this error.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindRetryableKV
}

func UniquenessViolation(field string, value any, existingID string) *Error {
	return New(KindUniquenessViolation, "index key already bound to another id").
		With("field", field).With("value", value).With("existing_id", existingID)
}

func PartitionRequired(fields []string) *Error {
	return New(KindPartitionRequired, "caller must bind partition fields").With("fields", fields)
}

func MissingPartitionFields(fields []string) *Error {
	return New(KindMissingPartitionFields, "record is missing required partition fields").With("fields", fields)
}
