// Package apxerr defines the error kinds shared across the APX stack
// (spec.md §7) and a Kind-carrying error type wrapped with
// github.com/pkg/errors for call-site context.
package apxerr

import "github.com/pkg/errors"

// Kind is a closed set of error classifications. Unlike exceptions, a Kind
// is a value returned alongside (or instead of) a result; callers branch on
// it directly rather than type-switching on an error tree.
type Kind uint8

const (
	NoError Kind = iota
	InvalidArgument
	Mem
	BufferBoundary
	MissingBuffer
	Length
	ValueType
	ValueRange
	InvalidProgram
	InvalidInstruction
	InvalidName
	UnsupportedVersion
	NotImplemented
	Connection
	Parse
	NodeAlreadyExists
	NodeMissing
	DataNotProcessed
)

func (k Kind) String() string {
	switch k {
	case NoError:
		return "no error"
	case InvalidArgument:
		return "invalid argument"
	case Mem:
		return "out of memory"
	case BufferBoundary:
		return "buffer boundary"
	case MissingBuffer:
		return "missing buffer"
	case Length:
		return "length error"
	case ValueType:
		return "value type error"
	case ValueRange:
		return "value range error"
	case InvalidProgram:
		return "invalid program"
	case InvalidInstruction:
		return "invalid instruction"
	case InvalidName:
		return "invalid name"
	case UnsupportedVersion:
		return "unsupported version"
	case NotImplemented:
		return "not implemented"
	case Connection:
		return "connection error"
	case Parse:
		return "parse error"
	case NodeAlreadyExists:
		return "node already exists"
	case NodeMissing:
		return "node missing"
	case DataNotProcessed:
		return "data not processed"
	default:
		return "unknown error"
	}
}

// Error pairs a Kind with the call-site context accumulated by
// github.com/pkg/errors as it propagates up the stack.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.Kind.String()
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error { return e.err }

// New creates an Error of the given kind with msg as its base context.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, err: errors.New(msg)}
}

// Wrap creates an Error of the given kind, wrapping cause with msg.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, err: errors.Wrap(cause, msg)}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise returns NoError.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		err = errors.Unwrap(err)
	}
	if e == nil {
		return NoError
	}
	return e.Kind
}
