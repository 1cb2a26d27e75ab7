package apxvm

import (
	"github.com/cogu/apx-go/apxerr"
)

// Re-exported so callers need only import apxvm for VM-raised error kinds.
const (
	ErrInvalidProgram     = apxerr.InvalidProgram
	ErrInvalidInstruction = apxerr.InvalidInstruction
	ErrValueType          = apxerr.ValueType
	ErrValueRange         = apxerr.ValueRange
	ErrBufferBoundary     = apxerr.BufferBoundary
)

func apxErr(kind apxerr.Kind, msg string) error {
	return apxerr.New(kind, "apxvm: "+msg)
}

// ErrorKind extracts the apxerr.Kind carried by err, or apxerr.NoError if
// err is nil or carries none.
func ErrorKind(err error) apxerr.Kind {
	return apxerr.KindOf(err)
}
