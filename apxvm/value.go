// Package apxvm implements the APX compiler and the pack/unpack virtual
// machine (spec.md §3, §4.4, §4.5).
//
// Grounded on original_source/apx/src/compiler.c, vm.c, vm_deserializer.c
// and vm_common.c for the opcode/variant/range-check shape; the tagged
// value representation and cursor-based (de)serializer are expressed in
// the style of protocol/rtmp/amf/amf.go's Object/Property tagged union.
//
// This implementation intentionally departs from the original's literal
// bit-for-bit instruction encoding: each PACK/UNPACK
// instruction here carries one extra self-describing byte naming its
// scalar kind, so a compiled program is fully self-contained without an
// external type table to consult during unpack.
package apxvm

import "fmt"

// Kind identifies the shape of a Value.
type Kind uint8

const (
	KindNone Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindI8
	KindI16
	KindI32
	KindI64
	KindBool
	KindChar
	KindByte
	KindByteArray
	KindArray
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindI8:
		return "i8"
	case KindI16:
		return "i16"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindBool:
		return "bool"
	case KindChar:
		return "char"
	case KindByte:
		return "byte"
	case KindByteArray:
		return "byte[]"
	case KindArray:
		return "array"
	case KindRecord:
		return "record"
	default:
		return "none"
	}
}

// Value is a tagged variant over the scalar, byte-array, array and
// (ordered) record domains the VM operates on (spec.md §3).
type Value struct {
	Kind Kind

	U uint64 // scalar storage for unsigned kinds, bool, char, byte
	I int64  // scalar storage for signed kinds

	Bytes []byte  // KindByteArray
	Array []Value // KindArray

	// KindRecord: parallel slices preserve declared field order, matching
	// spec.md §8 scenario 6's ordering requirement.
	RecordKeys   []string
	RecordValues []Value
}

// NewUint constructs an unsigned scalar Value of the given kind.
func NewUint(k Kind, v uint64) Value { return Value{Kind: k, U: v} }

// NewInt constructs a signed scalar Value of the given kind.
func NewInt(k Kind, v int64) Value { return Value{Kind: k, I: v} }

// NewBool constructs a KindBool Value.
func NewBool(v bool) Value {
	var u uint64
	if v {
		u = 1
	}
	return Value{Kind: KindBool, U: u}
}

// Field returns the value of the named record field and whether it was
// present.
func (v Value) Field(name string) (Value, bool) {
	for i, k := range v.RecordKeys {
		if k == name {
			return v.RecordValues[i], true
		}
	}
	return Value{}, false
}

// WithField returns a copy of v (which must be KindRecord, or zero) with
// name set to val, appended if not already present.
func (v Value) WithField(name string, val Value) Value {
	if v.Kind == KindNone {
		v.Kind = KindRecord
	}
	for i, k := range v.RecordKeys {
		if k == name {
			v.RecordValues[i] = val
			return v
		}
	}
	v.RecordKeys = append(v.RecordKeys, name)
	v.RecordValues = append(v.RecordValues, val)
	return v
}

func (v Value) String() string {
	switch v.Kind {
	case KindByteArray:
		return fmt.Sprintf("bytes(%d)", len(v.Bytes))
	case KindArray:
		return fmt.Sprintf("array(%d)", len(v.Array))
	case KindRecord:
		return fmt.Sprintf("record(%v)", v.RecordKeys)
	default:
		return fmt.Sprintf("%s(%d)", v.Kind, v.U)
	}
}
