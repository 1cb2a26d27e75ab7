package apxvm

// vmState threads a program cursor and a data-buffer cursor through the
// recursive pack/unpack walk (spec.md §4.5).
type vmState struct {
	code []byte
	pos  int

	data []byte
	dpos int
}

func (s *vmState) nextInstr() (op Opcode, variant Variant, flag bool, err error) {
	if s.pos >= len(s.code) {
		return 0, 0, false, apxErr(ErrInvalidProgram, "program ended unexpectedly")
	}
	op, variant, flag = decodeInstructionByte(s.code[s.pos])
	s.pos++
	return op, variant, flag, nil
}

func (s *vmState) readProgByte() (byte, error) {
	if s.pos >= len(s.code) {
		return 0, apxErr(ErrInvalidProgram, "program ended unexpectedly")
	}
	b := s.code[s.pos]
	s.pos++
	return b, nil
}

func (s *vmState) readCString() (string, error) {
	start := s.pos
	for s.pos < len(s.code) {
		if s.code[s.pos] == 0 {
			name := string(s.code[start:s.pos])
			s.pos++
			return name, nil
		}
		s.pos++
	}
	return "", apxErr(ErrInvalidProgram, "unterminated field name")
}

func (s *vmState) readLengthOperand(variant Variant) (uint32, error) {
	var n int
	switch variant {
	case VariantU8:
		n = 1
	case VariantU16:
		n = 2
	default:
		n = 4
	}
	if s.pos+n > len(s.code) {
		return 0, apxErr(ErrInvalidProgram, "truncated length operand")
	}
	var v uint32
	for i := 0; i < n; i++ {
		v |= uint32(s.code[s.pos+i]) << (8 * uint(i))
	}
	s.pos += n
	return v, nil
}

func (s *vmState) readRangeOperand(op Opcode) (lo, hi int64, err error) {
	if op == OpRangeCheckI64 || op == OpRangeCheckU64 {
		if s.pos+16 > len(s.code) {
			return 0, 0, apxErr(ErrInvalidProgram, "truncated range operand")
		}
		lo = int64(getLE64(s.code[s.pos : s.pos+8]))
		hi = int64(getLE64(s.code[s.pos+8 : s.pos+16]))
		s.pos += 16
		return lo, hi, nil
	}
	if s.pos+8 > len(s.code) {
		return 0, 0, apxErr(ErrInvalidProgram, "truncated range operand")
	}
	lo = int64(int32(getLE32(s.code[s.pos : s.pos+4])))
	hi = int64(int32(getLE32(s.code[s.pos+4 : s.pos+8])))
	s.pos += 8
	return lo, hi, nil
}

// checkRange peeks at the next instruction; if it is a RANGE_CHECK_*
// opcode it consumes it and validates every value in values against its
// declared bounds.
func (s *vmState) checkRange(values []int64, unsignedValues []uint64) error {
	if s.pos >= len(s.code) {
		return nil
	}
	peekOp, _, _ := decodeInstructionByte(s.code[s.pos])
	switch peekOp {
	case OpRangeCheckI32, OpRangeCheckI64, OpRangeCheckU32, OpRangeCheckU64:
		rOp, _, _, err := s.nextInstr()
		if err != nil {
			return err
		}
		lo, hi, err := s.readRangeOperand(rOp)
		if err != nil {
			return err
		}
		switch rOp {
		case OpRangeCheckU32, OpRangeCheckU64:
			for _, v := range unsignedValues {
				if v < uint64(lo) || v > uint64(hi) {
					return apxErr(ErrValueRange, "value out of range")
				}
			}
		default:
			for _, v := range values {
				if v < lo || v > hi {
					return apxErr(ErrValueRange, "value out of range")
				}
			}
		}
	}
	return nil
}

func writeScalarBytes(data []byte, dpos int, scalar Kind, v Value) (int, error) {
	width := int(scalarWidth(scalar))
	if dpos+width > len(data) {
		return dpos, apxErr(ErrBufferBoundary, "write past end of buffer")
	}
	var raw uint64
	switch scalar {
	case KindI8, KindI16, KindI32, KindI64:
		raw = uint64(v.I)
	default:
		raw = v.U
	}
	for i := 0; i < width; i++ {
		data[dpos+i] = byte(raw >> (8 * uint(i)))
	}
	return dpos + width, nil
}

func readScalarBytes(data []byte, dpos int, scalar Kind) (Value, int, error) {
	width := int(scalarWidth(scalar))
	if dpos+width > len(data) {
		return Value{}, dpos, apxErr(ErrBufferBoundary, "read past end of buffer")
	}
	var raw uint64
	for i := 0; i < width; i++ {
		raw |= uint64(data[dpos+i]) << (8 * uint(i))
	}
	v := Value{Kind: scalar, U: raw}
	switch scalar {
	case KindI8:
		v.I = int64(int8(raw))
	case KindI16:
		v.I = int64(int16(raw))
	case KindI32:
		v.I = int64(int32(raw))
	case KindI64:
		v.I = int64(raw)
	}
	return v, dpos + width, nil
}

func scalarSigned(v Value) int64 {
	switch v.Kind {
	case KindI8, KindI16, KindI32, KindI64:
		return v.I
	default:
		return int64(v.U)
	}
}

// Pack serializes value into buf according to program, returning the
// number of bytes written.
func Pack(program *Program, value Value, buf []byte) (int, error) {
	s := &vmState{code: program.Code, data: buf}
	if err := packElement(s, value); err != nil {
		return 0, err
	}
	op, _, _, err := s.nextInstr()
	if err != nil {
		return 0, err
	}
	if op != OpFlowCtrl {
		return 0, apxErr(ErrInvalidProgram, "program did not terminate with FLOW_CTRL")
	}
	return s.dpos, nil
}

// Unpack deserializes buf according to program, returning the decoded
// Value and the number of bytes consumed.
func Unpack(program *Program, buf []byte) (Value, int, error) {
	s := &vmState{code: program.Code, data: buf}
	v, err := unpackElement(s)
	if err != nil {
		return Value{}, 0, err
	}
	op, _, _, err := s.nextInstr()
	if err != nil {
		return Value{}, 0, err
	}
	if op != OpFlowCtrl {
		return Value{}, 0, apxErr(ErrInvalidProgram, "program did not terminate with FLOW_CTRL")
	}
	return v, s.dpos, nil
}

func packElement(s *vmState, v Value) error {
	op, variant, flag, err := s.nextInstr()
	if err != nil {
		return err
	}
	if op == OpDataCtrl {
		return packRecord(s, v, variant, flag)
	}
	if op != OpPack {
		return apxErr(ErrInvalidInstruction, "expected PACK")
	}
	return packScalarOrArray(s, v, flag)
}

func packRecord(s *vmState, v Value, variant Variant, flag bool) error {
	if variant != DataCtrlRecordSelect {
		return apxErr(ErrInvalidInstruction, "expected RECORD_SELECT")
	}
	for {
		name, err := s.readCString()
		if err != nil {
			return err
		}
		child, ok := v.Field(name)
		if !ok {
			return apxErr(ErrValueType, "missing record field "+name)
		}
		if err := packElement(s, child); err != nil {
			return err
		}
		if flag {
			return nil
		}
		_, variant, flag, err = s.nextInstr()
		if err != nil {
			return err
		}
		if variant != DataCtrlRecordSelect {
			return apxErr(ErrInvalidInstruction, "expected RECORD_SELECT")
		}
	}
}

func packScalarOrArray(s *vmState, v Value, isArray bool) error {
	kindByte, err := s.readProgByte()
	if err != nil {
		return err
	}
	scalar := Kind(kindByte)

	if !isArray {
		var perr error
		s.dpos, perr = writeScalarBytes(s.data, s.dpos, scalar, v)
		if perr != nil {
			return perr
		}
		return s.checkRange([]int64{scalarSigned(v)}, []uint64{v.U})
	}

	op, variant, dynFlag, err := s.nextInstr()
	if err != nil {
		return err
	}
	if op != OpArray {
		return apxErr(ErrInvalidInstruction, "expected ARRAY")
	}
	maxLen, err := s.readLengthOperand(variant)
	if err != nil {
		return err
	}

	var elems []Value
	if scalar == KindByte && v.Kind == KindByteArray {
		for _, b := range v.Bytes {
			elems = append(elems, Value{Kind: KindByte, U: uint64(b)})
		}
	} else {
		elems = v.Array
	}
	count := uint32(len(elems))
	if count > maxLen {
		return apxErr(ErrValueRange, "array exceeds declared bound")
	}
	if dynFlag {
		n := encodeLengthOperand(count, variant)
		if s.dpos+len(n) > len(s.data) {
			return apxErr(ErrBufferBoundary, "write past end of buffer")
		}
		copy(s.data[s.dpos:], n)
		s.dpos += len(n)
	} else {
		count = maxLen
	}

	signed := make([]int64, 0, len(elems))
	unsigned := make([]uint64, 0, len(elems))
	for i := uint32(0); i < count; i++ {
		var elem Value
		if int(i) < len(elems) {
			elem = elems[i]
		}
		var perr error
		s.dpos, perr = writeScalarBytes(s.data, s.dpos, scalar, elem)
		if perr != nil {
			return perr
		}
		signed = append(signed, scalarSigned(elem))
		unsigned = append(unsigned, elem.U)
	}
	return s.checkRange(signed, unsigned)
}

func unpackElement(s *vmState) (Value, error) {
	op, variant, flag, err := s.nextInstr()
	if err != nil {
		return Value{}, err
	}
	if op == OpDataCtrl {
		return unpackRecord(s, variant, flag)
	}
	if op != OpUnpack {
		return Value{}, apxErr(ErrInvalidInstruction, "expected UNPACK")
	}
	return unpackScalarOrArray(s, flag)
}

func unpackRecord(s *vmState, variant Variant, flag bool) (Value, error) {
	if variant != DataCtrlRecordSelect {
		return Value{}, apxErr(ErrInvalidInstruction, "expected RECORD_SELECT")
	}
	var rec Value
	for {
		name, err := s.readCString()
		if err != nil {
			return Value{}, err
		}
		child, err := unpackElement(s)
		if err != nil {
			return Value{}, err
		}
		rec = rec.WithField(name, child)
		if flag {
			return rec, nil
		}
		_, variant, flag, err = s.nextInstr()
		if err != nil {
			return Value{}, err
		}
		if variant != DataCtrlRecordSelect {
			return Value{}, apxErr(ErrInvalidInstruction, "expected RECORD_SELECT")
		}
	}
}

func unpackScalarOrArray(s *vmState, isArray bool) (Value, error) {
	kindByte, err := s.readProgByte()
	if err != nil {
		return Value{}, err
	}
	scalar := Kind(kindByte)

	if !isArray {
		v, dpos, err := readScalarBytes(s.data, s.dpos, scalar)
		if err != nil {
			return Value{}, err
		}
		s.dpos = dpos
		if err := s.checkRange([]int64{scalarSigned(v)}, []uint64{v.U}); err != nil {
			return Value{}, err
		}
		return v, nil
	}

	op, variant, dynFlag, err := s.nextInstr()
	if err != nil {
		return Value{}, err
	}
	if op != OpArray {
		return Value{}, apxErr(ErrInvalidInstruction, "expected ARRAY")
	}
	maxLen, err := s.readLengthOperand(variant)
	if err != nil {
		return Value{}, err
	}

	count := maxLen
	if dynFlag {
		width := len(encodeLengthOperand(0, variant))
		if s.dpos+width > len(s.data) {
			return Value{}, apxErr(ErrBufferBoundary, "read past end of buffer")
		}
		count = 0
		for i := 0; i < width; i++ {
			count |= uint32(s.data[s.dpos+i]) << (8 * uint(i))
		}
		s.dpos += width
		if count > maxLen {
			return Value{}, apxErr(ErrValueRange, "array exceeds declared bound")
		}
	}

	var byteArray []byte
	var arr []Value
	signed := make([]int64, 0, count)
	unsigned := make([]uint64, 0, count)
	for i := uint32(0); i < count; i++ {
		v, dpos, err := readScalarBytes(s.data, s.dpos, scalar)
		if err != nil {
			return Value{}, err
		}
		s.dpos = dpos
		signed = append(signed, scalarSigned(v))
		unsigned = append(unsigned, v.U)
		if scalar == KindByte {
			byteArray = append(byteArray, byte(v.U))
		} else {
			arr = append(arr, v)
		}
	}
	if err := s.checkRange(signed, unsigned); err != nil {
		return Value{}, err
	}
	if scalar == KindByte {
		return Value{Kind: KindByteArray, Bytes: byteArray}, nil
	}
	return Value{Kind: KindArray, Array: arr}, nil
}
