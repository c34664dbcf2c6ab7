package layout

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
)

const lenInBytes = 4

var endian = binary.LittleEndian

// Decode decodes payload per the definition's binary layout into a field
// map. The payload must match exactly: short payloads and trailing bytes
// fail with ErrPayloadDecode.
func (def *Definition) Decode(payload []byte) (map[string]interface{}, error) {
	values, rest, err := decodeDefinition(def, payload)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errors.Wrapf(ErrPayloadDecode, "%s: %d trailing bytes", def.Type, len(rest))
	}
	return values, nil
}

func decodeDefinition(def *Definition, raw []byte) (map[string]interface{}, []byte, error) {
	values := make(map[string]interface{}, len(def.Fields))

	for _, field := range def.Fields {
		// constants occupy no payload bytes
		if field.Value != nil {
			values[field.Name] = field.Value
			continue
		}

		var v interface{}
		var err error
		switch {
		case field.Type == FieldTypeComplex && field.IsArray:
			v, raw, err = decodeComplexSlice(field, raw)
		case field.Type == FieldTypeComplex:
			v, raw, err = decodeDefinition(field.Complex, raw)
		default:
			v, raw, err = decodeBasic(field, raw)
		}
		if err != nil {
			return nil, raw, errors.Wrapf(err, "field %s.%s", def.Type, field.Name)
		}

		values[field.Name] = v
	}

	return values, raw, nil
}

func decodeBasic(field *FieldDefinition, raw []byte) (interface{}, []byte, error) {
	var helper map[FieldType]fieldDecodeFunc
	if field.IsArray {
		helper = fieldDecodeSliceHelper
	} else {
		helper = fieldDecodeBasicHelper
	}

	v, off, ok := helper[field.Type](raw, field.ArraySize)
	if !ok {
		return nil, raw, ErrPayloadDecode
	}
	return v, raw[off:], nil
}

func decodeComplexSlice(field *FieldDefinition, raw []byte) (interface{}, []byte, error) {
	length, off, ok := fieldDecodeLength(raw, field.ArraySize)
	if !ok {
		return nil, raw, ErrPayloadDecode
	}
	raw = raw[off:]

	vs := make([]map[string]interface{}, length)
	var err error
	for i := range vs {
		vs[i], raw, err = decodeDefinition(field.Complex, raw)
		if err != nil {
			return nil, raw, err
		}
	}
	return vs, raw, nil
}

type fieldDecodeFunc func(raw []byte, length int) (v interface{}, off int, ok bool)

var fieldDecodeBasicHelper = map[FieldType]fieldDecodeFunc{
	FieldTypeBool:     fieldDecodeBool,
	FieldTypeInt8:     fieldDecodeInt8,
	FieldTypeUint8:    fieldDecodeUint8,
	FieldTypeInt16:    fieldDecodeInt16,
	FieldTypeUint16:   fieldDecodeUint16,
	FieldTypeInt32:    fieldDecodeInt32,
	FieldTypeUint32:   fieldDecodeUint32,
	FieldTypeInt64:    fieldDecodeInt64,
	FieldTypeUint64:   fieldDecodeUint64,
	FieldTypeFloat32:  fieldDecodeFloat32,
	FieldTypeFloat64:  fieldDecodeFloat64,
	FieldTypeString:   fieldDecodeString,
	FieldTypeTime:     fieldDecodeTime,
	FieldTypeDuration: fieldDecodeDuration,
}

var fieldDecodeSliceHelper = map[FieldType]fieldDecodeFunc{
	FieldTypeBool:     fieldDecodeBoolSlice,
	FieldTypeInt8:     fieldDecodeInt8Slice,
	FieldTypeUint8:    fieldDecodeUint8Slice,
	FieldTypeInt16:    fieldDecodeInt16Slice,
	FieldTypeUint16:   fieldDecodeUint16Slice,
	FieldTypeInt32:    fieldDecodeInt32Slice,
	FieldTypeUint32:   fieldDecodeUint32Slice,
	FieldTypeInt64:    fieldDecodeInt64Slice,
	FieldTypeUint64:   fieldDecodeUint64Slice,
	FieldTypeFloat32:  fieldDecodeFloat32Slice,
	FieldTypeFloat64:  fieldDecodeFloat64Slice,
	FieldTypeString:   fieldDecodeStringSlice,
	FieldTypeTime:     fieldDecodeTimeSlice,
	FieldTypeDuration: fieldDecodeDurationSlice,
}

// fieldDecodeLength resolves the element count of an array field: the fixed
// size when declared, otherwise a u32 prefix. A count exceeding the remaining
// payload bytes is rejected here, before any element buffer is allocated;
// every element occupies at least one byte.
func fieldDecodeLength(raw []byte, fixedLength int) (length int, off int, ok bool) {
	if fixedLength >= 0 {
		ok = true
		length = fixedLength
		return
	}

	if len(raw) < lenInBytes {
		return
	}

	length = int(endian.Uint32(raw))
	off = lenInBytes
	if len(raw)-off < length {
		length = 0
		off = 0
		return
	}
	ok = true
	return
}

func fieldDecodeBool(raw []byte, length int) (v interface{}, off int, ok bool) {
	off = 1
	if len(raw) < off {
		return
	}
	v = raw[0] != 0
	ok = true
	return
}

func fieldDecodeInt8(raw []byte, length int) (v interface{}, off int, ok bool) {
	off = 1
	if len(raw) < off {
		return
	}
	v = int8(raw[0])
	ok = true
	return
}

func fieldDecodeUint8(raw []byte, length int) (v interface{}, off int, ok bool) {
	off = 1
	if len(raw) < off {
		return
	}
	v = raw[0]
	ok = true
	return
}

func fieldDecodeInt16(raw []byte, length int) (v interface{}, off int, ok bool) {
	off = 2
	if len(raw) < off {
		return
	}
	v = int16(endian.Uint16(raw))
	ok = true
	return
}

func fieldDecodeUint16(raw []byte, length int) (v interface{}, off int, ok bool) {
	off = 2
	if len(raw) < off {
		return
	}
	v = endian.Uint16(raw)
	ok = true
	return
}

func fieldDecodeInt32(raw []byte, length int) (v interface{}, off int, ok bool) {
	off = 4
	if len(raw) < off {
		return
	}
	v = int32(endian.Uint32(raw))
	ok = true
	return
}

func fieldDecodeUint32(raw []byte, length int) (v interface{}, off int, ok bool) {
	off = 4
	if len(raw) < off {
		return
	}
	v = endian.Uint32(raw)
	ok = true
	return
}

func fieldDecodeInt64(raw []byte, length int) (v interface{}, off int, ok bool) {
	off = 8
	if len(raw) < off {
		return
	}
	v = int64(endian.Uint64(raw))
	ok = true
	return
}

func fieldDecodeUint64(raw []byte, length int) (v interface{}, off int, ok bool) {
	off = 8
	if len(raw) < off {
		return
	}
	v = endian.Uint64(raw)
	ok = true
	return
}

func fieldDecodeFloat32(raw []byte, length int) (v interface{}, off int, ok bool) {
	off = 4
	if len(raw) < off {
		return
	}
	v = math.Float32frombits(endian.Uint32(raw))
	ok = true
	return
}

func fieldDecodeFloat64(raw []byte, length int) (v interface{}, off int, ok bool) {
	off = 8
	if len(raw) < off {
		return
	}
	v = math.Float64frombits(endian.Uint64(raw))
	ok = true
	return
}

func fieldDecodeString(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok {
		return
	}
	if len(raw) < off+length {
		ok = false
		return
	}
	v = string(raw[off : off+length])
	off += length
	return
}

// time is a u64 nanosecond count since the Unix epoch.
func fieldDecodeTime(raw []byte, length int) (v interface{}, off int, ok bool) {
	return fieldDecodeUint64(raw, length)
}

// duration is an i64 nanosecond count.
func fieldDecodeDuration(raw []byte, length int) (v interface{}, off int, ok bool) {
	return fieldDecodeInt64(raw, length)
}

func fieldDecodeBoolSlice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok || len(raw) < off+length {
		ok = false
		return
	}
	arr := make([]bool, length)
	for i := range arr {
		arr[i] = raw[off+i] != 0
	}
	off += length
	v = arr
	return
}

func fieldDecodeInt8Slice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok || len(raw) < off+length {
		ok = false
		return
	}
	arr := make([]int8, length)
	for i := range arr {
		arr[i] = int8(raw[off+i])
	}
	off += length
	v = arr
	return
}

func fieldDecodeUint8Slice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok || len(raw) < off+length {
		ok = false
		return
	}
	arr := make([]uint8, length)
	copy(arr, raw[off:off+length])
	off += length
	v = arr
	return
}

func fieldDecodeInt16Slice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok || len(raw) < off+length*2 {
		ok = false
		return
	}
	arr := make([]int16, length)
	for i := range arr {
		arr[i] = int16(endian.Uint16(raw[off:]))
		off += 2
	}
	v = arr
	return
}

func fieldDecodeUint16Slice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok || len(raw) < off+length*2 {
		ok = false
		return
	}
	arr := make([]uint16, length)
	for i := range arr {
		arr[i] = endian.Uint16(raw[off:])
		off += 2
	}
	v = arr
	return
}

func fieldDecodeInt32Slice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok || len(raw) < off+length*4 {
		ok = false
		return
	}
	arr := make([]int32, length)
	for i := range arr {
		arr[i] = int32(endian.Uint32(raw[off:]))
		off += 4
	}
	v = arr
	return
}

func fieldDecodeUint32Slice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok || len(raw) < off+length*4 {
		ok = false
		return
	}
	arr := make([]uint32, length)
	for i := range arr {
		arr[i] = endian.Uint32(raw[off:])
		off += 4
	}
	v = arr
	return
}

func fieldDecodeInt64Slice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok || len(raw) < off+length*8 {
		ok = false
		return
	}
	arr := make([]int64, length)
	for i := range arr {
		arr[i] = int64(endian.Uint64(raw[off:]))
		off += 8
	}
	v = arr
	return
}

func fieldDecodeUint64Slice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok || len(raw) < off+length*8 {
		ok = false
		return
	}
	arr := make([]uint64, length)
	for i := range arr {
		arr[i] = endian.Uint64(raw[off:])
		off += 8
	}
	v = arr
	return
}

func fieldDecodeFloat32Slice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok || len(raw) < off+length*4 {
		ok = false
		return
	}
	arr := make([]float32, length)
	for i := range arr {
		arr[i] = math.Float32frombits(endian.Uint32(raw[off:]))
		off += 4
	}
	v = arr
	return
}

func fieldDecodeFloat64Slice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok || len(raw) < off+length*8 {
		ok = false
		return
	}
	arr := make([]float64, length)
	for i := range arr {
		arr[i] = math.Float64frombits(endian.Uint64(raw[off:]))
		off += 8
	}
	v = arr
	return
}

func fieldDecodeStringSlice(raw []byte, length int) (v interface{}, off int, ok bool) {
	length, off, ok = fieldDecodeLength(raw, length)
	if !ok {
		return
	}
	arr := make([]string, length)
	for i := range arr {
		var s interface{}
		var n int
		s, n, ok = fieldDecodeString(raw[off:], -1)
		if !ok {
			return
		}
		arr[i] = s.(string)
		off += n
	}
	v = arr
	return
}

func fieldDecodeTimeSlice(raw []byte, length int) (v interface{}, off int, ok bool) {
	return fieldDecodeUint64Slice(raw, length)
}

func fieldDecodeDurationSlice(raw []byte, length int) (v interface{}, off int, ok bool) {
	return fieldDecodeInt64Slice(raw, length)
}
