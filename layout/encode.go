package layout

import (
	"math"

	"github.com/cockroachdb/errors"
)

// Encode serializes a field map per the definition's binary layout. Fields
// are written in definition order, so identical inputs produce identical
// bytes. Missing or ill-typed values fail with ErrPayloadEncode.
func (def *Definition) Encode(values map[string]interface{}) ([]byte, error) {
	return encodeDefinition(def, values, nil)
}

func encodeDefinition(def *Definition, values map[string]interface{}, dst []byte) ([]byte, error) {
	for _, field := range def.Fields {
		// constants occupy no payload bytes
		if field.Value != nil {
			continue
		}

		v, ok := values[field.Name]
		if !ok {
			return nil, errors.Wrapf(ErrPayloadEncode, "missing field %s.%s", def.Type, field.Name)
		}

		var err error
		switch {
		case field.Type == FieldTypeComplex && field.IsArray:
			dst, err = encodeComplexSlice(field, v, dst)
		case field.Type == FieldTypeComplex:
			nested, ok := v.(map[string]interface{})
			if !ok {
				err = errors.Wrapf(ErrPayloadEncode, "want map, got %T", v)
				break
			}
			dst, err = encodeDefinition(field.Complex, nested, dst)
		default:
			dst, err = encodeBasic(field, v, dst)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "field %s.%s", def.Type, field.Name)
		}
	}

	return dst, nil
}

func encodeComplexSlice(field *FieldDefinition, v interface{}, dst []byte) ([]byte, error) {
	elems, ok := v.([]map[string]interface{})
	if !ok {
		return nil, errors.Wrapf(ErrPayloadEncode, "want []map, got %T", v)
	}
	dst, err := encodeLength(field, len(elems), dst)
	if err != nil {
		return nil, err
	}
	for _, elem := range elems {
		dst, err = encodeDefinition(field.Complex, elem, dst)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// encodeLength emits the u32 count prefix for variable arrays and checks
// the declared size for fixed arrays.
func encodeLength(field *FieldDefinition, length int, dst []byte) ([]byte, error) {
	if field.ArraySize >= 0 {
		if length != field.ArraySize {
			return nil, errors.Wrapf(ErrPayloadEncode, "fixed array wants %d elements, got %d", field.ArraySize, length)
		}
		return dst, nil
	}
	return appendUint32(dst, uint32(length)), nil
}

func encodeBasic(field *FieldDefinition, v interface{}, dst []byte) ([]byte, error) {
	if field.IsArray {
		return encodeBasicSlice(field, v, dst)
	}

	switch field.Type {
	case FieldTypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		if b {
			return append(dst, 1), nil
		}
		return append(dst, 0), nil
	case FieldTypeInt8:
		n, ok := v.(int8)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		return append(dst, byte(n)), nil
	case FieldTypeUint8:
		n, ok := v.(uint8)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		return append(dst, n), nil
	case FieldTypeInt16:
		n, ok := v.(int16)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		return appendUint16(dst, uint16(n)), nil
	case FieldTypeUint16:
		n, ok := v.(uint16)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		return appendUint16(dst, n), nil
	case FieldTypeInt32:
		n, ok := v.(int32)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		return appendUint32(dst, uint32(n)), nil
	case FieldTypeUint32:
		n, ok := v.(uint32)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		return appendUint32(dst, n), nil
	case FieldTypeInt64:
		n, ok := v.(int64)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		return appendUint64(dst, uint64(n)), nil
	case FieldTypeUint64:
		n, ok := v.(uint64)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		return appendUint64(dst, n), nil
	case FieldTypeFloat32:
		n, ok := v.(float32)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		return appendUint32(dst, math.Float32bits(n)), nil
	case FieldTypeFloat64:
		n, ok := v.(float64)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		return appendUint64(dst, math.Float64bits(n)), nil
	case FieldTypeString:
		s, ok := v.(string)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		dst = appendUint32(dst, uint32(len(s)))
		return append(dst, s...), nil
	case FieldTypeTime:
		n, ok := v.(uint64)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		return appendUint64(dst, n), nil
	case FieldTypeDuration:
		n, ok := v.(int64)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		return appendUint64(dst, uint64(n)), nil
	default:
		return nil, typeMismatch(field, v)
	}
}

func encodeBasicSlice(field *FieldDefinition, v interface{}, dst []byte) ([]byte, error) {
	switch field.Type {
	case FieldTypeBool:
		arr, ok := v.([]bool)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		dst, err := encodeLength(field, len(arr), dst)
		if err != nil {
			return nil, err
		}
		for _, b := range arr {
			if b {
				dst = append(dst, 1)
			} else {
				dst = append(dst, 0)
			}
		}
		return dst, nil
	case FieldTypeInt8:
		arr, ok := v.([]int8)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		dst, err := encodeLength(field, len(arr), dst)
		if err != nil {
			return nil, err
		}
		for _, n := range arr {
			dst = append(dst, byte(n))
		}
		return dst, nil
	case FieldTypeUint8:
		arr, ok := v.([]uint8)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		dst, err := encodeLength(field, len(arr), dst)
		if err != nil {
			return nil, err
		}
		return append(dst, arr...), nil
	case FieldTypeInt16:
		arr, ok := v.([]int16)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		dst, err := encodeLength(field, len(arr), dst)
		if err != nil {
			return nil, err
		}
		for _, n := range arr {
			dst = appendUint16(dst, uint16(n))
		}
		return dst, nil
	case FieldTypeUint16:
		arr, ok := v.([]uint16)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		dst, err := encodeLength(field, len(arr), dst)
		if err != nil {
			return nil, err
		}
		for _, n := range arr {
			dst = appendUint16(dst, n)
		}
		return dst, nil
	case FieldTypeInt32:
		arr, ok := v.([]int32)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		dst, err := encodeLength(field, len(arr), dst)
		if err != nil {
			return nil, err
		}
		for _, n := range arr {
			dst = appendUint32(dst, uint32(n))
		}
		return dst, nil
	case FieldTypeUint32:
		arr, ok := v.([]uint32)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		dst, err := encodeLength(field, len(arr), dst)
		if err != nil {
			return nil, err
		}
		for _, n := range arr {
			dst = appendUint32(dst, n)
		}
		return dst, nil
	case FieldTypeInt64, FieldTypeDuration:
		arr, ok := v.([]int64)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		dst, err := encodeLength(field, len(arr), dst)
		if err != nil {
			return nil, err
		}
		for _, n := range arr {
			dst = appendUint64(dst, uint64(n))
		}
		return dst, nil
	case FieldTypeUint64, FieldTypeTime:
		arr, ok := v.([]uint64)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		dst, err := encodeLength(field, len(arr), dst)
		if err != nil {
			return nil, err
		}
		for _, n := range arr {
			dst = appendUint64(dst, n)
		}
		return dst, nil
	case FieldTypeFloat32:
		arr, ok := v.([]float32)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		dst, err := encodeLength(field, len(arr), dst)
		if err != nil {
			return nil, err
		}
		for _, n := range arr {
			dst = appendUint32(dst, math.Float32bits(n))
		}
		return dst, nil
	case FieldTypeFloat64:
		arr, ok := v.([]float64)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		dst, err := encodeLength(field, len(arr), dst)
		if err != nil {
			return nil, err
		}
		for _, n := range arr {
			dst = appendUint64(dst, math.Float64bits(n))
		}
		return dst, nil
	case FieldTypeString:
		arr, ok := v.([]string)
		if !ok {
			return nil, typeMismatch(field, v)
		}
		dst, err := encodeLength(field, len(arr), dst)
		if err != nil {
			return nil, err
		}
		for _, s := range arr {
			dst = appendUint32(dst, uint32(len(s)))
			dst = append(dst, s...)
		}
		return dst, nil
	default:
		return nil, typeMismatch(field, v)
	}
}

func typeMismatch(field *FieldDefinition, v interface{}) error {
	return errors.Wrapf(ErrPayloadEncode, "want %s, got %T", field.Type, v)
}

func appendUint16(dst []byte, v uint16) []byte {
	var buf [2]byte
	endian.PutUint16(buf[:], v)
	return append(dst, buf[:]...)
}

func appendUint32(dst []byte, v uint32) []byte {
	var buf [4]byte
	endian.PutUint32(buf[:], v)
	return append(dst, buf[:]...)
}

func appendUint64(dst []byte, v uint64) []byte {
	var buf [8]byte
	endian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}
