package container

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

const (
	lenInBytes           = 4
	headerFieldDelimiter = '='
)

var endian = binary.LittleEndian

// iterateFields walks a record header (or metadata data section). Each field
// is a u32 length prefix followed by "name=value". cb returning false stops
// the walk.
func iterateFields(raw []byte, cb func(key, value []byte) bool) error {
	for len(raw) > 0 {
		if len(raw) < lenInBytes {
			return errors.Wrap(ErrCorruptContainer, "truncated field length")
		}

		fieldLen := endian.Uint32(raw)
		raw = raw[lenInBytes:]
		if uint32(len(raw)) < fieldLen {
			return errors.Wrapf(ErrCorruptContainer, "field length %d exceeds remaining %d bytes", fieldLen, len(raw))
		}

		field := raw[:fieldLen]
		raw = raw[fieldLen:]

		idx := bytes.IndexByte(field, headerFieldDelimiter)
		if idx == -1 {
			return errors.Wrap(ErrCorruptContainer, "field without delimiter")
		}

		if !cb(field[:idx], field[idx+1:]) {
			break
		}
	}

	return nil
}

// collectFields parses a header into a field map keyed by field name.
func collectFields(raw []byte) (map[string][]byte, error) {
	fields := make(map[string][]byte)
	err := iterateFields(raw, func(key, value []byte) bool {
		fields[string(key)] = value
		return true
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// fieldWriter accumulates header fields in insertion order.
type fieldWriter struct {
	buf []byte
}

func (w *fieldWriter) add(key string, value []byte) {
	fieldLen := len(key) + 1 + len(value)
	var lenBuf [lenInBytes]byte
	endian.PutUint32(lenBuf[:], uint32(fieldLen))
	w.buf = append(w.buf, lenBuf[:]...)
	w.buf = append(w.buf, key...)
	w.buf = append(w.buf, headerFieldDelimiter)
	w.buf = append(w.buf, value...)
}

func (w *fieldWriter) addByte(key string, value byte) {
	w.add(key, []byte{value})
}

func (w *fieldWriter) addUint16(key string, value uint16) {
	var buf [2]byte
	endian.PutUint16(buf[:], value)
	w.add(key, buf[:])
}

func (w *fieldWriter) addUint32(key string, value uint32) {
	var buf [4]byte
	endian.PutUint32(buf[:], value)
	w.add(key, buf[:])
}

func (w *fieldWriter) addUint64(key string, value uint64) {
	var buf [8]byte
	endian.PutUint64(buf[:], value)
	w.add(key, buf[:])
}

func (w *fieldWriter) addString(key, value string) {
	w.add(key, []byte(value))
}

func fieldUint16(fields map[string][]byte, key string) (uint16, error) {
	value, ok := fields[key]
	if !ok || len(value) != 2 {
		return 0, errors.Wrapf(ErrCorruptContainer, "missing or malformed %q field", key)
	}
	return endian.Uint16(value), nil
}

func fieldUint32(fields map[string][]byte, key string) (uint32, error) {
	value, ok := fields[key]
	if !ok || len(value) != 4 {
		return 0, errors.Wrapf(ErrCorruptContainer, "missing or malformed %q field", key)
	}
	return endian.Uint32(value), nil
}

func fieldUint64(fields map[string][]byte, key string) (uint64, error) {
	value, ok := fields[key]
	if !ok || len(value) != 8 {
		return 0, errors.Wrapf(ErrCorruptContainer, "missing or malformed %q field", key)
	}
	return endian.Uint64(value), nil
}

func fieldString(fields map[string][]byte, key string) (string, error) {
	value, ok := fields[key]
	if !ok {
		return "", errors.Wrapf(ErrCorruptContainer, "missing %q field", key)
	}
	return string(value), nil
}
