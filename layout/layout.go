// Package layout implements the schema layout language used for message
// payloads: a line-oriented field description ("float32 x", "float64[3]
// gyro", constants, nested complex types) with a little-endian binary wire
// form. Payload decode and encode are exact inverses for valid payloads.
package layout

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Sentinel errors for payload codec failures. Both abort a conversion run.
var (
	// ErrPayloadDecode marks payload bytes that do not match the declared
	// layout (short payload, bad length prefix, trailing bytes).
	ErrPayloadDecode = errors.New("payload does not match schema layout")

	// ErrPayloadEncode marks values the target layout rejects (missing
	// field, wrong type, fixed-array length mismatch).
	ErrPayloadEncode = errors.New("values do not match schema layout")

	errUnresolvedType  = errors.New("failed to resolve a complex field type")
	errInvalidConst    = errors.New("invalid const type")
	errMalformedLayout = errors.New("malformed layout definition")
)

// FieldType enumerates the scalar field types of the layout language.
type FieldType uint8

const (
	FieldTypeBool FieldType = iota + 1
	FieldTypeInt8
	FieldTypeUint8
	FieldTypeInt16
	FieldTypeUint16
	FieldTypeInt32
	FieldTypeUint32
	FieldTypeInt64
	FieldTypeUint64
	FieldTypeFloat32
	FieldTypeFloat64
	FieldTypeString
	FieldTypeTime
	FieldTypeDuration
	FieldTypeComplex
)

var fieldTypeMap = map[string]FieldType{
	"bool":     FieldTypeBool,
	"int8":     FieldTypeInt8,
	"byte":     FieldTypeInt8,
	"uint8":    FieldTypeUint8,
	"char":     FieldTypeUint8,
	"int16":    FieldTypeInt16,
	"uint16":   FieldTypeUint16,
	"int32":    FieldTypeInt32,
	"uint32":   FieldTypeUint32,
	"int64":    FieldTypeInt64,
	"uint64":   FieldTypeUint64,
	"float32":  FieldTypeFloat32,
	"float64":  FieldTypeFloat64,
	"string":   FieldTypeString,
	"time":     FieldTypeTime,
	"duration": FieldTypeDuration,
}

var fieldTypeNames = map[FieldType]string{
	FieldTypeBool:     "bool",
	FieldTypeInt8:     "int8",
	FieldTypeUint8:    "uint8",
	FieldTypeInt16:    "int16",
	FieldTypeUint16:   "uint16",
	FieldTypeInt32:    "int32",
	FieldTypeUint32:   "uint32",
	FieldTypeInt64:    "int64",
	FieldTypeUint64:   "uint64",
	FieldTypeFloat32:  "float32",
	FieldTypeFloat64:  "float64",
	FieldTypeString:   "string",
	FieldTypeTime:     "time",
	FieldTypeDuration: "duration",
	FieldTypeComplex:  "complex",
}

func (t FieldType) String() string { return fieldTypeNames[t] }

// Definition is a parsed layout: an ordered field list, possibly referring
// to nested complex definitions declared in the same text.
type Definition struct {
	Type   string
	Fields []*FieldDefinition
}

// FieldDefinition describes one field of a layout.
type FieldDefinition struct {
	Type    FieldType
	Name    string
	IsArray bool
	// ArraySize is only used when the field is a fixed-size array. If the
	// field is variable-length, ArraySize is -1.
	ArraySize int
	// Value is set for constants only. Constants occupy no payload bytes.
	Value interface{}
	// Complex is set when Type is FieldTypeComplex.
	Complex *Definition
}

// decodeConstValue decodes raw to a concrete type. Raw is expected to be in
// ASCII. Constant types can be any builtin type except time and duration.
func decodeConstValue(fieldType FieldType, raw []byte) (interface{}, error) {
	rawStr := string(raw)

	switch fieldType {
	case FieldTypeBool:
		return strconv.ParseBool(rawStr)
	case FieldTypeInt8:
		v, err := strconv.ParseInt(rawStr, 10, 8)
		return int8(v), err
	case FieldTypeUint8:
		v, err := strconv.ParseUint(rawStr, 10, 8)
		return uint8(v), err
	case FieldTypeInt16:
		v, err := strconv.ParseInt(rawStr, 10, 16)
		return int16(v), err
	case FieldTypeUint16:
		v, err := strconv.ParseUint(rawStr, 10, 16)
		return uint16(v), err
	case FieldTypeInt32:
		v, err := strconv.ParseInt(rawStr, 10, 32)
		return int32(v), err
	case FieldTypeUint32:
		v, err := strconv.ParseUint(rawStr, 10, 32)
		return uint32(v), err
	case FieldTypeInt64:
		return strconv.ParseInt(rawStr, 10, 64)
	case FieldTypeUint64:
		return strconv.ParseUint(rawStr, 10, 64)
	case FieldTypeFloat32:
		v, err := strconv.ParseFloat(rawStr, 32)
		return float32(v), err
	case FieldTypeFloat64:
		return strconv.ParseFloat(rawStr, 64)
	case FieldTypeString:
		return rawStr, nil
	default:
		return nil, errInvalidConst
	}
}

// Parse parses a layout text into a Definition named typeName.
//
// Grammar per line: "type name", "type[N] name", "type[] name", constants
// "type NAME=value", comments after '#'. A line "MSG: <type>" opens a nested
// complex definition; '=' separator lines are ignored.
func Parse(typeName string, text []byte) (*Definition, error) {
	def := &Definition{Type: typeName}
	unresolvedFields := make(map[*FieldDefinition][]byte)
	complexDefs := []*Definition{def}

	for _, line := range bytes.Split(text, []byte("\n")) {
		if idx := bytes.IndexByte(line, '#'); idx != -1 {
			line = line[:idx]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if line[0] == '=' {
			continue
		}

		// nested complex definition
		if bytes.IndexByte(line, ':') != -1 {
			idx := bytes.LastIndexByte(line, ' ')
			if idx == -1 {
				return nil, errors.Wrapf(errMalformedLayout, "line %q", line)
			}
			complexDefs = append(complexDefs, &Definition{Type: string(line[idx+1:])})
			continue
		}

		idx := bytes.IndexByte(line, ' ')
		if idx == -1 {
			return nil, errors.Wrapf(errMalformedLayout, "line %q", line)
		}
		fieldType := line[:idx]
		fieldName := bytes.TrimSpace(line[idx+1:])

		var isArray bool
		arraySize := -1
		if idx := bytes.IndexByte(fieldType, '['); idx != -1 {
			off := bytes.IndexByte(fieldType[idx:], ']')
			if off == -1 {
				return nil, errors.Wrapf(errMalformedLayout, "line %q", line)
			}
			if off > 1 {
				size, err := strconv.Atoi(string(fieldType[idx+1 : idx+off]))
				if err != nil {
					return nil, errors.Wrapf(errMalformedLayout, "array size in %q", line)
				}
				arraySize = size
			}
			fieldType = fieldType[:idx]
			isArray = true
		}

		msgFieldType, ok := fieldTypeMap[string(fieldType)]
		if !ok {
			msgFieldType = FieldTypeComplex
		}

		var constantValue interface{}
		if idx := bytes.IndexByte(fieldName, '='); idx != -1 {
			var err error
			constantValue, err = decodeConstValue(msgFieldType, bytes.TrimSpace(fieldName[idx+1:]))
			if err != nil {
				return nil, errors.Wrapf(errMalformedLayout, "constant in %q", line)
			}
			fieldName = bytes.TrimSpace(fieldName[:idx])
		}

		fieldDef := &FieldDefinition{
			Type:      msgFieldType,
			Name:      string(fieldName),
			IsArray:   isArray,
			ArraySize: arraySize,
			Value:     constantValue,
		}
		if fieldDef.Type == FieldTypeComplex {
			unresolvedFields[fieldDef] = fieldType
		}

		current := complexDefs[len(complexDefs)-1]
		current.Fields = append(current.Fields, fieldDef)
	}

	for field, fieldType := range unresolvedFields {
		nested := findComplexDef(complexDefs, string(fieldType))
		if nested == nil {
			return nil, errors.Wrapf(errUnresolvedType, "%s", fieldType)
		}
		field.Complex = nested
	}

	return def, nil
}

// findComplexDef looks up a nested definition. fieldType can carry an
// optional package prefix, so match by suffix.
func findComplexDef(defs []*Definition, fieldType string) *Definition {
	for _, def := range defs {
		if strings.HasSuffix(def.Type, fieldType) {
			return def
		}
	}
	return nil
}
