// Package viz maps source schemas onto the visualization client's schema
// dialect: a static rule table resolved per schema identity, pure per-message
// transformation rules, and stable output channel id assignment.
package viz

import (
	"github.com/cockroachdb/errors"

	"github.com/LightwheelAI/LW-Egosuite-DevKit/container"
	"github.com/LightwheelAI/LW-Egosuite-DevKit/layout"
)

// LayoutEncoding is the schema and message encoding used on both sides of
// the conversion.
const LayoutEncoding = "layout"

// Identity names a schema: (name, encoding).
type Identity struct {
	Name     string
	Encoding string
}

// LayoutIdentity is shorthand for a layout-encoded schema identity.
func LayoutIdentity(name string) Identity {
	return Identity{Name: name, Encoding: LayoutEncoding}
}

// TargetSchema is a schema of the visualization dialect, with its layout
// parsed once at construction.
type TargetSchema struct {
	Name string
	Text string
	Def  *layout.Definition
}

// Identity returns the schema identity of the target.
func (s *TargetSchema) Identity() Identity {
	return LayoutIdentity(s.Name)
}

// mustTarget parses a built-in target layout. The texts are compile-time
// constants, so a parse failure is a programming error.
func mustTarget(name, text string) *TargetSchema {
	def, err := layout.Parse(name, []byte(text))
	if err != nil {
		panic(err)
	}
	return &TargetSchema{Name: name, Text: text, Def: def}
}

// Source is the per-message view handed to a rule: the resolved channel and
// schema of the message plus its decoded payload.
type Source struct {
	Topic   string
	Schema  *container.Schema
	Message *container.Message
	Values  map[string]interface{}
}

// Output is one transformed message produced by a rule.
type Output struct {
	Schema      *TargetSchema
	Topic       string
	Payload     []byte
	LogTime     uint64
	PublishTime uint64
}

// Rule is a pure mapping from one source message to zero or more outputs.
// Rules hold no mutable state; repeated application to identical input
// produces byte-identical outputs.
type Rule interface {
	Name() string
	Apply(src *Source) ([]Output, error)
}

// emit pairs an output with the source message's timing, preserving the
// source ordering relationship.
func emit(src *Source, schema *TargetSchema, topic string, values map[string]interface{}) (Output, error) {
	payload, err := schema.Def.Encode(values)
	if err != nil {
		return Output{}, err
	}
	return Output{
		Schema:      schema,
		Topic:       topic,
		Payload:     payload,
		LogTime:     src.Message.LogTime,
		PublishTime: src.Message.PublishTime,
	}, nil
}

// Decoded field accessors. A source payload that decodes cleanly but lacks
// the shape a rule needs is still a payload/schema mismatch.

func fieldUint32(values map[string]interface{}, name string) (uint32, error) {
	v, ok := values[name].(uint32)
	if !ok {
		return 0, errors.Wrapf(layout.ErrPayloadDecode, "field %s is %T, want uint32", name, values[name])
	}
	return v, nil
}

func fieldUint64(values map[string]interface{}, name string) (uint64, error) {
	v, ok := values[name].(uint64)
	if !ok {
		return 0, errors.Wrapf(layout.ErrPayloadDecode, "field %s is %T, want uint64", name, values[name])
	}
	return v, nil
}

func fieldBool(values map[string]interface{}, name string) (bool, error) {
	v, ok := values[name].(bool)
	if !ok {
		return false, errors.Wrapf(layout.ErrPayloadDecode, "field %s is %T, want bool", name, values[name])
	}
	return v, nil
}

func fieldString(values map[string]interface{}, name string) (string, error) {
	v, ok := values[name].(string)
	if !ok {
		return "", errors.Wrapf(layout.ErrPayloadDecode, "field %s is %T, want string", name, values[name])
	}
	return v, nil
}

func fieldBytes(values map[string]interface{}, name string) ([]byte, error) {
	v, ok := values[name].([]uint8)
	if !ok {
		return nil, errors.Wrapf(layout.ErrPayloadDecode, "field %s is %T, want []uint8", name, values[name])
	}
	return v, nil
}

func fieldStrings(values map[string]interface{}, name string) ([]string, error) {
	v, ok := values[name].([]string)
	if !ok {
		return nil, errors.Wrapf(layout.ErrPayloadDecode, "field %s is %T, want []string", name, values[name])
	}
	return v, nil
}

func fieldFloat32s(values map[string]interface{}, name string) ([]float32, error) {
	v, ok := values[name].([]float32)
	if !ok {
		return nil, errors.Wrapf(layout.ErrPayloadDecode, "field %s is %T, want []float32", name, values[name])
	}
	return v, nil
}

func fieldFloat64s(values map[string]interface{}, name string) ([]float64, error) {
	v, ok := values[name].([]float64)
	if !ok {
		return nil, errors.Wrapf(layout.ErrPayloadDecode, "field %s is %T, want []float64", name, values[name])
	}
	return v, nil
}

func fieldMaps(values map[string]interface{}, name string) ([]map[string]interface{}, error) {
	v, ok := values[name].([]map[string]interface{})
	if !ok {
		return nil, errors.Wrapf(layout.ErrPayloadDecode, "field %s is %T, want []map", name, values[name])
	}
	return v, nil
}
