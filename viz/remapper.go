package viz

import "github.com/LightwheelAI/LW-Egosuite-DevKit/container"

// channelIDBase is the first output channel id.
const channelIDBase = 1

// DefinitionSink receives schema and channel definition records as the
// remapper allocates them. *container.Encoder satisfies it.
type DefinitionSink interface {
	WriteSchema(*container.Schema) error
	WriteChannel(*container.Channel) error
}

// SchemaRef names an output schema and carries its definition data.
type SchemaRef struct {
	Name     string
	Encoding string
	Data     []byte
}

// Ref returns the writable form of a target schema.
func (s *TargetSchema) Ref() SchemaRef {
	return SchemaRef{Name: s.Name, Encoding: LayoutEncoding, Data: []byte(s.Text)}
}

type channelKey struct {
	topic    string
	identity Identity
}

// Remapper assigns stable output channel ids to (topic, schema identity)
// pairs. The first occurrence allocates the next unused id and emits the
// schema and channel definitions; repeats reuse the id. Ids are monotonic
// from channelIDBase and never reassigned within one run.
//
// Mutated only by the single pipeline goroutine of one file.
type Remapper struct {
	sink DefinitionSink

	nextSchemaID  uint16
	nextChannelID uint16
	schemaIDs     map[Identity]uint16
	channelIDs    map[channelKey]uint16
}

func NewRemapper(sink DefinitionSink) *Remapper {
	return &Remapper{
		sink:          sink,
		nextSchemaID:  channelIDBase,
		nextChannelID: channelIDBase,
		schemaIDs:     make(map[Identity]uint16),
		channelIDs:    make(map[channelKey]uint16),
	}
}

// Assign returns the output channel id for (topic, schema), allocating and
// emitting definitions on first use. messageEncoding is the channel's own
// message encoding, carried independently of the schema encoding.
func (remapper *Remapper) Assign(topic, messageEncoding string, schema SchemaRef) (uint16, error) {
	identity := Identity{Name: schema.Name, Encoding: schema.Encoding}
	key := channelKey{topic: topic, identity: identity}
	if id, ok := remapper.channelIDs[key]; ok {
		return id, nil
	}

	schemaID, err := remapper.assignSchema(identity, schema)
	if err != nil {
		return 0, err
	}

	id := remapper.nextChannelID
	err = remapper.sink.WriteChannel(&container.Channel{
		ID:              id,
		SchemaID:        schemaID,
		Topic:           topic,
		MessageEncoding: messageEncoding,
	})
	if err != nil {
		return 0, err
	}
	remapper.channelIDs[key] = id
	remapper.nextChannelID++
	return id, nil
}

func (remapper *Remapper) assignSchema(identity Identity, schema SchemaRef) (uint16, error) {
	if id, ok := remapper.schemaIDs[identity]; ok {
		return id, nil
	}

	id := remapper.nextSchemaID
	err := remapper.sink.WriteSchema(&container.Schema{
		ID:       id,
		Name:     schema.Name,
		Encoding: schema.Encoding,
		Data:     schema.Data,
	})
	if err != nil {
		return 0, err
	}
	remapper.schemaIDs[identity] = id
	remapper.nextSchemaID++
	return id, nil
}

// ChannelCount returns the number of output channels allocated so far.
func (remapper *Remapper) ChannelCount() int { return len(remapper.channelIDs) }
