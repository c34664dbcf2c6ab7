package viz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LightwheelAI/LW-Egosuite-DevKit/container"
)

// recordingSink captures the definitions a remapper emits.
type recordingSink struct {
	schemas  []*container.Schema
	channels []*container.Channel
}

func (sink *recordingSink) WriteSchema(schema *container.Schema) error {
	sink.schemas = append(sink.schemas, schema)
	return nil
}

func (sink *recordingSink) WriteChannel(channel *container.Channel) error {
	sink.channels = append(sink.channels, channel)
	return nil
}

func TestRemapperAssign(t *testing.T) {
	sink := &recordingSink{}
	remapper := NewRemapper(sink)

	imu := TargetImuViz.Ref()
	cloud := TargetPointCloud.Ref()

	first, err := remapper.Assign("/imu", LayoutEncoding, imu)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), first)

	// repeats reuse the id and emit nothing new
	again, err := remapper.Assign("/imu", LayoutEncoding, imu)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Len(t, sink.schemas, 1)
	assert.Len(t, sink.channels, 1)

	second, err := remapper.Assign("/lidar/points", LayoutEncoding, cloud)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), second)

	// same schema on a new topic gets a new channel, not a new schema
	third, err := remapper.Assign("/lidar_rear/points", LayoutEncoding, cloud)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), third)
	assert.Len(t, sink.schemas, 2)
	assert.Len(t, sink.channels, 3)

	assert.Equal(t, 3, remapper.ChannelCount())

	// definitions precede any use: the channel references the schema id
	// emitted alongside it
	require.Len(t, sink.channels, 3)
	assert.Equal(t, sink.schemas[0].ID, sink.channels[0].SchemaID)
	assert.Equal(t, sink.schemas[1].ID, sink.channels[1].SchemaID)
	assert.Equal(t, sink.schemas[1].ID, sink.channels[2].SchemaID)
}

func TestRemapperDistinguishesSchemaIdentity(t *testing.T) {
	sink := &recordingSink{}
	remapper := NewRemapper(sink)

	first, err := remapper.Assign("/data", LayoutEncoding, SchemaRef{Name: "a.A", Encoding: LayoutEncoding})
	require.NoError(t, err)
	second, err := remapper.Assign("/data", LayoutEncoding, SchemaRef{Name: "b.B", Encoding: LayoutEncoding})
	require.NoError(t, err)

	// same topic, different schema identity: distinct channels
	assert.NotEqual(t, first, second)
}

func TestRemapperKeepsMessageEncoding(t *testing.T) {
	sink := &recordingSink{}
	remapper := NewRemapper(sink)

	// the channel's message encoding is independent of the schema encoding
	_, err := remapper.Assign("/data", "cbor", SchemaRef{Name: "vendor.Custom", Encoding: LayoutEncoding})
	require.NoError(t, err)

	require.Len(t, sink.channels, 1)
	assert.Equal(t, "cbor", sink.channels[0].MessageEncoding)
	assert.Equal(t, LayoutEncoding, sink.schemas[0].Encoding)
}
