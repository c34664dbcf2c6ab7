package pipeline

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LightwheelAI/LW-Egosuite-DevKit/container"
	"github.com/LightwheelAI/LW-Egosuite-DevKit/layout"
	"github.com/LightwheelAI/LW-Egosuite-DevKit/viz"
)

// fixtureChannel is one channel of a test container with its message values.
type fixtureChannel struct {
	schemaName string
	schemaText string
	topic      string
	messages   []map[string]interface{}
	// rawPayloads overrides encoded messages when set
	rawPayloads [][]byte
	// messageEncoding overrides the channel's message encoding when set
	messageEncoding string
}

func writeSource(t *testing.T, path string, channels []fixtureChannel) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	encoder := container.NewEncoder(f, container.EncoderOptions{Profile: "egosuite", Library: "recorder"})
	require.NoError(t, encoder.Start())

	var logTime uint64 = 1000
	for i, channel := range channels {
		schemaID := uint16(i + 1)
		err := encoder.WriteSchema(&container.Schema{
			ID:       schemaID,
			Name:     channel.schemaName,
			Encoding: viz.LayoutEncoding,
			Data:     []byte(channel.schemaText),
		})
		require.NoError(t, err)
		messageEncoding := channel.messageEncoding
		if messageEncoding == "" {
			messageEncoding = viz.LayoutEncoding
		}
		err = encoder.WriteChannel(&container.Channel{
			ID:              schemaID,
			SchemaID:        schemaID,
			Topic:           channel.topic,
			MessageEncoding: messageEncoding,
		})
		require.NoError(t, err)
	}
	require.NoError(t, encoder.WriteMetadata(&container.Metadata{
		Name:    "session",
		Entries: map[string]string{"robot": "g1"},
	}))

	for i, channel := range channels {
		def, err := layout.Parse(channel.schemaName, []byte(channel.schemaText))
		require.NoError(t, err)

		payloads := channel.rawPayloads
		if payloads == nil {
			for _, values := range channel.messages {
				payload, err := def.Encode(values)
				require.NoError(t, err)
				payloads = append(payloads, payload)
			}
		}
		for _, payload := range payloads {
			err = encoder.WriteMessage(&container.Message{
				ChannelID:   uint16(i + 1),
				LogTime:     logTime,
				PublishTime: logTime,
				Payload:     payload,
			})
			require.NoError(t, err)
			logTime++
		}
	}
	require.NoError(t, encoder.Finish())
}

// readMessages decodes a container into per-topic message payloads, in
// stream order.
func readMessages(t *testing.T, path string) (map[string][][]byte, []string) {
	t.Helper()

	decoder, closer, err := container.Open(path)
	require.NoError(t, err)
	defer closer.Close()

	byTopic := make(map[string][][]byte)
	var order []string
	for {
		record, err := decoder.Read()
		if errors.Is(err, io.EOF) {
			return byTopic, order
		}
		require.NoError(t, err)

		if message, ok := record.(*container.Message); ok {
			topic := decoder.Channels()[message.ChannelID].Topic
			byTopic[topic] = append(byTopic[topic], message.Payload)
			order = append(order, topic)
		}
	}
}

func imuFixture(count int) fixtureChannel {
	channel := fixtureChannel{
		schemaName: "egosuite.ImuRaw",
		schemaText: viz.SourceImuRaw,
		topic:      "/imu",
	}
	for i := 0; i < count; i++ {
		channel.messages = append(channel.messages, map[string]interface{}{
			"stamp":               uint64(1000 + i),
			"angular_velocity":    []float64{0.1, 0.2, float64(i)},
			"linear_acceleration": []float64{0, 0, 9.81},
			"orientation":         []float64{1, 0, 0, 0},
		})
	}
	return channel
}

func TestConvertImu(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "session.eglog")
	writeSource(t, source, []fixtureChannel{imuFixture(10)})

	report, err := Convert(context.Background(), Options{Source: source})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "output", "session_viz.eglog"), report.Destination)
	assert.Equal(t, uint64(10), report.Converted)
	assert.Equal(t, uint64(10), report.Outputs)
	assert.Equal(t, uint64(0), report.PassedThrough)
	assert.Equal(t, uint64(10), report.TopicMessages["/imu"])

	byTopic, _ := readMessages(t, report.Destination)
	require.Len(t, byTopic["/imu"], 10)

	// output schema is the visualization dialect with identical field values
	decoder, closer, err := container.Open(report.Destination)
	require.NoError(t, err)
	defer closer.Close()
	for {
		record, err := decoder.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if schema, ok := record.(*container.Schema); ok {
			assert.Equal(t, "lightwheel.ImuViz", schema.Name)
			break
		}
	}

	values, err := viz.TargetImuViz.Def.Decode(byTopic["/imu"][3])
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 3}, values["angular_velocity"])
}

func TestConvertFanOut(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "scan.eglog")
	writeSource(t, source, []fixtureChannel{{
		schemaName: "egosuite.CompositeScan",
		schemaText: viz.SourceCompositeScan,
		topic:      "/lidar",
		messages: []map[string]interface{}{
			{
				"stamp":       uint64(1000),
				"frame_id":    "lidar_front",
				"points":      []float32{1, 2, 3, 4, 5, 6},
				"intensities": []float32{0.5, 0.9},
			},
		},
	}})

	report, err := Convert(context.Background(), Options{Source: source})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), report.Converted)
	assert.Equal(t, uint64(2), report.Outputs)
	assert.Equal(t, uint64(1), report.TopicMessages["/lidar/points"])
	assert.Equal(t, uint64(1), report.TopicMessages["/lidar/intensity"])

	byTopic, _ := readMessages(t, report.Destination)
	assert.Len(t, byTopic["/lidar/points"], 1)
	assert.Len(t, byTopic["/lidar/intensity"], 1)
	assert.Empty(t, byTopic["/lidar"])
}

func TestConvertPassThroughAndOrdering(t *testing.T) {
	vendor := fixtureChannel{
		schemaName: "vendor.Custom",
		schemaText: "uint32 n\n",
		topic:      "/custom",
		messages: []map[string]interface{}{
			{"n": uint32(1)}, {"n": uint32(2)}, {"n": uint32(3)},
		},
	}

	dir := t.TempDir()
	source := filepath.Join(dir, "mixed.eglog")
	writeSource(t, source, []fixtureChannel{imuFixture(2), vendor})

	report, err := Convert(context.Background(), Options{Source: source})
	require.NoError(t, err)

	assert.Equal(t, uint64(2), report.Converted)
	assert.Equal(t, uint64(3), report.PassedThrough)

	srcByTopic, _ := readMessages(t, source)
	outByTopic, order := readMessages(t, report.Destination)

	// pass-through payloads are byte-identical to the source
	assert.Equal(t, srcByTopic["/custom"], outByTopic["/custom"])

	// per-topic message order matches the source stream
	assert.Equal(t, []string{"/imu", "/imu", "/custom", "/custom", "/custom"}, order)
}

func TestConvertPassThroughRoundTrip(t *testing.T) {
	vendor := fixtureChannel{
		schemaName: "vendor.Custom",
		schemaText: "uint32 n\nstring tag\n",
		topic:      "/custom",
		messages: []map[string]interface{}{
			{"n": uint32(1), "tag": "a"},
			{"n": uint32(2), "tag": "b"},
		},
	}

	dir := t.TempDir()
	source := filepath.Join(dir, "vendor.eglog")
	writeSource(t, source, []fixtureChannel{vendor})

	first, err := Convert(context.Background(), Options{Source: source, Destination: filepath.Join(dir, "once.eglog")})
	require.NoError(t, err)

	// pass-through preserves payloads and timestamps on the same topic
	srcTimes := messageTimes(t, source)
	outTimes := messageTimes(t, first.Destination)
	assert.Equal(t, srcTimes, outTimes)

	// converting an already converted container is a fixed point
	second, err := Convert(context.Background(), Options{Source: first.Destination, Destination: filepath.Join(dir, "twice.eglog")})
	require.NoError(t, err)

	onceRaw, err := os.ReadFile(first.Destination)
	require.NoError(t, err)
	twiceRaw, err := os.ReadFile(second.Destination)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(onceRaw, twiceRaw), "re-conversion changed the container")
}

func TestConvertPassThroughKeepsMessageEncoding(t *testing.T) {
	vendor := fixtureChannel{
		schemaName:      "vendor.Custom",
		schemaText:      "uint32 n\n",
		topic:           "/custom",
		messages:        []map[string]interface{}{{"n": uint32(1)}},
		messageEncoding: "cbor",
	}

	dir := t.TempDir()
	source := filepath.Join(dir, "vendor.eglog")
	writeSource(t, source, []fixtureChannel{vendor})

	report, err := Convert(context.Background(), Options{Source: source})
	require.NoError(t, err)

	outDecoder, outCloser, err := container.Open(report.Destination)
	require.NoError(t, err)
	defer outCloser.Close()
	for {
		if _, err := outDecoder.Read(); errors.Is(err, io.EOF) {
			break
		} else {
			require.NoError(t, err)
		}
	}

	// the channel's own message encoding travels with it, independent of the
	// schema encoding
	require.Len(t, outDecoder.Channels(), 1)
	for _, channel := range outDecoder.Channels() {
		assert.Equal(t, "/custom", channel.Topic)
		assert.Equal(t, "cbor", channel.MessageEncoding)
	}
}

func messageTimes(t *testing.T, path string) []uint64 {
	t.Helper()

	decoder, closer, err := container.Open(path)
	require.NoError(t, err)
	defer closer.Close()

	var times []uint64
	for {
		record, err := decoder.Read()
		if errors.Is(err, io.EOF) {
			return times
		}
		require.NoError(t, err)
		if message, ok := record.(*container.Message); ok {
			times = append(times, message.LogTime)
		}
	}
}

func TestConvertDrop(t *testing.T) {
	registry, err := viz.NewRegistry(viz.DefaultBindings(), []viz.Identity{viz.LayoutIdentity("vendor.Debug")})
	require.NoError(t, err)

	dir := t.TempDir()
	source := filepath.Join(dir, "debug.eglog")
	writeSource(t, source, []fixtureChannel{{
		schemaName: "vendor.Debug",
		schemaText: "uint32 n\n",
		topic:      "/debug",
		messages: []map[string]interface{}{
			{"n": uint32(1)}, {"n": uint32(2)},
		},
	}, imuFixture(1)})

	report, err := Convert(context.Background(), Options{Source: source, Registry: registry})
	require.NoError(t, err)

	assert.Equal(t, uint64(2), report.Dropped)
	assert.Equal(t, uint64(1), report.Converted)

	byTopic, _ := readMessages(t, report.Destination)
	assert.Empty(t, byTopic["/debug"])
	assert.Len(t, byTopic["/imu"], 1)
}

func TestConvertDeterministic(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "session.eglog")
	writeSource(t, source, []fixtureChannel{imuFixture(5)})

	first, err := Convert(context.Background(), Options{Source: source, Destination: filepath.Join(dir, "a.eglog")})
	require.NoError(t, err)
	second, err := Convert(context.Background(), Options{Source: source, Destination: filepath.Join(dir, "b.eglog")})
	require.NoError(t, err)

	firstRaw, err := os.ReadFile(first.Destination)
	require.NoError(t, err)
	secondRaw, err := os.ReadFile(second.Destination)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(firstRaw, secondRaw), "repeated conversions differ")
}

func TestConvertMalformedPayloadAborts(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "bad.eglog")
	writeSource(t, source, []fixtureChannel{{
		schemaName:  "egosuite.ImuRaw",
		schemaText:  viz.SourceImuRaw,
		topic:       "/imu",
		rawPayloads: [][]byte{{0xde, 0xad}},
	}})

	_, err := Convert(context.Background(), Options{Source: source})
	require.Error(t, err)
	assert.True(t, errors.Is(err, layout.ErrPayloadDecode))

	// no partial output is left behind
	_, statErr := os.Stat(DerivePath(source, ""))
	assert.True(t, os.IsNotExist(statErr))
}

func TestConvertMissingSource(t *testing.T) {
	_, err := Convert(context.Background(), Options{Source: filepath.Join(t.TempDir(), "nope.eglog")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, container.ErrNotFound))
}

func TestConvertCancelled(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "session.eglog")
	writeSource(t, source, []fixtureChannel{imuFixture(5)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Convert(ctx, Options{Source: source})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestConvertChunkedDestination(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "session.eglog")
	writeSource(t, source, []fixtureChannel{imuFixture(20)})

	for _, compression := range []container.Compression{container.CompressionLZ4, container.CompressionZstd} {
		report, err := Convert(context.Background(), Options{
			Source:      source,
			Destination: filepath.Join(dir, string(compression)+".eglog"),
			Compression: compression,
			ChunkSize:   256,
		})
		require.NoError(t, err)

		byTopic, _ := readMessages(t, report.Destination)
		assert.Len(t, byTopic["/imu"], 20, string(compression))
	}
}

func TestConvertAllIsolatesFailures(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.eglog")
	writeSource(t, good, []fixtureChannel{imuFixture(3)})

	bad := filepath.Join(dir, "bad.eglog")
	require.NoError(t, os.WriteFile(bad, []byte("#EGOLOG V1.0\ngarbage"), 0o644))

	missing := filepath.Join(dir, "missing.eglog")

	results := ConvertAll(context.Background(), []string{good, bad, missing}, Options{}, 2)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Report)
	assert.Equal(t, uint64(3), results[0].Report.Converted)

	assert.Error(t, results[1].Err)
	assert.True(t, errors.Is(results[1].Err, container.ErrCorruptContainer))

	assert.Error(t, results[2].Err)
	assert.True(t, errors.Is(results[2].Err, container.ErrNotFound))
}
