package container

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	// DefaultChunkSize is the uncompressed chunk payload threshold used when
	// chunked writing is requested without an explicit size.
	DefaultChunkSize = 1 << 20
)

// EncoderOptions configures destination writing.
type EncoderOptions struct {
	Profile string
	Library string
	// Compression selects chunked writing. CompressionNone (or empty)
	// writes a flat record stream with per-channel message indexes.
	Compression Compression
	// ChunkSize is the uncompressed chunk payload threshold in bytes.
	ChunkSize int
}

// Encoder appends records to a destination container in arrival order and
// finalizes the summary section on Finish. It never reorders records;
// ordering is the caller's responsibility.
type Encoder struct {
	w        io.Writer
	opts     EncoderOptions
	offset   uint64
	started  bool
	finished bool

	schemas      map[uint16]*Schema
	channels     map[uint16]*Channel
	schemaOrder  []uint16
	channelOrder []uint16

	indexes    map[uint16]*MessageIndex
	indexOrder []uint16
	chunkInfos []*ChunkInfo
	chunk      *chunkState

	stats Statistics
}

type chunkState struct {
	buf          bytes.Buffer
	startTime    uint64
	endTime      uint64
	messageCount uint32
}

// NewEncoder writes a container to w. The caller owns w and its lifecycle;
// on failure the caller decides whether to remove the partial output.
func NewEncoder(w io.Writer, opts EncoderOptions) *Encoder {
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Encoder{
		w:        w,
		opts:     opts,
		schemas:  make(map[uint16]*Schema),
		channels: make(map[uint16]*Channel),
		indexes:  make(map[uint16]*MessageIndex),
		stats:    Statistics{ChannelMessageCounts: make(map[uint16]uint64)},
	}
}

// Start writes the magic line and file header record. Must be called before
// any other write.
func (encoder *Encoder) Start() error {
	if encoder.started {
		return errors.New("encoder already started")
	}
	encoder.started = true

	magic := fmt.Sprintf(versionFormat, supportedVersion.Major, supportedVersion.Minor)
	if err := encoder.writeRaw([]byte(magic)); err != nil {
		return err
	}

	var header fieldWriter
	header.addByte("op", byte(OpFileHeader))
	header.addString("profile", encoder.opts.Profile)
	header.addString("library", encoder.opts.Library)
	return encoder.writeRecord(&header, nil)
}

// WriteSchema appends a schema definition. Re-registering the same id with
// identical content is a no-op.
func (encoder *Encoder) WriteSchema(schema *Schema) error {
	if err := encoder.writable(); err != nil {
		return err
	}
	if prev, ok := encoder.schemas[schema.ID]; ok {
		if prev.Name != schema.Name || prev.Encoding != schema.Encoding || !bytes.Equal(prev.Data, schema.Data) {
			return errors.Newf("schema id %d reused for %s/%s (was %s/%s)", schema.ID, schema.Name, schema.Encoding, prev.Name, prev.Encoding)
		}
		return nil
	}
	encoder.schemas[schema.ID] = schema
	encoder.schemaOrder = append(encoder.schemaOrder, schema.ID)
	encoder.stats.SchemaCount++

	if err := encoder.flushChunk(); err != nil {
		return err
	}
	return encoder.writeRecord(schemaHeader(schema), schema.Data)
}

// WriteChannel appends a channel definition. The referenced schema must
// already be written.
func (encoder *Encoder) WriteChannel(channel *Channel) error {
	if err := encoder.writable(); err != nil {
		return err
	}
	if _, ok := encoder.schemas[channel.SchemaID]; !ok {
		return errors.Newf("channel %d (%s) references unwritten schema %d", channel.ID, channel.Topic, channel.SchemaID)
	}
	if prev, ok := encoder.channels[channel.ID]; ok {
		if prev.Topic != channel.Topic || prev.SchemaID != channel.SchemaID {
			return errors.Newf("channel id %d reused for topic %s (was %s)", channel.ID, channel.Topic, prev.Topic)
		}
		return nil
	}
	encoder.channels[channel.ID] = channel
	encoder.channelOrder = append(encoder.channelOrder, channel.ID)
	encoder.stats.ChannelCount++

	if err := encoder.flushChunk(); err != nil {
		return err
	}
	return encoder.writeRecord(channelHeader(channel), nil)
}

// WriteMessage appends a message. The referenced channel must already be
// written.
func (encoder *Encoder) WriteMessage(message *Message) error {
	if err := encoder.writable(); err != nil {
		return err
	}
	if _, ok := encoder.channels[message.ChannelID]; !ok {
		return errors.Newf("message references unwritten channel %d", message.ChannelID)
	}

	if encoder.stats.MessageCount == 0 || message.LogTime < encoder.stats.MessageStartTime {
		encoder.stats.MessageStartTime = message.LogTime
	}
	if message.LogTime > encoder.stats.MessageEndTime {
		encoder.stats.MessageEndTime = message.LogTime
	}
	encoder.stats.MessageCount++
	encoder.stats.ChannelMessageCounts[message.ChannelID]++

	var header fieldWriter
	header.addByte("op", byte(OpMessage))
	header.addUint16("channel_id", message.ChannelID)
	header.addUint64("log_time", message.LogTime)
	header.addUint64("publish_time", message.PublishTime)

	if encoder.chunked() {
		return encoder.writeChunked(&header, message)
	}

	index, ok := encoder.indexes[message.ChannelID]
	if !ok {
		index = &MessageIndex{ChannelID: message.ChannelID}
		encoder.indexes[message.ChannelID] = index
		encoder.indexOrder = append(encoder.indexOrder, message.ChannelID)
	}
	index.Entries = append(index.Entries, IndexEntry{LogTime: message.LogTime, Offset: encoder.offset})

	return encoder.writeRecord(&header, message.Payload)
}

// WriteMetadata appends a metadata record.
func (encoder *Encoder) WriteMetadata(metadata *Metadata) error {
	if err := encoder.writable(); err != nil {
		return err
	}
	if err := encoder.flushChunk(); err != nil {
		return err
	}

	var header fieldWriter
	header.addByte("op", byte(OpMetadata))
	header.addString("name", metadata.Name)

	var data fieldWriter
	for _, key := range sortedKeys(metadata.Entries) {
		data.addString(key, metadata.Entries[key])
	}
	return encoder.writeRecord(&header, data.buf)
}

// Finish closes any open chunk and writes the summary section: repeated
// schema and channel definitions, message indexes (or chunk summaries),
// statistics, and the footer.
func (encoder *Encoder) Finish() error {
	if err := encoder.writable(); err != nil {
		return err
	}
	if err := encoder.flushChunk(); err != nil {
		return err
	}
	encoder.finished = true

	summaryStart := encoder.offset

	for _, id := range encoder.schemaOrder {
		schema := encoder.schemas[id]
		if err := encoder.writeRecord(schemaHeader(schema), schema.Data); err != nil {
			return err
		}
	}
	for _, id := range encoder.channelOrder {
		if err := encoder.writeRecord(channelHeader(encoder.channels[id]), nil); err != nil {
			return err
		}
	}

	if encoder.chunked() {
		for _, info := range encoder.chunkInfos {
			var header fieldWriter
			header.addByte("op", byte(OpChunkInfo))
			header.addUint64("chunk_pos", info.ChunkPos)
			header.addUint64("start_time", info.StartTime)
			header.addUint64("end_time", info.EndTime)
			header.addUint32("count", info.MessageCount)
			if err := encoder.writeRecord(&header, nil); err != nil {
				return err
			}
		}
	} else {
		for _, id := range encoder.indexOrder {
			index := encoder.indexes[id]
			var header fieldWriter
			header.addByte("op", byte(OpMessageIndex))
			header.addUint16("channel_id", index.ChannelID)
			header.addUint32("count", uint32(len(index.Entries)))
			data := make([]byte, len(index.Entries)*16)
			for i, entry := range index.Entries {
				endian.PutUint64(data[i*16:], entry.LogTime)
				endian.PutUint64(data[i*16+8:], entry.Offset)
			}
			if err := encoder.writeRecord(&header, data); err != nil {
				return err
			}
		}
	}

	var statsHeader fieldWriter
	statsHeader.addByte("op", byte(OpStatistics))
	statsHeader.addUint64("message_count", encoder.stats.MessageCount)
	statsHeader.addUint32("schema_count", encoder.stats.SchemaCount)
	statsHeader.addUint32("channel_count", encoder.stats.ChannelCount)
	statsHeader.addUint64("start_time", encoder.stats.MessageStartTime)
	statsHeader.addUint64("end_time", encoder.stats.MessageEndTime)
	statsData := make([]byte, 0, len(encoder.channelOrder)*10)
	for _, id := range encoder.channelOrder {
		var entry [10]byte
		endian.PutUint16(entry[:], id)
		endian.PutUint64(entry[2:], encoder.stats.ChannelMessageCounts[id])
		statsData = append(statsData, entry[:]...)
	}
	if err := encoder.writeRecord(&statsHeader, statsData); err != nil {
		return err
	}

	var footer fieldWriter
	footer.addByte("op", byte(OpFooter))
	footer.addUint64("summary_start", summaryStart)
	return encoder.writeRecord(&footer, nil)
}

// Statistics returns the running statistics. Complete after Finish.
func (encoder *Encoder) Statistics() *Statistics { return &encoder.stats }

func (encoder *Encoder) chunked() bool {
	return encoder.opts.Compression != CompressionNone
}

func (encoder *Encoder) writable() error {
	if !encoder.started {
		return errors.New("encoder not started")
	}
	if encoder.finished {
		return errors.New("encoder already finished")
	}
	return nil
}

func (encoder *Encoder) writeChunked(header *fieldWriter, message *Message) error {
	if encoder.chunk == nil {
		encoder.chunk = &chunkState{startTime: message.LogTime}
	}
	chunk := encoder.chunk
	if chunk.messageCount == 0 {
		chunk.startTime = message.LogTime
	}
	chunk.endTime = message.LogTime
	chunk.messageCount++
	chunk.buf.Write(encodeRecord(header, message.Payload))

	if chunk.buf.Len() >= encoder.opts.ChunkSize {
		return encoder.flushChunk()
	}
	return nil
}

func (encoder *Encoder) flushChunk() error {
	chunk := encoder.chunk
	if chunk == nil || chunk.buf.Len() == 0 {
		return nil
	}
	encoder.chunk = nil

	var compressed bytes.Buffer
	switch encoder.opts.Compression {
	case CompressionLZ4:
		zw := lz4.NewWriter(&compressed)
		if _, err := zw.Write(chunk.buf.Bytes()); err != nil {
			return errors.Wrapf(ErrWrite, "lz4 chunk: %v", err)
		}
		if err := zw.Close(); err != nil {
			return errors.Wrapf(ErrWrite, "lz4 chunk: %v", err)
		}
	case CompressionZstd:
		zw, err := zstd.NewWriter(&compressed)
		if err != nil {
			return errors.Wrapf(ErrWrite, "zstd chunk: %v", err)
		}
		if _, err := zw.Write(chunk.buf.Bytes()); err != nil {
			return errors.Wrapf(ErrWrite, "zstd chunk: %v", err)
		}
		if err := zw.Close(); err != nil {
			return errors.Wrapf(ErrWrite, "zstd chunk: %v", err)
		}
	default:
		return errors.Wrapf(errUnsupportedCompression, "%q", encoder.opts.Compression)
	}

	info := &ChunkInfo{
		ChunkPos:     encoder.offset,
		StartTime:    chunk.startTime,
		EndTime:      chunk.endTime,
		MessageCount: chunk.messageCount,
	}

	var header fieldWriter
	header.addByte("op", byte(OpChunk))
	header.addString("compression", string(encoder.opts.Compression))
	header.addUint32("size", uint32(chunk.buf.Len()))
	if err := encoder.writeRecord(&header, compressed.Bytes()); err != nil {
		return err
	}
	encoder.chunkInfos = append(encoder.chunkInfos, info)
	return nil
}

func (encoder *Encoder) writeRecord(header *fieldWriter, data []byte) error {
	return encoder.writeRaw(encodeRecord(header, data))
}

func (encoder *Encoder) writeRaw(raw []byte) error {
	n, err := encoder.w.Write(raw)
	encoder.offset += uint64(n)
	if err != nil {
		return errors.Wrapf(ErrWrite, "at offset %d: %v", encoder.offset, err)
	}
	return nil
}

func encodeRecord(header *fieldWriter, data []byte) []byte {
	raw := make([]byte, 0, 2*lenInBytes+len(header.buf)+len(data))
	var lenBuf [lenInBytes]byte
	endian.PutUint32(lenBuf[:], uint32(len(header.buf)))
	raw = append(raw, lenBuf[:]...)
	raw = append(raw, header.buf...)
	endian.PutUint32(lenBuf[:], uint32(len(data)))
	raw = append(raw, lenBuf[:]...)
	raw = append(raw, data...)
	return raw
}

func schemaHeader(schema *Schema) *fieldWriter {
	var header fieldWriter
	header.addByte("op", byte(OpSchema))
	header.addUint16("id", schema.ID)
	header.addString("name", schema.Name)
	header.addString("encoding", schema.Encoding)
	return &header
}

func channelHeader(channel *Channel) *fieldWriter {
	var header fieldWriter
	header.addByte("op", byte(OpChannel))
	header.addUint16("id", channel.ID)
	header.addUint16("schema_id", channel.SchemaID)
	header.addString("topic", channel.Topic)
	header.addString("message_encoding", channel.MessageEncoding)
	return &header
}

// sortedKeys keeps metadata encoding deterministic across runs.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
