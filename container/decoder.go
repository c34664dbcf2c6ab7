package container

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Decoder streams records out of a container in file order. Chunk records
// are transparent: the decoder descends into chunk data and yields the
// nested records.
type Decoder struct {
	reader         *bufio.Reader
	chunkReader    io.Reader
	chunkLimit     io.Reader
	chunkCloser    io.Closer
	checkedVersion bool
	sawFooter      bool
	offset         uint64

	schemas  map[uint16]*Schema
	channels map[uint16]*Channel
}

// NewDecoder decodes a container from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		reader:   bufio.NewReader(r),
		schemas:  make(map[uint16]*Schema),
		channels: make(map[uint16]*Channel),
	}
}

// Open opens a container file for streaming. The returned closer releases
// the read handle; callers must close it when iteration completes or fails.
func Open(path string) (*Decoder, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrNotFound, "%s: %v", path, err)
	}
	return NewDecoder(f), f, nil
}

// Read returns the next record. It returns io.EOF after the footer record
// has been consumed. A stream that ends without a footer is corrupt.
func (decoder *Decoder) Read() (Record, error) {
	if !decoder.checkedVersion {
		if err := decoder.checkVersion(); err != nil {
			return nil, err
		}
		decoder.checkedVersion = true
	}

	for {
		if decoder.chunkReader != nil {
			record, err := decoder.decodeRecord(decoder.chunkReader, true)
			switch {
			case err == nil:
				return decoder.validate(record)
			case errors.Is(err, io.EOF):
				// chunk exhausted, release the decompressor, skip any
				// compressor trailer, and resume from the outer stream
				if decoder.chunkCloser != nil {
					decoder.chunkCloser.Close()
					decoder.chunkCloser = nil
				}
				if _, err := io.Copy(io.Discard, decoder.chunkLimit); err != nil {
					return nil, errors.Wrap(ErrCorruptContainer, "chunk trailer")
				}
				decoder.chunkReader = nil
				decoder.chunkLimit = nil
			default:
				return nil, err
			}
			continue
		}

		record, err := decoder.decodeRecord(decoder.reader, false)
		if errors.Is(err, io.EOF) {
			if !decoder.sawFooter {
				return nil, errors.Wrapf(ErrCorruptContainer, "stream ended at offset %d without a footer record", decoder.offset)
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, err
		}
		if record == nil {
			// chunk opened, next iteration reads from it
			continue
		}

		return decoder.validate(record)
	}
}

// Schemas returns the schema definitions seen so far, keyed by id.
func (decoder *Decoder) Schemas() map[uint16]*Schema { return decoder.schemas }

// Channels returns the channel definitions seen so far, keyed by id.
func (decoder *Decoder) Channels() map[uint16]*Channel { return decoder.channels }

func (decoder *Decoder) checkVersion() error {
	magic := make([]byte, len(fmt.Sprintf(versionFormat, supportedVersion.Major, supportedVersion.Minor)))
	if _, err := io.ReadFull(decoder.reader, magic); err != nil {
		return errors.Wrapf(ErrCorruptContainer, "missing magic line: %v", err)
	}
	decoder.offset += uint64(len(magic))

	var version Version
	if _, err := fmt.Sscanf(string(magic), versionFormat, &version.Major, &version.Minor); err != nil {
		return errors.Wrapf(ErrCorruptContainer, "malformed magic line %q", magic)
	}
	if version != supportedVersion {
		return errors.Wrapf(ErrCorruptContainer, "version %s is not supported. %s is the current supported version", &version, &supportedVersion)
	}
	return nil
}

// validate checks referential integrity and registers definitions.
// Summary-section repeats of schema and channel records are tolerated.
func (decoder *Decoder) validate(record Record) (Record, error) {
	switch record := record.(type) {
	case *Schema:
		decoder.schemas[record.ID] = record
	case *Channel:
		if _, ok := decoder.schemas[record.SchemaID]; !ok {
			return nil, errors.Wrapf(ErrCorruptContainer, "channel %d (%s) references undefined schema %d", record.ID, record.Topic, record.SchemaID)
		}
		decoder.channels[record.ID] = record
	case *Message:
		if _, ok := decoder.channels[record.ChannelID]; !ok {
			return nil, errors.Wrapf(ErrCorruptContainer, "message at offset %d references undefined channel %d", decoder.offset, record.ChannelID)
		}
	case *Footer:
		decoder.sawFooter = true
	}
	return record, nil
}

func (decoder *Decoder) decodeRecord(r io.Reader, inChunk bool) (Record, error) {
	header, err := decoder.readBlock(r, inChunk)
	if err != nil {
		return nil, err
	}

	fields, err := collectFields(header)
	if err != nil {
		return nil, err
	}

	opValue, ok := fields["op"]
	if !ok || len(opValue) != 1 {
		return nil, errors.Wrapf(ErrCorruptContainer, "record at offset %d has no op field", decoder.offset)
	}
	op := Op(opValue[0])

	var lenBuf [lenInBytes]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, errors.Wrapf(ErrCorruptContainer, "truncated %s record at offset %d", op, decoder.offset)
	}
	if !inChunk {
		decoder.offset += lenInBytes
	}
	dataLen := endian.Uint32(lenBuf[:])

	// Chunk data is a nested record stream; leave it unread and descend on
	// the next iteration.
	if op == OpChunk {
		if inChunk {
			return nil, errors.Wrap(ErrCorruptContainer, "nested chunk record")
		}
		return nil, decoder.openChunk(fields, dataLen)
	}

	data := make([]byte, dataLen)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrapf(ErrCorruptContainer, "truncated %s record data at offset %d", op, decoder.offset)
	}
	if !inChunk {
		decoder.offset += uint64(dataLen)
	}

	return buildRecord(op, fields, data)
}

// readBlock reads one u32-length-prefixed block. A clean io.EOF on the
// length prefix marks the end of the enclosing stream.
func (decoder *Decoder) readBlock(r io.Reader, inChunk bool) ([]byte, error) {
	var lenBuf [lenInBytes]byte
	n, err := io.ReadFull(r, lenBuf[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return nil, io.EOF
		}
		return nil, errors.Wrapf(ErrCorruptContainer, "truncated record at offset %d", decoder.offset)
	}
	if !inChunk {
		decoder.offset += lenInBytes
	}

	blockLen := endian.Uint32(lenBuf[:])
	block := make([]byte, blockLen)
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, errors.Wrapf(ErrCorruptContainer, "truncated record at offset %d", decoder.offset)
	}
	if !inChunk {
		decoder.offset += uint64(blockLen)
	}
	return block, nil
}

func (decoder *Decoder) openChunk(fields map[string][]byte, dataLen uint32) error {
	compression, err := fieldString(fields, "compression")
	if err != nil {
		return err
	}

	chunkReader := io.LimitReader(decoder.reader, int64(dataLen))
	decoder.chunkLimit = chunkReader
	decoder.offset += uint64(dataLen)
	switch Compression(compression) {
	case CompressionNone:
		decoder.chunkReader = chunkReader
	case CompressionLZ4:
		decoder.chunkReader = lz4.NewReader(chunkReader)
	case CompressionZstd:
		zr, err := zstd.NewReader(chunkReader)
		if err != nil {
			return errors.Wrapf(ErrCorruptContainer, "zstd chunk: %v", err)
		}
		rc := zr.IOReadCloser()
		decoder.chunkReader = rc
		decoder.chunkCloser = rc
	default:
		return errors.Wrapf(errUnsupportedCompression, "%q", compression)
	}
	return nil
}

func buildRecord(op Op, fields map[string][]byte, data []byte) (Record, error) {
	switch op {
	case OpFileHeader:
		return buildFileHeader(fields)
	case OpSchema:
		return buildSchema(fields, data)
	case OpChannel:
		return buildChannel(fields)
	case OpMessage:
		return buildMessage(fields, data)
	case OpMetadata:
		return buildMetadata(fields, data)
	case OpMessageIndex:
		return buildMessageIndex(fields, data)
	case OpChunkInfo:
		return buildChunkInfo(fields)
	case OpStatistics:
		return buildStatistics(fields, data)
	case OpFooter:
		return buildFooter(fields)
	default:
		return nil, errors.Wrapf(ErrCorruptContainer, "invalid op 0x%02x", uint8(op))
	}
}

func buildFileHeader(fields map[string][]byte) (Record, error) {
	profile, err := fieldString(fields, "profile")
	if err != nil {
		return nil, err
	}
	library, err := fieldString(fields, "library")
	if err != nil {
		return nil, err
	}
	return &FileHeader{Profile: profile, Library: library}, nil
}

func buildSchema(fields map[string][]byte, data []byte) (Record, error) {
	id, err := fieldUint16(fields, "id")
	if err != nil {
		return nil, err
	}
	name, err := fieldString(fields, "name")
	if err != nil {
		return nil, err
	}
	encoding, err := fieldString(fields, "encoding")
	if err != nil {
		return nil, err
	}
	return &Schema{ID: id, Name: name, Encoding: encoding, Data: data}, nil
}

func buildChannel(fields map[string][]byte) (Record, error) {
	id, err := fieldUint16(fields, "id")
	if err != nil {
		return nil, err
	}
	schemaID, err := fieldUint16(fields, "schema_id")
	if err != nil {
		return nil, err
	}
	topic, err := fieldString(fields, "topic")
	if err != nil {
		return nil, err
	}
	messageEncoding, err := fieldString(fields, "message_encoding")
	if err != nil {
		return nil, err
	}
	return &Channel{ID: id, SchemaID: schemaID, Topic: topic, MessageEncoding: messageEncoding}, nil
}

func buildMessage(fields map[string][]byte, data []byte) (Record, error) {
	channelID, err := fieldUint16(fields, "channel_id")
	if err != nil {
		return nil, err
	}
	logTime, err := fieldUint64(fields, "log_time")
	if err != nil {
		return nil, err
	}
	publishTime, err := fieldUint64(fields, "publish_time")
	if err != nil {
		return nil, err
	}
	return &Message{ChannelID: channelID, LogTime: logTime, PublishTime: publishTime, Payload: data}, nil
}

func buildMetadata(fields map[string][]byte, data []byte) (Record, error) {
	name, err := fieldString(fields, "name")
	if err != nil {
		return nil, err
	}
	entries := make(map[string]string)
	err = iterateFields(data, func(key, value []byte) bool {
		entries[string(key)] = string(value)
		return true
	})
	if err != nil {
		return nil, err
	}
	return &Metadata{Name: name, Entries: entries}, nil
}

func buildMessageIndex(fields map[string][]byte, data []byte) (Record, error) {
	channelID, err := fieldUint16(fields, "channel_id")
	if err != nil {
		return nil, err
	}
	count, err := fieldUint32(fields, "count")
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) != uint64(count)*16 {
		return nil, errors.Wrapf(ErrCorruptContainer, "message index for channel %d: %d entries but %d data bytes", channelID, count, len(data))
	}
	entries := make([]IndexEntry, count)
	for i := range entries {
		entries[i].LogTime = endian.Uint64(data[i*16:])
		entries[i].Offset = endian.Uint64(data[i*16+8:])
	}
	return &MessageIndex{ChannelID: channelID, Entries: entries}, nil
}

func buildChunkInfo(fields map[string][]byte) (Record, error) {
	chunkPos, err := fieldUint64(fields, "chunk_pos")
	if err != nil {
		return nil, err
	}
	startTime, err := fieldUint64(fields, "start_time")
	if err != nil {
		return nil, err
	}
	endTime, err := fieldUint64(fields, "end_time")
	if err != nil {
		return nil, err
	}
	count, err := fieldUint32(fields, "count")
	if err != nil {
		return nil, err
	}
	return &ChunkInfo{ChunkPos: chunkPos, StartTime: startTime, EndTime: endTime, MessageCount: count}, nil
}

func buildStatistics(fields map[string][]byte, data []byte) (Record, error) {
	messageCount, err := fieldUint64(fields, "message_count")
	if err != nil {
		return nil, err
	}
	schemaCount, err := fieldUint32(fields, "schema_count")
	if err != nil {
		return nil, err
	}
	channelCount, err := fieldUint32(fields, "channel_count")
	if err != nil {
		return nil, err
	}
	startTime, err := fieldUint64(fields, "start_time")
	if err != nil {
		return nil, err
	}
	endTime, err := fieldUint64(fields, "end_time")
	if err != nil {
		return nil, err
	}
	if len(data)%10 != 0 {
		return nil, errors.Wrap(ErrCorruptContainer, "malformed statistics channel counts")
	}
	counts := make(map[uint16]uint64, len(data)/10)
	for off := 0; off < len(data); off += 10 {
		counts[endian.Uint16(data[off:])] = endian.Uint64(data[off+2:])
	}
	return &Statistics{
		MessageCount:         messageCount,
		SchemaCount:          schemaCount,
		ChannelCount:         channelCount,
		MessageStartTime:     startTime,
		MessageEndTime:       endTime,
		ChannelMessageCounts: counts,
	}, nil
}

func buildFooter(fields map[string][]byte) (Record, error) {
	summaryStart, err := fieldUint64(fields, "summary_start")
	if err != nil {
		return nil, err
	}
	return &Footer{SummaryStart: summaryStart}, nil
}
