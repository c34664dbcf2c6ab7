// Package container implements the EGOLOG container grammar: an ordered
// stream of op-typed records (schemas, channels, timestamped messages,
// metadata) with a trailing summary section for random access.
//
// Source and destination logs share this grammar. The Decoder streams
// records in file order; the Encoder appends records and finalizes the
// summary on Finish.
package container

import "fmt"

const (
	versionFormat = "#EGOLOG V%d.%d\n"
)

var supportedVersion = Version{
	Major: 1,
	Minor: 0,
}

// Version is the container format version carried by the magic line.
type Version struct {
	Major uint
	Minor uint
}

func (version *Version) String() string {
	return fmt.Sprintf("%d.%d", version.Major, version.Minor)
}

// Op identifies a record type.
type Op uint8

const (
	// OpInvalid is an extension from the grammar. This Op marks an invalid Op.
	OpInvalid      Op = 0x00
	OpFileHeader   Op = 0x01
	OpSchema       Op = 0x02
	OpChannel      Op = 0x03
	OpMessage      Op = 0x04
	OpMetadata     Op = 0x05
	OpChunk        Op = 0x06
	OpMessageIndex Op = 0x07
	OpChunkInfo    Op = 0x08
	OpStatistics   Op = 0x09
	OpFooter       Op = 0x0a
)

func (op Op) String() string {
	switch op {
	case OpFileHeader:
		return "file_header"
	case OpSchema:
		return "schema"
	case OpChannel:
		return "channel"
	case OpMessage:
		return "message"
	case OpMetadata:
		return "metadata"
	case OpChunk:
		return "chunk"
	case OpMessageIndex:
		return "message_index"
	case OpChunkInfo:
		return "chunk_info"
	case OpStatistics:
		return "statistics"
	case OpFooter:
		return "footer"
	default:
		return "invalid"
	}
}

// Compression names the chunk compression algorithm.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

// Record is any container record.
type Record interface {
	Op() Op
}

// FileHeader is the first record of every container.
type FileHeader struct {
	Profile string
	Library string
}

func (*FileHeader) Op() Op { return OpFileHeader }

// Schema describes a message payload encoding. Identity is (Name, Encoding);
// immutable once read.
type Schema struct {
	ID       uint16
	Name     string
	Encoding string
	Data     []byte
}

func (*Schema) Op() Op { return OpSchema }

// Channel binds a schema to a topic under a numeric id unique within one
// container.
type Channel struct {
	ID              uint16
	SchemaID        uint16
	Topic           string
	MessageEncoding string
}

func (*Channel) Op() Op { return OpChannel }

// Message is one timestamped payload on a channel. Times are nanoseconds
// since the Unix epoch.
type Message struct {
	ChannelID   uint16
	LogTime     uint64
	PublishTime uint64
	Payload     []byte
}

func (*Message) Op() Op { return OpMessage }

// Metadata is a named set of string pairs attached to the container.
type Metadata struct {
	Name    string
	Entries map[string]string
}

func (*Metadata) Op() Op { return OpMetadata }

// IndexEntry locates one message inside the container.
type IndexEntry struct {
	LogTime uint64
	Offset  uint64
}

// MessageIndex lists message positions for one channel. Emitted in the
// summary section of unchunked containers.
type MessageIndex struct {
	ChannelID uint16
	Entries   []IndexEntry
}

func (*MessageIndex) Op() Op { return OpMessageIndex }

// ChunkInfo summarizes one chunk. Emitted in the summary section of chunked
// containers.
type ChunkInfo struct {
	ChunkPos     uint64
	StartTime    uint64
	EndTime      uint64
	MessageCount uint32
}

func (*ChunkInfo) Op() Op { return OpChunkInfo }

// Statistics is the per-container record count summary.
type Statistics struct {
	MessageCount     uint64
	SchemaCount      uint32
	ChannelCount     uint32
	MessageStartTime uint64
	MessageEndTime   uint64
	// ChannelMessageCounts maps channel id to message count.
	ChannelMessageCounts map[uint16]uint64
}

func (*Statistics) Op() Op { return OpStatistics }

// Footer terminates the container and points back at the summary section.
type Footer struct {
	SummaryStart uint64
}

func (*Footer) Op() Op { return OpFooter }
