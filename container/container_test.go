package container

import (
	"bytes"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
)

func TestDecoderCheckVersion(t *testing.T) {
	testCases := []struct {
		Name string
		Raw  []byte
		Fail bool
	}{
		{
			Name: "Missing Newline character",
			Raw:  []byte("#EGOLOG V1.0"),
			Fail: true,
		},
		{
			Name: "Unsupported Version",
			Raw:  []byte("#EGOLOG V2.1\n"),
			Fail: true,
		},
		{
			Name: "Wrong Magic",
			Raw:  []byte("#NOTLOG V1.0\n"),
			Fail: true,
		},
		{
			Name: "Expected Version Format",
			Raw:  []byte("#EGOLOG V1.0\n"),
			Fail: false,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			in := bytes.NewReader(testCase.Raw)
			err := NewDecoder(in).checkVersion()

			if testCase.Fail && err == nil {
				t.Fatal("expected to fail")
			} else if !testCase.Fail && err != nil {
				t.Fatalf("expected to succeed: %v", err)
			}
		})
	}
}

func writeFixture(t *testing.T, w io.Writer, compression Compression) {
	t.Helper()

	encoder := NewEncoder(w, EncoderOptions{
		Profile:     "test",
		Library:     "container_test",
		Compression: compression,
		ChunkSize:   64,
	})
	if err := encoder.Start(); err != nil {
		t.Fatal(err)
	}

	err := encoder.WriteSchema(&Schema{ID: 1, Name: "test.Sample", Encoding: "layout", Data: []byte("uint32 n\n")})
	if err != nil {
		t.Fatal(err)
	}
	err = encoder.WriteChannel(&Channel{ID: 1, SchemaID: 1, Topic: "/sample", MessageEncoding: "layout"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		err = encoder.WriteMessage(&Message{
			ChannelID:   1,
			LogTime:     uint64(1000 + i),
			PublishTime: uint64(1000 + i),
			Payload:     []byte{byte(i), 0, 0, 0},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	err = encoder.WriteMetadata(&Metadata{Name: "session", Entries: map[string]string{"robot": "g1", "site": "lab"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := encoder.Finish(); err != nil {
		t.Fatal(err)
	}
}

func readAll(t *testing.T, raw []byte) []Record {
	t.Helper()

	decoder := NewDecoder(bytes.NewReader(raw))
	var records []Record
	for {
		record, err := decoder.Read()
		if errors.Is(err, io.EOF) {
			return records
		}
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, record)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		compression := compression
		t.Run(string(compression), func(t *testing.T) {
			var buf bytes.Buffer
			writeFixture(t, &buf, compression)

			records := readAll(t, buf.Bytes())

			var messages []*Message
			var stats *Statistics
			var footer *Footer
			for _, record := range records {
				switch record := record.(type) {
				case *Message:
					messages = append(messages, record)
				case *Statistics:
					stats = record
				case *Footer:
					footer = record
				}
			}

			wantMessages := make([]*Message, 5)
			for i := range wantMessages {
				wantMessages[i] = &Message{
					ChannelID:   1,
					LogTime:     uint64(1000 + i),
					PublishTime: uint64(1000 + i),
					Payload:     []byte{byte(i), 0, 0, 0},
				}
			}
			if diff := cmp.Diff(wantMessages, messages); diff != "" {
				t.Fatalf("unexpected messages (-want +got):\n%s", diff)
			}

			wantStats := &Statistics{
				MessageCount:         5,
				SchemaCount:          1,
				ChannelCount:         1,
				MessageStartTime:     1000,
				MessageEndTime:       1004,
				ChannelMessageCounts: map[uint16]uint64{1: 5},
			}
			if diff := cmp.Diff(wantStats, stats); diff != "" {
				t.Fatalf("unexpected statistics (-want +got):\n%s", diff)
			}
			if footer == nil {
				t.Fatal("expected a footer record")
			}
		})
	}
}

func TestEncodeDeterministic(t *testing.T) {
	var first, second bytes.Buffer
	writeFixture(t, &first, CompressionNone)
	writeFixture(t, &second, CompressionNone)

	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatal("identical inputs produced different containers")
	}
}

func TestDecoderMetadataRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	writeFixture(t, &buf, CompressionNone)

	for _, record := range readAll(t, buf.Bytes()) {
		if metadata, ok := record.(*Metadata); ok {
			want := &Metadata{Name: "session", Entries: map[string]string{"robot": "g1", "site": "lab"}}
			if diff := cmp.Diff(want, metadata); diff != "" {
				t.Fatalf("unexpected metadata (-want +got):\n%s", diff)
			}
			return
		}
	}
	t.Fatal("expected a metadata record")
}

// rawContainer assembles a container byte stream without the encoder's
// referential checks.
type rawContainer struct {
	buf bytes.Buffer
}

func newRawContainer() *rawContainer {
	raw := &rawContainer{}
	raw.buf.WriteString("#EGOLOG V1.0\n")
	var header fieldWriter
	header.addByte("op", byte(OpFileHeader))
	header.addString("profile", "test")
	header.addString("library", "container_test")
	raw.record(&header, nil)
	return raw
}

func (raw *rawContainer) record(header *fieldWriter, data []byte) {
	raw.buf.Write(encodeRecord(header, data))
}

func (raw *rawContainer) footer() {
	var header fieldWriter
	header.addByte("op", byte(OpFooter))
	header.addUint64("summary_start", 0)
	raw.record(&header, nil)
}

func TestDecoderCorrupt(t *testing.T) {
	testCases := []struct {
		Name  string
		Build func() []byte
	}{
		{
			Name: "Missing Footer",
			Build: func() []byte {
				raw := newRawContainer()
				return raw.buf.Bytes()
			},
		},
		{
			Name: "Undefined Channel",
			Build: func() []byte {
				raw := newRawContainer()
				var header fieldWriter
				header.addByte("op", byte(OpMessage))
				header.addUint16("channel_id", 7)
				header.addUint64("log_time", 1)
				header.addUint64("publish_time", 1)
				raw.record(&header, []byte{1, 2, 3})
				raw.footer()
				return raw.buf.Bytes()
			},
		},
		{
			Name: "Undefined Schema",
			Build: func() []byte {
				raw := newRawContainer()
				var header fieldWriter
				header.addByte("op", byte(OpChannel))
				header.addUint16("id", 1)
				header.addUint16("schema_id", 9)
				header.addString("topic", "/sample")
				header.addString("message_encoding", "layout")
				raw.record(&header, nil)
				raw.footer()
				return raw.buf.Bytes()
			},
		},
		{
			Name: "Invalid Op",
			Build: func() []byte {
				raw := newRawContainer()
				var header fieldWriter
				header.addByte("op", 0xff)
				raw.record(&header, nil)
				raw.footer()
				return raw.buf.Bytes()
			},
		},
		{
			// a count whose 16-byte entry size wraps uint32 back to the
			// actual data length must still be rejected
			Name: "Message Index Count Overflow",
			Build: func() []byte {
				raw := newRawContainer()
				var header fieldWriter
				header.addByte("op", byte(OpMessageIndex))
				header.addUint16("channel_id", 1)
				header.addUint32("count", 0x10000001)
				raw.record(&header, make([]byte, 16))
				raw.footer()
				return raw.buf.Bytes()
			},
		},
		{
			Name: "Truncated Record",
			Build: func() []byte {
				var buf bytes.Buffer
				writeFixture(t, &buf, CompressionNone)
				return buf.Bytes()[:buf.Len()-10]
			},
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.Name, func(t *testing.T) {
			decoder := NewDecoder(bytes.NewReader(testCase.Build()))
			for {
				_, err := decoder.Read()
				if err == nil {
					continue
				}
				if !errors.Is(err, ErrCorruptContainer) {
					t.Fatalf("expected ErrCorruptContainer, got %v", err)
				}
				return
			}
		})
	}
}

func TestOpenMissing(t *testing.T) {
	_, _, err := Open(t.TempDir() + "/nope.eglog")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEncoderRefChecks(t *testing.T) {
	encoder := NewEncoder(io.Discard, EncoderOptions{Profile: "test", Library: "container_test"})
	if err := encoder.Start(); err != nil {
		t.Fatal(err)
	}

	err := encoder.WriteChannel(&Channel{ID: 1, SchemaID: 1, Topic: "/sample", MessageEncoding: "layout"})
	if err == nil {
		t.Fatal("expected channel with unwritten schema to fail")
	}
	err = encoder.WriteMessage(&Message{ChannelID: 1})
	if err == nil {
		t.Fatal("expected message with unwritten channel to fail")
	}
}

func TestEncoderSchemaIDReuse(t *testing.T) {
	encoder := NewEncoder(io.Discard, EncoderOptions{Profile: "test", Library: "container_test"})
	if err := encoder.Start(); err != nil {
		t.Fatal(err)
	}

	first := &Schema{ID: 1, Name: "test.Sample", Encoding: "layout", Data: []byte("uint32 n\n")}
	if err := encoder.WriteSchema(first); err != nil {
		t.Fatal(err)
	}

	// re-registering the identical definition is a no-op
	if err := encoder.WriteSchema(first); err != nil {
		t.Fatalf("identical re-registration: %v", err)
	}

	err := encoder.WriteSchema(&Schema{ID: 1, Name: "test.Sample", Encoding: "layout", Data: []byte("uint64 n\n")})
	if err == nil {
		t.Fatal("expected conflicting schema data under a reused id to fail")
	}
	err = encoder.WriteSchema(&Schema{ID: 1, Name: "test.Other", Encoding: "layout", Data: []byte("uint32 n\n")})
	if err == nil {
		t.Fatal("expected conflicting schema name under a reused id to fail")
	}
}

func TestDecoderReleasesChunkDecompressor(t *testing.T) {
	var buf bytes.Buffer
	writeFixture(t, &buf, CompressionZstd)

	decoder := NewDecoder(bytes.NewReader(buf.Bytes()))
	for {
		_, err := decoder.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}

	// every opened chunk decompressor must be closed once its records are
	// drained, or its worker goroutines outlive the read
	if decoder.chunkCloser != nil {
		t.Fatal("chunk decompressor left open after the stream was drained")
	}
	if decoder.chunkReader != nil {
		t.Fatal("chunk reader left installed after the stream was drained")
	}
}
