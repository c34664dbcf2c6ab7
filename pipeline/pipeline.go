// Package pipeline wires the container decoder, the schema registry, the
// message transformer, the channel remapper, and the container encoder into
// a single pass over one source log.
package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/LightwheelAI/LW-Egosuite-DevKit/container"
	"github.com/LightwheelAI/LW-Egosuite-DevKit/layout"
	"github.com/LightwheelAI/LW-Egosuite-DevKit/logger"
	"github.com/LightwheelAI/LW-Egosuite-DevKit/viz"
)

const (
	profileName = "egosuite_viz"
	libraryName = "LW-Egosuite-DevKit"

	// DestSuffix is appended to the source filename stem for the default
	// destination path.
	DestSuffix = "_viz"
	// DefaultOutputDirName is the default destination directory, created
	// next to the source file.
	DefaultOutputDirName = "output"
)

// Options configures one conversion run.
type Options struct {
	// Source is the input container path. Required.
	Source string
	// Destination overrides the derived destination path.
	Destination string
	// OutputDir overrides the directory the default destination is placed
	// in. Ignored when Destination is set.
	OutputDir string

	// Compression selects chunked destination writing (none disables).
	Compression container.Compression
	// ChunkSize is the uncompressed chunk threshold in bytes.
	ChunkSize int

	// Registry resolves schema policies. Nil uses the built-in rule table.
	// Registries are read-only and may be shared across concurrent runs.
	Registry *viz.Registry
	// Log receives progress output. Nil discards it.
	Log *zap.SugaredLogger
}

// Report summarizes a completed conversion.
type Report struct {
	Source      string
	Destination string

	// Converted counts source messages a rule transformed; Outputs counts
	// messages written for them (fan-out makes Outputs > Converted).
	Converted     uint64
	PassedThrough uint64
	Dropped       uint64
	Outputs       uint64

	// TopicMessages counts written messages per output topic.
	TopicMessages map[string]uint64

	Duration time.Duration
}

// DerivePath returns the default destination for a source path:
// <dir>/output/<stem>_viz<ext>, or <outputDir>/<stem>_viz<ext> when
// outputDir is set.
func DerivePath(source, outputDir string) string {
	base := filepath.Base(source)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if outputDir == "" {
		outputDir = filepath.Join(filepath.Dir(source), DefaultOutputDirName)
	}
	return filepath.Join(outputDir, stem+DestSuffix+ext)
}

// Convert runs one source container through the conversion pipeline. Any
// component failure aborts the run; a partial destination file is removed.
func Convert(ctx context.Context, opts Options) (*Report, error) {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}

	registry := opts.Registry
	if registry == nil {
		var err error
		registry, err = viz.NewRegistry(viz.DefaultBindings(), nil)
		if err != nil {
			return nil, err
		}
	}

	destination := opts.Destination
	if destination == "" {
		destination = DerivePath(opts.Source, opts.OutputDir)
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return nil, errors.Wrapf(container.ErrWrite, "create output directory: %v", err)
	}

	start := time.Now()
	log.Infow("converting", logger.FieldSource, opts.Source, logger.FieldDest, destination)

	decoder, closer, err := container.Open(opts.Source)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	dst, err := os.Create(destination)
	if err != nil {
		return nil, errors.Wrapf(container.ErrWrite, "%s: %v", destination, err)
	}

	report, err := convert(ctx, decoder, dst, registry, opts, log)
	if err != nil {
		dst.Close()
		if removeErr := os.Remove(destination); removeErr != nil {
			log.Warnw("failed to remove partial output", logger.FieldDest, destination, logger.FieldError, removeErr)
		}
		return nil, err
	}
	if err := dst.Close(); err != nil {
		os.Remove(destination)
		return nil, errors.Wrapf(container.ErrWrite, "%s: %v", destination, err)
	}

	report.Source = opts.Source
	report.Destination = destination
	report.Duration = time.Since(start)
	log.Infow("converted",
		logger.FieldSource, opts.Source,
		logger.FieldDest, destination,
		"converted", report.Converted,
		"passed_through", report.PassedThrough,
		"dropped", report.Dropped,
		"outputs", report.Outputs,
		logger.FieldDurationMS, report.Duration.Milliseconds(),
	)
	return report, nil
}

// sourceSchema tracks one source schema with its lazily parsed layout.
type sourceSchema struct {
	schema     *container.Schema
	resolution viz.Resolution
	def        *layout.Definition
}

func (s *sourceSchema) definition() (*layout.Definition, error) {
	if s.def == nil {
		def, err := layout.Parse(s.schema.Name, s.schema.Data)
		if err != nil {
			return nil, errors.Wrapf(container.ErrCorruptContainer, "schema %s: %v", s.schema.Name, err)
		}
		s.def = def
	}
	return s.def, nil
}

func convert(ctx context.Context, decoder *container.Decoder, dst io.Writer, registry *viz.Registry, opts Options, log *zap.SugaredLogger) (*Report, error) {
	encoder := container.NewEncoder(dst, container.EncoderOptions{
		Profile:     profileName,
		Library:     libraryName,
		Compression: opts.Compression,
		ChunkSize:   opts.ChunkSize,
	})
	if err := encoder.Start(); err != nil {
		return nil, err
	}

	remapper := viz.NewRemapper(encoder)
	report := &Report{TopicMessages: make(map[string]uint64)}
	schemas := make(map[uint16]*sourceSchema)
	channels := make(map[uint16]*container.Channel)

	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "conversion cancelled")
		}

		record, err := decoder.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", opts.Source)
		}

		switch record := record.(type) {
		case *container.Schema:
			if _, ok := schemas[record.ID]; ok {
				continue // summary repeat
			}
			identity := viz.Identity{Name: record.Name, Encoding: record.Encoding}
			resolution := registry.Resolve(identity)
			schemas[record.ID] = &sourceSchema{schema: record, resolution: resolution}
			log.Debugw("schema", logger.FieldSchema, record.Name, "policy", resolution.Kind)
		case *container.Channel:
			if _, ok := channels[record.ID]; !ok {
				channels[record.ID] = record
				log.Debugw("channel", logger.FieldChannel, record.ID, logger.FieldTopic, record.Topic)
			}
		case *container.Message:
			if err := convertMessage(record, schemas, channels, remapper, encoder, report); err != nil {
				return nil, errors.Wrapf(err, "channel %d in %s", record.ChannelID, opts.Source)
			}
		case *container.Metadata:
			if err := encoder.WriteMetadata(forwardMetadata(record)); err != nil {
				return nil, err
			}
		default:
			// file header, indexes, statistics, footer: regenerated by the
			// encoder
		}
	}

	if err := encoder.Finish(); err != nil {
		return nil, err
	}
	return report, nil
}

func convertMessage(message *container.Message, schemas map[uint16]*sourceSchema, channels map[uint16]*container.Channel, remapper *viz.Remapper, encoder *container.Encoder, report *Report) error {
	channel, ok := channels[message.ChannelID]
	if !ok {
		// the decoder validates this; keep the invariant explicit
		return errors.Wrapf(container.ErrCorruptContainer, "undefined channel %d", message.ChannelID)
	}
	source, ok := schemas[channel.SchemaID]
	if !ok {
		return errors.Wrapf(container.ErrCorruptContainer, "channel %d references undefined schema %d", channel.ID, channel.SchemaID)
	}

	switch source.resolution.Kind {
	case viz.PolicyDrop:
		report.Dropped++
		return nil

	case viz.PolicyPassThrough:
		id, err := remapper.Assign(channel.Topic, channel.MessageEncoding, viz.SchemaRef{
			Name:     source.schema.Name,
			Encoding: source.schema.Encoding,
			Data:     source.schema.Data,
		})
		if err != nil {
			return err
		}
		err = encoder.WriteMessage(&container.Message{
			ChannelID:   id,
			LogTime:     message.LogTime,
			PublishTime: message.PublishTime,
			Payload:     message.Payload,
		})
		if err != nil {
			return err
		}
		report.PassedThrough++
		report.Outputs++
		report.TopicMessages[channel.Topic]++
		return nil

	case viz.PolicyRule:
		def, err := source.definition()
		if err != nil {
			return err
		}
		values, err := def.Decode(message.Payload)
		if err != nil {
			return errors.Wrapf(err, "schema %s", source.schema.Name)
		}

		outputs, err := source.resolution.Rule.Apply(&viz.Source{
			Topic:   channel.Topic,
			Schema:  source.schema,
			Message: message,
			Values:  values,
		})
		if err != nil {
			return errors.Wrapf(err, "rule %s", source.resolution.Rule.Name())
		}

		for _, output := range outputs {
			id, err := remapper.Assign(output.Topic, viz.LayoutEncoding, output.Schema.Ref())
			if err != nil {
				return err
			}
			err = encoder.WriteMessage(&container.Message{
				ChannelID:   id,
				LogTime:     output.LogTime,
				PublishTime: output.PublishTime,
				Payload:     output.Payload,
			})
			if err != nil {
				return err
			}
			report.Outputs++
			report.TopicMessages[output.Topic]++
		}
		report.Converted++
		return nil

	default:
		return errors.Newf("unknown policy %d", source.resolution.Kind)
	}
}

// forwardMetadata copies a metadata record, stamping the session record
// with converter provenance.
func forwardMetadata(metadata *container.Metadata) *container.Metadata {
	entries := make(map[string]string, len(metadata.Entries)+2)
	for key, value := range metadata.Entries {
		entries[key] = value
	}
	if metadata.Name == "session" {
		entries["converter"] = libraryName
		entries["converter_profile"] = profileName
	}
	return &container.Metadata{Name: metadata.Name, Entries: entries}
}
