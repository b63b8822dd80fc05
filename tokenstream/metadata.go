// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package tokenstream

import (
	"bufio"
	"io/ioutil"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	durpb "github.com/golang/protobuf/ptypes/duration"
	structpb "github.com/golang/protobuf/ptypes/struct"
	tspb "github.com/golang/protobuf/ptypes/timestamp"
	"github.com/pkg/errors"
)

const (
	// metadataVersion is a compatibility version value for our metadata file.
	metadataVersion = "v1"
	// metadataMinorVersion is the current metadata minor version.
	metadataMinorVersion = 1

	// MetadataExt is appended to a stream's path to name its metadata file.
	MetadataExt = ".meta"
)

// Metadata describes a recorded stream. It is stored alongside the stream as
// a text protobuf.
type Metadata struct {
	// Minor is the metadata minor version.
	Minor int
	// Name is the display name of the recording.
	Name string
	// Created is the time when the recording began.
	Created time.Time

	// StreamVersion is the version written to the stream header.
	StreamVersion Version
	// Compression is the stream's compression type.
	Compression Compression
	// ChunkSize is the stream's package chunk size.
	ChunkSize uint64

	// NumTokens is the number of tokens recorded.
	NumTokens int64
	// NumBytes is the number of serialized token bytes recorded.
	NumBytes int64
	// NumFrames is the number of frame boundaries recorded.
	NumFrames int64
	// FamilyTokens is the number of tokens recorded per token family name.
	FamilyTokens map[string]int64

	// Duration is the wall-clock duration of the recording.
	Duration time.Duration
}

// MetadataPath returns the path of the metadata file for the stream at
// streamPath.
func MetadataPath(streamPath string) string { return streamPath + MetadataExt }

// LoadMetadata loads the metadata file for the stream at streamPath.
//
// If the loaded metadata is not completely up-to-date, LoadMetadata will
// migrate it.
func LoadMetadata(streamPath string) (*Metadata, error) {
	data, err := ioutil.ReadFile(MetadataPath(streamPath))
	if err != nil {
		return nil, err
	}

	var st structpb.Struct
	if err := proto.UnmarshalText(string(data), &st); err != nil {
		return nil, errors.Wrap(err, "parsing metadata")
	}
	if v := stringField(&st, "version"); v != metadataVersion {
		return nil, errors.Errorf("unsupported metadata version %q", v)
	}

	if err := migrateMetadata(&st); err != nil {
		return nil, errors.Wrap(err, "migrating metadata")
	}

	md, err := metadataFromStruct(&st)
	if err != nil {
		return nil, errors.Wrap(err, "decoding metadata")
	}
	return md, nil
}

// Write writes md as a text protobuf to path.
func (md *Metadata) Write(path string) error {
	st, err := md.toStruct()
	if err != nil {
		return err
	}

	fd, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if fd != nil {
			_ = fd.Close()
		}
	}()

	bio := bufio.NewWriter(fd)
	tm := proto.TextMarshaler{}
	if err := tm.Marshal(bio, st); err != nil {
		return err
	}
	if err := bio.Flush(); err != nil {
		return err
	}

	if err := fd.Close(); err != nil {
		return err
	}
	fd = nil
	return nil
}

// Families returns the names in FamilyTokens, sorted.
func (md *Metadata) Families() []string {
	names := make([]string, 0, len(md.FamilyTokens))
	for name := range md.FamilyTokens {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (md *Metadata) toStruct() (*structpb.Struct, error) {
	created, err := ptypes.TimestampProto(md.Created)
	if err != nil {
		return nil, errors.Wrap(err, "creating timestamp proto")
	}
	dur := ptypes.DurationProto(md.Duration)

	families := make(map[string]*structpb.Value, len(md.FamilyTokens))
	for name, count := range md.FamilyTokens {
		families[name] = numberValue(float64(count))
	}

	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"version":        stringValue(metadataVersion),
			"minor":          numberValue(metadataMinorVersion),
			"name":           stringValue(md.Name),
			"created":        structValue(map[string]*structpb.Value{"seconds": numberValue(float64(created.Seconds)), "nanos": numberValue(float64(created.Nanos))}),
			"stream_version": stringValue(md.StreamVersion.String()),
			"compression":    stringValue(md.Compression.String()),
			"chunk_size":     numberValue(float64(md.ChunkSize)),
			"num_tokens":     numberValue(float64(md.NumTokens)),
			"num_bytes":      numberValue(float64(md.NumBytes)),
			"num_frames":     numberValue(float64(md.NumFrames)),
			"family_tokens":  structValue(families),
			"duration":       structValue(map[string]*structpb.Value{"seconds": numberValue(float64(dur.Seconds)), "nanos": numberValue(float64(dur.Nanos))}),
		},
	}, nil
}

func metadataFromStruct(st *structpb.Struct) (*Metadata, error) {
	md := Metadata{
		Minor:     int(numberField(st, "minor")),
		Name:      stringField(st, "name"),
		ChunkSize: uint64(numberField(st, "chunk_size")),
		NumTokens: int64(numberField(st, "num_tokens")),
		NumBytes:  int64(numberField(st, "num_bytes")),
		NumFrames: int64(numberField(st, "num_frames")),
	}

	var err error
	if md.StreamVersion, err = ParseVersion(stringField(st, "stream_version")); err != nil {
		return nil, err
	}
	if md.Compression, err = ParseCompression(stringField(st, "compression")); err != nil {
		return nil, err
	}

	if ts := structField(st, "created"); ts != nil {
		created := tspb.Timestamp{
			Seconds: int64(numberField(ts, "seconds")),
			Nanos:   int32(numberField(ts, "nanos")),
		}
		if md.Created, err = ptypes.Timestamp(&created); err != nil {
			return nil, errors.Wrap(err, "invalid creation time")
		}
	}
	if ds := structField(st, "duration"); ds != nil {
		dur := durpb.Duration{
			Seconds: int64(numberField(ds, "seconds")),
			Nanos:   int32(numberField(ds, "nanos")),
		}
		if md.Duration, err = ptypes.Duration(&dur); err != nil {
			return nil, errors.Wrap(err, "invalid duration")
		}
	}

	if fs := structField(st, "family_tokens"); fs != nil {
		md.FamilyTokens = make(map[string]int64, len(fs.Fields))
		for name := range fs.Fields {
			md.FamilyTokens[name] = int64(numberField(fs, name))
		}
	}
	return &md, nil
}

func stringValue(v string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: v}}
}

func numberValue(v float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: v}}
}

func structValue(fields map[string]*structpb.Value) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StructValue{StructValue: &structpb.Struct{Fields: fields}}}
}

func stringField(st *structpb.Struct, key string) string { return st.GetFields()[key].GetStringValue() }

func numberField(st *structpb.Struct, key string) float64 { return st.GetFields()[key].GetNumberValue() }

func structField(st *structpb.Struct, key string) *structpb.Struct {
	return st.GetFields()[key].GetStructValue()
}

// MetadataBuilder accumulates Metadata while a stream is recorded.
//
// MetadataBuilder is safe for concurrent use.
type MetadataBuilder struct {
	mu    sync.Mutex
	meta  Metadata
	now   func() time.Time
	start time.Time
	last  time.Time
}

// NewMetadataBuilder constructs a new metadata builder for a stream with the
// specified header.
//
// If now is nil, time.Now will be used.
func NewMetadataBuilder(name string, h Header, now func() time.Time) *MetadataBuilder {
	if now == nil {
		now = time.Now
	}
	start := now()
	return &MetadataBuilder{
		meta: Metadata{
			Minor:         metadataMinorVersion,
			Name:          name,
			Created:       start,
			StreamVersion: h.Version,
			Compression:   h.Compression,
			ChunkSize:     h.ChunkSize,
			FamilyTokens:  make(map[string]int64),
		},
		now:   now,
		start: start,
		last:  start,
	}
}

// RecordToken records a single token of the named family.
func (mb *MetadataBuilder) RecordToken(family string) {
	now := mb.now()

	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.meta.NumTokens++
	mb.meta.FamilyTokens[family]++
	if now.After(mb.last) {
		mb.last = now
	}
}

// RecordFrame records a frame boundary.
func (mb *MetadataBuilder) RecordFrame() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.meta.NumFrames++
}

// SetBytes sets the number of serialized bytes recorded.
func (mb *MetadataBuilder) SetBytes(v int64) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.meta.NumBytes = v
}

// NumTokens returns the cumulative number of tokens recorded so far.
func (mb *MetadataBuilder) NumTokens() int64 {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.meta.NumTokens
}

// Metadata returns a snapshot of the accumulated Metadata.
func (mb *MetadataBuilder) Metadata() *Metadata {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	md := mb.meta
	md.Duration = mb.last.Sub(mb.start)
	md.FamilyTokens = make(map[string]int64, len(mb.meta.FamilyTokens))
	for k, v := range mb.meta.FamilyTokens {
		md.FamilyTokens[k] = v
	}
	return &md
}

// Write writes the accumulated metadata alongside the stream at streamPath.
func (mb *MetadataBuilder) Write(streamPath string) error {
	return errors.Wrap(mb.Metadata().Write(MetadataPath(streamPath)), "writing metadata file")
}
