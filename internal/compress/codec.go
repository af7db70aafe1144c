// Package compress implements the versioned storage envelope and the
// zlib compression policy applied to metadata payloads before they are
// retained in memory or persisted to the backing store.
package compress

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/animeta/animeta/pkg/errors"
	"github.com/animeta/animeta/pkg/types"
)

// EnvelopeVersion is the current schema version of the stored form.
const EnvelopeVersion = 1

// PayloadType declares the shape of the serialized payload so a reader
// never needs out-of-band knowledge to decode it.
type PayloadType string

const (
	TypeDict  PayloadType = "dict"
	TypeStr   PayloadType = "str"
	TypeBytes PayloadType = "bytes"
)

// Envelope is the self-describing stored form. Data holds the payload
// bytes (zlib-compressed when Compressed is true); it serializes to
// base64 via encoding/json's []byte handling.
type Envelope struct {
	Version    int         `json:"version"`
	Type       PayloadType `json:"type"`
	Compressed bool        `json:"compressed"`
	Data       []byte      `json:"data"`
}

// Config controls the compression policy.
type Config struct {
	// MinSizeThreshold is the payload size below which compression is
	// skipped entirely.
	MinSizeThreshold int `yaml:"min_size_threshold"`

	// MaxCompressionRatio is the largest acceptable compressed/original
	// ratio; above it the compressed form is discarded.
	MaxCompressionRatio float64 `yaml:"max_compression_ratio"`

	// Level is the zlib compression level.
	Level int `yaml:"level"`
}

// DefaultConfig returns the default compression policy.
func DefaultConfig() Config {
	return Config{
		MinSizeThreshold:    1024,
		MaxCompressionRatio: 0.8,
		Level:               zlib.DefaultCompression,
	}
}

// Stats tracks codec activity. Derived averages are computed on read.
type Stats struct {
	Compressions      uint64        `json:"compressions"`
	Decompressions    uint64        `json:"decompressions"`
	Skipped           uint64        `json:"skipped"`
	Inefficient       uint64        `json:"inefficient"`
	BytesIn           uint64        `json:"bytes_in"`
	BytesOut          uint64        `json:"bytes_out"`
	CompressTime      time.Duration `json:"compress_time"`
	DecompressTime    time.Duration `json:"decompress_time"`
	AvgCompressTime   time.Duration `json:"avg_compress_time"`
	AvgDecompressTime time.Duration `json:"avg_decompress_time"`
}

// BytesSaved returns the cumulative space saved by compression.
func (s Stats) BytesSaved() int64 {
	return int64(s.BytesIn) - int64(s.BytesOut)
}

// SavedPercent returns the saved space as a percentage of input bytes.
func (s Stats) SavedPercent() float64 {
	if s.BytesIn == 0 {
		return 0
	}
	return float64(s.BytesSaved()) / float64(s.BytesIn) * 100
}

// Codec compresses and decompresses payloads wrapped in the versioned
// envelope. Safe for concurrent use.
type Codec struct {
	mu     sync.Mutex
	config Config
	stats  Stats
}

// NewCodec creates a codec, applying defaults for zero config values.
func NewCodec(config Config) *Codec {
	if config.MinSizeThreshold <= 0 {
		config.MinSizeThreshold = 1024
	}
	if config.MaxCompressionRatio <= 0 {
		config.MaxCompressionRatio = 0.8
	}
	if config.Level == 0 {
		config.Level = zlib.DefaultCompression
	}
	return &Codec{config: config}
}

// Compress wraps payload in an envelope, compressing it when the payload
// meets the size threshold and compression is efficient enough. Payloads
// below the threshold, or whose compressed form saves too little, are
// stored uncompressed in the same envelope.
func (c *Codec) Compress(payload []byte, declared PayloadType) (*Envelope, error) {
	env := &Envelope{
		Version: EnvelopeVersion,
		Type:    declared,
		Data:    payload,
	}

	if len(payload) < c.minThreshold() {
		c.record(func(s *Stats) { s.Skipped++ })
		return env, nil
	}

	start := time.Now()
	compressed, err := zlibCompress(payload, c.config.Level)
	elapsed := time.Since(start)
	if err != nil {
		return nil, errors.New(errors.CodeSerialization, "zlib compression failed").WithCause(err)
	}

	ratio := float64(len(compressed)) / float64(len(payload))
	if ratio > c.config.MaxCompressionRatio {
		// Never ship compressed data that isn't meaningfully smaller.
		c.record(func(s *Stats) { s.Inefficient++ })
		return env, nil
	}

	env.Compressed = true
	env.Data = compressed
	c.record(func(s *Stats) {
		s.Compressions++
		s.BytesIn += uint64(len(payload))
		s.BytesOut += uint64(len(compressed))
		s.CompressTime += elapsed
	})
	return env, nil
}

// Decompress recovers the original payload from an envelope, verifying
// the declared type when expected is non-empty.
func (c *Codec) Decompress(env *Envelope, expected PayloadType) ([]byte, error) {
	if env == nil {
		return nil, errors.New(errors.CodeDeserialization, "envelope is nil")
	}
	if env.Version != EnvelopeVersion {
		return nil, errors.Newf(errors.CodeEnvelopeVersion, "unsupported envelope version %d", env.Version)
	}
	if expected != "" && env.Type != expected {
		return nil, errors.Newf(errors.CodeDeserialization,
			"envelope declares type %q, expected %q", env.Type, expected)
	}

	if !env.Compressed {
		return env.Data, nil
	}

	start := time.Now()
	payload, err := zlibDecompress(env.Data)
	elapsed := time.Since(start)
	if err != nil {
		return nil, errors.New(errors.CodeDeserialization, "zlib decompression failed").WithCause(err)
	}
	c.record(func(s *Stats) {
		s.Decompressions++
		s.DecompressTime += elapsed
	})
	return payload, nil
}

// EncodeMetadata serializes metadata and wraps it for storage. The
// serialized sum type is a JSON object, declared as a dict payload.
func (c *Codec) EncodeMetadata(m types.Metadata) (*Envelope, error) {
	payload, err := types.Marshal(m)
	if err != nil {
		return nil, err
	}
	return c.Compress(payload, TypeDict)
}

// MarshalEnvelope serializes an envelope into its JSON stored form.
func (c *Codec) MarshalEnvelope(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.New(errors.CodeSerialization, "marshal envelope").WithCause(err)
	}
	return data, nil
}

// DecodeEnvelope recovers metadata from an in-memory envelope.
func (c *Codec) DecodeEnvelope(env *Envelope) (types.Metadata, error) {
	payload, err := c.Decompress(env, TypeDict)
	if err != nil {
		return nil, err
	}
	return types.Unmarshal(payload)
}

// DecodeMetadata reverses EncodeMetadata, accepting the two legacy forms
// written before the envelope existed: a bare base64 string containing
// zlib-compressed JSON, and a bare JSON string. Versioned-envelope
// parsing is tried first, then legacy-compressed, then legacy-plain.
func (c *Codec) DecodeMetadata(raw []byte) (types.Metadata, error) {
	if env, ok := parseEnvelope(raw); ok {
		return c.DecodeEnvelope(env)
	}

	if payload, ok := decodeLegacyCompressed(raw); ok {
		c.record(func(s *Stats) { s.Decompressions++ })
		return types.Unmarshal(payload)
	}

	if json.Valid(raw) {
		return types.Unmarshal(raw)
	}

	return nil, errors.New(errors.CodeDeserialization,
		"payload is neither a versioned envelope nor a recognized legacy form")
}

// Stats returns a snapshot of codec statistics with derived averages.
func (c *Codec) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	if stats.Compressions > 0 {
		stats.AvgCompressTime = stats.CompressTime / time.Duration(stats.Compressions)
	}
	if stats.Decompressions > 0 {
		stats.AvgDecompressTime = stats.DecompressTime / time.Duration(stats.Decompressions)
	}
	return stats
}

// ResetStats clears all running counters.
func (c *Codec) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}

func (c *Codec) minThreshold() int {
	return c.config.MinSizeThreshold
}

func (c *Codec) record(update func(*Stats)) {
	c.mu.Lock()
	update(&c.stats)
	c.mu.Unlock()
}

// parseEnvelope attempts strict versioned-envelope parsing. A JSON object
// missing the version field is not an envelope.
func parseEnvelope(raw []byte) (*Envelope, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var probe struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil || probe.Version == nil {
		return nil, false
	}
	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, false
	}
	return &env, true
}

// decodeLegacyCompressed handles pre-envelope payloads stored as a bare
// base64 string wrapping zlib-compressed JSON.
func decodeLegacyCompressed(raw []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !utf8.Valid(trimmed) {
		return nil, false
	}
	// Tolerate the payload being stored as a JSON-quoted string.
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, false
		}
		trimmed = []byte(s)
	}
	decoded, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return nil, false
	}
	payload, err := zlibDecompress(decoded)
	if err != nil || !json.Valid(payload) {
		return nil, false
	}
	return payload, true
}

func zlibCompress(payload []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zlibDecompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}
