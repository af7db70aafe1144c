package compress

import (
	"bytes"
	"compress/zlib"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/animeta/animeta/pkg/errors"
	"github.com/animeta/animeta/pkg/types"
)

func compressibleMetadata() *types.RemoteMetadata {
	return &types.RemoteMetadata{
		ID:       1,
		Title:    "Legend of the Galactic Heroes",
		Synopsis: strings.Repeat("In the distant future, humanity wages war among the stars. ", 60),
		Genres:   []string{"space opera", "drama", "military"},
	}
}

func TestCompressSkipsSmallPayloads(t *testing.T) {
	t.Parallel()

	codec := NewCodec(DefaultConfig())
	payload := []byte(`{"title":"Akira"}`)

	env, err := codec.Compress(payload, TypeDict)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if env.Compressed {
		t.Error("payload below threshold should not be compressed")
	}
	if !bytes.Equal(env.Data, payload) {
		t.Error("uncompressed envelope should carry the payload verbatim")
	}
	if env.Version != EnvelopeVersion {
		t.Errorf("Version = %d, want %d", env.Version, EnvelopeVersion)
	}

	if codec.Stats().Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", codec.Stats().Skipped)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewCodec(DefaultConfig())
	payload := []byte(strings.Repeat(`{"title":"Neon Genesis Evangelion"}`, 100))

	env, err := codec.Compress(payload, TypeDict)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if !env.Compressed {
		t.Fatal("repetitive payload above threshold should compress")
	}
	if len(env.Data) >= len(payload) {
		t.Errorf("compressed size %d not smaller than original %d", len(env.Data), len(payload))
	}

	got, err := codec.Decompress(env, TypeDict)
	if err != nil {
		t.Fatalf("Decompress() error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("round-trip payload mismatch")
	}

	stats := codec.Stats()
	if stats.Compressions != 1 || stats.Decompressions != 1 {
		t.Errorf("stats = %+v, want one compression and one decompression", stats)
	}
	if stats.BytesSaved() <= 0 {
		t.Errorf("BytesSaved() = %d, want positive", stats.BytesSaved())
	}
}

func TestCompressDiscardsInefficientResult(t *testing.T) {
	t.Parallel()

	codec := NewCodec(DefaultConfig())

	// Random bytes do not compress; the codec must keep the original.
	payload := make([]byte, 4096)
	if _, err := rand.Read(payload); err != nil {
		t.Fatal(err)
	}

	env, err := codec.Compress(payload, TypeBytes)
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if env.Compressed {
		t.Error("incompressible payload should be stored uncompressed")
	}
	if codec.Stats().Inefficient != 1 {
		t.Errorf("Inefficient = %d, want 1", codec.Stats().Inefficient)
	}
}

func TestDecompressRejectsVersionAndTypeMismatch(t *testing.T) {
	t.Parallel()

	codec := NewCodec(DefaultConfig())

	_, err := codec.Decompress(&Envelope{Version: 99, Type: TypeDict}, TypeDict)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Code != errors.CodeEnvelopeVersion {
		t.Errorf("expected envelope version error, got %v", err)
	}

	_, err = codec.Decompress(&Envelope{Version: EnvelopeVersion, Type: TypeStr}, TypeDict)
	if err == nil {
		t.Error("type mismatch should be rejected")
	}

	if _, err := codec.Decompress(nil, TypeDict); err == nil {
		t.Error("nil envelope should be rejected")
	}
}

func TestEncodeDecodeMetadata(t *testing.T) {
	t.Parallel()

	codec := NewCodec(DefaultConfig())
	original := compressibleMetadata()

	env, err := codec.EncodeMetadata(original)
	if err != nil {
		t.Fatalf("EncodeMetadata() error: %v", err)
	}
	if !env.Compressed {
		t.Error("large synopsis should push the payload over the threshold")
	}

	blob, err := codec.MarshalEnvelope(env)
	if err != nil {
		t.Fatalf("MarshalEnvelope() error: %v", err)
	}

	got, err := codec.DecodeMetadata(blob)
	if err != nil {
		t.Fatalf("DecodeMetadata() error: %v", err)
	}
	remote, ok := got.(*types.RemoteMetadata)
	if !ok {
		t.Fatalf("decoded type = %T, want *RemoteMetadata", got)
	}
	if remote.Title != original.Title || remote.Synopsis != original.Synopsis {
		t.Error("decoded metadata does not match original")
	}
}

func TestDecodeMetadataLegacyCompressed(t *testing.T) {
	t.Parallel()

	codec := NewCodec(DefaultConfig())

	plain, err := types.Marshal(compressibleMetadata())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(plain); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	legacy := []byte(base64.StdEncoding.EncodeToString(buf.Bytes()))

	got, err := codec.DecodeMetadata(legacy)
	if err != nil {
		t.Fatalf("DecodeMetadata(legacy) error: %v", err)
	}
	if got.Kind() != types.KindRemote {
		t.Errorf("decoded kind = %s, want remote", got.Kind())
	}

	// Same payload stored as a JSON-quoted string.
	quoted, err := json.Marshal(string(legacy))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := codec.DecodeMetadata(quoted); err != nil {
		t.Errorf("DecodeMetadata(quoted legacy) error: %v", err)
	}
}

func TestDecodeMetadataLegacyPlainJSON(t *testing.T) {
	t.Parallel()

	codec := NewCodec(DefaultConfig())
	plain, err := types.Marshal(&types.ParsedInfo{Title: "Akira", Year: 1988})
	if err != nil {
		t.Fatal(err)
	}

	got, err := codec.DecodeMetadata(plain)
	if err != nil {
		t.Fatalf("DecodeMetadata(plain) error: %v", err)
	}
	if got.Kind() != types.KindParsed {
		t.Errorf("decoded kind = %s, want parsed", got.Kind())
	}
}

func TestDecodeMetadataRejectsGarbage(t *testing.T) {
	t.Parallel()

	codec := NewCodec(DefaultConfig())
	_, err := codec.DecodeMetadata([]byte{0xff, 0x00, 0x13, 0x37})
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Code != errors.CodeDeserialization {
		t.Errorf("expected deserialization error, got %v", err)
	}
}

func TestResetStats(t *testing.T) {
	t.Parallel()

	codec := NewCodec(DefaultConfig())
	if _, err := codec.Compress([]byte("small"), TypeStr); err != nil {
		t.Fatal(err)
	}
	codec.ResetStats()
	if stats := codec.Stats(); stats.Skipped != 0 {
		t.Errorf("stats after reset = %+v, want zeroes", stats)
	}
}
