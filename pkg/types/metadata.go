// Package types defines the metadata value model shared by the cache
// engine, the compression codec, and the backing store boundary.
//
// Metadata is a closed sum over the two shapes the organizer produces:
// ParsedInfo (filename-derived) and RemoteMetadata (API-derived). The
// closed interface replaces ad-hoc type sniffing at size-estimation,
// compression, and validation call sites.
package types

import (
	"encoding/json"
	"time"

	"github.com/animeta/animeta/pkg/errors"
)

// Kind discriminates the metadata variants on the wire.
type Kind string

const (
	KindParsed Kind = "parsed"
	KindRemote Kind = "remote"
)

// Metadata is the closed union of cacheable values. Only ParsedInfo and
// RemoteMetadata implement it.
type Metadata interface {
	// Kind returns the variant discriminator.
	Kind() Kind
	// Validate checks the variant's required fields.
	Validate() error
	// EstimateSize returns the approximate in-memory footprint in bytes.
	EstimateSize() int64
	// Clone returns a deep copy so cache entries never alias caller data.
	Clone() Metadata

	sealed()
}

// ParsedInfo is metadata derived from parsing a media filename.
type ParsedInfo struct {
	Title      string `json:"title"`
	Season     int    `json:"season,omitempty"`
	Episode    int    `json:"episode,omitempty"`
	Year       int    `json:"year,omitempty"`
	Group      string `json:"group,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Source     string `json:"source,omitempty"`
}

// Kind implements Metadata.
func (p *ParsedInfo) Kind() Kind { return KindParsed }

func (p *ParsedInfo) sealed() {}

// Validate implements Metadata.
func (p *ParsedInfo) Validate() error {
	if p == nil {
		return errors.New(errors.CodeInvalidValue, "parsed info is nil")
	}
	if p.Title == "" {
		return errors.New(errors.CodeInvalidValue, "parsed info title is empty")
	}
	if p.Episode < 0 || p.Season < 0 {
		return errors.New(errors.CodeInvalidValue, "parsed info episode/season is negative")
	}
	return nil
}

// EstimateSize implements Metadata.
func (p *ParsedInfo) EstimateSize() int64 {
	const structOverhead = 64
	return structOverhead + int64(len(p.Title)+len(p.Group)+len(p.Resolution)+len(p.Source))
}

// Clone implements Metadata.
func (p *ParsedInfo) Clone() Metadata {
	cp := *p
	return &cp
}

// RemoteMetadata is metadata fetched from the external metadata API.
type RemoteMetadata struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	TitleEN   string     `json:"title_en,omitempty"`
	Synopsis  string     `json:"synopsis,omitempty"`
	Genres    []string   `json:"genres,omitempty"`
	Score     float64    `json:"score,omitempty"`
	Episodes  int        `json:"episodes,omitempty"`
	Status    string     `json:"status,omitempty"`
	AiredFrom *time.Time `json:"aired_from,omitempty"`
	AiredTo   *time.Time `json:"aired_to,omitempty"`
	ImageURL  string     `json:"image_url,omitempty"`
}

// Kind implements Metadata.
func (r *RemoteMetadata) Kind() Kind { return KindRemote }

func (r *RemoteMetadata) sealed() {}

// Validate implements Metadata.
func (r *RemoteMetadata) Validate() error {
	if r == nil {
		return errors.New(errors.CodeInvalidValue, "remote metadata is nil")
	}
	if r.ID == 0 {
		return errors.New(errors.CodeInvalidValue, "remote metadata id is zero")
	}
	if r.Title == "" {
		return errors.New(errors.CodeInvalidValue, "remote metadata title is empty")
	}
	return nil
}

// EstimateSize implements Metadata.
func (r *RemoteMetadata) EstimateSize() int64 {
	const structOverhead = 128
	size := structOverhead + int64(len(r.Title)+len(r.TitleEN)+len(r.Synopsis)+
		len(r.Status)+len(r.ImageURL))
	for _, g := range r.Genres {
		size += int64(len(g)) + 16
	}
	return size
}

// Clone implements Metadata.
func (r *RemoteMetadata) Clone() Metadata {
	cp := *r
	if r.Genres != nil {
		cp.Genres = make([]string, len(r.Genres))
		copy(cp.Genres, r.Genres)
	}
	if r.AiredFrom != nil {
		t := *r.AiredFrom
		cp.AiredFrom = &t
	}
	if r.AiredTo != nil {
		t := *r.AiredTo
		cp.AiredTo = &t
	}
	return &cp
}

// envelope is the tagged wire form used by Marshal/Unmarshal.
type envelope struct {
	Kind  Kind            `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// Marshal serializes metadata with its variant tag.
func Marshal(m Metadata) ([]byte, error) {
	if m == nil {
		return nil, errors.New(errors.CodeInvalidValue, "metadata is nil")
	}
	value, err := json.Marshal(m)
	if err != nil {
		return nil, errors.New(errors.CodeSerialization, "marshal metadata value").WithCause(err)
	}
	data, err := json.Marshal(envelope{Kind: m.Kind(), Value: value})
	if err != nil {
		return nil, errors.New(errors.CodeSerialization, "marshal metadata envelope").WithCause(err)
	}
	return data, nil
}

// Unmarshal deserializes metadata produced by Marshal, dispatching on the
// variant tag.
func Unmarshal(data []byte) (Metadata, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.New(errors.CodeDeserialization, "unmarshal metadata envelope").WithCause(err)
	}
	switch env.Kind {
	case KindParsed:
		var p ParsedInfo
		if err := json.Unmarshal(env.Value, &p); err != nil {
			return nil, errors.New(errors.CodeDeserialization, "unmarshal parsed info").WithCause(err)
		}
		return &p, nil
	case KindRemote:
		var r RemoteMetadata
		if err := json.Unmarshal(env.Value, &r); err != nil {
			return nil, errors.New(errors.CodeDeserialization, "unmarshal remote metadata").WithCause(err)
		}
		return &r, nil
	default:
		return nil, errors.Newf(errors.CodeDeserialization, "unknown metadata kind %q", env.Kind)
	}
}
