// Package chunk decodes Anvil chunk documents into a schema-independent view.
//
// Two on-disk layouts exist. Chunks written before data version 2825
// (1.18 experimental snapshot 1) wrap everything in a "Level" compound with
// upper-case field names; later chunks keep the fields at the root. Decode
// picks the layout from the DataVersion tag once per chunk and the accessors
// below hide the difference.
package chunk

import (
	"errors"
	"fmt"

	"github.com/Tnze/go-mc/nbt"
)

const (
	// FlatLayoutVersion is the first data version stored without the Level wrapper.
	FlatLayoutVersion = 2825
	// tightPackingVersion is the first data version whose packed block
	// indices never straddle two longs (20w17a).
	tightPackingVersion = 2529
)

type Schema uint8

const (
	SchemaNested Schema = iota + 1
	SchemaFlat
)

func (s Schema) String() string {
	switch s {
	case SchemaNested:
		return "nested"
	case SchemaFlat:
		return "flat"
	default:
		return "unknown"
	}
}

// DecodeError means the payload did not match the schema implied by its
// version tag. Callers treat it as "activity unknown", never as zero activity.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode chunk: %s: %v", e.Reason, e.Err)
	}
	return "decode chunk: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err is or wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

type BlockState struct {
	Name       string            `nbt:"Name"`
	Properties map[string]string `nbt:"Properties"`
}

type BlockEntity struct {
	ID string `nbt:"id"`
	X  int32  `nbt:"x"`
	Y  int32  `nbt:"y"`
	Z  int32  `nbt:"z"`
}

// Chunk is a tagged union over the nested and flat layouts.
type Chunk struct {
	schema  Schema
	version int32
	nested  *nestedLevel
	flat    *flatRoot
}

type versionProbe struct {
	DataVersion *int32 `nbt:"DataVersion"`
}

type flatRoot struct {
	InhabitedTime *int64         `nbt:"InhabitedTime"`
	Sections      *[]flatSection `nbt:"sections"`
	BlockEntities []BlockEntity  `nbt:"block_entities"`
}

type flatSection struct {
	Y           int8             `nbt:"Y"`
	BlockStates *flatBlockStates `nbt:"block_states"`
}

type flatBlockStates struct {
	Palette []BlockState `nbt:"palette"`
	Data    []int64      `nbt:"data"`
}

type nestedRoot struct {
	Level *nestedLevel `nbt:"Level"`
}

type nestedLevel struct {
	InhabitedTime *int64           `nbt:"InhabitedTime"`
	Sections      *[]nestedSection `nbt:"Sections"`
	TileEntities  []BlockEntity    `nbt:"TileEntities"`
}

type nestedSection struct {
	Y           int8         `nbt:"Y"`
	Palette     []BlockState `nbt:"Palette"`
	BlockStates []int64      `nbt:"BlockStates"`
}

// Decode parses an uncompressed chunk document.
func Decode(payload []byte) (*Chunk, error) {
	if len(payload) == 0 {
		return nil, &DecodeError{Reason: "empty payload"}
	}
	var probe versionProbe
	if err := nbt.Unmarshal(payload, &probe); err != nil {
		return nil, &DecodeError{Reason: "malformed document", Err: err}
	}
	if probe.DataVersion == nil {
		return nil, &DecodeError{Reason: "missing DataVersion"}
	}
	version := *probe.DataVersion
	if version >= FlatLayoutVersion {
		return decodeFlat(payload, version)
	}
	return decodeNested(payload, version)
}

func decodeFlat(payload []byte, version int32) (*Chunk, error) {
	var root flatRoot
	if err := nbt.Unmarshal(payload, &root); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("flat layout (version %d)", version), Err: err}
	}
	if err := checkInhabited(root.InhabitedTime, version); err != nil {
		return nil, err
	}
	if root.Sections == nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("missing sections (version %d)", version)}
	}
	return &Chunk{schema: SchemaFlat, version: version, flat: &root}, nil
}

func decodeNested(payload []byte, version int32) (*Chunk, error) {
	var root nestedRoot
	if err := nbt.Unmarshal(payload, &root); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("nested layout (version %d)", version), Err: err}
	}
	if root.Level == nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("missing Level (version %d)", version)}
	}
	if err := checkInhabited(root.Level.InhabitedTime, version); err != nil {
		return nil, err
	}
	if root.Level.Sections == nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("missing Sections (version %d)", version)}
	}
	return &Chunk{schema: SchemaNested, version: version, nested: root.Level}, nil
}

func checkInhabited(v *int64, version int32) error {
	if v == nil {
		return &DecodeError{Reason: fmt.Sprintf("missing InhabitedTime (version %d)", version)}
	}
	if *v < 0 {
		return &DecodeError{Reason: fmt.Sprintf("negative InhabitedTime %d", *v)}
	}
	return nil
}

func (c *Chunk) Schema() Schema     { return c.schema }
func (c *Chunk) DataVersion() int32 { return c.version }

// InhabitedTime is the cumulative number of ticks players spent near the chunk.
func (c *Chunk) InhabitedTime() uint64 {
	switch c.schema {
	case SchemaFlat:
		return uint64(*c.flat.InhabitedTime)
	case SchemaNested:
		return uint64(*c.nested.InhabitedTime)
	}
	return 0
}

func (c *Chunk) Sections() []Section {
	spanning := c.version < tightPackingVersion
	switch c.schema {
	case SchemaFlat:
		src := *c.flat.Sections
		out := make([]Section, 0, len(src))
		for _, s := range src {
			sec := Section{Y: s.Y}
			if s.BlockStates != nil {
				sec.Palette = s.BlockStates.Palette
				sec.Data = s.BlockStates.Data
			}
			out = append(out, sec)
		}
		return out
	case SchemaNested:
		src := *c.nested.Sections
		out := make([]Section, 0, len(src))
		for _, s := range src {
			out = append(out, Section{Y: s.Y, Palette: s.Palette, Data: s.BlockStates, spanning: spanning})
		}
		return out
	}
	return nil
}

func (c *Chunk) BlockEntities() []BlockEntity {
	switch c.schema {
	case SchemaFlat:
		return c.flat.BlockEntities
	case SchemaNested:
		return c.nested.TileEntities
	}
	return nil
}
