// Package chunktest builds chunk documents for tests.
package chunktest

import (
	"math/bits"

	"github.com/Tnze/go-mc/nbt"

	"mcprune.dev/internal/chunk"
)

// Section describes one section of a fixture chunk. Blocks maps a
// section-local index (y*256 + z*16 + x) to a palette entry; unset indices
// use Palette[0].
type Section struct {
	Y       int8
	Palette []string
	Blocks  map[int]int
}

type flatDoc struct {
	DataVersion   int32               `nbt:"DataVersion"`
	XPos          int32               `nbt:"xPos"`
	ZPos          int32               `nbt:"zPos"`
	Status        string              `nbt:"Status"`
	InhabitedTime int64               `nbt:"InhabitedTime"`
	Sections      []flatSection       `nbt:"sections"`
	BlockEntities []chunk.BlockEntity `nbt:"block_entities"`
}

type flatSection struct {
	Y           int8        `nbt:"Y"`
	BlockStates blockStates `nbt:"block_states"`
}

type blockStates struct {
	Palette []paletteEntry `nbt:"palette"`
	Data    []int64        `nbt:"data"`
}

type paletteEntry struct {
	Name string `nbt:"Name"`
}

type nestedDoc struct {
	DataVersion int32       `nbt:"DataVersion"`
	Level       nestedLevel `nbt:"Level"`
}

type nestedLevel struct {
	XPos          int32               `nbt:"xPos"`
	ZPos          int32               `nbt:"zPos"`
	InhabitedTime int64               `nbt:"InhabitedTime"`
	Sections      []nestedSection     `nbt:"Sections"`
	TileEntities  []chunk.BlockEntity `nbt:"TileEntities"`
}

type nestedSection struct {
	Y           int8           `nbt:"Y"`
	Palette     []paletteEntry `nbt:"Palette"`
	BlockStates []int64        `nbt:"BlockStates"`
}

// Flat encodes a chunk in the root-level layout.
func Flat(version int32, inhabited int64, sections []Section, entities []chunk.BlockEntity) []byte {
	doc := flatDoc{
		DataVersion:   version,
		Status:        "minecraft:full",
		InhabitedTime: inhabited,
		Sections:      []flatSection{},
		BlockEntities: nonNil(entities),
	}
	for _, s := range sections {
		doc.Sections = append(doc.Sections, flatSection{
			Y: s.Y,
			BlockStates: blockStates{
				Palette: palette(s.Palette),
				Data:    pack(s, false),
			},
		})
	}
	return mustMarshal(doc)
}

// Nested encodes a chunk in the Level-wrapped layout.
func Nested(version int32, inhabited int64, sections []Section, entities []chunk.BlockEntity) []byte {
	doc := nestedDoc{
		DataVersion: version,
		Level: nestedLevel{
			InhabitedTime: inhabited,
			Sections:      []nestedSection{},
			TileEntities:  nonNil(entities),
		},
	}
	spanning := version < 2529
	for _, s := range sections {
		data := pack(s, spanning)
		if data == nil {
			data = []int64{}
		}
		doc.Level.Sections = append(doc.Level.Sections, nestedSection{
			Y:           s.Y,
			Palette:     palette(s.Palette),
			BlockStates: data,
		})
	}
	return mustMarshal(doc)
}

// ForVersion picks Flat or Nested from the version.
func ForVersion(version int32, inhabited int64) []byte {
	if version >= chunk.FlatLayoutVersion {
		return Flat(version, inhabited, nil, nil)
	}
	return Nested(version, inhabited, nil, nil)
}

// Raw encodes an arbitrary value, for malformed or foreign documents.
func Raw(v any) []byte { return mustMarshal(v) }

func palette(names []string) []paletteEntry {
	out := make([]paletteEntry, 0, len(names))
	for _, n := range names {
		out = append(out, paletteEntry{Name: n})
	}
	return out
}

func pack(s Section, spanning bool) []int64 {
	if len(s.Palette) <= 1 && !spanning {
		return nil
	}
	width := bits.Len(uint(len(s.Palette) - 1))
	if width < 4 {
		width = 4
	}
	const n = 4096
	var words []uint64
	if spanning {
		words = make([]uint64, (n*width+63)/64)
	} else {
		perLong := 64 / width
		words = make([]uint64, (n+perLong-1)/perLong)
	}
	for i := 0; i < n; i++ {
		v := uint64(s.Blocks[i])
		if spanning {
			bit := i * width
			w, sh := bit/64, uint(bit%64)
			words[w] |= v << sh
			if int(sh)+width > 64 {
				words[w+1] |= v >> (64 - sh)
			}
			continue
		}
		perLong := 64 / width
		words[i/perLong] |= v << uint((i%perLong)*width)
	}
	out := make([]int64, len(words))
	for i, w := range words {
		out[i] = int64(w)
	}
	return out
}

func nonNil(e []chunk.BlockEntity) []chunk.BlockEntity {
	if e == nil {
		return []chunk.BlockEntity{}
	}
	return e
}

func mustMarshal(v any) []byte {
	b, err := nbt.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
