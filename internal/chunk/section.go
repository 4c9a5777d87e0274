package chunk

import "math/bits"

// SectionBlocks is the number of blocks along each side of a section.
const SectionBlocks = 16

// Section is one 16x16x16 slab. Palette may be empty for sections that only
// carry light or biome data.
type Section struct {
	Y       int8
	Palette []BlockState
	Data    []int64

	spanning bool
}

// BlockAt returns the block state at section-local (x, y, z).
func (s Section) BlockAt(x, y, z int) (BlockState, bool) {
	if x < 0 || y < 0 || z < 0 || x >= SectionBlocks || y >= SectionBlocks || z >= SectionBlocks {
		return BlockState{}, false
	}
	switch len(s.Palette) {
	case 0:
		return BlockState{}, false
	case 1:
		if len(s.Data) == 0 {
			return s.Palette[0], true
		}
	}
	if len(s.Data) == 0 {
		return BlockState{}, false
	}
	idx, ok := packedIndex(s.Data, s.bitsPerBlock(), y*256+z*16+x, s.spanning)
	if !ok || idx >= len(s.Palette) {
		return BlockState{}, false
	}
	return s.Palette[idx], true
}

// MinY is the world Y of the section's lowest block layer.
func (s Section) MinY() int { return int(s.Y) * SectionBlocks }

func (s Section) bitsPerBlock() int {
	n := bits.Len(uint(len(s.Palette) - 1))
	if n < 4 {
		n = 4
	}
	return n
}

func packedIndex(data []int64, width, i int, spanning bool) (int, bool) {
	mask := uint64(1)<<uint(width) - 1
	if !spanning {
		perLong := 64 / width
		word := i / perLong
		if word >= len(data) {
			return 0, false
		}
		shift := uint((i % perLong) * width)
		return int((uint64(data[word]) >> shift) & mask), true
	}
	bit := i * width
	word := bit / 64
	shift := uint(bit % 64)
	if word >= len(data) {
		return 0, false
	}
	v := uint64(data[word]) >> shift
	if int(shift)+width > 64 {
		if word+1 >= len(data) {
			return 0, false
		}
		v |= uint64(data[word+1]) << (64 - shift)
	}
	return int(v & mask), true
}
