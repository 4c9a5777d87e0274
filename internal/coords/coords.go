package coords

import "fmt"

const (
	// RegionChunks is the number of chunks along one side of a region file.
	RegionChunks = 32
	// ChunkBlocks is the number of blocks along one horizontal side of a chunk.
	ChunkBlocks = 16
	// RegionBlocks is the number of blocks along one side of a region file.
	RegionBlocks = RegionChunks * ChunkBlocks
)

// RegionPos addresses one region file.
type RegionPos struct {
	X int
	Z int
}

// LocalPos is the offset of a chunk inside its region, both components in [0,32).
type LocalPos struct {
	X int
	Z int
}

// ChunkPos is a world-space chunk address.
type ChunkPos struct {
	X int
	Z int
}

// BlockPos is a world-space block address.
type BlockPos struct {
	X int
	Y int
	Z int
}

func (r RegionPos) String() string { return fmt.Sprintf("r.%d.%d", r.X, r.Z) }
func (c ChunkPos) String() string  { return fmt.Sprintf("(%d,%d)", c.X, c.Z) }
func (b BlockPos) String() string  { return fmt.Sprintf("%d,%d,%d", b.X, b.Y, b.Z) }

// Index is the slot of the chunk in the region header.
func (l LocalPos) Index() int { return l.X + l.Z*RegionChunks }

// LocalFromIndex is the inverse of LocalPos.Index.
func LocalFromIndex(i int) LocalPos {
	return LocalPos{X: i % RegionChunks, Z: i / RegionChunks}
}

// ChunkOf returns region*32 + local. Indexing and compaction must both use it.
func ChunkOf(r RegionPos, l LocalPos) ChunkPos {
	return ChunkPos{X: r.X*RegionChunks + l.X, Z: r.Z*RegionChunks + l.Z}
}

// RegionOf returns the region holding c and c's offset inside it.
func RegionOf(c ChunkPos) (RegionPos, LocalPos) {
	return RegionPos{X: FloorDiv(c.X, RegionChunks), Z: FloorDiv(c.Z, RegionChunks)},
		LocalPos{X: Mod(c.X, RegionChunks), Z: Mod(c.Z, RegionChunks)}
}

// BlockOf returns the world block at local (x, y, z) of chunk c, x and z in [0,16).
func BlockOf(c ChunkPos, x, y, z int) BlockPos {
	return BlockPos{X: c.X*ChunkBlocks + x, Y: y, Z: c.Z*ChunkBlocks + z}
}

// ChunkRect returns the inclusive block-space XZ rectangle covered by c.
func ChunkRect(c ChunkPos) (from, to [2]int) {
	from = [2]int{c.X * ChunkBlocks, c.Z * ChunkBlocks}
	to = [2]int{from[0] + ChunkBlocks - 1, from[1] + ChunkBlocks - 1}
	return from, to
}

// RegionRect returns the inclusive block-space XZ rectangle covered by r.
func RegionRect(r RegionPos) (from, to [2]int) {
	from = [2]int{r.X * RegionBlocks, r.Z * RegionBlocks}
	to = [2]int{from[0] + RegionBlocks - 1, from[1] + RegionBlocks - 1}
	return from, to
}

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
