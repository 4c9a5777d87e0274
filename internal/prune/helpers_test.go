package prune

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mcprune.dev/internal/anvil"
	"mcprune.dev/internal/chunk/chunktest"
	"mcprune.dev/internal/coords"
)

// undecodable marks a fixture chunk whose payload is not a chunk document.
const undecodable = -1

// writeWorld lays chunks out into region files under world/region and
// returns the region directory. Even chunk X uses the flat layout, odd X
// the nested one.
func writeWorld(t *testing.T, world string, chunks map[coords.ChunkPos]int64) string {
	t.Helper()
	dir := anvil.Dir(world, anvil.Overworld, anvil.KindRegion)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	byRegion := map[coords.RegionPos][]anvil.Entry{}
	for c, inhabited := range chunks {
		r, l := coords.RegionOf(c)
		var payload []byte
		switch {
		case inhabited == undecodable:
			payload = chunktest.Raw(struct {
				Foo string `nbt:"foo"`
			}{Foo: "bar"})
		case c.X%2 == 0:
			payload = chunktest.Flat(3465, inhabited, nil, nil)
		default:
			payload = chunktest.Nested(2586, inhabited, nil, nil)
		}
		rec, err := anvil.EncodeRecord(payload, anvil.CompressionZlib)
		require.NoError(t, err)
		byRegion[r] = append(byRegion[r], anvil.Entry{Local: l, Data: rec})
	}
	for r, entries := range byRegion {
		_, err := anvil.WriteRegion(filepath.Join(dir, anvil.RegionFileName(r)), entries)
		require.NoError(t, err)
	}
	return dir
}

// storedChunks returns every chunk coordinate present on disk.
func storedChunks(t *testing.T, dir string) map[coords.ChunkPos]bool {
	t.Helper()
	files, err := anvil.ListRegionFiles(dir)
	require.NoError(t, err)
	out := map[coords.ChunkPos]bool{}
	for _, f := range files {
		r, err := anvil.Open(f)
		if err != nil {
			continue
		}
		for _, l := range r.Chunks() {
			out[coords.ChunkOf(r.Pos(), l)] = true
		}
		require.NoError(t, r.Close())
	}
	return out
}

func fileSizes(t *testing.T, dir string) map[string]int64 {
	t.Helper()
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	out := map[string]int64{}
	for _, e := range ents {
		info, err := e.Info()
		require.NoError(t, err)
		out[e.Name()] = info.Size()
	}
	return out
}

func cp(x, z int) coords.ChunkPos { return coords.ChunkPos{X: x, Z: z} }
