package search

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcprune.dev/internal/anvil"
	"mcprune.dev/internal/chunk/chunktest"
	"mcprune.dev/internal/coords"
)

func idx(x, y, z int) int { return y*256 + z*16 + x }

func writeRegion(t *testing.T, dir string, r coords.RegionPos, chunks map[coords.LocalPos][]byte) {
	t.Helper()
	var entries []anvil.Entry
	for l, payload := range chunks {
		rec, err := anvil.EncodeRecord(payload, anvil.CompressionGzip)
		require.NoError(t, err)
		entries = append(entries, anvil.Entry{Local: l, Data: rec})
	}
	_, err := anvil.WriteRegion(filepath.Join(dir, anvil.RegionFileName(r)), entries)
	require.NoError(t, err)
}

func fixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeRegion(t, dir, coords.RegionPos{}, map[coords.LocalPos][]byte{
		{X: 0, Z: 0}: chunktest.Flat(3465, 0, []chunktest.Section{{
			Y:       4,
			Palette: []string{"minecraft:air", "minecraft:diamond_ore"},
			Blocks:  map[int]int{idx(1, 2, 3): 1, idx(15, 0, 15): 1},
		}}, nil),
		{X: 1, Z: 0}: chunktest.Flat(3465, 0, []chunktest.Section{{
			Y:       4,
			Palette: []string{"minecraft:stone"},
		}}, nil),
	})
	writeRegion(t, dir, coords.RegionPos{X: -1, Z: -1}, map[coords.LocalPos][]byte{
		{X: 31, Z: 31}: chunktest.Nested(1976, 0, []chunktest.Section{{
			Y:       0,
			Palette: []string{"minecraft:stone", "minecraft:deepslate_diamond_ore"},
			Blocks:  map[int]int{idx(0, 0, 0): 1},
		}}, nil),
		{X: 0, Z: 0}: chunktest.Raw(struct {
			Foo int32 `nbt:"foo"`
		}{1}),
	})
	writeRegion(t, dir, coords.RegionPos{X: 5, Z: 5}, map[coords.LocalPos][]byte{
		{X: 0, Z: 0}: chunktest.Flat(3465, 0, []chunktest.Section{{
			Y:       4,
			Palette: []string{"minecraft:diamond_ore"},
		}}, nil),
	})
	return dir
}

func collect(t *testing.T, dir string, q Query) ([]Match, Stats) {
	t.Helper()
	var got []Match
	st, err := Blocks(context.Background(), dir, q, Options{Workers: 2}, func(m Match) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	return got, st
}

func TestBlocks(t *testing.T) {
	dir := fixture(t)
	from := coords.BlockPos{X: -600, Y: -64, Z: -600}
	to := coords.BlockPos{X: 20, Y: 100, Z: 20}

	got, st := collect(t, dir, Query{Pattern: regexp.MustCompile(`diamond_ore$`), From: &from, To: &to})
	require.Len(t, got, 3)
	assert.Equal(t, coords.BlockPos{X: -16, Y: 0, Z: -16}, got[0].Pos())
	assert.Equal(t, "minecraft:deepslate_diamond_ore", got[0].Block)
	// inside a section, blocks come out layer by layer
	assert.Equal(t, coords.BlockPos{X: 15, Y: 64, Z: 15}, got[1].Pos())
	assert.Equal(t, coords.BlockPos{X: 1, Y: 66, Z: 3}, got[2].Pos())

	assert.Equal(t, 3, st.Regions)
	assert.Equal(t, 1, st.RegionsSkipped)
	assert.Equal(t, 1, st.DecodeFailures)
	assert.Equal(t, 3, st.Matches)
}

func TestBlocks_BoundsAreInclusiveAndUnordered(t *testing.T) {
	dir := fixture(t)
	a := coords.BlockPos{X: 10, Y: 66, Z: 10}
	b := coords.BlockPos{X: 1, Y: 70, Z: 3}

	got, _ := collect(t, dir, Query{Pattern: regexp.MustCompile(`diamond`), From: &a, To: &b})
	require.Len(t, got, 1)
	assert.Equal(t, coords.BlockPos{X: 1, Y: 66, Z: 3}, got[0].Pos())
}

func TestBlocks_OpenBounds(t *testing.T) {
	dir := fixture(t)
	got, st := collect(t, dir, Query{Pattern: regexp.MustCompile(`^minecraft:diamond_ore$`)})
	// the single-entry palette in r.5.5 fills the whole section
	assert.Len(t, got, 2+16*16*16)
	assert.Equal(t, 0, st.RegionsSkipped)
}

func TestBlocks_Errors(t *testing.T) {
	_, err := Blocks(context.Background(), t.TempDir(), Query{}, Options{}, nil)
	assert.Error(t, err)

	_, err = Blocks(context.Background(), filepath.Join(t.TempDir(), "missing"),
		Query{Pattern: regexp.MustCompile(`x`)}, Options{}, nil)
	var pe *anvil.PathError
	assert.ErrorAs(t, err, &pe)

	dir := fixture(t)
	stop := errors.New("stop")
	_, err = Blocks(context.Background(), dir, Query{Pattern: regexp.MustCompile(`diamond`)}, Options{},
		func(Match) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestBlocks_UnreadableRegion(t *testing.T) {
	dir := fixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "r.0.1.mca"), []byte("short"), 0o644))
	_, st := collect(t, dir, Query{Pattern: regexp.MustCompile(`stone`)})
	assert.Equal(t, 1, st.Unreadable)
}
