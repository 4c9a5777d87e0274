package chunk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcprune.dev/internal/chunk"
	"mcprune.dev/internal/chunk/chunktest"
)

func TestDecode_DispatchesOnVersion(t *testing.T) {
	flat, err := chunk.Decode(chunktest.Flat(2825, 4321, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, chunk.SchemaFlat, flat.Schema())
	assert.Equal(t, int32(2825), flat.DataVersion())

	nested, err := chunk.Decode(chunktest.Nested(2724, 4321, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, chunk.SchemaNested, nested.Schema())

	assert.Equal(t, uint64(4321), flat.InhabitedTime())
	assert.Equal(t, flat.InhabitedTime(), nested.InhabitedTime())
}

func TestDecode_ThresholdVersion(t *testing.T) {
	// one below the threshold is still the wrapped layout
	_, err := chunk.Decode(chunktest.Flat(chunk.FlatLayoutVersion-1, 1, nil, nil))
	assert.True(t, chunk.IsDecodeError(err))

	c, err := chunk.Decode(chunktest.Nested(chunk.FlatLayoutVersion-1, 1, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, chunk.SchemaNested, c.Schema())
}

func TestDecode_SurfaceIsEquivalent(t *testing.T) {
	sections := []chunktest.Section{
		{Y: -1, Palette: []string{"minecraft:air"}},
		{Y: 0, Palette: []string{"minecraft:stone", "minecraft:diamond_ore"}, Blocks: map[int]int{1*256 + 2*16 + 3: 1}},
	}
	entities := []chunk.BlockEntity{{ID: "minecraft:chest", X: 3, Y: 1, Z: 2}}

	for _, payload := range [][]byte{
		chunktest.Flat(3465, 77, sections, entities),
		chunktest.Nested(2586, 77, sections, entities),
		chunktest.Nested(1976, 77, sections, entities),
	} {
		c, err := chunk.Decode(payload)
		require.NoError(t, err)

		assert.Equal(t, uint64(77), c.InhabitedTime())
		require.Len(t, c.BlockEntities(), 1)
		assert.Equal(t, "minecraft:chest", c.BlockEntities()[0].ID)

		secs := c.Sections()
		require.Len(t, secs, 2)
		assert.Equal(t, int8(-1), secs[0].Y)
		assert.Equal(t, -16, secs[0].MinY())

		b, ok := secs[0].BlockAt(5, 5, 5)
		require.True(t, ok)
		assert.Equal(t, "minecraft:air", b.Name)

		b, ok = secs[1].BlockAt(3, 1, 2)
		require.True(t, ok, "schema %s version %d", c.Schema(), c.DataVersion())
		assert.Equal(t, "minecraft:diamond_ore", b.Name)

		b, ok = secs[1].BlockAt(3, 1, 3)
		require.True(t, ok)
		assert.Equal(t, "minecraft:stone", b.Name)

		_, ok = secs[1].BlockAt(16, 0, 0)
		assert.False(t, ok)
	}
}

func TestDecode_Failures(t *testing.T) {
	cases := map[string][]byte{
		"empty":           nil,
		"garbage":         []byte{0x0a, 0x00, 0x00, 0x03, 0xff},
		"missing version": chunktest.Raw(struct{ InhabitedTime int64 }{InhabitedTime: 5}),
		"flat without inhabited": chunktest.Raw(struct {
			DataVersion int32 `nbt:"DataVersion"`
			Sections    []int8 `nbt:"sections"`
		}{DataVersion: 3000, Sections: []int8{}}),
		"flat without sections": chunktest.Raw(struct {
			DataVersion   int32 `nbt:"DataVersion"`
			InhabitedTime int64 `nbt:"InhabitedTime"`
		}{DataVersion: 3000, InhabitedTime: 1}),
		"nested without level": chunktest.Raw(struct {
			DataVersion   int32 `nbt:"DataVersion"`
			InhabitedTime int64 `nbt:"InhabitedTime"`
		}{DataVersion: 2000, InhabitedTime: 1}),
		"negative inhabited": chunktest.Flat(3000, -1, nil, nil),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := chunk.Decode(payload)
			assert.Nil(t, c)
			require.Error(t, err)
			assert.True(t, chunk.IsDecodeError(err))
		})
	}
}
