package anvil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Tnze/go-mc/save/region"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcprune.dev/internal/coords"
)

func writeTestRegion(t *testing.T, dir string, r coords.RegionPos, payloads map[coords.LocalPos][]byte) string {
	t.Helper()
	var entries []Entry
	for l, p := range payloads {
		rec, err := EncodeRecord(p, CompressionZlib)
		require.NoError(t, err)
		entries = append(entries, Entry{Local: l, Timestamp: uint32(1000 + l.Index()), Data: rec})
	}
	path := filepath.Join(dir, RegionFileName(r))
	_, err := WriteRegion(path, entries)
	require.NoError(t, err)
	return path
}

func TestParseRegionName(t *testing.T) {
	pos, err := ParseRegionName("/w/region/r.-3.12.mca")
	require.NoError(t, err)
	assert.Equal(t, coords.RegionPos{X: -3, Z: 12}, pos)
	assert.Equal(t, "r.-3.12.mca", RegionFileName(pos))

	for _, bad := range []string{"r.1.mca", "r.a.2.mca", "x.1.2.mca", "r.1.2.3.mca", "r.1.b.mca"} {
		_, err := ParseRegionName(bad)
		var npe *NameParseError
		assert.True(t, errors.As(err, &npe), bad)
	}
}

func TestListRegionFiles(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"r.1.0.mca", "r.0.0.mca", "r.0.0.mca.prune-tmp", "notes.txt", "c.1.1.mcc"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "r.9.9.mca"), 0o755))

	files, err := ListRegionFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "r.0.0.mca"), filepath.Join(dir, "r.1.0.mca")}, files)

	t.Run("missing directory", func(t *testing.T) {
		_, err := ListRegionFiles(filepath.Join(dir, "nope"))
		var pe *PathError
		assert.True(t, errors.As(err, &pe))
	})

	t.Run("not a directory", func(t *testing.T) {
		_, err := ListRegionFiles(filepath.Join(dir, "notes.txt"))
		var pe *PathError
		assert.True(t, errors.As(err, &pe))
	})
}

func TestDir(t *testing.T) {
	assert.Equal(t, filepath.Join("w", "region"), Dir("w", Overworld, KindRegion))
	assert.Equal(t, filepath.Join("w", "DIM-1", "region"), Dir("w", Nether, KindRegion))
	assert.Equal(t, filepath.Join("w", "DIM1", "entities"), Dir("w", End, KindEntities))

	d, err := ParseDimension("minecraft:the_nether")
	require.NoError(t, err)
	assert.Equal(t, Nether, d)
	_, err = ParseDimension("aether")
	assert.Error(t, err)
}

func TestOpen_ReadsChunks(t *testing.T) {
	dir := t.TempDir()
	payloads := map[coords.LocalPos][]byte{
		{X: 0, Z: 0}:   []byte("first"),
		{X: 31, Z: 31}: make([]byte, 3*SectorSize),
		{X: 5, Z: 2}:   []byte("third"),
	}
	path := writeTestRegion(t, dir, coords.RegionPos{X: -1, Z: 2}, payloads)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, coords.RegionPos{X: -1, Z: 2}, r.Pos())
	assert.Len(t, r.Chunks(), 3)
	for l, want := range payloads {
		got, err := r.Payload(l)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, uint32(1000+l.Index()), r.Timestamp(l))
	}
	_, err = r.Payload(coords.LocalPos{X: 1, Z: 1})
	assert.ErrorIs(t, err, ErrNotPresent)
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "r.0.0.mca")
	require.NoError(t, os.WriteFile(short, make([]byte, 100), 0o644))
	_, err := Open(short)
	var oe *OpenError
	assert.True(t, errors.As(err, &oe))

	badName := filepath.Join(dir, "r.x.0.mca")
	require.NoError(t, os.WriteFile(badName, make([]byte, headerSize), 0o644))
	_, err = Open(badName)
	var npe *NameParseError
	assert.True(t, errors.As(err, &npe))
}

func TestPayload_Compressions(t *testing.T) {
	dir := t.TempDir()
	var entries []Entry
	for i, c := range []Compression{CompressionGzip, CompressionZlib, CompressionNone} {
		rec, err := EncodeRecord([]byte("payload"), c)
		require.NoError(t, err)
		entries = append(entries, Entry{Local: coords.LocalPos{X: i}, Data: rec})
	}
	// LZ4 is stored but not readable
	entries = append(entries, Entry{Local: coords.LocalPos{X: 10}, Data: []byte{0, 0, 0, 3, byte(CompressionLZ4), 1, 2}})

	path := filepath.Join(dir, "r.0.0.mca")
	_, err := WriteRegion(path, entries)
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	for i := 0; i < 3; i++ {
		got, err := r.Payload(coords.LocalPos{X: i})
		require.NoError(t, err)
		assert.Equal(t, "payload", string(got))
	}
	_, err = r.Payload(coords.LocalPos{X: 10})
	assert.ErrorIs(t, err, ErrUnsupportedCompression)
}

func TestPayload_External(t *testing.T) {
	dir := t.TempDir()
	body, err := compress(CompressionZlib, []byte("big chunk"))
	require.NoError(t, err)
	// chunk (33, 1) lives in region (1, 0) at offset (1, 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.33.1.mcc"), body, 0o644))

	path := filepath.Join(dir, "r.1.0.mca")
	_, err = WriteRegion(path, []Entry{{
		Local: coords.LocalPos{X: 1, Z: 1},
		Data:  []byte{0, 0, 0, 1, byte(CompressionZlib) | externalFlag},
	}})
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	got, err := r.Payload(coords.LocalPos{X: 1, Z: 1})
	require.NoError(t, err)
	assert.Equal(t, "big chunk", string(got))

	res, err := r.Rewrite([]coords.LocalPos{{X: 1, Z: 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)
	assert.Empty(t, res.StaleExternal)
	_, err = os.Stat(filepath.Join(dir, "c.33.1.mcc"))
	assert.True(t, os.IsNotExist(err))
}

func TestRewrite(t *testing.T) {
	dir := t.TempDir()
	payloads := map[coords.LocalPos][]byte{
		{X: 0, Z: 0}: []byte("keep-a"),
		{X: 1, Z: 0}: make([]byte, 2*SectorSize),
		{X: 2, Z: 0}: []byte("keep-b"),
		{X: 3, Z: 7}: []byte("drop-b"),
	}
	path := writeTestRegion(t, dir, coords.RegionPos{}, payloads)

	r, err := Open(path)
	require.NoError(t, err)
	before := r.Size()

	res, err := r.Rewrite([]coords.LocalPos{{X: 1, Z: 0}, {X: 3, Z: 7}, {X: 9, Z: 9}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Removed)
	assert.Equal(t, before, res.SizeBefore)
	// header + one sector per surviving chunk
	assert.Equal(t, int64(headerSize+2*SectorSize), res.SizeAfter)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, res.SizeAfter, st.Size())
	_, err = os.Stat(path + ".prune-tmp")
	assert.True(t, os.IsNotExist(err))

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()
	assert.ElementsMatch(t, []coords.LocalPos{{X: 0, Z: 0}, {X: 2, Z: 0}}, r2.Chunks())
	for _, l := range r2.Chunks() {
		got, err := r2.Payload(l)
		require.NoError(t, err)
		assert.Equal(t, payloads[l], got)
		assert.Equal(t, uint32(1000+l.Index()), r2.Timestamp(l))
	}
}

func TestRewrite_PreservesUnreadableSurvivor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.mca")
	good, err := EncodeRecord([]byte("ok"), CompressionZlib)
	require.NoError(t, err)
	// record claims zlib but carries junk: undecodable, must survive verbatim
	junk := []byte{0, 0, 0, 4, byte(CompressionZlib), 0xde, 0xad, 0xbe}
	_, err = WriteRegion(path, []Entry{
		{Local: coords.LocalPos{X: 0}, Data: good},
		{Local: coords.LocalPos{X: 1}, Data: junk},
	})
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	_, err = r.Rewrite([]coords.LocalPos{{X: 0}})
	require.NoError(t, err)

	r2, err := Open(path)
	require.NoError(t, err)
	defer r2.Close()
	require.Equal(t, []coords.LocalPos{{X: 1}}, r2.Chunks())
	_, body, err := r2.record(coords.LocalPos{X: 1})
	require.NoError(t, err)
	assert.Equal(t, junk[5:], body)
}

func TestOpen_ReadsLibraryWrittenRegion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.-1.2.mca")
	w, err := region.Create(path)
	require.NoError(t, err)
	payloads := map[coords.LocalPos][]byte{
		{X: 0, Z: 0}: []byte("first"),
		{X: 3, Z: 1}: []byte("second"),
		{X: 6, Z: 2}: make([]byte, SectorSize+10),
	}
	for l, p := range payloads {
		body, err := compress(CompressionZlib, p)
		require.NoError(t, err)
		require.NoError(t, w.WriteSector(l.X, l.Z, append([]byte{byte(CompressionZlib)}, body...)))
	}
	require.NoError(t, w.PadToFullSector())
	require.NoError(t, w.Close())

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, coords.RegionPos{X: -1, Z: 2}, r.Pos())
	assert.ElementsMatch(t, []coords.LocalPos{{X: 0, Z: 0}, {X: 3, Z: 1}, {X: 6, Z: 2}}, r.Chunks())
	for l, want := range payloads {
		got, err := r.Payload(l)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NotZero(t, r.Timestamp(l))
	}
}

func TestPayload_LengthBeyondSectors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.mca")
	// length claims two sectors but only one is allocated
	rec := []byte{0, 0, 0x20, 0, byte(CompressionNone), 'x'}
	_, err := WriteRegion(path, []Entry{{Local: coords.LocalPos{X: 4, Z: 4}, Data: rec}})
	require.NoError(t, err)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.Has(coords.LocalPos{X: 4, Z: 4}))
	_, err = r.Payload(coords.LocalPos{X: 4, Z: 4})
	assert.ErrorIs(t, err, ErrCorruptChunk)
}

func TestRewrite_FailureLeavesOriginal(t *testing.T) {
	dir := t.TempDir()
	payloads := map[coords.LocalPos][]byte{
		{X: 0, Z: 0}: []byte("keep"),
		{X: 5, Z: 5}: []byte("drop"),
	}
	path := writeTestRegion(t, dir, coords.RegionPos{}, payloads)
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	// a directory in the temp file's place makes the create fail
	require.NoError(t, os.MkdirAll(filepath.Join(path+".prune-tmp", "x"), 0o755))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	_, err = r.Rewrite([]coords.LocalPos{{X: 5, Z: 5}})
	var we *WriteError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, path, we.Path)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
