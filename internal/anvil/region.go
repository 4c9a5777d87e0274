// Package anvil reads and rewrites Anvil region containers (.mca files).
//
// A container starts with two 4 KiB header sectors: 1024 location words
// (3-byte sector offset, 1-byte sector count) followed by 1024 timestamps,
// both big-endian and indexed by x + z*32. Each chunk record starts at its
// sector offset with a 4-byte length, a compression byte and the body.
package anvil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Tnze/go-mc/save/region"

	"mcprune.dev/internal/coords"
)

const (
	SectorSize    = 4096
	headerSectors = 2
	headerSize    = headerSectors * SectorSize
	slots         = coords.RegionChunks * coords.RegionChunks
	maxSectors    = 255
	maxOffset     = 1<<24 - 1
)

type location uint32

func (l location) offset() int64 { return int64(l >> 8) }
func (l location) count() int64  { return int64(l & 0xff) }

func makeLocation(offset, count int64) location {
	return location(uint32(offset)<<8 | uint32(count))
}

// Region is an open container. It is read-only until Rewrite, after which
// it is closed. A Region must not be shared between goroutines.
type Region struct {
	path string
	pos  coords.RegionPos
	f    *os.File
	mca  *region.Region
	size int64
}

// Open parses the region coordinates from the file name and reads the header.
func Open(path string) (*Region, error) {
	pos, err := ParseRegionName(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	r, err := load(f, path, pos)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

func load(f *os.File, path string, pos coords.RegionPos) (*Region, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	if st.Size() < headerSize {
		return nil, &OpenError{Path: path, Err: fmt.Errorf("short header: %d bytes", st.Size())}
	}
	mca, err := region.Load(f)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	return &Region{path: path, pos: pos, f: f, mca: mca, size: st.Size()}, nil
}

func (r *Region) Path() string               { return r.path }
func (r *Region) Pos() coords.RegionPos      { return r.pos }
func (r *Region) Size() int64                { return r.size }
func (r *Region) Has(l coords.LocalPos) bool { return r.mca.ExistSector(l.X, l.Z) }

func (r *Region) Timestamp(l coords.LocalPos) uint32 {
	return uint32(r.mca.Timestamps[l.Z][l.X])
}

// Chunks lists the local positions of every stored chunk in header order.
func (r *Region) Chunks() []coords.LocalPos {
	out := make([]coords.LocalPos, 0, 64)
	for i := 0; i < slots; i++ {
		l := coords.LocalFromIndex(i)
		if r.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

func (r *Region) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.mca.Close()
	r.f = nil
	return err
}

// Payload returns the decompressed chunk document stored at l.
func (r *Region) Payload(l coords.LocalPos) ([]byte, error) {
	c, body, err := r.record(l)
	if err != nil {
		return nil, err
	}
	if c&externalFlag != 0 {
		body, err = os.ReadFile(r.externalPath(l))
		if err != nil {
			return nil, fmt.Errorf("external chunk %s: %w", coords.ChunkOf(r.pos, l), err)
		}
		c &^= externalFlag
	}
	return decompress(c, body)
}

func (r *Region) externalPath(l coords.LocalPos) string {
	return filepath.Join(filepath.Dir(r.path), externalFileName(coords.ChunkOf(r.pos, l)))
}

func (r *Region) record(l coords.LocalPos) (Compression, []byte, error) {
	if r.f == nil {
		return 0, nil, os.ErrClosed
	}
	data, err := r.mca.ReadSector(l.X, l.Z)
	switch {
	case errors.Is(err, region.ErrNoSector):
		return 0, nil, ErrNotPresent
	case errors.Is(err, region.ErrNoData),
		errors.Is(err, region.ErrSectorNegativeLength),
		errors.Is(err, region.ErrTooLarge),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return 0, nil, fmt.Errorf("%w: chunk %d,%d: %v", ErrCorruptChunk, l.X, l.Z, err)
	case err != nil:
		return 0, nil, err
	}
	return Compression(data[0]), data[1:], nil
}

// span returns the raw sectors allocated to l, zero-padded if the file ends
// early. The library keeps sector locations private, so the location word is
// read from the header here.
func (r *Region) span(l coords.LocalPos) ([]byte, error) {
	var word [4]byte
	if _, err := r.f.ReadAt(word[:], int64(l.Index())*4); err != nil {
		return nil, err
	}
	loc := location(binary.BigEndian.Uint32(word[:]))
	if loc.offset() < headerSectors || loc.count() == 0 {
		return nil, fmt.Errorf("%w: location %d+%d", ErrCorruptChunk, loc.offset(), loc.count())
	}
	start := loc.offset() * SectorSize
	buf := make([]byte, loc.count()*SectorSize)
	n, err := r.f.ReadAt(buf, start)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: location %d+%d beyond end of file", ErrCorruptChunk, loc.offset(), loc.count())
	}
	return buf, nil
}
