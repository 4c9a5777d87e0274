package anvil

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"mcprune.dev/internal/coords"
)

// Entry is one chunk to be written into a container. Data is the complete
// chunk record (length, compression byte, body) and may already carry
// sector padding.
type Entry struct {
	Local     coords.LocalPos
	Timestamp uint32
	Data      []byte
}

// EncodeRecord compresses payload and prefixes it with the record header.
func EncodeRecord(payload []byte, c Compression) ([]byte, error) {
	body, err := compress(c, payload)
	if err != nil {
		return nil, err
	}
	rec := make([]byte, 5+len(body))
	binary.BigEndian.PutUint32(rec[:4], uint32(len(body)+1))
	rec[4] = byte(c)
	copy(rec[5:], body)
	return rec, nil
}

// WriteRegion writes a complete container holding entries, packed in header
// order right after the header. The file ends at the last entry's final
// sector. It returns the resulting file length.
func WriteRegion(path string, entries []Entry) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	end, err := writeEntries(f, entries)
	if err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return end, nil
}

func writeEntries(f *os.File, entries []Entry) (int64, error) {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Local.Index() < sorted[j].Local.Index() })

	var hdr [headerSize]byte
	next := int64(headerSectors)
	seen := make(map[int]bool, len(sorted))
	for _, e := range sorted {
		idx := e.Local.Index()
		if e.Local.X < 0 || e.Local.Z < 0 || e.Local.X >= coords.RegionChunks || e.Local.Z >= coords.RegionChunks {
			return 0, fmt.Errorf("chunk offset %d,%d outside region", e.Local.X, e.Local.Z)
		}
		if seen[idx] {
			return 0, fmt.Errorf("duplicate chunk offset %d,%d", e.Local.X, e.Local.Z)
		}
		seen[idx] = true
		n := sectorsFor(len(e.Data))
		if n == 0 || n > maxSectors {
			return 0, fmt.Errorf("chunk %d,%d needs %d sectors", e.Local.X, e.Local.Z, n)
		}
		if next+n > maxOffset {
			return 0, fmt.Errorf("container exceeds %d sectors", maxOffset)
		}
		binary.BigEndian.PutUint32(hdr[idx*4:], uint32(makeLocation(next, n)))
		binary.BigEndian.PutUint32(hdr[SectorSize+idx*4:], e.Timestamp)
		next += n
	}

	w := bufio.NewWriterSize(f, 256*1024)
	if _, err := w.Write(hdr[:]); err != nil {
		return 0, err
	}
	var pad [SectorSize]byte
	for _, e := range sorted {
		if _, err := w.Write(e.Data); err != nil {
			return 0, err
		}
		if rem := len(e.Data) % SectorSize; rem != 0 {
			if _, err := w.Write(pad[:SectorSize-rem]); err != nil {
				return 0, err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	end := next * SectorSize
	if err := f.Truncate(end); err != nil {
		return 0, err
	}
	if err := f.Sync(); err != nil {
		return 0, err
	}
	return end, nil
}

func sectorsFor(n int) int64 {
	return int64((n + SectorSize - 1) / SectorSize)
}

// RewriteResult describes a committed rewrite.
type RewriteResult struct {
	Removed    int
	SizeBefore int64
	SizeAfter  int64
	// StaleExternal lists external chunk files of removed chunks that could
	// not be deleted. The container itself no longer references them.
	StaleExternal []string
}

// Rewrite removes the chunks at the given offsets and repacks the survivors.
// Every surviving sector span is read before anything is written; the new
// container is written to a sibling temp file, synced and truncated, then
// renamed over the original. The Region is closed afterwards.
func (r *Region) Rewrite(remove []coords.LocalPos) (RewriteResult, error) {
	res := RewriteResult{SizeBefore: r.size}
	if r.f == nil {
		return res, &WriteError{Path: r.path, Op: "read", Err: os.ErrClosed}
	}
	drop := make(map[int]bool, len(remove))
	for _, l := range remove {
		if r.Has(l) {
			drop[l.Index()] = true
		}
	}

	var external []string
	entries := make([]Entry, 0, slots)
	for _, l := range r.Chunks() {
		if drop[l.Index()] {
			if c, _, err := r.record(l); err == nil && c&externalFlag != 0 {
				external = append(external, r.externalPath(l))
			}
			continue
		}
		data, err := r.span(l)
		if err != nil {
			return res, &WriteError{Path: r.path, Op: fmt.Sprintf("read chunk %s", coords.ChunkOf(r.pos, l)), Err: err}
		}
		entries = append(entries, Entry{Local: l, Timestamp: r.Timestamp(l), Data: data})
	}

	st, err := r.f.Stat()
	if err != nil {
		return res, &WriteError{Path: r.path, Op: "stat", Err: err}
	}
	tmp := r.path + ".prune-tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, st.Mode().Perm())
	if err != nil {
		return res, &WriteError{Path: r.path, Op: "create temp", Err: err}
	}
	end, err := writeEntries(f, entries)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return res, &WriteError{Path: r.path, Op: "write temp", Err: err}
	}

	_ = r.Close()
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return res, &WriteError{Path: r.path, Op: "rename", Err: err}
	}
	syncDir(filepath.Dir(r.path))

	res.Removed = len(drop)
	res.SizeAfter = end
	for _, p := range external {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			res.StaleExternal = append(res.StaleExternal, p)
		}
	}
	return res, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
