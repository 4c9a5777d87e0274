package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"mcprune.dev/internal/prune"
)

// JSONLZstdWriter appends one JSON document per line to a zstd stream. The
// file is created on the first Write.
type JSONLZstdWriter struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
	n   int
}

func NewJSONLZstdWriter(path string) *JSONLZstdWriter {
	return &JSONLZstdWriter{path: path}
}

func (w *JSONLZstdWriter) Path() string { return w.path }

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		if err := w.openLocked(); err != nil {
			return err
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.n++
	return nil
}

// Lines returns the number of documents written.
func (w *JSONLZstdWriter) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) openLocked() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var errs []error
	if w.w != nil {
		errs = append(errs, w.w.Flush())
	}
	if w.enc != nil {
		errs = append(errs, w.enc.Close())
		w.enc = nil
	}
	if w.f != nil {
		errs = append(errs, w.f.Sync(), w.f.Close())
		w.f = nil
	}
	w.w = nil
	return errors.Join(errs...)
}

// Entry is one journal line: a chunk removed by a run.
type Entry struct {
	RunID         string    `json:"run_id"`
	File          string    `json:"file"`
	RegionX       int       `json:"region_x"`
	RegionZ       int       `json:"region_z"`
	ChunkX        int       `json:"chunk_x"`
	ChunkZ        int       `json:"chunk_z"`
	InhabitedTime uint64    `json:"inhabited_time"`
	DryRun        bool      `json:"dry_run,omitempty"`
	At            time.Time `json:"at"`
}

// PrunedLog records every chunk a run removes, one file per run.
type PrunedLog struct {
	w      *JSONLZstdWriter
	runID  string
	dryRun bool
}

func FileName(runID string) string { return fmt.Sprintf("pruned-%s.jsonl.zst", runID) }

func NewPrunedLog(dir, runID string, dryRun bool) *PrunedLog {
	return &PrunedLog{
		w:      NewJSONLZstdWriter(filepath.Join(dir, FileName(runID))),
		runID:  runID,
		dryRun: dryRun,
	}
}

func (l *PrunedLog) Path() string { return l.w.Path() }
func (l *PrunedLog) Close() error { return l.w.Close() }

// WritePruned journals the chunks removed from one region file.
func (l *PrunedLog) WritePruned(file string, chunks []prune.PrunedChunk) error {
	now := time.Now().UTC()
	for _, c := range chunks {
		err := l.w.Write(Entry{
			RunID:         l.runID,
			File:          filepath.Base(file),
			RegionX:       c.Region.X,
			RegionZ:       c.Region.Z,
			ChunkX:        c.Chunk.X,
			ChunkZ:        c.Chunk.Z,
			InhabitedTime: c.InhabitedTime,
			DryRun:        l.dryRun,
			At:            now,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadEntries decodes a journal file written by PrunedLog.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	jd := json.NewDecoder(dec)
	for {
		var e Entry
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("%s: entry %d: %w", filepath.Base(path), len(out), err)
		}
		out = append(out, e)
	}
}
