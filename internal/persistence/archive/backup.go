package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type RunMeta struct {
	RunID     string   `json:"run_id"`
	World     string   `json:"world"`
	Dimension string   `json:"dimension"`
	Threshold uint64   `json:"inhabited_under"`
	Buffer    float64  `json:"buffer"`
	CreatedAt string   `json:"created_at"`
	Files     []string `json:"files"`
}

// Backup copies region files into `baseDir/<run id>/` before they are
// rewritten. It is safe for concurrent use by compaction workers.
type Backup struct {
	dir  string
	meta RunMeta

	mu    sync.Mutex
	files []string
}

func NewBackup(baseDir string, meta RunMeta) *Backup {
	return &Backup{
		dir:  filepath.Join(baseDir, meta.RunID),
		meta: meta,
	}
}

func (b *Backup) Dir() string { return b.dir }

// Region copies one region file and returns the copy's path. The copy is
// synced before Region returns, so a crash during the rewrite that follows
// always leaves one intact version on disk.
func (b *Backup) Region(path string) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(b.dir, filepath.Base(path))
	if err := copyFile(path, dst); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("backup %s: %w", filepath.Base(path), err)
	}
	b.mu.Lock()
	b.files = append(b.files, dst)
	b.mu.Unlock()
	return dst, nil
}

// Files returns the backups made so far, sorted.
func (b *Backup) Files() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]string(nil), b.files...)
	sort.Strings(out)
	return out
}

// WriteMeta writes meta.json next to the copies. Nothing is written when
// no file was backed up.
func (b *Backup) WriteMeta() (string, error) {
	files := b.Files()
	if len(files) == 0 {
		return "", nil
	}
	meta := b.meta
	meta.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	for _, f := range files {
		meta.Files = append(meta.Files, filepath.Base(f))
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	p := filepath.Join(b.dir, "meta.json")
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		return "", err
	}
	return p, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}
