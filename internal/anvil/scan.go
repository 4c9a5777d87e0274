package anvil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"mcprune.dev/internal/coords"
)

const regionExt = ".mca"

// ListRegionFiles returns every .mca file in dir, sorted by name.
func ListRegionFiles(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, &PathError{Path: dir, Err: err}
	}
	if !st.IsDir() {
		return nil, &PathError{Path: dir, Err: errors.New("not a directory")}
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, &PathError{Path: dir, Err: err}
	}
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.Type().IsRegular() {
			continue
		}
		if !strings.HasSuffix(e.Name(), regionExt) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ParseRegionName recovers the region coordinates from "r.<x>.<z>.mca".
func ParseRegionName(path string) (coords.RegionPos, error) {
	name := filepath.Base(path)
	parts := strings.Split(strings.TrimSuffix(name, regionExt), ".")
	if len(parts) != 3 || parts[0] != "r" {
		return coords.RegionPos{}, &NameParseError{Name: name, Err: errors.New("expected r.<x>.<z>.mca")}
	}
	x, err := strconv.Atoi(parts[1])
	if err != nil {
		return coords.RegionPos{}, &NameParseError{Name: name, Err: fmt.Errorf("x: %w", err)}
	}
	z, err := strconv.Atoi(parts[2])
	if err != nil {
		return coords.RegionPos{}, &NameParseError{Name: name, Err: fmt.Errorf("z: %w", err)}
	}
	return coords.RegionPos{X: x, Z: z}, nil
}

// RegionFileName is the inverse of ParseRegionName.
func RegionFileName(r coords.RegionPos) string {
	return fmt.Sprintf("r.%d.%d%s", r.X, r.Z, regionExt)
}

func externalFileName(c coords.ChunkPos) string {
	return fmt.Sprintf("c.%d.%d.mcc", c.X, c.Z)
}
