package prune

import "mcprune.dev/internal/coords"

// BoundarySet holds the active chunks that touch at least one inactive or
// untracked neighbour. Order carries no meaning.
type BoundarySet []coords.ChunkPos

// IsActive reports whether c is tracked with at least threshold ticks.
func (idx ActivityIndex) IsActive(c coords.ChunkPos, threshold uint64) bool {
	t, ok := idx[c]
	return ok && t >= threshold
}

// FindBoundary returns every active chunk with fewer than 8 active neighbours.
func FindBoundary(idx ActivityIndex, threshold uint64) BoundarySet {
	var out BoundarySet
	for c := range idx {
		if !idx.IsActive(c, threshold) {
			continue
		}
		active := 0
		for dx := -1; dx <= 1; dx++ {
			for dz := -1; dz <= 1; dz++ {
				if dx == 0 && dz == 0 {
					continue
				}
				if idx.IsActive(coords.ChunkPos{X: c.X + dx, Z: c.Z + dz}, threshold) {
					active++
				}
			}
		}
		if active != 8 {
			out = append(out, c)
		}
	}
	return out
}
