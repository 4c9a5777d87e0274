package prune

import (
	"gonum.org/v1/gonum/spatial/kdtree"

	"mcprune.dev/internal/coords"
)

// BufferIndex answers nearest-boundary queries over a static k-d tree.
type BufferIndex struct {
	tree *kdtree.Tree
	n    int
}

func NewBufferIndex(boundary BoundarySet) *BufferIndex {
	if len(boundary) == 0 {
		return &BufferIndex{}
	}
	pts := make(kdtree.Points, len(boundary))
	for i, c := range boundary {
		pts[i] = kdtree.Point{float64(c.X), float64(c.Z)}
	}
	return &BufferIndex{tree: kdtree.New(pts, false), n: len(pts)}
}

func (b *BufferIndex) Len() int { return b.n }

// NearestSquared returns the squared Euclidean distance, in chunk units,
// from c to the closest boundary point. ok is false when there are no
// boundary points.
func (b *BufferIndex) NearestSquared(c coords.ChunkPos) (dist2 float64, ok bool) {
	if b.tree == nil {
		return 0, false
	}
	_, d := b.tree.Nearest(kdtree.Point{float64(c.X), float64(c.Z)})
	return d, true
}

// KeepSet is the set of chunks compaction must not remove.
type KeepSet map[coords.ChunkPos]struct{}

func (k KeepSet) Contains(c coords.ChunkPos) bool {
	_, ok := k[c]
	return ok
}

// ResolveKeepSet keeps every active chunk, and every inactive chunk whose
// squared distance to the nearest boundary point is at most radius².
func ResolveKeepSet(idx ActivityIndex, threshold uint64, radius float64) (KeepSet, BoundarySet) {
	boundary := FindBoundary(idx, threshold)
	tree := NewBufferIndex(boundary)

	limit := radius * radius
	if radius < 0 {
		limit = -1
	}
	keep := make(KeepSet, len(idx)/2)
	for c, t := range idx {
		if t >= threshold {
			keep[c] = struct{}{}
			continue
		}
		if d, ok := tree.NearestSquared(c); ok && d <= limit {
			keep[c] = struct{}{}
		}
	}
	return keep, boundary
}
