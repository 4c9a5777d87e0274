package coords

import (
	"fmt"
	"strconv"
	"strings"
)

// Within reports whether p lies inside the box described by the optional
// corners from and to. A nil corner leaves that side open; when both are
// set they may be given in any order.
func Within(p BlockPos, from, to *BlockPos) bool {
	switch {
	case from == nil && to == nil:
		return true
	case to == nil:
		return p.X >= from.X && p.Y >= from.Y && p.Z >= from.Z
	case from == nil:
		return p.X <= to.X && p.Y <= to.Y && p.Z <= to.Z
	}
	lo, hi := normalize(*from, *to)
	return p.X >= lo.X && p.X <= hi.X &&
		p.Y >= lo.Y && p.Y <= hi.Y &&
		p.Z >= lo.Z && p.Z <= hi.Z
}

// RectIntersects reports whether the inclusive XZ rectangle spanned by the
// corners a and b overlaps the XZ projection of the box from/to. The
// rectangle corners may be given in any order.
func RectIntersects(a, b [2]int, from, to *BlockPos) bool {
	minX, maxX := minmax(a[0], b[0])
	minZ, maxZ := minmax(a[1], b[1])
	switch {
	case from == nil && to == nil:
		return true
	case to == nil:
		return maxX >= from.X && maxZ >= from.Z
	case from == nil:
		return minX <= to.X && minZ <= to.Z
	}
	lo, hi := normalize(*from, *to)
	return maxX >= lo.X && minX <= hi.X &&
		maxZ >= lo.Z && minZ <= hi.Z
}

// ParseBlockPos parses "x,y,z".
func ParseBlockPos(s string) (BlockPos, error) {
	var p BlockPos
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return p, fmt.Errorf("expected x,y,z, got %q", s)
	}
	var v [3]int
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return p, fmt.Errorf("coordinate %d of %q: %w", i, s, err)
		}
		v[i] = n
	}
	return BlockPos{X: v[0], Y: v[1], Z: v[2]}, nil
}

func normalize(a, b BlockPos) (lo, hi BlockPos) {
	lo.X, hi.X = minmax(a.X, b.X)
	lo.Y, hi.Y = minmax(a.Y, b.Y)
	lo.Z, hi.Z = minmax(a.Z, b.Z)
	return lo, hi
}

func minmax(a, b int) (int, int) {
	if a <= b {
		return a, b
	}
	return b, a
}
