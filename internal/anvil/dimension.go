package anvil

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Dimension string

const (
	Overworld Dimension = "overworld"
	Nether    Dimension = "nether"
	End       Dimension = "end"
)

// Kind selects which family of container files to address.
type Kind string

const (
	KindRegion   Kind = "region"
	KindEntities Kind = "entities"
)

func ParseDimension(s string) (Dimension, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "minecraft:")) {
	case "", "overworld":
		return Overworld, nil
	case "nether", "the_nether":
		return Nether, nil
	case "end", "the_end":
		return End, nil
	}
	return "", fmt.Errorf("unknown dimension %q (want overworld, nether or end)", s)
}

// Dir returns the container directory of dim inside a world save.
func Dir(world string, dim Dimension, kind Kind) string {
	switch dim {
	case Nether:
		return filepath.Join(world, "DIM-1", string(kind))
	case End:
		return filepath.Join(world, "DIM1", string(kind))
	default:
		return filepath.Join(world, string(kind))
	}
}
