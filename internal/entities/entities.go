// Package entities lists the mobs, items and other entities stored in a
// dimension's entity region files (1.17+ worlds).
package entities

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Tnze/go-mc/nbt"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mcprune.dev/internal/anvil"
	"mcprune.dev/internal/coords"
	"mcprune.dev/internal/logging"
)

type Entity struct {
	ID         string          `json:"id"`
	UUID       string          `json:"uuid,omitempty"`
	X          float64         `json:"x"`
	Y          float64         `json:"y"`
	Z          float64         `json:"z"`
	CustomName string          `json:"custom_name,omitempty"`
	Chunk      coords.ChunkPos `json:"chunk"`
	// Raw holds every tag of the entity compound.
	Raw map[string]any `json:"nbt,omitempty"`
}

// Block returns the block the entity stands in.
func (e Entity) Block() coords.BlockPos {
	return coords.BlockPos{
		X: int(math.Floor(e.X)),
		Y: int(math.Floor(e.Y)),
		Z: int(math.Floor(e.Z)),
	}
}

type Query struct {
	From *coords.BlockPos
	To   *coords.BlockPos
	// WithRaw keeps the full compound of each entity.
	WithRaw bool
}

type Stats struct {
	Regions        int
	RegionsSkipped int
	Chunks         int
	DecodeFailures int
	Entities       int
}

type entityChunk struct {
	DataVersion int32            `nbt:"DataVersion"`
	Position    []int32          `nbt:"Position"`
	Entities    []nbt.RawMessage `nbt:"Entities"`
}

type entityTag struct {
	ID         string    `nbt:"id"`
	Pos        []float64 `nbt:"Pos"`
	UUID       []int32   `nbt:"UUID"`
	CustomName string    `nbt:"CustomName"`
}

// List walks the entity region files of a dimension and calls emit for
// every entity inside the optional bounds. Regions and chunks entirely
// outside the bounds are not decoded.
func List(ctx context.Context, world string, dim anvil.Dimension, q Query, logger logrus.FieldLogger, emit func(Entity) error) (Stats, error) {
	var st Stats
	logger = logging.OrDiscard(logger)
	dir := anvil.Dir(world, dim, anvil.KindEntities)
	files, err := anvil.ListRegionFiles(dir)
	if err != nil {
		return st, err
	}
	st.Regions = len(files)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		log := logger.WithField("action", "entities_region").WithField("file", path)
		pos, err := anvil.ParseRegionName(path)
		if err != nil {
			return st, err
		}
		if from, to := coords.RegionRect(pos); !coords.RectIntersects(from, to, q.From, q.To) {
			log.Debug("region outside bounds")
			st.RegionsSkipped++
			continue
		}
		r, err := anvil.Open(path)
		if err != nil {
			log.WithError(err).Debug("region unreadable")
			st.RegionsSkipped++
			continue
		}
		err = listRegion(r, q, &st, log, emit)
		_ = r.Close()
		if err != nil {
			return st, err
		}
	}
	return st, nil
}

func listRegion(r *anvil.Region, q Query, st *Stats, log logrus.FieldLogger, emit func(Entity) error) error {
	for _, l := range r.Chunks() {
		c := coords.ChunkOf(r.Pos(), l)
		if from, to := coords.ChunkRect(c); !coords.RectIntersects(from, to, q.From, q.To) {
			continue
		}
		st.Chunks++
		list, err := decodeChunk(r, l, c, q.WithRaw)
		if err != nil {
			log.WithError(err).Debugf("skipping entity chunk %d %d", c.X, c.Z)
			st.DecodeFailures++
			continue
		}
		for _, e := range list {
			if !coords.Within(e.Block(), q.From, q.To) {
				continue
			}
			st.Entities++
			if err := emit(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeChunk(r *anvil.Region, l coords.LocalPos, c coords.ChunkPos, withRaw bool) ([]Entity, error) {
	payload, err := r.Payload(l)
	if err != nil {
		return nil, err
	}
	var doc entityChunk
	if err := nbt.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	out := make([]Entity, 0, len(doc.Entities))
	for i, raw := range doc.Entities {
		var tag entityTag
		if err := raw.Unmarshal(&tag); err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		if len(tag.Pos) != 3 {
			return nil, fmt.Errorf("entity %d (%s): Pos has %d values", i, tag.ID, len(tag.Pos))
		}
		e := Entity{
			ID:         tag.ID,
			X:          tag.Pos[0],
			Y:          tag.Pos[1],
			Z:          tag.Pos[2],
			CustomName: tag.CustomName,
			Chunk:      c,
		}
		if id, ok := entityUUID(tag.UUID); ok {
			e.UUID = id.String()
		}
		if withRaw {
			if err := raw.Unmarshal(&e.Raw); err != nil {
				return nil, fmt.Errorf("entity %d: %w", i, err)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// entityUUID reassembles the four big-endian ints of an entity UUID tag.
func entityUUID(parts []int32) (uuid.UUID, bool) {
	if len(parts) != 4 {
		return uuid.Nil, false
	}
	var b [16]byte
	for i, p := range parts {
		binary.BigEndian.PutUint32(b[i*4:], uint32(p))
	}
	id, err := uuid.FromBytes(b[:])
	return id, err == nil
}
