// Package search finds blocks whose state name matches a pattern inside a
// bounding box of a world save.
package search

import (
	"context"
	"errors"
	"regexp"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mcprune.dev/internal/anvil"
	"mcprune.dev/internal/chunk"
	"mcprune.dev/internal/coords"
	"mcprune.dev/internal/logging"
)

type Match struct {
	X          int               `json:"x"`
	Y          int               `json:"y"`
	Z          int               `json:"z"`
	Block      string            `json:"block"`
	Properties map[string]string `json:"properties,omitempty"`
}

func (m Match) Pos() coords.BlockPos { return coords.BlockPos{X: m.X, Y: m.Y, Z: m.Z} }

// Query selects blocks by name. A nil corner leaves that side of the box open.
type Query struct {
	Pattern *regexp.Regexp
	From    *coords.BlockPos
	To      *coords.BlockPos
}

type Options struct {
	Workers int
	Logger  logrus.FieldLogger
}

type Stats struct {
	Regions        int
	RegionsSkipped int
	Chunks         int
	DecodeFailures int
	Unreadable     int
	Matches        int
}

type regionResult struct {
	skipped    bool
	unreadable bool
	chunks     int
	failures   int
	matches    []Match
}

// Blocks scans every region file in dir and calls emit for each match, in
// region file order and, inside a region, in header order.
func Blocks(ctx context.Context, dir string, q Query, opts Options, emit func(Match) error) (Stats, error) {
	if q.Pattern == nil {
		return Stats{}, errors.New("search pattern is required")
	}
	logger := logging.OrDiscard(opts.Logger)
	files, err := anvil.ListRegionFiles(dir)
	if err != nil {
		return Stats{}, err
	}

	results := make([]regionResult, len(files))
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = scanRegion(path, q, logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	st := Stats{Regions: len(files)}
	for _, res := range results {
		if res.skipped {
			st.RegionsSkipped++
		}
		if res.unreadable {
			st.Unreadable++
		}
		st.Chunks += res.chunks
		st.DecodeFailures += res.failures
		for _, m := range res.matches {
			st.Matches++
			if err := emit(m); err != nil {
				return st, err
			}
		}
	}
	return st, nil
}

func scanRegion(path string, q Query, logger logrus.FieldLogger) regionResult {
	var res regionResult
	log := logger.WithField("action", "search_region").WithField("file", path)

	pos, err := anvil.ParseRegionName(path)
	if err != nil {
		log.WithError(err).Warn("skipping file")
		res.skipped = true
		return res
	}
	if from, to := coords.RegionRect(pos); !coords.RectIntersects(from, to, q.From, q.To) {
		log.Debug("region outside bounds")
		res.skipped = true
		return res
	}
	r, err := anvil.Open(path)
	if err != nil {
		log.WithError(err).Warn("region unreadable")
		res.unreadable = true
		return res
	}
	defer r.Close()

	for _, l := range r.Chunks() {
		c := coords.ChunkOf(pos, l)
		if from, to := coords.ChunkRect(c); !coords.RectIntersects(from, to, q.From, q.To) {
			continue
		}
		res.chunks++
		payload, err := r.Payload(l)
		if err == nil {
			var ch *chunk.Chunk
			if ch, err = chunk.Decode(payload); err == nil {
				res.matches = append(res.matches, matchChunk(c, ch, q)...)
				continue
			}
		}
		log.WithError(err).Debugf("skipping chunk %d %d", c.X, c.Z)
		res.failures++
	}
	return res
}

func matchChunk(c coords.ChunkPos, ch *chunk.Chunk, q Query) []Match {
	var out []Match
	for _, s := range ch.Sections() {
		found := false
		for _, b := range s.Palette {
			if q.Pattern.MatchString(b.Name) {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		for y := 0; y < chunk.SectionBlocks; y++ {
			for z := 0; z < chunk.SectionBlocks; z++ {
				for x := 0; x < chunk.SectionBlocks; x++ {
					p := coords.BlockOf(c, x, s.MinY()+y, z)
					if !coords.Within(p, q.From, q.To) {
						continue
					}
					b, ok := s.BlockAt(x, y, z)
					if !ok || !q.Pattern.MatchString(b.Name) {
						continue
					}
					out = append(out, Match{X: p.X, Y: p.Y, Z: p.Z, Block: b.Name, Properties: b.Properties})
				}
			}
		}
	}
	return out
}
