package prune

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mcprune.dev/internal/anvil"
	"mcprune.dev/internal/chunk"
	"mcprune.dev/internal/coords"
	"mcprune.dev/internal/logging"
)

// ActivityIndex maps every decodable chunk to its inhabited time in ticks.
// A chunk that could not be decoded is absent, never zero.
type ActivityIndex map[coords.ChunkPos]uint64

var ErrCoordinateCollision = errors.New("chunk coordinates claimed by two region files")

type FileFailure struct {
	Path string
	Err  error
}

type IndexStats struct {
	Files  int
	Chunks int
	// DecodeFailures are chunks that exist on disk but carry no usable
	// activity evidence. They are never pruned.
	DecodeFailures []coords.ChunkPos
	// Unreadable containers contributed nothing to the index.
	Unreadable []FileFailure
	// Failed files had names without region coordinates.
	Failed []FileFailure
}

type IndexOptions struct {
	Workers int
	Logger  logrus.FieldLogger
}

type fileActivity struct {
	path     string
	region   coords.RegionPos
	entries  map[coords.ChunkPos]uint64
	failures []coords.ChunkPos
	openErr  error
	nameErr  error
}

// IndexActivity reads every container in files in parallel and merges the
// per-file results into one index.
func IndexActivity(ctx context.Context, files []string, opts IndexOptions) (ActivityIndex, IndexStats, error) {
	logger := logging.OrDiscard(opts.Logger)
	stats := IndexStats{Files: len(files)}

	results := make([]fileActivity, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(opts.Workers))
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = indexFile(path, logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	index := make(ActivityIndex)
	owners := make(map[coords.RegionPos]string, len(results))
	for _, res := range results {
		switch {
		case res.nameErr != nil:
			stats.Failed = append(stats.Failed, FileFailure{Path: res.path, Err: res.nameErr})
			continue
		case res.openErr != nil:
			stats.Unreadable = append(stats.Unreadable, FileFailure{Path: res.path, Err: res.openErr})
			continue
		}
		stats.DecodeFailures = append(stats.DecodeFailures, res.failures...)
		if len(res.entries) == 0 {
			continue
		}
		if prev, ok := owners[res.region]; ok {
			return nil, stats, fmt.Errorf("%w: %s and %s both map to region %s",
				ErrCoordinateCollision, prev, res.path, res.region)
		}
		owners[res.region] = res.path
		for c, t := range res.entries {
			index[c] = t
		}
	}
	stats.Chunks = len(index)

	logger.WithField("action", "prune_index").
		WithField("files", stats.Files).
		WithField("chunks", stats.Chunks).
		WithField("decode_failures", len(stats.DecodeFailures)).
		WithField("unreadable", len(stats.Unreadable)).
		Info("chunks read")
	return index, stats, nil
}

func indexFile(path string, logger logrus.FieldLogger) fileActivity {
	res := fileActivity{path: path}
	r, err := anvil.Open(path)
	if err != nil {
		var npe *anvil.NameParseError
		if errors.As(err, &npe) {
			res.nameErr = err
		} else {
			res.openErr = err
		}
		logger.WithField("action", "prune_index_file").WithError(err).
			Warnf("skipping region file %s", path)
		return res
	}
	defer r.Close()

	res.region = r.Pos()
	res.entries = make(map[coords.ChunkPos]uint64)
	for _, l := range r.Chunks() {
		c := coords.ChunkOf(r.Pos(), l)
		ch, err := readChunk(r, l)
		if err != nil {
			logger.WithField("action", "prune_index_chunk").WithError(err).
				Debugf("reading chunk %d %d", c.X, c.Z)
			res.failures = append(res.failures, c)
			continue
		}
		res.entries[c] = ch.InhabitedTime()
	}
	logger.WithField("action", "prune_index_file").
		Debugf("region %s has %d chunks", path, len(res.entries))
	return res
}

// readChunk loads and decodes one chunk. Any error means activity is unknown.
func readChunk(r *anvil.Region, l coords.LocalPos) (*chunk.Chunk, error) {
	payload, err := r.Payload(l)
	if err != nil {
		return nil, err
	}
	return chunk.Decode(payload)
}

func workers(n int) int {
	if n <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}
