package prune

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mcprune.dev/internal/anvil"
	"mcprune.dev/internal/coords"
	"mcprune.dev/internal/logging"
)

// PrunedChunk records one removed chunk.
type PrunedChunk struct {
	Region        coords.RegionPos `json:"region"`
	Chunk         coords.ChunkPos  `json:"chunk"`
	InhabitedTime uint64           `json:"inhabited_time"`
}

// FileOutcome is the result of compacting one container.
type FileOutcome struct {
	Path        string
	Region      coords.RegionPos
	Chunks      int
	Undecodable int
	Pruned      int
	Rewritten   bool
	SizeBefore  int64
	SizeAfter   int64
	// Skipped is set when the container could not be opened; it counts as
	// zero prunes, not as a failure.
	Skipped error
	Err     error
}

type CompactOptions struct {
	Workers int
	DryRun  bool
	// BeforeRewrite runs after the removal set is known and before the file
	// is touched. An error aborts that file only.
	BeforeRewrite func(path string) error
	// OnPruned runs after a file's rewrite is committed, or for every file
	// with removals in a dry run.
	OnPruned func(path string, pruned []PrunedChunk)
	Logger   logrus.FieldLogger
}

type CompactReport struct {
	Files     []FileOutcome
	Pruned    int
	Rewritten int
	// Failures aggregates per-file errors; nil when every file succeeded.
	Failures error
}

// Compact removes every decodable chunk that is not in keep, one task per
// file. A failing file never affects its siblings.
func Compact(ctx context.Context, files []string, keep KeepSet, opts CompactOptions) CompactReport {
	logger := logging.OrDiscard(opts.Logger)
	outcomes := make([]FileOutcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers(opts.Workers))
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = FileOutcome{Path: path, Err: err}
				return nil
			}
			outcomes[i] = compactFile(path, keep, opts, logger)
			return nil
		})
	}
	_ = g.Wait()

	rep := CompactReport{Files: outcomes}
	var merr *multierror.Error
	for _, o := range outcomes {
		if o.Err != nil {
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", o.Path, o.Err))
			continue
		}
		rep.Pruned += o.Pruned
		if o.Rewritten {
			rep.Rewritten++
		}
	}
	rep.Failures = merr.ErrorOrNil()
	return rep
}

func compactFile(path string, keep KeepSet, opts CompactOptions, logger logrus.FieldLogger) FileOutcome {
	out := FileOutcome{Path: path}
	log := logger.WithField("action", "prune_compact_file").WithField("file", path)

	r, err := anvil.Open(path)
	if err != nil {
		var npe *anvil.NameParseError
		if errors.As(err, &npe) {
			out.Err = err
			return out
		}
		log.WithError(err).Warn("region unreadable, nothing pruned")
		out.Skipped = err
		return out
	}
	defer r.Close()

	out.Region = r.Pos()
	out.SizeBefore = r.Size()
	out.SizeAfter = r.Size()

	var (
		remove []coords.LocalPos
		pruned []PrunedChunk
	)
	for _, l := range r.Chunks() {
		out.Chunks++
		c := coords.ChunkOf(r.Pos(), l)
		ch, err := readChunk(r, l)
		if err != nil {
			out.Undecodable++
			continue
		}
		if keep.Contains(c) {
			continue
		}
		remove = append(remove, l)
		pruned = append(pruned, PrunedChunk{Region: r.Pos(), Chunk: c, InhabitedTime: ch.InhabitedTime()})
	}
	if len(remove) == 0 {
		return out
	}

	if opts.DryRun {
		out.Pruned = len(remove)
		if opts.OnPruned != nil {
			opts.OnPruned(path, pruned)
		}
		return out
	}

	if opts.BeforeRewrite != nil {
		if err := opts.BeforeRewrite(path); err != nil {
			out.Err = fmt.Errorf("before rewrite: %w", err)
			return out
		}
	}

	log.Debugf("removing %d chunks from region (%d,%d)", len(remove), r.Pos().X, r.Pos().Z)
	res, err := r.Rewrite(remove)
	if err != nil {
		out.Err = err
		return out
	}
	out.Rewritten = true
	out.Pruned = res.Removed
	out.SizeAfter = res.SizeAfter
	for _, p := range res.StaleExternal {
		log.WithField("external", p).Warn("could not delete external chunk file of pruned chunk")
	}
	if opts.OnPruned != nil {
		opts.OnPruned(path, pruned)
	}
	return out
}
