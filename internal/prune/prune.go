// Package prune removes rarely visited chunks from a world save while
// keeping a buffer ring around the terrain players actually use.
//
// A run has two phases. The analysis phase reads every region file of the
// dimension, builds the activity index, finds the boundary of the active
// area and resolves the keep set. Only after the keep set is complete does
// the compaction phase rewrite any file.
package prune

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mcprune.dev/internal/anvil"
	"mcprune.dev/internal/logging"
)

type Options struct {
	// RunID names the run in logs and reports; a random one is used when empty.
	RunID     string
	World     string
	Dimension anvil.Dimension
	// Threshold is the inhabited time, in ticks, at which a chunk counts as active.
	Threshold uint64
	// BufferRadius is measured in chunks.
	BufferRadius float64
	Workers      int
	DryRun       bool

	BeforeRewrite func(path string) error
	OnPruned      func(path string, pruned []PrunedChunk)
	Logger        logrus.FieldLogger
}

type Report struct {
	RunID        string
	World        string
	Dimension    anvil.Dimension
	RegionDir    string
	Threshold    uint64
	BufferRadius float64
	DryRun       bool
	Started      time.Time
	Finished     time.Time

	Files          int
	ChunksIndexed  int
	DecodeFailures int
	Unreadable     []FileFailure
	IndexFailed    []FileFailure
	Boundary       int
	Kept           int
	Pruned         int
	Rewritten      int
	PerFile        []FileOutcome
	// Failures aggregates per-file compaction errors.
	Failures error
}

func (o Options) validate() error {
	if o.World == "" {
		return errors.New("world path is required")
	}
	if math.IsNaN(o.BufferRadius) || math.IsInf(o.BufferRadius, 0) || o.BufferRadius < 0 {
		return errors.New("buffer radius must be a finite number >= 0")
	}
	return nil
}

// Run prunes one dimension of a world. Errors returned here abort the run
// before anything was written; per-file compaction failures are reported in
// Report.Failures instead.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Dimension == "" {
		opts.Dimension = anvil.Overworld
	}
	logger := logging.OrDiscard(opts.Logger)
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	rep := &Report{
		RunID:        opts.RunID,
		World:        opts.World,
		Dimension:    opts.Dimension,
		RegionDir:    anvil.Dir(opts.World, opts.Dimension, anvil.KindRegion),
		Threshold:    opts.Threshold,
		BufferRadius: opts.BufferRadius,
		DryRun:       opts.DryRun,
		Started:      time.Now().UTC(),
	}
	logger = logger.WithField("run_id", rep.RunID)

	files, err := anvil.ListRegionFiles(rep.RegionDir)
	if err != nil {
		return nil, err
	}
	rep.Files = len(files)
	logger.WithField("action", "prune_index").Infof("reading %d region files in %s", len(files), rep.RegionDir)

	index, stats, err := IndexActivity(ctx, files, IndexOptions{Workers: opts.Workers, Logger: logger})
	if err != nil {
		return nil, err
	}
	rep.ChunksIndexed = stats.Chunks
	rep.DecodeFailures = len(stats.DecodeFailures)
	rep.Unreadable = stats.Unreadable
	rep.IndexFailed = stats.Failed

	keep, boundary := ResolveKeepSet(index, opts.Threshold, opts.BufferRadius)
	rep.Boundary = len(boundary)
	rep.Kept = len(keep)
	logger.WithField("action", "prune_keep_set").
		WithField("boundary", rep.Boundary).
		WithField("kept", rep.Kept).
		Info("buffer zone resolved")

	cr := Compact(ctx, files, keep, CompactOptions{
		Workers:       opts.Workers,
		DryRun:        opts.DryRun,
		BeforeRewrite: opts.BeforeRewrite,
		OnPruned:      opts.OnPruned,
		Logger:        logger,
	})
	rep.PerFile = cr.Files
	rep.Pruned = cr.Pruned
	rep.Rewritten = cr.Rewritten
	rep.Failures = cr.Failures
	rep.Finished = time.Now().UTC()

	entry := logger.WithField("action", "prune_compact").
		WithField("pruned", rep.Pruned).
		WithField("rewritten", rep.Rewritten).
		WithField("dry_run", rep.DryRun)
	if rep.Failures != nil {
		entry.WithError(rep.Failures).Error("pruning finished with failures")
	} else {
		entry.Info("pruning finished")
	}
	return rep, nil
}
