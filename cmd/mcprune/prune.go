package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"mcprune.dev/internal/anvil"
	"mcprune.dev/internal/config"
	"mcprune.dev/internal/metrics"
	"mcprune.dev/internal/persistence/archive"
	"mcprune.dev/internal/persistence/history"
	"mcprune.dev/internal/persistence/journal"
	"mcprune.dev/internal/persistence/s3mirror"
	"mcprune.dev/internal/prune"
)

// stateDir holds backups, journals and history when no other path is given.
const stateDir = ".mcprune"

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "remove chunks far from the frequently visited area",
		Flags: []cli.Flag{
			dimensionFlag(),
			&cli.StringFlag{
				Name:    "inhabited-under",
				Aliases: []string{"i"},
				Usage:   "activity threshold, in ticks (72000) or as a duration (1h)",
				Value:   config.DefaultInhabitedUnder,
			},
			&cli.Float64Flag{
				Name:    "buffer",
				Aliases: []string{"b"},
				Usage:   "keep inactive chunks within this many chunks of the active area",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "parallel region files (0 uses every CPU)",
			},
			&cli.BoolFlag{Name: "dry-run", Usage: "report what would be pruned without writing"},
			&cli.BoolFlag{Name: "backup", Usage: "copy each region file before rewriting it"},
			&cli.StringFlag{Name: "backup-dir", Usage: "backup directory (default <world>/.mcprune/backups)"},
			&cli.BoolFlag{Name: "journal", Usage: "record every pruned chunk in a zstd JSONL journal"},
			&cli.StringFlag{Name: "journal-dir", Usage: "journal directory (default <world>/.mcprune/journal)"},
			&cli.StringFlag{Name: "history-db", Usage: "sqlite database that keeps one row per run"},
			&cli.StringFlag{Name: "metrics-textfile", Usage: "write run gauges to this Prometheus textfile"},
			&cli.StringFlag{Name: "s3-endpoint", Usage: "mirror backups to this S3 endpoint", EnvVars: []string{"MCPRUNE_S3_ENDPOINT"}},
			&cli.StringFlag{Name: "s3-bucket", EnvVars: []string{"MCPRUNE_S3_BUCKET"}},
			&cli.StringFlag{Name: "s3-prefix", EnvVars: []string{"MCPRUNE_S3_PREFIX"}},
			&cli.StringFlag{Name: "s3-region", EnvVars: []string{"MCPRUNE_S3_REGION"}},
			&cli.BoolFlag{Name: "s3-secure", Value: true, EnvVars: []string{"MCPRUNE_S3_SECURE"}},
			&cli.StringFlag{Name: "s3-access-key", EnvVars: []string{"MCPRUNE_S3_ACCESS_KEY"}},
			&cli.StringFlag{Name: "s3-secret-key", EnvVars: []string{"MCPRUNE_S3_SECRET_KEY"}},
		},
		Action: runPrune,
	}
}

// pruneSettings is the profile with command-line overrides applied.
type pruneSettings struct {
	config.Profile
	threshold uint64
	dimension anvil.Dimension
	s3        *s3mirror.Config
}

func loadSettings(c *cli.Context) (pruneSettings, error) {
	var s pruneSettings
	s.Profile = config.Default()
	if path := c.String("config"); path != "" {
		p, err := config.Load(path)
		if err != nil {
			return s, err
		}
		s.Profile = p
	}
	world := c.String("world")

	if c.IsSet("dimension") || s.Dimension == "" {
		s.Dimension = c.String("dimension")
	}
	if c.IsSet("inhabited-under") || s.InhabitedUnder == "" {
		s.InhabitedUnder = c.String("inhabited-under")
	}
	if c.IsSet("buffer") {
		s.Buffer = c.Float64("buffer")
	}
	if c.IsSet("workers") {
		s.Workers = c.Int("workers")
	}
	if c.IsSet("dry-run") {
		s.DryRun = c.Bool("dry-run")
	}
	if c.IsSet("backup") {
		s.Backup.Enabled = c.Bool("backup")
	}
	if c.IsSet("backup-dir") {
		s.Backup.Enabled = true
		s.Backup.Dir = c.String("backup-dir")
	}
	if s.Backup.Dir == "" {
		s.Backup.Dir = filepath.Join(world, stateDir, "backups")
	}
	if c.IsSet("journal") {
		s.Journal.Enabled = c.Bool("journal")
	}
	if c.IsSet("journal-dir") {
		s.Journal.Enabled = true
		s.Journal.Dir = c.String("journal-dir")
	}
	if s.Journal.Dir == "" {
		s.Journal.Dir = filepath.Join(world, stateDir, "journal")
	}
	if c.IsSet("history-db") {
		s.HistoryDB = c.String("history-db")
	}
	if c.IsSet("metrics-textfile") {
		s.MetricsTextfile = c.String("metrics-textfile")
	}

	var err error
	if s.threshold, err = config.ParseThreshold(s.InhabitedUnder); err != nil {
		return s, err
	}
	if s.dimension, err = anvil.ParseDimension(s.Dimension); err != nil {
		return s, err
	}

	s3cfg := s3mirror.Config{
		Region:    c.String("s3-region"),
		AccessKey: c.String("s3-access-key"),
		SecretKey: c.String("s3-secret-key"),
		Secure:    c.Bool("s3-secure"),
	}
	if s.S3 != nil {
		s3cfg.Endpoint, s3cfg.Bucket, s3cfg.Prefix = s.S3.Endpoint, s.S3.Bucket, s.S3.Prefix
		if !c.IsSet("s3-secure") {
			s3cfg.Secure = s.S3.Secure
		}
	}
	if v := c.String("s3-endpoint"); v != "" {
		s3cfg.Endpoint = v
	}
	if v := c.String("s3-bucket"); v != "" {
		s3cfg.Bucket = v
	}
	if v := c.String("s3-prefix"); v != "" {
		s3cfg.Prefix = v
	}
	if s3cfg.Endpoint != "" || s3cfg.Bucket != "" {
		if !s.Backup.Enabled {
			return s, fmt.Errorf("an S3 mirror needs backups enabled (--backup)")
		}
		s.s3 = &s3cfg
	}
	return s, nil
}

func runPrune(c *cli.Context) error {
	logger := newLogger(c)
	s, err := loadSettings(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	world := c.String("world")
	runID := uuid.NewString()
	log := logger.WithField("run_id", runID)

	opts := prune.Options{
		RunID:        runID,
		World:        world,
		Dimension:    s.dimension,
		Threshold:    s.threshold,
		BufferRadius: s.Buffer,
		Workers:      s.Workers,
		DryRun:       s.DryRun,
		Logger:       log,
	}

	var backup *archive.Backup
	if s.Backup.Enabled && !s.DryRun {
		backup = archive.NewBackup(s.Backup.Dir, archive.RunMeta{
			RunID:     runID,
			World:     world,
			Dimension: string(s.dimension),
			Threshold: s.threshold,
			Buffer:    s.Buffer,
		})
		opts.BeforeRewrite = func(path string) error {
			_, err := backup.Region(path)
			return err
		}
	}

	var (
		jmu    sync.Mutex
		jerrs  *multierror.Error
		pruned *journal.PrunedLog
	)
	if s.Journal.Enabled {
		pruned = journal.NewPrunedLog(s.Journal.Dir, runID, s.DryRun)
		opts.OnPruned = func(path string, chunks []prune.PrunedChunk) {
			if err := pruned.WritePruned(path, chunks); err != nil {
				jmu.Lock()
				jerrs = multierror.Append(jerrs, err)
				jmu.Unlock()
			}
		}
	}

	rep, err := prune.Run(c.Context, opts)
	if pruned != nil {
		if cerr := pruned.Close(); cerr != nil {
			jerrs = multierror.Append(jerrs, cerr)
		}
	}
	if err != nil {
		return err
	}

	var aux *multierror.Error
	if jerrs != nil {
		aux = multierror.Append(aux, fmt.Errorf("journal: %w", jerrs.ErrorOrNil()))
	} else if pruned != nil && rep.Pruned > 0 {
		log.WithField("action", "prune_journal").Infof("journal written to %s", pruned.Path())
	}
	if backup != nil {
		if err := finishBackup(c.Context, backup, s.s3, log); err != nil {
			aux = multierror.Append(aux, err)
		}
	}
	if s.HistoryDB != "" {
		if err := recordHistory(c.Context, s.HistoryDB, rep); err != nil {
			aux = multierror.Append(aux, fmt.Errorf("history: %w", err))
		}
	}
	if s.MetricsTextfile != "" {
		m := metrics.NewRunMetrics()
		m.Observe(rep)
		if err := m.WriteTextfile(s.MetricsTextfile); err != nil {
			aux = multierror.Append(aux, fmt.Errorf("metrics: %w", err))
		}
	}

	printSummary(c.App.Writer, rep)

	if rep.Failures != nil {
		return cli.Exit(fmt.Sprintf("some region files failed: %v", rep.Failures), 1)
	}
	if err := aux.ErrorOrNil(); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func finishBackup(ctx context.Context, b *archive.Backup, s3cfg *s3mirror.Config, log logrus.FieldLogger) error {
	meta, err := b.WriteMeta()
	if err != nil {
		return fmt.Errorf("backup meta: %w", err)
	}
	if meta == "" {
		return nil
	}
	log.WithField("action", "prune_backup").Infof("%d region files backed up to %s", len(b.Files()), b.Dir())
	if s3cfg == nil {
		return nil
	}

	client, err := s3mirror.NewClient(*s3cfg)
	if err != nil {
		return err
	}
	m := s3mirror.NewMirror(client, s3cfg.Bucket, filepath.Dir(b.Dir()), s3cfg.Prefix, 4, log)
	for _, f := range append(b.Files(), meta) {
		if ctx.Err() != nil {
			break
		}
		m.Enqueue(f)
	}
	err = m.Close()
	st := m.Stats()
	log.WithField("action", "prune_backup_mirror").
		WithField("uploaded", st.Uploaded).
		WithField("failed", st.Failed).
		WithField("bytes", st.BytesUploaded).
		Info("backups mirrored")
	return err
}

func recordHistory(ctx context.Context, path string, rep *prune.Report) error {
	db, err := history.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	run, files := history.FromReport(rep)
	return db.RecordRun(ctx, run, files)
}

func printSummary(w io.Writer, rep *prune.Report) {
	mode := ""
	if rep.DryRun {
		mode = ", dry run"
	}
	var before, after int64
	failed, touched := 0, 0
	for _, o := range rep.PerFile {
		if o.Err != nil {
			failed++
			continue
		}
		if o.Pruned > 0 {
			touched++
		}
		before += o.SizeBefore
		after += o.SizeAfter
	}
	fmt.Fprintf(w, "run %s (%s%s)\n", rep.RunID, rep.Dimension, mode)
	fmt.Fprintf(w, "  region files:   %d (%d unreadable, %d failed)\n", rep.Files, len(rep.Unreadable), failed)
	fmt.Fprintf(w, "  chunks indexed: %d (%d undecodable, kept)\n", rep.ChunksIndexed, rep.DecodeFailures)
	fmt.Fprintf(w, "  boundary:       %d\n", rep.Boundary)
	fmt.Fprintf(w, "  kept:           %d\n", rep.Kept)
	fmt.Fprintf(w, "  pruned:         %d from %d files\n", rep.Pruned, touched)
	fmt.Fprintf(w, "  reclaimed:      %s\n", humanize.IBytes(uint64(max(before-after, 0))))
	for _, o := range rep.PerFile {
		switch {
		case o.Err != nil:
			fmt.Fprintf(w, "    %s: %d pruned, failed: %v\n", o.Path, o.Pruned, o.Err)
		case o.Pruned > 0:
			fmt.Fprintf(w, "    %s: %d pruned\n", o.Path, o.Pruned)
		}
	}
}
