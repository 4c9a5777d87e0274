package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"mcprune.dev/internal/persistence/history"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "show past prune runs recorded with --history-db",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "history-db", Usage: "history database written by prune --history-db", Required: true},
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "number of runs to show (0 for all)"},
			&cli.StringFlag{Name: "run", Usage: "show the files of one run"},
		},
		Action: func(c *cli.Context) error {
			db, err := history.Open(c.String("history-db"))
			if err != nil {
				return err
			}
			defer db.Close()

			tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if id := c.String("run"); id != "" {
				files, err := db.Files(c.Context, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "FILE\tCHUNKS\tPRUNED\tBEFORE\tAFTER\tERROR")
				for _, f := range files {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n", filepath.Base(f.Path), f.Chunks, f.Pruned,
						humanize.IBytes(uint64(f.SizeBefore)), humanize.IBytes(uint64(f.SizeAfter)), f.Error)
				}
				return nil
			}

			runs, err := db.Runs(c.Context, c.Int("limit"))
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "RUN\tSTARTED\tDIMENSION\tTHRESHOLD\tBUFFER\tPRUNED\tFILES\tFAILED\tRECLAIMED")
			for _, r := range runs {
				mode := ""
				if r.DryRun {
					mode = " (dry)"
				}
				fmt.Fprintf(tw, "%s%s\t%s\t%s\t%d\t%g\t%d\t%d\t%d\t%s\n", r.ID, mode,
					r.Started.Local().Format("2006-01-02 15:04"), r.Dimension, r.Threshold, r.Buffer,
					r.Pruned, r.Rewritten, r.Failed, humanize.IBytes(uint64(max(r.BytesBefore-r.BytesAfter, 0))))
			}
			return nil
		},
	}
}
