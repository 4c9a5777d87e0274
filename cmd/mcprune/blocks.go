package main

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"mcprune.dev/internal/anvil"
	"mcprune.dev/internal/coords"
	"mcprune.dev/internal/search"
)

func blocksCommand() *cli.Command {
	return &cli.Command{
		Name:  "blocks",
		Usage: "find blocks whose name matches a pattern inside a bounding box",
		Flags: append([]cli.Flag{
			dimensionFlag(),
			&cli.StringFlag{
				Name:     "pattern",
				Aliases:  []string{"p"},
				Usage:    "regular expression matched against block names, e.g. diamond_ore$",
				Required: true,
			},
			&cli.BoolFlag{Name: "json", Usage: "print one JSON object per match"},
			&cli.IntFlag{Name: "workers", Usage: "parallel region files (0 uses every CPU)"},
		}, boundsFlags()...),
		Action: func(c *cli.Context) error {
			pattern, err := regexp.Compile(c.String("pattern"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("pattern: %v", err), 2)
			}
			dim, err := anvil.ParseDimension(c.String("dimension"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			from, to, err := parseBounds(c)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			if from == nil || to == nil {
				return cli.Exit("blocks needs both --from and --to", 2)
			}

			logger := newLogger(c)
			w := c.App.Writer
			enc := json.NewEncoder(w)
			dir := anvil.Dir(c.String("world"), dim, anvil.KindRegion)
			st, err := search.Blocks(c.Context, dir, search.Query{Pattern: pattern, From: from, To: to},
				search.Options{Workers: c.Int("workers"), Logger: logger},
				func(m search.Match) error {
					if c.Bool("json") {
						return enc.Encode(m)
					}
					_, err := fmt.Fprintf(w, "%d,%d,%d %s%s\n", m.X, m.Y, m.Z, m.Block, formatProperties(m.Properties))
					return err
				})
			if err != nil {
				return err
			}
			logger.WithField("action", "blocks").
				WithField("regions", st.Regions-st.RegionsSkipped).
				WithField("chunks", st.Chunks).
				WithField("decode_failures", st.DecodeFailures).
				Infof("%d matching blocks", st.Matches)
			return nil
		},
	}
}

func parseBounds(c *cli.Context) (from, to *coords.BlockPos, err error) {
	if s := c.String("from"); s != "" {
		p, err := coords.ParseBlockPos(s)
		if err != nil {
			return nil, nil, fmt.Errorf("--from: %w", err)
		}
		from = &p
	}
	if s := c.String("to"); s != "" {
		p, err := coords.ParseBlockPos(s)
		if err != nil {
			return nil, nil, fmt.Errorf("--to: %w", err)
		}
		to = &p
	}
	return from, to, nil
}

// formatProperties renders block state properties as [k=v,...] in key order.
func formatProperties(props map[string]string) string {
	if len(props) == 0 {
		return ""
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + props[k]
	}
	return "[" + strings.Join(parts, ",") + "]"
}
