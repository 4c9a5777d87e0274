package main

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"mcprune.dev/internal/anvil"
	"mcprune.dev/internal/entities"
)

func entitiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "entities",
		Usage: "list entities stored in the entity region files",
		Flags: append([]cli.Flag{
			dimensionFlag(),
			&cli.BoolFlag{Name: "json", Usage: "print one JSON object per entity, with its full NBT"},
		}, boundsFlags()...),
		Action: func(c *cli.Context) error {
			dim, err := anvil.ParseDimension(c.String("dimension"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			from, to, err := parseBounds(c)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			logger := newLogger(c)
			w := c.App.Writer
			asJSON := c.Bool("json")
			enc := json.NewEncoder(w)
			q := entities.Query{From: from, To: to, WithRaw: asJSON}
			st, err := entities.List(c.Context, c.String("world"), dim, q, logger, func(e entities.Entity) error {
				if asJSON {
					return enc.Encode(e)
				}
				name := ""
				if e.CustomName != "" {
					name = " " + e.CustomName
				}
				_, err := fmt.Fprintf(w, "%-32s %10.2f %7.2f %10.2f %s%s\n", e.ID, e.X, e.Y, e.Z, e.UUID, name)
				return err
			})
			if err != nil {
				return err
			}
			logger.WithField("action", "entities").
				WithField("chunks", st.Chunks).
				WithField("decode_failures", st.DecodeFailures).
				Infof("%d entities", st.Entities)
			return nil
		},
	}
}
