package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"mcprune.dev/internal/logging"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mcprune:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mcprune",
		Usage: "trim rarely visited chunks from Minecraft world saves",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "world",
				Aliases:  []string{"w"},
				Usage:    "path to the world save (the directory holding level.dat)",
				EnvVars:  []string{"MCPRUNE_WORLD"},
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log per-file and per-chunk detail",
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML profile with defaults for the prune command",
				EnvVars: []string{"MCPRUNE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			pruneCommand(),
			blocksCommand(),
			entitiesCommand(),
			historyCommand(),
		},
	}
}

func newLogger(c *cli.Context) *logrus.Logger {
	return logging.New(c.App.ErrWriter, c.Bool("verbose"))
}

// dimensionFlag is shared by every command that reads one dimension.
func dimensionFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "dimension",
		Aliases: []string{"d"},
		Usage:   "overworld, nether or end",
		Value:   "overworld",
	}
}

func boundsFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "from", Usage: "first corner of the bounding box, as x,y,z"},
		&cli.StringFlag{Name: "to", Usage: "opposite corner of the bounding box, as x,y,z"},
	}
}
