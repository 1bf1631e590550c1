// Package cli contains the dice command line application.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	generalFlagDebug       = "debug"
	generalFlagConfig      = "config"
	catalogFlagPath        = "path"
	catalogFlagIDs         = "ids"
	catalogFlagNeighbors   = "neighbors"
	catalogFlagTriad       = "triad"
	catalogFlagList        = "list"
	guessFlagFrame         = "frame"
	guessFlagExhaustive    = "exhaustive"
	trackFlagOutput        = "output"
	triangulateFlagCal     = "calibration"
	projectFlagProjectives = "projectives"
	projectFlagFit         = "fit"
)

var app = &cli.App{
	Name:            "dice",
	Usage:           "initialize and track image correlation subsets from a motion catalog",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "catalog",
			Usage:     "load a path file and report its motion catalog",
			UsageText: "dice catalog --path <path-file> [--ids] [--list] [--neighbors <k> --triad <id>]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     catalogFlagPath,
					Usage:    "path file to load",
					Required: true,
				},
				&cli.BoolFlag{
					Name:  catalogFlagIDs,
					Usage: "path file lines start with an id column",
				},
				&cli.IntFlag{
					Name:  catalogFlagNeighbors,
					Usage: "build the neighbor table with this many neighbors per triad",
				},
				&cli.IntFlag{
					Name:  catalogFlagTriad,
					Usage: "print the neighbors of the triad with this id",
					Value: -1,
				},
				&cli.BoolFlag{
					Name:  catalogFlagList,
					Usage: "print every triad of the catalog",
				},
			},
			Action: CatalogAction,
		},
		{
			Name:      "guess",
			Usage:     "find the initial motion of every configured subset in one deformed image",
			UsageText: "dice guess --config <config-file> [--frame <index>] [--exhaustive]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     generalFlagConfig,
					Aliases:  []string{"c"},
					Usage:    "load configuration from `FILE`",
					Required: true,
				},
				&cli.IntFlag{
					Name:  guessFlagFrame,
					Usage: "index into deformed_images of the image to search",
				},
				&cli.BoolFlag{
					Name:  guessFlagExhaustive,
					Usage: "score every catalog triad even when a subset has an initial guess",
				},
			},
			Action: GuessAction,
		},
		{
			Name:      "track",
			Usage:     "track every configured subset through all deformed images",
			UsageText: "dice track --config <config-file> [--output <csv-file>]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     generalFlagConfig,
					Aliases:  []string{"c"},
					Usage:    "load configuration from `FILE`",
					Required: true,
				},
				&cli.StringFlag{
					Name:  trackFlagOutput,
					Usage: "write results to this csv file instead of stdout",
				},
			},
			Action: TrackAction,
		},
		{
			Name:      "triangulate",
			Usage:     "triangulate a stereo pixel correspondence",
			UsageText: "dice triangulate (--calibration <cal-file> | --config <config.json>) <x-left> <y-left> <x-right> <y-right>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  triangulateFlagCal,
					Usage: "calibration file, xml or text",
				},
				&cli.StringFlag{
					Name:  generalFlagConfig,
					Usage: "run configuration naming the calibration file",
				},
			},
			Action: TriangulateAction,
		},
		{
			Name:      "project",
			Usage:     "map left sensor coordinates to the right sensor",
			UsageText: "dice project (--projectives p0,...,p7 | --fit <pairs-file>) <x-left> <y-left>",
			Flags: []cli.Flag{
				&cli.Float64SliceFlag{
					Name:  projectFlagProjectives,
					Usage: "the eight projective parameters",
				},
				&cli.StringFlag{
					Name:  projectFlagFit,
					Usage: "fit the projective to a file of 'xl yl xr yr' correspondences",
				},
			},
			Action: ProjectAction,
		},
	},
}

// NewApp returns a new app with the CLI function suite and the provided writers.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
