// Package cli contains the octreeview command line tool.
package cli

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"go.viam.com/octreeview/octree"
)

const (
	flagDebug      = "debug"
	flagConfig     = "config"
	flagPCD        = "pcd"
	flagOut        = "out"
	flagMaxPoints  = "max-points"
	flagResolution = "resolution"
	flagEncoding   = "encoding"
	flagDB         = "db"
	flagAddr       = "addr"
	flagURL        = "url"
	flagFrames     = "frames"
	flagInterval   = "interval"
	flagMaxBytes   = "max-bytes"
)

var app = &cli.App{
	Name:            "octreeview",
	Usage:           "build, serve and stream octree point clouds",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "import",
			Usage:     "partition a PCD point cloud into an octree database",
			UsageText: "octreeview import --pcd <cloud.pcd> --out <cloud.db> [other options]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagPCD,
					Usage:    "PCD `FILE` to read, ascii or binary",
					Required: true,
				},
				&cli.PathFlag{
					Name:     flagOut,
					Usage:    "database `FILE` to write nodes to",
					Required: true,
				},
				&cli.IntFlag{
					Name:  flagMaxPoints,
					Usage: "maximum points kept per node",
					Value: octree.DefaultMaxPointsPerNode,
				},
				&cli.Float64Flag{
					Name:  flagResolution,
					Usage: "coarsest acceptable position quantization in cloud units",
					Value: octree.DefaultResolution,
				},
				&cli.StringFlag{
					Name:  flagEncoding,
					Usage: "force one position encoding (uint8, uint16, float32, float64) for every node",
				},
			},
			Action: ImportAction,
		},
		{
			Name:      "serve",
			Usage:     "serve an octree database over a websocket",
			UsageText: "octreeview serve --db <cloud.db> [--addr :8080]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     flagDB,
					Usage:    "database `FILE` to serve",
					Required: true,
				},
				&cli.StringFlag{
					Name:  flagAddr,
					Usage: "address to listen on",
					Value: ":8080",
				},
			},
			Action: ServeAction,
		},
		{
			Name:      "bench",
			Usage:     "stream an octree through a node cache with a simulated moving viewer",
			UsageText: "octreeview bench (--config <config.yaml> | --db <cloud.db> | --url <ws://host/nodes>) [other options]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:    flagConfig,
					Aliases: []string{"c"},
					Usage:   "load configuration from `FILE`",
				},
				&cli.PathFlag{
					Name:  flagDB,
					Usage: "read nodes from a local database `FILE`",
				},
				&cli.StringFlag{
					Name:  flagURL,
					Usage: "read nodes from a node server",
				},
				&cli.StringFlag{
					Name:  flagMaxBytes,
					Usage: "resident byte budget, e.g. 256MiB",
				},
				&cli.IntFlag{
					Name:  flagFrames,
					Usage: "number of frames to simulate",
					Value: 120,
				},
				&cli.DurationFlag{
					Name:  flagInterval,
					Usage: "time between frames",
					Value: 16 * time.Millisecond,
				},
			},
			Action: BenchAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
