package main

import (
	"os/signal"
	"syscall"

	"github.com/gazobot/gazobot/viewer"

	"github.com/urfave/cli/v2"
)

var viewerCmd = &cli.Command{
	Name:  "viewer",
	Usage: "serve the moderation web UI",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "Specify the local IP/port to bind to",
			Value:   ":8000",
			EnvVars: []string{"GAZOBOT_VIEWER_BIND"},
		},
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "re-read templates from --template-dir on every request",
			EnvVars: []string{"GAZOBOT_VIEWER_DEBUG"},
		},
		&cli.StringFlag{
			Name:  "template-dir",
			Usage: "template directory used in debug mode",
			Value: "viewer/templates",
		},
	},
	Action: runViewer,
}

func runViewer(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupOTEL(cctx, "gazobot-viewer")
	if err != nil {
		return err
	}
	defer shutdownTracing()

	ds, err := openDataset(cctx)
	if err != nil {
		return err
	}
	srv, err := viewer.NewServer(ds, viewer.Config{
		Bind:        cctx.String("bind"),
		Debug:       cctx.Bool("debug"),
		TemplateDir: cctx.String("template-dir"),
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
