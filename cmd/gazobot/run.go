package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gazobot/gazobot/bot"
	"github.com/gazobot/gazobot/bskyclient"
	"github.com/gazobot/gazobot/pkg/metrics"
	"github.com/gazobot/gazobot/pkg/robusthttp"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var accountFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "pds-host",
		Usage:   "PDS to log in to",
		Value:   bskyclient.DefaultHost,
		EnvVars: []string{"BSKY_PDS_HOST"},
	},
	&cli.StringFlag{
		Name:     "username",
		Usage:    "account handle or email",
		Required: true,
		EnvVars:  []string{"BSKY_USERNAME"},
	},
	&cli.StringFlag{
		Name:     "password",
		Usage:    "account app password",
		Required: true,
		EnvVars:  []string{"BSKY_PASSWORD"},
	},
	&cli.DurationFlag{
		Name:    "min-request-interval",
		Usage:   "minimum time between API requests",
		Value:   time.Second,
		EnvVars: []string{"GAZOBOT_MIN_REQUEST_INTERVAL"},
	},
	&cli.IntFlag{
		Name:    "days-duplicate-post",
		Usage:   "days before a posted image may be posted again",
		Value:   7,
		EnvVars: []string{"GAZOBOT_DAYS_DUPLICATE_POST"},
	},
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the bot daemon",
	Flags: append([]cli.Flag{
		&cli.DurationFlag{
			Name:    "reply-period",
			Usage:   "how often to check notifications",
			Value:   2 * time.Minute,
			EnvVars: []string{"GAZOBOT_REPLY_PERIOD"},
		},
		&cli.DurationFlag{
			Name:    "session-period",
			Usage:   "how often to log in again",
			Value:   time.Hour,
			EnvVars: []string{"GAZOBOT_SESSION_PERIOD"},
		},
		&cli.DurationFlag{
			Name:    "backup-period",
			Usage:   "how often to back up the data directory",
			Value:   12 * time.Hour,
			EnvVars: []string{"GAZOBOT_BACKUP_PERIOD"},
		},
		&cli.DurationFlag{
			Name:    "heartbeat",
			Usage:   "scheduler polling interval",
			Value:   5 * time.Second,
			EnvVars: []string{"GAZOBOT_HEARTBEAT"},
		},
		&cli.IntSliceFlag{
			Name:    "post-hours",
			Usage:   "hours of the day to post at",
			Value:   cli.NewIntSlice(13, 19),
			EnvVars: []string{"GAZOBOT_POST_HOURS"},
		},
		&cli.StringFlag{
			Name:    "timezone",
			Usage:   "time zone of --post-hours",
			Value:   "Asia/Tokyo",
			EnvVars: []string{"GAZOBOT_TIMEZONE"},
		},
		&cli.BoolFlag{
			Name:    "post-on-start",
			Usage:   "post one image right after starting",
			EnvVars: []string{"GAZOBOT_POST_ON_START"},
		},
		&cli.StringFlag{
			Name:    "backup-command",
			Usage:   "command run with the data directory as its last argument after each snapshot",
			EnvVars: []string{"GAZOBOT_BACKUP_COMMAND"},
		},
		&cli.IntFlag{
			Name:    "near-duplicate-distance",
			Usage:   "skip submissions within this perceptual-hash distance of a stored image; negative disables",
			Value:   -1,
			EnvVars: []string{"GAZOBOT_NEAR_DUPLICATE_DISTANCE"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "address for the metrics server; empty disables it",
			Value:   ":2471",
			EnvVars: []string{"GAZOBOT_METRICS_LISTEN"},
		},
	}, accountFlags...),
	Action: runBot,
}

var postCmd = &cli.Command{
	Name:   "post",
	Usage:  "sample one image and post it now",
	Flags:  accountFlags,
	Action: runPost,
}

func botConfig(cctx *cli.Context) (bot.Config, error) {
	cfg := bot.DefaultConfig()
	cfg.MinInterval = time.Duration(cctx.Int("days-duplicate-post")) * 24 * time.Hour
	cfg.DataDir = cctx.String("data-dir")
	if cctx.Command.Name != "run" {
		return cfg, nil
	}

	loc, err := time.LoadLocation(cctx.String("timezone"))
	if err != nil {
		return cfg, fmt.Errorf("loading time zone: %w", err)
	}
	cfg.Location = loc
	cfg.ReplyPeriod = cctx.Duration("reply-period")
	cfg.SessionPeriod = cctx.Duration("session-period")
	cfg.BackupPeriod = cctx.Duration("backup-period")
	cfg.Heartbeat = cctx.Duration("heartbeat")
	cfg.PostHours = cctx.IntSlice("post-hours")
	cfg.PostOnStart = cctx.Bool("post-on-start")
	cfg.BackupCommand = cctx.String("backup-command")
	cfg.NearDuplicateDistance = cctx.Int("near-duplicate-distance")
	return cfg, nil
}

func newClient(cctx *cli.Context) (*bskyclient.Client, error) {
	logger := slog.Default()
	client := bskyclient.New(
		cctx.String("pds-host"),
		cctx.String("username"),
		cctx.String("password"),
		bskyclient.WithHTTPClient(robusthttp.NewClient(robusthttp.WithLogger(logger))),
		bskyclient.WithMinRequestInterval(cctx.Duration("min-request-interval")),
		bskyclient.WithLogger(logger),
	)
	if err := client.Login(cctx.Context); err != nil {
		return nil, err
	}
	return client, nil
}

func newBot(cctx *cli.Context) (*bot.Bot, error) {
	cfg, err := botConfig(cctx)
	if err != nil {
		return nil, err
	}
	ds, err := openDataset(cctx)
	if err != nil {
		return nil, err
	}
	client, err := newClient(cctx)
	if err != nil {
		return nil, err
	}
	return bot.New(client, ds, cfg, slog.Default())
}

func runBot(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupOTEL(cctx, "gazobot")
	if err != nil {
		return err
	}
	defer shutdownTracing()

	b, err := newBot(cctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return b.Run(gctx)
	})
	g.Go(func() error {
		return metrics.RunServer(gctx, cctx.String("metrics-listen"))
	})

	err = g.Wait()
	slog.Info("bot exited", "err", err)
	return err
}

func runPost(cctx *cli.Context) error {
	b, err := newBot(cctx)
	if err != nil {
		return err
	}
	if err := b.PostImage(cctx.Context); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "posted")
	return nil
}
