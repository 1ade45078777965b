// gazobot posts user-submitted pictures to Bluesky on a schedule, after they pass moderation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gazobot/gazobot/gazodb"
	"github.com/gazobot/gazobot/pkg/env"
	"github.com/gazobot/gazobot/util/cliutil"

	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "gazobot",
		Usage:   "Bluesky image bot and moderation viewer",
		Version: env.VersionString(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-url",
				Usage:   "database connection string (sqlite://path or postgres://...)",
				Value:   "sqlite://data/gazobot.sqlite",
				EnvVars: []string{"GAZOBOT_DB_URL", "DATABASE_URL"},
			},
			&cli.IntFlag{
				Name:    "max-db-connections",
				Usage:   "connection pool size (postgres only)",
				Value:   8,
				EnvVars: []string{"GAZOBOT_MAX_DB_CONNECTIONS"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "directory for image files and backups",
				Value:   "data",
				EnvVars: []string{"GAZOBOT_DATA_DIR"},
			},
			&cli.BoolFlag{
				Name:    "dbtracing",
				Usage:   "trace database queries with OpenTelemetry",
				EnvVars: []string{"GAZOBOT_DB_TRACING"},
			},
			&cli.StringFlag{
				Name:    "otel-exporter-otlp-endpoint",
				EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log verbosity level (eg: warn, info, debug)",
				EnvVars: []string{"GAZOBOT_LOG_LEVEL", "LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "log output format: text or json",
				EnvVars: []string{"GAZOBOT_LOG_FMT"},
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "also append logs to this file",
				EnvVars: []string{"GAZOBOT_LOG_FILE"},
			},
		},
		Before: func(cctx *cli.Context) error {
			_, err := cliutil.SetupSlog(cliutil.LogOptions{
				LogLevel:  cctx.String("log-level"),
				LogFormat: cctx.String("log-format"),
				LogPath:   cctx.String("log-file"),
			})
			return err
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		postCmd,
		viewerCmd,
		importCmd,
		approveAllCmd,
		backupCmd,
		historyCmd,
		&cli.Command{
			Name:  "version",
			Usage: "print version",
			Action: func(cctx *cli.Context) error {
				fmt.Println(env.VersionString())
				return nil
			},
		},
	}

	return app.Run(args)
}

// openDataset connects to the database and blob directory named by the global flags.
func openDataset(cctx *cli.Context) (*gazodb.Dataset, error) {
	db, err := cliutil.SetupDatabase(cctx.String("db-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cctx.Bool("dbtracing") {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	blobs, err := gazodb.NewBlobDir(filepath.Join(cctx.String("data-dir"), "images"))
	if err != nil {
		return nil, fmt.Errorf("opening image directory: %w", err)
	}
	return gazodb.Open(db, blobs)
}

// setupOTEL installs an OTLP HTTP trace exporter when an endpoint is configured. The returned
// function flushes and stops it.
func setupOTEL(cctx *cli.Context, service string) (func(), error) {
	ep := cctx.String("otel-exporter-otlp-endpoint")
	if ep == "" {
		return func() {}, nil
	}
	slog.Info("setting up trace exporter", "endpoint", ep)

	exp, err := otlptracehttp.New(cctx.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(service),
			attribute.String("version", env.VersionString()),
		)),
	)
	otel.SetTracerProvider(tp)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown trace exporter", "error", err)
		}
	}, nil
}
