package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gazobot/gazobot/bot"

	"github.com/urfave/cli/v2"
)

var importCmd = &cli.Command{
	Name:      "import",
	Usage:     "add every image file in a directory to the dataset",
	ArgsUsage: "<dir>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "ext",
			Usage: "file extension to import",
			Value: "jpg",
		},
		&cli.BoolFlag{
			Name:  "skip-register",
			Usage: "approve imported images without moderation",
		},
	},
	Action: runImport,
}

var approveAllCmd = &cli.Command{
	Name:   "approve-all",
	Usage:  "approve every image without a moderation decision",
	Action: runApproveAll,
}

var backupCmd = &cli.Command{
	Name:  "backup",
	Usage: "snapshot the database and run the backup command once",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "backup-command",
			Usage:   "command run with the data directory as its last argument",
			EnvVars: []string{"GAZOBOT_BACKUP_COMMAND"},
		},
	},
	Action: runBackup,
}

var historyCmd = &cli.Command{
	Name:  "history",
	Usage: "print post history, newest first",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Usage: "entries to print; 0 prints all",
			Value: 20,
		},
	},
	Action: runHistory,
}

func runImport(cctx *cli.Context) error {
	ctx := cctx.Context
	dir := cctx.Args().First()
	if dir == "" {
		return fmt.Errorf("need to provide an input directory as an argument")
	}
	if _, err := os.Stat(dir); err != nil {
		return err
	}

	ds, err := openDataset(cctx)
	if err != nil {
		return err
	}

	ext := strings.TrimPrefix(cctx.String("ext"), ".")
	files, err := filepath.Glob(filepath.Join(dir, "*."+ext))
	if err != nil {
		return err
	}

	baseID := fmt.Sprintf("manually_add_%d", time.Now().UnixNano())
	slog.Info("importing images", "dir", dir, "count", len(files), "baseID", baseID)
	for i, f := range files {
		fileID := fmt.Sprintf("%s_%04d", baseID, i)
		id, err := ds.Images.AddImageFile(ctx, fileID, f)
		if err != nil {
			return fmt.Errorf("importing %s: %w", f, err)
		}
		if cctx.Bool("skip-register") {
			if err := ds.Moderation.Decide(ctx, id, true, "manually add", time.Time{}); err != nil {
				return err
			}
		}
		fmt.Printf("%d\t%s\n", id, f)
	}
	return nil
}

func runApproveAll(cctx *cli.Context) error {
	ds, err := openDataset(cctx)
	if err != nil {
		return err
	}
	ids, err := ds.Moderation.ApproveAllPending(cctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("approved %d images\n", len(ids))
	return nil
}

func runBackup(cctx *cli.Context) error {
	ds, err := openDataset(cctx)
	if err != nil {
		return err
	}
	cfg := bot.DefaultConfig()
	cfg.DataDir = cctx.String("data-dir")
	cfg.BackupCommand = cctx.String("backup-command")
	b, err := bot.New(nil, ds, cfg, slog.Default())
	if err != nil {
		return err
	}
	return b.Backup(cctx.Context)
}

func runHistory(cctx *cli.Context) error {
	ds, err := openDataset(cctx)
	if err != nil {
		return err
	}
	entries, err := ds.History.All(cctx.Context)
	if err != nil {
		return err
	}
	limit := cctx.Int("limit")
	if limit < 0 {
		return errors.New("limit must not be negative")
	}
	for i, e := range entries {
		if limit > 0 && i >= limit {
			break
		}
		fmt.Printf("%s\t%d\n", e.PostedAt.Local().Format(time.RFC3339), e.ImageID)
	}
	return nil
}
