package bot

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gazobot/gazobot/gazodb"
)

// Backup snapshots the database into the data directory, then hands the directory to the
// configured backup command.
func (b *Bot) Backup(ctx context.Context) error {
	dest := filepath.Join(b.cfg.DataDir, "backup", fmt.Sprintf("gazobot-%s.sqlite", b.now().UTC().Format("20060102T150405Z")))
	err := b.ds.Snapshot(ctx, dest)
	switch {
	case errors.Is(err, gazodb.ErrSnapshotUnsupported):
		b.logger.Info("database snapshot not supported for this driver, skipping")
	case err != nil:
		backupsRun.WithLabelValues("failed").Inc()
		return err
	default:
		b.logger.Info("wrote database snapshot", "path", dest)
	}

	if err := b.runBackupCommand(ctx); err != nil {
		backupsRun.WithLabelValues("failed").Inc()
		return err
	}
	backupsRun.WithLabelValues("ok").Inc()
	return nil
}

func (b *Bot) runBackupCommand(ctx context.Context) error {
	args := strings.Fields(b.cfg.BackupCommand)
	if len(args) == 0 {
		return nil
	}
	args = append(args, b.cfg.DataDir)
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	b.logger.Info("ran backup command", "command", b.cfg.BackupCommand, "output", string(out), "err", err)
	if err != nil {
		return fmt.Errorf("backup command %q failed: %w", b.cfg.BackupCommand, err)
	}
	return nil
}
