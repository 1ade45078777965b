package gazodb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"
)

// Dataset bundles the components that share one database handle and blob directory.
type Dataset struct {
	DB         *gorm.DB
	Images     *ImageStore
	Moderation *ModerationLedger
	History    *HistoryLedger
	Sampler    *Sampler
	Replies    *ReplyLedger
}

// Open migrates the schema and wires up every component around db and blobs.
func Open(db *gorm.DB, blobs *BlobDir, opts ...Option) (*Dataset, error) {
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	cfg := newConfig("gazodb", opts)
	return &Dataset{
		DB:         db,
		Images:     newImageStore(db, blobs, cfg),
		Moderation: newModerationLedger(db, cfg),
		History:    newHistoryLedger(db, cfg),
		Sampler:    newSampler(db, cfg),
		Replies:    newReplyLedger(db, cfg),
	}, nil
}

// Snapshot writes a consistent copy of an sqlite database to dest, which must not exist yet.
func (d *Dataset) Snapshot(ctx context.Context, dest string) error {
	if d.DB.Dialector.Name() != "sqlite" {
		return ErrSnapshotUnsupported
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0775); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	if err := d.DB.WithContext(ctx).Exec("VACUUM INTO ?", dest).Error; err != nil {
		return wrapStorage("snapshot", err)
	}
	return nil
}
