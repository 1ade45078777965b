package gazodb

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"
)

// HistoryLedger is the append-only log of postings.
type HistoryLedger struct {
	db  *gorm.DB
	cfg *config
}

func NewHistoryLedger(db *gorm.DB, opts ...Option) *HistoryLedger {
	return newHistoryLedger(db, newConfig("gazodb", opts))
}

func newHistoryLedger(db *gorm.DB, cfg *config) *HistoryLedger {
	return &HistoryLedger{db: db, cfg: cfg}
}

// Record appends a posting of imageID. A zero when means now.
func (h *HistoryLedger) Record(ctx context.Context, imageID uint, when time.Time) error {
	if when.IsZero() {
		when = h.cfg.now()
	}
	err := h.db.WithContext(ctx).Create(&PostHistoryEntry{ImageID: imageID, PostedAt: when.UTC()}).Error
	return wrapStorage("record posting", err)
}

// LatestFor returns the most recent posting of an image, or nil if it was never posted.
func (h *HistoryLedger) LatestFor(ctx context.Context, imageID uint) (*PostHistoryEntry, error) {
	var entries []PostHistoryEntry
	if err := h.db.WithContext(ctx).Where("image_id = ?", imageID).Find(&entries).Error; err != nil {
		return nil, wrapStorage("latest posting", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	sortNewestFirst(entries)
	return &entries[0], nil
}

// All returns every posting, newest first.
func (h *HistoryLedger) All(ctx context.Context) ([]PostHistoryEntry, error) {
	var entries []PostHistoryEntry
	if err := h.db.WithContext(ctx).Find(&entries).Error; err != nil {
		return nil, wrapStorage("list postings", err)
	}
	sortNewestFirst(entries)
	return entries, nil
}

// ties on the timestamp fall back to insertion order
func sortNewestFirst(entries []PostHistoryEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.PostedAt.Equal(b.PostedAt) {
			return a.PostedAt.After(b.PostedAt)
		}
		return a.ID > b.ID
	})
}
