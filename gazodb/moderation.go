package gazodb

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ModerationLedger tracks whether images may be posted.
//
// Each image has at most one decision. Deciding again replaces the stored decision in place
// (last write wins) and no record of earlier decisions is kept; this upsert-only behaviour is
// intentional.
type ModerationLedger struct {
	db  *gorm.DB
	cfg *config
}

func NewModerationLedger(db *gorm.DB, opts ...Option) *ModerationLedger {
	return newModerationLedger(db, newConfig("gazodb", opts))
}

func newModerationLedger(db *gorm.DB, cfg *config) *ModerationLedger {
	return &ModerationLedger{db: db, cfg: cfg}
}

var decisionUpsert = clause.OnConflict{
	Columns:   []clause.Column{{Name: "image_id"}},
	DoUpdates: clause.AssignmentColumns([]string{"checked", "approved", "reason", "decided_at"}),
}

// Decide records a moderation decision for an image, creating or overwriting it. A rejection must
// carry a non-blank reason. A zero when means now.
func (m *ModerationLedger) Decide(ctx context.Context, imageID uint, approved bool, reason string, when time.Time) error {
	m.cfg.logger.Info("deciding image", "image", imageID, "approved", approved, "reason", reason)
	if !approved && strings.TrimSpace(reason) == "" {
		return ErrInvalidReason
	}
	if when.IsZero() {
		when = m.cfg.now()
	}
	var r *string
	if reason != "" {
		r = &reason
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Image{}).Where("id = ?", imageID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrImageNotFound
		}
		d := ModerationDecision{
			ImageID:   imageID,
			Checked:   true,
			Approved:  approved,
			Reason:    r,
			DecidedAt: when.UTC(),
		}
		return tx.Clauses(decisionUpsert).Create(&d).Error
	})
	return wrapStorage("decide", err)
}

// Get returns the decision for an image, or nil if it has not been moderated.
func (m *ModerationLedger) Get(ctx context.Context, imageID uint) (*ModerationDecision, error) {
	var d ModerationDecision
	err := m.db.WithContext(ctx).Where("image_id = ?", imageID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage("get decision", err)
	}
	return &d, nil
}

// ApproveAllPending approves every image that has no decision yet, all with the same timestamp,
// and returns their ids. Images that were already decided are left alone.
func (m *ModerationLedger) ApproveAllPending(ctx context.Context) ([]uint, error) {
	when := m.cfg.now().UTC()
	var ids []uint
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Image{}).
			Where("id NOT IN (?)", tx.Model(&ModerationDecision{}).Select("image_id")).
			Order("id ASC").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		decisions := make([]ModerationDecision, 0, len(ids))
		for _, id := range ids {
			decisions = append(decisions, ModerationDecision{
				ImageID:   id,
				Checked:   true,
				Approved:  true,
				DecidedAt: when,
			})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&decisions, 100).Error
	})
	if err != nil {
		return nil, wrapStorage("approve all", err)
	}
	m.cfg.logger.Info("approved pending images", "count", len(ids))
	return ids, nil
}
