package gazodb

import (
	"time"

	"gorm.io/gorm"
)

// Image is one stored picture. A multi-image post produces one Image per attachment, told apart by
// Ordinal. Manually imported files use a synthetic id for both SourceCID and SourceURI.
type Image struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`
	SourceCID string    `gorm:"column:source_cid;uniqueIndex:idx_image_source"`
	SourceURI string    `gorm:"column:source_uri;uniqueIndex:idx_image_source"`
	Ordinal   int       `gorm:"column:ordinal;uniqueIndex:idx_image_source"`
	Filename  string
	// perceptual hash bits, stored signed because postgres has no unsigned bigint
	PHash *int64 `gorm:"column:phash"`
}

// ModerationDecision is the single, current moderation state of an image. Deciding again
// overwrites it; earlier decisions are not kept.
type ModerationDecision struct {
	ID        uint `gorm:"primaryKey"`
	ImageID   uint `gorm:"uniqueIndex"`
	Checked   bool
	Approved  bool `gorm:"index"`
	Reason    *string
	DecidedAt time.Time
}

// PostHistoryEntry records that an image was posted. Entries are only ever appended.
type PostHistoryEntry struct {
	ID       uint      `gorm:"primaryKey"`
	ImageID  uint      `gorm:"index"`
	PostedAt time.Time `gorm:"index"`
}

// Reply is a text command the bot has already answered.
type Reply struct {
	ID        uint   `gorm:"primaryKey"`
	PostCID   string `gorm:"column:post_cid;uniqueIndex:idx_reply_post"`
	PostURI   string `gorm:"column:post_uri;uniqueIndex:idx_reply_post"`
	PostText  string
	ReplyText string
	RepliedAt time.Time
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Image{}, &ModerationDecision{}, &PostHistoryEntry{}, &Reply{})
}

// ImageEntry pairs an image with its moderation decision, if it has one.
type ImageEntry struct {
	Image    Image
	Decision *ModerationDecision
}

func (e ImageEntry) Moderated() bool {
	return e.Decision != nil
}

func (img *Image) PerceptualHash() (uint64, bool) {
	if img.PHash == nil {
		return 0, false
	}
	return uint64(*img.PHash), true
}
