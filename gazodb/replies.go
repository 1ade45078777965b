package gazodb

import (
	"context"

	"gorm.io/gorm"
)

// ReplyLedger remembers which mentions have been answered, both commands and image submissions.
type ReplyLedger struct {
	db  *gorm.DB
	cfg *config
}

func NewReplyLedger(db *gorm.DB, opts ...Option) *ReplyLedger {
	return newReplyLedger(db, newConfig("gazodb", opts))
}

func newReplyLedger(db *gorm.DB, cfg *config) *ReplyLedger {
	return &ReplyLedger{db: db, cfg: cfg}
}

func (r *ReplyLedger) IsReplied(ctx context.Context, postCID, postURI string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Reply{}).
		Where("post_cid = ? AND post_uri = ?", postCID, postURI).
		Count(&n).Error
	if err != nil {
		return false, wrapStorage("lookup reply", err)
	}
	return n > 0, nil
}

func (r *ReplyLedger) Record(ctx context.Context, reply *Reply) error {
	r.cfg.logger.Info("recording reply", "uri", reply.PostURI, "text", reply.PostText)
	if reply.RepliedAt.IsZero() {
		reply.RepliedAt = r.cfg.now().UTC()
	}
	return wrapStorage("record reply", r.db.WithContext(ctx).Create(reply).Error)
}
