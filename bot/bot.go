package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gazobot/gazobot/bskyclient"
	"github.com/gazobot/gazobot/gazodb"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spaolacci/murmur3"
)

const (
	ackText       = "受け付けました。確認の上で投稿候補に加わります。"
	noImagesText  = "画像がありません"
	nothingToPost = "投稿する画像がありません"

	// intakeCommand labels image submissions in the reply ledger.
	intakeCommand = "images"
)

// Client is the subset of the Bluesky API the bot talks to.
type Client interface {
	ListNotifications(ctx context.Context, limit int) ([]*bsky.NotificationListNotifications_Notification, error)
	UpdateSeen(ctx context.Context, seenAt time.Time) error
	// GetPostThread returns nil when the post is gone or blocked.
	GetPostThread(ctx context.Context, uri string, depth int) (*bsky.FeedDefs_ThreadViewPost, error)
	FetchImage(ctx context.Context, url string) ([]byte, error)
	CreatePost(ctx context.Context, p bskyclient.Post) (*comatproto.RepoCreateRecord_Output, error)
	ResetSession(ctx context.Context) error
	Handle() string
}

type Config struct {
	// MinInterval is how long a posted image sits out before it may be sampled again.
	MinInterval time.Duration

	DataDir       string
	BackupCommand string

	// NearDuplicateDistance is the largest perceptual-hash distance treated as the same picture.
	// Negative disables the check.
	NearDuplicateDistance int
	NotificationLimit     int

	ReplyPeriod   time.Duration
	SessionPeriod time.Duration
	BackupPeriod  time.Duration
	Heartbeat     time.Duration
	PostHours     []int
	Location      *time.Location
	PostOnStart   bool
}

func DefaultConfig() Config {
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		loc = time.FixedZone("JST", 9*60*60)
	}
	return Config{
		MinInterval:           7 * 24 * time.Hour,
		DataDir:               "data",
		NearDuplicateDistance: -1,
		NotificationLimit:     100,
		ReplyPeriod:           2 * time.Minute,
		SessionPeriod:         time.Hour,
		BackupPeriod:          12 * time.Hour,
		Heartbeat:             5 * time.Second,
		PostHours:             []int{13, 19},
		Location:              loc,
	}
}

type Bot struct {
	client Client
	ds     *gazodb.Dataset
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// notifications finished in this process, so they are not re-examined every poll
	handled *lru.Cache[uint64, struct{}]
}

func New(client Client, ds *gazodb.Dataset, cfg Config, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NotificationLimit <= 0 {
		cfg.NotificationLimit = 100
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	handled, err := lru.New[uint64, struct{}](4096)
	if err != nil {
		return nil, fmt.Errorf("creating notification cache: %w", err)
	}
	return &Bot{
		client:  client,
		ds:      ds,
		cfg:     cfg,
		logger:  logger.With("system", "bot"),
		now:     time.Now,
		handled: handled,
	}, nil
}

// notificationKey identifies a notification in the handled cache.
func notificationKey(uri, cid string) uint64 {
	return murmur3.Sum64([]byte(uri + "\x00" + cid))
}
