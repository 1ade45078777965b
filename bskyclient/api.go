package bskyclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
)

// MaxImageSize bounds image downloads and uploads.
const MaxImageSize = 16 * 1024 * 1024

func (c *Client) ListNotifications(ctx context.Context, limit int) ([]*bsky.NotificationListNotifications_Notification, error) {
	c.logger.Debug("listing notifications", "limit", limit)
	if limit <= 0 {
		return nil, fmt.Errorf("notification limit must be positive, got %d", limit)
	}
	var out *bsky.NotificationListNotifications_Output
	err := c.call(ctx, func(xc *xrpc.Client) error {
		var err error
		out, err = bsky.NotificationListNotifications(ctx, xc, "", int64(limit), false, nil, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

func (c *Client) UpdateSeen(ctx context.Context, seenAt time.Time) error {
	return c.call(ctx, func(xc *xrpc.Client) error {
		return bsky.NotificationUpdateSeen(ctx, xc, &bsky.NotificationUpdateSeen_Input{
			SeenAt: seenAt.UTC().Format(time.RFC3339Nano),
		})
	})
}

// GetPostThread fetches the thread rooted at uri. It returns nil without error when the post is
// missing or blocked.
func (c *Client) GetPostThread(ctx context.Context, uri string, depth int) (*bsky.FeedDefs_ThreadViewPost, error) {
	c.logger.Info("getting thread", "uri", uri)
	var out *bsky.FeedGetPostThread_Output
	err := c.call(ctx, func(xc *xrpc.Client) error {
		var err error
		out, err = bsky.FeedGetPostThread(ctx, xc, int64(depth), 0, uri)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.Thread == nil || out.Thread.FeedDefs_ThreadViewPost == nil || out.Thread.FeedDefs_ThreadViewPost.Post == nil {
		return nil, nil
	}
	return out.Thread.FeedDefs_ThreadViewPost, nil
}

// UploadBlob uploads raw bytes and returns the blob reference to embed in a record.
func (c *Client) UploadBlob(ctx context.Context, data []byte) (*lexutil.LexBlob, error) {
	c.logger.Info("uploading blob", "size", len(data))
	if len(data) > MaxImageSize {
		return nil, fmt.Errorf("blob of %d bytes exceeds %d", len(data), MaxImageSize)
	}
	var out *comatproto.RepoUploadBlob_Output
	err := c.call(ctx, func(xc *xrpc.Client) error {
		var err error
		out, err = comatproto.RepoUploadBlob(ctx, xc, bytes.NewReader(data))
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.Blob == nil {
		return nil, fmt.Errorf("uploadBlob response is missing the blob reference")
	}
	return out.Blob, nil
}

// Post is a new feed post. ImagePath, when set, is uploaded and attached.
type Post struct {
	Text      string
	Reply     *bsky.FeedPost_ReplyRef
	ImagePath string
	ImageAlt  string
}

// CreatePost uploads the optional image and creates an app.bsky.feed.post record.
func (c *Client) CreatePost(ctx context.Context, p Post) (*comatproto.RepoCreateRecord_Output, error) {
	c.logger.Info("creating post", "text", p.Text, "image", p.ImagePath)
	did := c.DID()
	if did == "" {
		return nil, fmt.Errorf("not logged in")
	}

	record := &bsky.FeedPost{
		LexiconTypeID: FeedPostNSID,
		Text:          p.Text,
		CreatedAt:     time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Reply:         p.Reply,
	}
	if p.ImagePath != "" {
		data, err := os.ReadFile(p.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("reading image to post: %w", err)
		}
		blob, err := c.UploadBlob(ctx, data)
		if err != nil {
			return nil, err
		}
		record.Embed = &bsky.FeedPost_Embed{
			EmbedImages: &bsky.EmbedImages{
				LexiconTypeID: EmbedImagesNSID,
				Images:        []*bsky.EmbedImages_Image{{Alt: p.ImageAlt, Image: blob}},
			},
		}
	}

	var out *comatproto.RepoCreateRecord_Output
	err := c.call(ctx, func(xc *xrpc.Client) error {
		var err error
		out, err = comatproto.RepoCreateRecord(ctx, xc, &comatproto.RepoCreateRecord_Input{
			Repo:       did,
			Collection: FeedPostNSID,
			Record:     &lexutil.LexiconTypeDecoder{Val: record},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchImage downloads an image from the CDN. The request is unauthenticated.
func (c *Client) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, err
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching image: unexpected status code %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading image body: %w", err)
	}
	if len(data) > MaxImageSize {
		return nil, fmt.Errorf("image at %s exceeds %d bytes", imageURL, MaxImageSize)
	}
	return data, nil
}
