package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gazobot/gazobot/bskyclient"
	"github.com/gazobot/gazobot/gazodb"

	"github.com/bluesky-social/indigo/api/bsky"
)

// HandleNotifications takes in images from mentions that carry them and answers text commands
// in the others. A storage failure aborts the pass; any other per-notification failure is
// logged and the notification is retried on the next pass.
func (b *Bot) HandleNotifications(ctx context.Context) error {
	seen := b.now()
	notifs, err := b.client.ListNotifications(ctx, b.cfg.NotificationLimit)
	if err != nil {
		return fmt.Errorf("listing notifications: %w", err)
	}
	b.logger.Info("handling notifications", "count", len(notifs))

	failed := 0
	for _, n := range notifs {
		if n.Reason != "mention" {
			continue
		}
		key := notificationKey(n.Uri, n.Cid)
		if b.handled.Contains(key) {
			continue
		}

		post, err := bskyclient.FeedPost(n.Record)
		if err != nil {
			b.logger.Warn("skipping undecodable mention", "uri", n.Uri, "err", err)
			b.handled.Add(key, struct{}{})
			continue
		}
		if bskyclient.HasImages(post) {
			err = b.intake(ctx, n)
		} else {
			err = b.command(ctx, n, post.Text)
		}
		if err != nil {
			var se *gazodb.StorageError
			if errors.As(err, &se) {
				return err
			}
			failed++
			notificationErrors.Inc()
			b.logger.Error("failed to handle mention", "uri", n.Uri, "err", err)
			continue
		}
		b.handled.Add(key, struct{}{})
	}

	if failed == 0 {
		if err := b.client.UpdateSeen(ctx, seen); err != nil {
			b.logger.Warn("failed to mark notifications seen", "err", err)
		}
	}
	return nil
}

// intake stores the images of a submission and acknowledges it. A submission is finished once
// it is in the reply ledger, so an acknowledgement that failed to send is retried even though
// the images are already stored.
func (b *Bot) intake(ctx context.Context, n *bsky.NotificationListNotifications_Notification) error {
	done, err := b.ds.Replies.IsReplied(ctx, n.Cid, n.Uri)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	added, err := b.ds.Images.IsAlreadyAdded(ctx, n.Cid, n.Uri)
	if err != nil {
		return err
	}
	if !added {
		available, err := b.storeAttachments(ctx, n)
		if err != nil {
			return err
		}
		if !available {
			return b.ds.Replies.Record(ctx, &gazodb.Reply{
				PostCID:  n.Cid,
				PostURI:  n.Uri,
				PostText: intakeCommand,
			})
		}
	}

	if _, err := b.client.CreatePost(ctx, bskyclient.Post{
		Text:  ackText,
		Reply: bskyclient.ReplyTo(n.Uri, n.Cid),
	}); err != nil {
		return fmt.Errorf("acknowledging submission: %w", err)
	}
	return b.ds.Replies.Record(ctx, &gazodb.Reply{
		PostCID:   n.Cid,
		PostURI:   n.Uri,
		PostText:  intakeCommand,
		ReplyText: ackText,
	})
}

// storeAttachments downloads and adds every image of the mentioned post. It reports false when
// the post can no longer be viewed.
func (b *Bot) storeAttachments(ctx context.Context, n *bsky.NotificationListNotifications_Notification) (bool, error) {
	thread, err := b.client.GetPostThread(ctx, n.Uri, 1)
	if err != nil {
		return false, fmt.Errorf("fetching thread: %w", err)
	}
	if thread == nil {
		b.logger.Info("mentioned post is unavailable", "uri", n.Uri)
		return false, nil
	}

	// download everything first so a failed download leaves nothing half-stored
	var attachments [][]byte
	for i, url := range bskyclient.ImageURLs(thread.Post) {
		data, err := b.client.FetchImage(ctx, url)
		if err != nil {
			return false, fmt.Errorf("downloading attachment %d: %w", i, err)
		}
		attachments = append(attachments, data)
	}

	author := ""
	if n.Author != nil {
		author = n.Author.Handle
	}
	for i, data := range attachments {
		if b.isNearDuplicate(ctx, n.Uri, data) {
			intakeImages.WithLabelValues("near_duplicate").Inc()
			continue
		}
		id, err := b.ds.Images.AddImage(ctx, n.Cid, n.Uri, i, data)
		if errors.Is(err, gazodb.ErrDuplicateImage) {
			intakeImages.WithLabelValues("duplicate").Inc()
			continue
		}
		if err != nil {
			return false, err
		}
		intakeImages.WithLabelValues("added").Inc()
		b.logger.Info("took in image", "id", id, "uri", n.Uri, "ordinal", i, "author", author)
	}
	return true, nil
}

func (b *Bot) isNearDuplicate(ctx context.Context, uri string, data []byte) bool {
	if b.cfg.NearDuplicateDistance < 0 {
		return false
	}
	hash, err := gazodb.PerceptualHash(data)
	if err != nil {
		return false
	}
	similar, err := b.ds.Images.FindSimilar(ctx, hash, b.cfg.NearDuplicateDistance)
	if err != nil {
		b.logger.Warn("near-duplicate lookup failed", "uri", uri, "err", err)
		return false
	}
	if len(similar) > 0 {
		b.logger.Info("skipping near-duplicate image", "uri", uri, "similar", similar[0].ID)
		return true
	}
	return false
}

// commandText strips the bot's own mention from a post.
func commandText(text, handle string) string {
	if handle != "" {
		text = strings.ReplaceAll(text, "@"+handle, "")
	}
	return strings.TrimSpace(text)
}

func (b *Bot) command(ctx context.Context, n *bsky.NotificationListNotifications_Notification, text string) error {
	replied, err := b.ds.Replies.IsReplied(ctx, n.Cid, n.Uri)
	if err != nil {
		return err
	}
	if replied {
		return nil
	}

	cmd := commandText(text, b.client.Handle())
	reply := bskyclient.ReplyTo(n.Uri, n.Cid)
	var replyText string
	switch cmd {
	case "ping":
		replyText = "pong"
		if _, err := b.client.CreatePost(ctx, bskyclient.Post{Text: replyText, Reply: reply}); err != nil {
			return fmt.Errorf("replying to ping: %w", err)
		}
	case "pull":
		img, err := b.ds.Images.RandomApproved(ctx)
		switch {
		case errors.Is(err, gazodb.ErrNoEligibleImage):
			replyText = noImagesText
			if _, err := b.client.CreatePost(ctx, bskyclient.Post{Text: replyText, Reply: reply}); err != nil {
				return fmt.Errorf("replying to pull: %w", err)
			}
		case err != nil:
			return err
		default:
			if _, err := b.client.CreatePost(ctx, bskyclient.Post{Reply: reply, ImagePath: b.ds.Images.Path(img)}); err != nil {
				return fmt.Errorf("replying to pull: %w", err)
			}
		}
	default:
		return nil
	}

	commandsAnswered.WithLabelValues(cmd).Inc()
	return b.ds.Replies.Record(ctx, &gazodb.Reply{
		PostCID:   n.Cid,
		PostURI:   n.Uri,
		PostText:  cmd,
		ReplyText: replyText,
	})
}
