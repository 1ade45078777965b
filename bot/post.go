package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/gazobot/gazobot/bskyclient"
	"github.com/gazobot/gazobot/gazodb"
)

// PostImage samples one image and publishes it. With nothing eligible, a notice is posted instead.
func (b *Bot) PostImage(ctx context.Context) error {
	img, err := b.ds.Sampler.Sample(ctx, b.cfg.MinInterval)
	if errors.Is(err, gazodb.ErrNoEligibleImage) {
		b.logger.Info("no image eligible for posting")
		postsPublished.WithLabelValues("empty").Inc()
		if _, err := b.client.CreatePost(ctx, bskyclient.Post{Text: nothingToPost}); err != nil {
			return fmt.Errorf("posting empty notice: %w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	ref, err := b.client.CreatePost(ctx, bskyclient.Post{ImagePath: b.ds.Images.Path(img)})
	if err != nil {
		postsPublished.WithLabelValues("failed").Inc()
		return fmt.Errorf("publishing image %d: %w", img.ID, err)
	}
	postsPublished.WithLabelValues("image").Inc()
	b.logger.Info("posted image", "id", img.ID, "uri", ref.Uri)
	return nil
}
