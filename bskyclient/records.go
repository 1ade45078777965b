package bskyclient

import (
	"fmt"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
)

const (
	FeedPostNSID    = "app.bsky.feed.post"
	EmbedImagesNSID = "app.bsky.embed.images"
)

// ReplyTo makes a reply reference for a direct reply to a thread root.
func ReplyTo(uri, cid string) *bsky.FeedPost_ReplyRef {
	ref := &comatproto.RepoStrongRef{Uri: uri, Cid: cid}
	return &bsky.FeedPost_ReplyRef{Root: ref, Parent: ref}
}

// FeedPost extracts the feed post from a record, as found on notifications and post views.
func FeedPost(rec *lexutil.LexiconTypeDecoder) (*bsky.FeedPost, error) {
	if rec == nil || rec.Val == nil {
		return nil, fmt.Errorf("missing record")
	}
	post, ok := rec.Val.(*bsky.FeedPost)
	if !ok {
		return nil, fmt.Errorf("record is %T, not a feed post", rec.Val)
	}
	return post, nil
}

// HasImages reports whether the post embeds images directly.
func HasImages(post *bsky.FeedPost) bool {
	return post != nil && post.Embed != nil && post.Embed.EmbedImages != nil
}

// ImageURLs returns the fullsize URLs of an image embed, in attachment order.
func ImageURLs(pv *bsky.FeedDefs_PostView) []string {
	if pv == nil || pv.Embed == nil || pv.Embed.EmbedImages_View == nil {
		return nil
	}
	var out []string
	for _, img := range pv.Embed.EmbedImages_View.Images {
		if img != nil && img.Fullsize != "" {
			out = append(out, img.Fullsize)
		}
	}
	return out
}
