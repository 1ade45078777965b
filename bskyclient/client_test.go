package bskyclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePDS struct {
	t  *testing.T
	mu sync.Mutex

	accessJwt string
	expired   bool
	refreshes int
	records   []comatproto.RepoCreateRecord_Input
	blobs     [][]byte
}

func blobCID(t *testing.T, data []byte) cid.Cid {
	t.Helper()
	c, err := cid.NewPrefixV1(cid.Raw, multihash.SHA2_256).Sum(data)
	require.NoError(t, err)
	return c
}

func (f *fakePDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	writeJSON := func(code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}
	authed := func() bool {
		if r.Header.Get("Authorization") != "Bearer "+f.accessJwt {
			writeJSON(http.StatusUnauthorized, xrpc.XRPCError{ErrStr: "InvalidToken"})
			return false
		}
		if f.expired {
			writeJSON(http.StatusBadRequest, xrpc.XRPCError{ErrStr: "ExpiredToken", Message: "Token has expired"})
			return false
		}
		return true
	}

	switch r.URL.Path {
	case "/xrpc/com.atproto.server.createSession":
		var in comatproto.ServerCreateSession_Input
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&in))
		if in.Password != "hunter2" {
			writeJSON(http.StatusUnauthorized, xrpc.XRPCError{ErrStr: "AuthenticationRequired", Message: "Invalid identifier or password"})
			return
		}
		f.accessJwt = "access-1"
		writeJSON(http.StatusOK, map[string]any{
			"accessJwt":  f.accessJwt,
			"refreshJwt": "refresh-1",
			"handle":     in.Identifier,
			"did":        "did:plc:gazo",
		})
	case "/xrpc/com.atproto.server.refreshSession":
		if r.Header.Get("Authorization") != "Bearer refresh-1" {
			writeJSON(http.StatusUnauthorized, xrpc.XRPCError{ErrStr: "InvalidToken"})
			return
		}
		f.refreshes++
		f.expired = false
		f.accessJwt = "access-2"
		writeJSON(http.StatusOK, map[string]any{
			"accessJwt":  f.accessJwt,
			"refreshJwt": "refresh-1",
			"handle":     "gazo.test",
			"did":        "did:plc:gazo",
		})
	case "/xrpc/app.bsky.notification.listNotifications":
		if !authed() {
			return
		}
		assert.Equal(f.t, "50", r.URL.Query().Get("limit"))
		writeJSON(http.StatusOK, map[string]any{"notifications": []map[string]any{{
			"uri":       "at://did:plc:alice/app.bsky.feed.post/1",
			"cid":       "bafyalice",
			"reason":    "mention",
			"isRead":    false,
			"indexedAt": "2024-01-01T00:00:00Z",
			"author":    map[string]any{"did": "did:plc:alice", "handle": "alice.test"},
			"record":    map[string]any{"$type": "app.bsky.feed.post", "text": "@gazo.test ping", "createdAt": "2024-01-01T00:00:00Z"},
		}}})
	case "/xrpc/app.bsky.notification.updateSeen":
		if !authed() {
			return
		}
		w.WriteHeader(http.StatusOK)
	case "/xrpc/app.bsky.feed.getPostThread":
		if !authed() {
			return
		}
		if r.URL.Query().Get("uri") == "at://did:plc:alice/app.bsky.feed.post/gone" {
			writeJSON(http.StatusOK, map[string]any{"thread": map[string]any{
				"$type":    "app.bsky.feed.defs#notFoundPost",
				"uri":      r.URL.Query().Get("uri"),
				"notFound": true,
			}})
			return
		}
		writeJSON(http.StatusOK, map[string]any{"thread": map[string]any{
			"$type": "app.bsky.feed.defs#threadViewPost",
			"post": map[string]any{
				"uri":       r.URL.Query().Get("uri"),
				"cid":       "bafyalice",
				"indexedAt": "2024-01-01T00:00:00Z",
				"author":    map[string]any{"did": "did:plc:alice", "handle": "alice.test"},
				"record":    map[string]any{"$type": "app.bsky.feed.post", "text": "look", "createdAt": "2024-01-01T00:00:00Z"},
				"embed": map[string]any{
					"$type": "app.bsky.embed.images#view",
					"images": []map[string]any{
						{"thumb": "https://cdn.test/thumb/1", "fullsize": "https://cdn.test/full/1", "alt": ""},
						{"thumb": "https://cdn.test/thumb/2", "fullsize": "https://cdn.test/full/2", "alt": ""},
					},
				},
			},
		}})
	case "/xrpc/com.atproto.repo.uploadBlob":
		if !authed() {
			return
		}
		data, err := io.ReadAll(r.Body)
		require.NoError(f.t, err)
		f.blobs = append(f.blobs, data)
		writeJSON(http.StatusOK, map[string]any{"blob": map[string]any{
			"$type":    "blob",
			"ref":      map[string]string{"$link": blobCID(f.t, data).String()},
			"mimeType": "image/png",
			"size":     len(data),
		}})
	case "/xrpc/com.atproto.repo.createRecord":
		if !authed() {
			return
		}
		var in comatproto.RepoCreateRecord_Input
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&in))
		f.records = append(f.records, in)
		writeJSON(http.StatusOK, map[string]any{"uri": "at://did:plc:gazo/app.bsky.feed.post/new", "cid": "bafynew"})
	case "/img/ok":
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	default:
		http.NotFound(w, r)
	}
}

func testClient(t *testing.T, password string) (*Client, *fakePDS, *httptest.Server) {
	t.Helper()
	pds := &fakePDS{t: t}
	srv := httptest.NewServer(pds)
	t.Cleanup(srv.Close)
	c := New(srv.URL, "gazo.test", password, WithHTTPClient(srv.Client()), WithMinRequestInterval(0))
	return c, pds, srv
}

func TestLogin(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	c, _, _ := testClient(t, "hunter2")
	assert.Equal("", c.DID())
	assert.NoError(c.Login(ctx))
	assert.Equal("did:plc:gazo", c.DID())
	assert.Equal("gazo.test", c.Handle())

	bad, _, _ := testClient(t, "wrong")
	err := bad.Login(ctx)
	var xe *xrpc.Error
	assert.ErrorAs(err, &xe)
	assert.Equal(http.StatusUnauthorized, xe.StatusCode)
	var body *xrpc.XRPCError
	assert.ErrorAs(err, &body)
	assert.Equal("AuthenticationRequired", body.ErrStr)
	assert.Equal("", bad.DID())

	missing := New("https://example.test", "", "", WithMinRequestInterval(0))
	assert.Error(missing.Login(ctx))
}

func TestRequestsRequireSession(t *testing.T) {
	c, _, _ := testClient(t, "hunter2")
	_, err := c.ListNotifications(context.Background(), 50)
	assert.ErrorContains(t, err, "not logged in")
}

func TestListNotificationsRefreshesExpiredToken(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	c, pds, _ := testClient(t, "hunter2")
	require.NoError(c.Login(ctx))
	pds.expired = true

	notifs, err := c.ListNotifications(ctx, 50)
	require.NoError(err)
	assert.Equal(1, pds.refreshes)
	require.Len(notifs, 1)
	assert.Equal("mention", notifs[0].Reason)

	post, err := FeedPost(notifs[0].Record)
	require.NoError(err)
	assert.Equal("@gazo.test ping", post.Text)
	assert.False(HasImages(post))

	_, err = c.ListNotifications(ctx, 0)
	assert.Error(err)

	assert.NoError(c.UpdateSeen(ctx, notifsTime(t)))
}

func TestExpiredTokenWithoutRefresh(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	c, pds, _ := testClient(t, "hunter2")
	assert.NoError(c.Login(ctx))
	assert.False(isExpiredToken(errors.New("ExpiredToken")))

	pds.mu.Lock()
	pds.accessJwt = "rotated"
	pds.mu.Unlock()
	_, err := c.ListNotifications(ctx, 50)
	var body *xrpc.XRPCError
	assert.ErrorAs(err, &body)
	assert.Equal("InvalidToken", body.ErrStr)
	assert.Equal(0, pds.refreshes)
}

func TestGetPostThreadImageURLs(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	c, _, _ := testClient(t, "hunter2")
	require.NoError(c.Login(ctx))

	thread, err := c.GetPostThread(ctx, "at://did:plc:alice/app.bsky.feed.post/1", 0)
	require.NoError(err)
	require.NotNil(thread)
	assert.Equal("bafyalice", thread.Post.Cid)
	assert.Equal([]string{"https://cdn.test/full/1", "https://cdn.test/full/2"}, ImageURLs(thread.Post))

	rec, err := FeedPost(thread.Post.Record)
	require.NoError(err)
	assert.Equal("look", rec.Text)

	gone, err := c.GetPostThread(ctx, "at://did:plc:alice/app.bsky.feed.post/gone", 0)
	require.NoError(err)
	assert.Nil(gone)
}

func TestCreatePostWithImage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	c, pds, _ := testClient(t, "hunter2")
	_, err := c.CreatePost(ctx, Post{Text: "before login"})
	assert.Error(err)
	require.NoError(c.Login(ctx))

	data := []byte("\x89PNG\r\n\x1a\nimage")
	img := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(os.WriteFile(img, data, 0o644))

	ref, err := c.CreatePost(ctx, Post{
		Text:      "",
		Reply:     ReplyTo("at://did:plc:alice/app.bsky.feed.post/1", "bafyalice"),
		ImagePath: img,
	})
	require.NoError(err)
	assert.Equal("bafynew", ref.Cid)

	require.Len(pds.blobs, 1)
	require.Len(pds.records, 1)
	assert.Equal("did:plc:gazo", pds.records[0].Repo)
	assert.Equal(FeedPostNSID, pds.records[0].Collection)

	rec, err := FeedPost(pds.records[0].Record)
	require.NoError(err)
	assert.True(HasImages(rec))
	require.Len(rec.Embed.EmbedImages.Images, 1)
	assert.Equal(blobCID(t, data).String(), cid.Cid(rec.Embed.EmbedImages.Images[0].Image.Ref).String())
	require.NotNil(rec.Reply)
	assert.Equal("bafyalice", rec.Reply.Parent.Cid)

	_, err = c.CreatePost(ctx, Post{Text: "missing", ImagePath: filepath.Join(t.TempDir(), "nope.png")})
	assert.Error(err)
}

func TestFetchImage(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	c, _, srv := testClient(t, "hunter2")
	data, err := c.FetchImage(ctx, srv.URL+"/img/ok")
	assert.NoError(err)
	assert.Equal("\x89PNG\r\n\x1a\nfake", string(data))

	_, err = c.FetchImage(ctx, srv.URL+"/img/missing")
	assert.ErrorContains(err, "404")
}

func TestRecordHelpers(t *testing.T) {
	assert := assert.New(t)

	_, err := FeedPost(nil)
	assert.Error(err)
	assert.False(HasImages(&bsky.FeedPost{Text: "plain"}))
	assert.True(HasImages(&bsky.FeedPost{Embed: &bsky.FeedPost_Embed{EmbedImages: &bsky.EmbedImages{}}}))
	assert.Nil(ImageURLs(&bsky.FeedDefs_PostView{}))

	reply := ReplyTo("at://x/app.bsky.feed.post/1", "bafyx")
	assert.Equal(reply.Root.Uri, reply.Parent.Uri)
}

func notifsTime(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	return ts
}
