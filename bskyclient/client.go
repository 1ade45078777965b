package bskyclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gazobot/gazobot/pkg/robusthttp"

	comatproto "github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/carlmjohnson/versioninfo"
	"golang.org/x/time/rate"
)

const DefaultHost = "https://bsky.social"

type Client struct {
	// HTTPClient carries both XRPC calls and CDN image downloads.
	HTTPClient *http.Client
	Host       string
	UserAgent  string

	identifier string
	password   string

	limiter *rate.Limiter
	logger  *slog.Logger

	// lk guards the session in xrpcc.Auth
	lk    sync.Mutex
	xrpcc *xrpc.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.HTTPClient = c
	}
}

// WithMinRequestInterval spaces consecutive API requests at least d apart.
func WithMinRequestInterval(d time.Duration) Option {
	return func(cl *Client) {
		if d <= 0 {
			cl.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		cl.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// New creates a client for the account. No request is made until Login.
func New(host, identifier, password string, opts ...Option) *Client {
	if host == "" {
		host = DefaultHost
	}
	c := &Client{
		Host:       strings.TrimSuffix(host, "/"),
		UserAgent:  "gazobot/" + versioninfo.Short(),
		identifier: identifier,
		password:   password,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.HTTPClient == nil {
		c.HTTPClient = robusthttp.NewClient()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("system", "bskyclient")
	c.xrpcc = c.newXRPC(nil)
	return c
}

func (c *Client) newXRPC(auth *xrpc.AuthInfo) *xrpc.Client {
	ua := c.UserAgent
	return &xrpc.Client{
		Client:    c.HTTPClient,
		Host:      c.Host,
		UserAgent: &ua,
		Auth:      auth,
	}
}

// Login creates a fresh password session, replacing any current one.
func (c *Client) Login(ctx context.Context) error {
	c.logger.Info("creating session", "identifier", c.identifier)
	if c.identifier == "" || c.password == "" {
		return fmt.Errorf("missing account identifier or password")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	out, err := comatproto.ServerCreateSession(ctx, c.newXRPC(nil), &comatproto.ServerCreateSession_Input{
		Identifier: c.identifier,
		Password:   c.password,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	c.lk.Lock()
	c.xrpcc = c.newXRPC(&xrpc.AuthInfo{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Handle:     out.Handle,
		Did:        out.Did,
	})
	c.lk.Unlock()
	return nil
}

// ResetSession discards the current session and logs in again.
func (c *Client) ResetSession(ctx context.Context) error {
	return c.Login(ctx)
}

// DID of the logged-in account, or "" before Login.
func (c *Client) DID() string {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.xrpcc.Auth == nil {
		return ""
	}
	return c.xrpcc.Auth.Did
}

func (c *Client) Handle() string {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.xrpcc.Auth == nil {
		return ""
	}
	return c.xrpcc.Auth.Handle
}

func (c *Client) session() (*xrpc.Client, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	if c.xrpcc.Auth == nil {
		return nil, fmt.Errorf("not logged in")
	}
	return c.xrpcc, nil
}

func (c *Client) refresh(ctx context.Context) error {
	c.logger.Info("refreshing session")
	cur, err := c.session()
	if err != nil {
		return err
	}
	// refreshSession authenticates with the refresh token in place of the access token
	rc := c.newXRPC(&xrpc.AuthInfo{
		AccessJwt:  cur.Auth.RefreshJwt,
		RefreshJwt: cur.Auth.RefreshJwt,
		Handle:     cur.Auth.Handle,
		Did:        cur.Auth.Did,
	})
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	out, err := comatproto.ServerRefreshSession(ctx, rc)
	if err != nil {
		return err
	}
	c.lk.Lock()
	c.xrpcc = c.newXRPC(&xrpc.AuthInfo{
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
		Handle:     out.Handle,
		Did:        out.Did,
	})
	c.lk.Unlock()
	return nil
}

// call runs an authenticated API call, refreshing the session and retrying once when the access
// token has expired.
func (c *Client) call(ctx context.Context, fn func(*xrpc.Client) error) error {
	xc, err := c.session()
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	err = fn(xc)
	if !isExpiredToken(err) {
		return err
	}
	if rerr := c.refresh(ctx); rerr != nil {
		return fmt.Errorf("refreshing expired session: %w", rerr)
	}
	if xc, err = c.session(); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(xc)
}

func isExpiredToken(err error) bool {
	var xe *xrpc.XRPCError
	return errors.As(err, &xe) && xe.ErrStr == "ExpiredToken"
}
