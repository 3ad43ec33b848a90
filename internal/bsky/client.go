// Package bsky talks to a Bluesky appview over XRPC: it resolves handles to
// DIDs and fetches an account's recent posts.
package bsky

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/metrics"
	"github.com/Harshitk-cp/skytrust/internal/retry"
	"github.com/bluesky-social/indigo/atproto/syntax"
	"github.com/bluesky-social/indigo/xrpc"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultHost = "https://public.api.bsky.app"

	methodGetProfile    = "app.bsky.actor.getProfile"
	methodGetAuthorFeed = "app.bsky.feed.getAuthorFeed"

	// getAuthorFeed rejects limits above this.
	maxFeedLimit = 100
)

var ErrInvalidIdentifier = errors.New("invalid handle or did")

type Config struct {
	Host        string
	HTTPClient  *http.Client
	CacheSize   int
	CacheTTL    time.Duration
	RetryPolicy retry.Policy
	UserAgent   string
	// ResolveTimeout bounds a coalesced handle resolution, which outlives
	// the caller that started it.
	ResolveTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:      DefaultHost,
		CacheSize: 10_000,
		CacheTTL:  time.Hour,
		RetryPolicy: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   500 * time.Millisecond,
			ThrottledBackoff: 5 * time.Second,
		},
		UserAgent:      "skytrust",
		ResolveTimeout: 30 * time.Second,
	}
}

// Client implements domain.IdentityResolver and domain.PostFetcher.
type Client struct {
	xrpc     *xrpc.Client
	logger   *zap.Logger
	policy   retry.Policy
	resolved *expirable.LRU[string, string]
	inflight singleflight.Group
	// resolveTimeout bounds the shared call behind inflight.
	resolveTimeout time.Duration
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10_000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 30 * time.Second
	}

	c := &xrpc.Client{
		Client: cfg.HTTPClient,
		Host:   strings.TrimRight(cfg.Host, "/"),
	}
	if cfg.UserAgent != "" {
		ua := cfg.UserAgent
		c.UserAgent = &ua
	}

	cl := &Client{
		xrpc:     c,
		logger:   logger,
		policy:   cfg.RetryPolicy,
		resolved: expirable.NewLRU[string, string](cfg.CacheSize, nil, cfg.CacheTTL),

		resolveTimeout: cfg.ResolveTimeout,
	}
	cl.policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("xrpc request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return cl
}

// ResolveHandle returns the DID for a handle. DIDs are returned unchanged.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(handle), "@")

	if did, err := syntax.ParseDID(raw); err == nil {
		return did.String(), nil
	}
	h, err := syntax.ParseHandle(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, handle)
	}
	key := h.Normalize().String()

	if did, ok := c.resolved.Get(key); ok {
		metrics.ResolveCacheHits.Inc()
		return did, nil
	}

	// The shared call is detached from any one caller, so a waiter that
	// gives up does not fail the others coalesced onto it.
	ch := c.inflight.DoChan(key, func() (interface{}, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.resolveTimeout)
		defer cancel()

		profile, err := retry.Do(sctx, c.policy, classify, func(ctx context.Context) (*profileView, error) {
			var out profileView
			err := c.query(ctx, methodGetProfile, map[string]interface{}{"actor": key}, &out)
			return &out, err
		})
		if err != nil {
			return "", err
		}

		did, err := syntax.ParseDID(profile.DID)
		if err != nil {
			return "", fmt.Errorf("%w: profile returned invalid did %q", domain.ErrMalformedResponse, profile.DID)
		}
		c.resolved.Add(key, did.String())
		return did.String(), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", wrapUpstream(res.Err)
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", wrapUpstream(ctx.Err())
	}
}

// FetchRecentPosts returns up to limit of the actor's most recent feed
// items, newest first, in the order the appview returned them.
func (c *Client) FetchRecentPosts(ctx context.Context, actor string, limit int) ([]domain.Post, error) {
	if limit <= 0 {
		return []domain.Post{}, nil
	}
	if limit > maxFeedLimit {
		limit = maxFeedLimit
	}

	feed, err := retry.Do(ctx, c.policy, classify, func(ctx context.Context) (*authorFeed, error) {
		var out authorFeed
		err := c.query(ctx, methodGetAuthorFeed, map[string]interface{}{
			"actor": actor,
			"limit": limit,
		}, &out)
		return &out, err
	})
	if err != nil {
		return nil, wrapUpstream(err)
	}

	posts := make([]domain.Post, 0, len(feed.Feed))
	for _, item := range feed.Feed {
		if item.Post == nil {
			continue
		}
		p := domain.Post{
			ID:  item.Post.URI,
			CID: item.Post.CID,
		}
		if item.Post.Author != nil {
			p.Author = item.Post.Author.DID
		}
		if item.Post.Record != nil {
			p.Text = item.Post.Record.Text
		}
		posts = append(posts, p)
		if len(posts) == limit {
			break
		}
	}
	return posts, nil
}

func (c *Client) query(ctx context.Context, method string, params map[string]interface{}, out interface{}) error {
	err := c.xrpc.Do(ctx, xrpc.Query, "", method, params, nil, out)
	metrics.XRPCRequests.WithLabelValues(method, outcome(err)).Inc()
	return err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var xe *xrpc.Error
	if errors.As(err, &xe) && xe.IsThrottled() {
		return "throttled"
	}
	return "error"
}

// classify retries throttling, server errors and transport failures.
// Client errors such as an unknown actor are permanent.
func classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	var xe *xrpc.Error
	if errors.As(err, &xe) {
		switch {
		case xe.IsThrottled():
			return retry.Throttle
		case xe.StatusCode >= 500:
			return retry.Retry
		default:
			return retry.Stop
		}
	}
	return retry.Retry
}

func wrapUpstream(err error) error {
	if errors.Is(err, domain.ErrMalformedResponse) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
}

type profileView struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type authorFeed struct {
	Cursor *string        `json:"cursor,omitempty"`
	Feed   []feedViewPost `json:"feed"`
}

type feedViewPost struct {
	Post *postView `json:"post"`
}

type postView struct {
	URI    string      `json:"uri"`
	CID    string      `json:"cid"`
	Author *authorView `json:"author"`
	Record *postRecord `json:"record"`
}

type authorView struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type postRecord struct {
	Text string `json:"text"`
}
