package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/logging"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// RemoteLedger lets an out-of-process worker drive the pipeline through the
// server's internal job endpoints. It satisfies domain.JobQueue and
// domain.ScoreStore.
type RemoteLedger struct {
	base   string
	client *http.Client
	logger *zap.Logger
}

type RemoteOption func(*retryablehttp.Client)

func WithRetryMax(n int) RemoteOption {
	return func(c *retryablehttp.Client) {
		c.RetryMax = n
	}
}

func WithRetryWait(min, max time.Duration) RemoteOption {
	return func(c *retryablehttp.Client) {
		c.RetryWaitMin = min
		c.RetryWaitMax = max
	}
}

func NewRemoteLedger(apiBase string, logger *zap.Logger, opts ...RemoteOption) *RemoteLedger {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = retryablehttp.LeveledLogger(logging.NewLeveled(logger.With(zap.String("subsystem", "remote-ledger"))))
	for _, opt := range opts {
		opt(rc)
	}

	client := rc.StandardClient()
	client.Timeout = 30 * time.Second

	return &RemoteLedger{
		base:   strings.TrimRight(apiBase, "/"),
		client: client,
		logger: logger,
	}
}

func (r *RemoteLedger) ClaimNext(ctx context.Context) (*domain.Job, error) {
	resp, err := r.do(ctx, http.MethodGet, "/internal/jobs/next", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var job domain.Job
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			return nil, fmt.Errorf("%w: decode job: %w", domain.ErrMalformedResponse, err)
		}
		if job.ID == "" || job.Identity == "" {
			return nil, fmt.Errorf("%w: job without id or did", domain.ErrMalformedResponse)
		}
		return &job, nil
	default:
		return nil, statusError(resp)
	}
}

func (r *RemoteLedger) MarkDone(ctx context.Context, id string) error {
	resp, err := r.do(ctx, http.MethodPost, "/internal/jobs/score/"+url.PathEscape(id)+"/done", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	return nil
}

func (r *RemoteLedger) Fail(ctx context.Context, id string, attempt int, reason string) error {
	body := map[string]any{"reason": reason, "attempt": attempt}
	resp, err := r.do(ctx, http.MethodPost, "/internal/jobs/score/"+url.PathEscape(id)+"/fail", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrJobNotFound
	}
	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	return nil
}

func (r *RemoteLedger) GetScores(ctx context.Context, identity string) (domain.UserScoreDocument, error) {
	resp, err := r.do(ctx, http.MethodGet, "/internal/scores/"+url.PathEscape(identity), nil)
	if err != nil {
		return domain.UserScoreDocument{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.UserScoreDocument{}, statusError(resp)
	}

	var doc domain.UserScoreDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return domain.UserScoreDocument{}, fmt.Errorf("%w: decode scores: %w", domain.ErrMalformedResponse, err)
	}
	return doc, nil
}

func (r *RemoteLedger) PutScores(ctx context.Context, identity string, doc domain.UserScoreDocument) error {
	doc.Identity = identity
	resp, err := r.do(ctx, http.MethodPost, "/internal/upsert/scores", doc)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	return nil
}

func (r *RemoteLedger) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.base+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrUpstreamUnavailable, method, path, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%w: %s %s returned %d: %s",
		domain.ErrUpstreamUnavailable, resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
}
