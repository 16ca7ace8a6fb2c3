package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/msageha/statusd/internal/model"
)

var _ Connector = (*HTTPConnector)(nil)

// HTTPConnector talks JSON over HTTP to the service API:
//
//	GET    /timelines/{home|mentions|direct}?since_id=
//	POST   /statuses
//	DELETE /statuses/{id}
//	POST   /statuses/{id}/retweet
//	POST   /favorites/{id}, DELETE /favorites/{id}
//	GET    /rate_limit_status
type HTTPConnector struct {
	base    *url.URL
	token   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	sinceID map[model.Timeline]string
}

type HTTPOption func(*HTTPConnector)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPConnector) { h.client = c }
}

func WithHTTPLogger(l *zap.SugaredLogger) HTTPOption {
	return func(h *HTTPConnector) { h.logger = l }
}

// NewHTTPConnector builds a connector from config. A zero
// rate_limit_per_sec disables client-side throttling.
func NewHTTPConnector(cfg model.RemoteConfig, opts ...HTTPOption) (*HTTPConnector, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote.base_url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote.base_url: %w", err)
	}
	h := &HTTPConnector{
		base:    base,
		token:   cfg.Token,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		logger:  zap.NewNop().Sugar(),
		sinceID: make(map[model.Timeline]string),
	}
	if cfg.RateLimitPerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), burst)
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

type timelineItem struct {
	ID       string `json:"id"`
	Mentions bool   `json:"mentions_me"`
}

type timelinePage struct {
	Items []timelineItem `json:"items"`
}

func (h *HTTPConnector) FetchTimeline(ctx context.Context, tl model.Timeline) (TimelineResult, error) {
	h.mu.Lock()
	since := h.sinceID[tl]
	h.mu.Unlock()

	q := url.Values{}
	if since != "" {
		q.Set("since_id", since)
	}
	var page timelinePage
	if err := h.do(ctx, "fetch "+string(tl), http.MethodGet, "/timelines/"+string(tl), q, nil, &page); err != nil {
		return TimelineResult{}, err
	}

	res := TimelineResult{Added: len(page.Items)}
	for _, it := range page.Items {
		if it.Mentions {
			res.Mentions++
		}
	}
	if len(page.Items) > 0 {
		h.mu.Lock()
		h.sinceID[tl] = page.Items[0].ID
		h.mu.Unlock()
	}
	return res, nil
}

func (h *HTTPConnector) UpdateStatus(ctx context.Context, text, inReplyToID string) (Status, error) {
	body := map[string]string{"status": text}
	if inReplyToID != "" {
		body["in_reply_to_id"] = inReplyToID
	}
	var st Status
	err := h.do(ctx, "update status", http.MethodPost, "/statuses", nil, body, &st)
	return st, err
}

func (h *HTTPConnector) DestroyStatus(ctx context.Context, id string) error {
	return h.do(ctx, "destroy status", http.MethodDelete, "/statuses/"+url.PathEscape(id), nil, nil, nil)
}

func (h *HTTPConnector) Favorite(ctx context.Context, id string, create bool) (Status, error) {
	method, op := http.MethodPost, "create favorite"
	if !create {
		method, op = http.MethodDelete, "destroy favorite"
	}
	var st Status
	err := h.do(ctx, op, method, "/favorites/"+url.PathEscape(id), nil, nil, &st)
	return st, err
}

func (h *HTTPConnector) Retweet(ctx context.Context, id string) (Status, error) {
	var st Status
	err := h.do(ctx, "retweet", http.MethodPost, "/statuses/"+url.PathEscape(id)+"/retweet", nil, nil, &st)
	return st, err
}

func (h *HTTPConnector) RateLimitStatus(ctx context.Context) (RateLimit, error) {
	var rl RateLimit
	err := h.do(ctx, "rate limit status", http.MethodGet, "/rate_limit_status", nil, nil, &rl)
	return rl, err
}

func (h *HTTPConnector) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter: %w", op, err)
		}
	}

	u := *h.base
	u.Path += path
	u.RawQuery = query.Encode()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	h.logger.Debugf("remote_request op=%q method=%s path=%s status=%d duration=%s",
		op, method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
