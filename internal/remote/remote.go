// Package remote is the engine's view of the social service: timeline
// fetches, status updates, favorites, retweets and rate-limit queries.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/msageha/statusd/internal/model"
)

// ErrNotFound reports that the remote item does not exist.
var ErrNotFound = errors.New("remote: not found")

// TimelineResult summarizes one timeline refresh.
type TimelineResult struct {
	// Added is the number of new items stored.
	Added int
	// Mentions is the number of new items that mention the account.
	Mentions int
}

// Status is the remote view of one item after a mutation.
type Status struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Favorited bool   `json:"favorited"`
}

type RateLimit struct {
	Remaining int `json:"remaining_hits"`
	Limit     int `json:"hourly_limit"`
}

// Connector performs the remote calls. Any transport or API failure is
// returned as a non-nil error.
type Connector interface {
	FetchTimeline(ctx context.Context, tl model.Timeline) (TimelineResult, error)
	UpdateStatus(ctx context.Context, text, inReplyToID string) (Status, error)
	DestroyStatus(ctx context.Context, id string) error
	Favorite(ctx context.Context, id string, create bool) (Status, error)
	Retweet(ctx context.Context, id string) (Status, error)
	RateLimitStatus(ctx context.Context) (RateLimit, error)
}

// Resolver maps local item ids to remote ids.
type Resolver interface {
	RemoteID(ctx context.Context, localID int64) (string, error)
}

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Code, e.Body)
}
