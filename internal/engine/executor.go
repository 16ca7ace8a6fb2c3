package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/msageha/statusd/internal/events"
	"github.com/msageha/statusd/internal/metrics"
	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/remote"
)

type result struct {
	ok  bool
	err error
}

func succeeded() result       { return result{ok: true} }
func failed(err error) result { return result{err: err} }

// execute runs one command against the remote service. It is called
// without the engine mutex.
func (e *Engine) execute(ctx context.Context, cmd model.Command, snap events.Snapshot) result {
	start := time.Now()
	res := e.dispatch(ctx, cmd, snap)

	label := "ok"
	if !res.ok {
		label = "failed"
	}
	metrics.CommandsExecuted.WithLabelValues(cmd.Kind.String(), label).Inc()
	metrics.ExecutionDuration.WithLabelValues(cmd.Kind.String()).Observe(time.Since(start).Seconds())
	return res
}

func (e *Engine) dispatch(ctx context.Context, cmd model.Command, snap events.Snapshot) result {
	switch cmd.Kind {
	case model.KindAutomaticUpdate, model.KindFetchAllTimelines,
		model.KindFetchHome, model.KindFetchMentions, model.KindFetchDirectMessages:
		out := e.loadTimelines(ctx, cmd.Kind.Timelines())
		if !out.ok {
			return failed(errFetchIncomplete)
		}
		e.notifyOfUpdatedTimeline(out, snap)
		return succeeded()

	case model.KindCreateFavorite, model.KindDestroyFavorite:
		return e.favorite(ctx, cmd, cmd.Kind == model.KindCreateFavorite)

	case model.KindUpdateStatus:
		res := e.updateStatus(ctx, cmd)
		if res.ok {
			e.registry.Broadcast(snap, events.NewItems(model.TimelineHome, 1))
		}
		return res

	case model.KindDestroyStatus:
		id, err := e.resolver.RemoteID(ctx, cmd.ItemID)
		if err != nil {
			return failed(err)
		}
		err = e.connector.DestroyStatus(ctx, id)
		if errors.Is(err, remote.ErrNotFound) {
			e.logger.Debugf("destroy_status_not_found id=%s", id)
			return succeeded()
		}
		if err != nil {
			return failed(err)
		}
		return succeeded()

	case model.KindRetweet:
		id, err := e.resolver.RemoteID(ctx, cmd.ItemID)
		if err != nil {
			return failed(err)
		}
		if _, err := e.connector.Retweet(ctx, id); err != nil {
			return failed(err)
		}
		e.registry.Broadcast(snap, events.NewItems(model.TimelineHome, 1))
		return succeeded()

	case model.KindRateLimitStatus:
		rl, err := e.connector.RateLimitStatus(ctx)
		if err != nil {
			return failed(err)
		}
		e.registry.Broadcast(snap, events.RateLimit(rl.Remaining, rl.Limit))
		return succeeded()

	case model.KindNotifyQueue, model.KindNotifyClear:
		var after deferred
		e.mu.Lock()
		e.queueNoteLocked(cmd.Kind == model.KindNotifyClear, &after)
		e.mu.Unlock()
		after.run()
		return succeeded()

	default:
		e.logger.Errorf("unexpected_command %s", cmd)
		return failed(errUnexpectedCommand)
	}
}

var (
	errUnexpectedCommand = errors.New("unexpected command")
	errFetchIncomplete   = errors.New("some timelines failed to load")
)

// favorite treats a create answered with favorited=false as done; a
// destroy answered with favorited=true has not taken effect.
func (e *Engine) favorite(ctx context.Context, cmd model.Command, create bool) result {
	id, err := e.resolver.RemoteID(ctx, cmd.ItemID)
	if err != nil {
		return failed(err)
	}
	st, err := e.connector.Favorite(ctx, id, create)
	if err != nil {
		return failed(err)
	}
	if st.Favorited != create {
		if create {
			e.logger.Warnf("favorite_not_reflected id=%s favorited=%t assuming=ok", id, st.Favorited)
			return succeeded()
		}
		return failed(errors.New("item is still favorited"))
	}
	return succeeded()
}

func (e *Engine) updateStatus(ctx context.Context, cmd model.Command) result {
	text := strings.TrimSpace(cmd.StringParam(model.ParamStatus))
	var replyTo string
	if local := cmd.Int64Param(model.ParamInReplyToID); local != 0 {
		id, err := e.resolver.RemoteID(ctx, local)
		if err != nil {
			return failed(err)
		}
		replyTo = id
	}
	if _, err := e.connector.UpdateStatus(ctx, text, replyTo); err != nil {
		return failed(err)
	}
	return succeeded()
}

// commit applies the retry policy to an executed command.
func (e *Engine) commit(cmd model.Command, res result, snap events.Snapshot) {
	key := cmd.Key()
	kind := cmd.Kind.String()
	abandoned := false

	e.mu.Lock()
	e.inflight = nil
	switch {
	case res.ok:
		e.forgetLocked(key)
		e.logger.Debugf("command_succeeded %s", cmd)

	case !cmd.Kind.IsRetryable():
		e.forgetLocked(key)
		e.logger.Warnf("command_failed %s error=%v", cmd, res.err)

	default:
		left, ok := e.retries[key]
		if !ok || left < 0 {
			left = e.retryBudget
			e.retries[key] = left
		}
		switch {
		case left <= 0:
			abandoned = true
			e.forgetLocked(key)
			metrics.CommandsAbandoned.WithLabelValues(kind).Inc()
			e.logger.Errorf("command_abandoned %s error=%v", cmd, res.err)
		case !e.restored:
			e.forgetLocked(key)
			e.logger.Errorf("retry_dropped %s error=%v", cmd, ErrNotRestored)
		case e.queues.Retry.Contains(key):
			e.logger.Debugf("retry_duplicate %s retries_left=%d", cmd, left)
		case !e.queues.Retry.Offer(cmd):
			metrics.QueueFull.WithLabelValues("retry").Inc()
			e.forgetLocked(key)
			e.logger.Errorf("enqueue_failed queue=retry %s capacity=%d error=%v", cmd, e.queues.Retry.Cap(), ErrQueueFull)
		default:
			metrics.CommandsRetried.WithLabelValues(kind).Inc()
			e.logger.Infof("command_retry_scheduled %s retries_left=%d error=%v", cmd, left, res.err)
		}
	}
	e.observeDepthLocked()
	e.mu.Unlock()

	if abandoned {
		e.registry.Broadcast(snap, events.Abandoned(cmd))
	}
}
