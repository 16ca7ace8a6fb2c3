package engine

import (
	"context"

	"github.com/msageha/statusd/internal/events"
	"github.com/msageha/statusd/internal/metrics"
	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/remote"
)

const maxFetchPasses = 2

type fetchState int

const (
	fetchPending fetchState = iota
	fetchDone
	fetchFailed
)

// fetchOutcome is the result of refreshing a set of timelines.
type fetchOutcome struct {
	ok       bool
	home     int
	mentions int
	direct   int
}

// loadTimelines refreshes each timeline in order. Timelines that fail are
// tried once more in a second pass, but only when at least one succeeded
// in the first.
func (e *Engine) loadTimelines(ctx context.Context, timelines []model.Timeline) fetchOutcome {
	states := make([]fetchState, len(timelines))
	results := make([]remote.TimelineResult, len(timelines))

	for pass := 1; pass <= maxFetchPasses; pass++ {
		anyDone, anyFailed := false, false
		for i, tl := range timelines {
			if states[i] == fetchDone {
				continue
			}
			res, err := e.connector.FetchTimeline(ctx, tl)
			if err != nil {
				states[i] = fetchFailed
				anyFailed = true
				e.logger.Warnf("fetch_failed timeline=%s pass=%d error=%v", tl, pass, err)
				continue
			}
			states[i] = fetchDone
			results[i] = res
			anyDone = true
			if !e.isRestored() {
				e.logger.Warnf("fetch_stopped timeline=%s error=%v", tl, ErrNotRestored)
				return fetchOutcome{}
			}
		}
		if !anyFailed || (pass == 1 && !anyDone) {
			break
		}
	}

	out := fetchOutcome{ok: true}
	for i, tl := range timelines {
		if states[i] != fetchDone {
			out.ok = false
			continue
		}
		switch tl {
		case model.TimelineHome:
			out.home = results[i].Added
			out.mentions += results[i].Mentions
		case model.TimelineMentions:
			out.mentions += results[i].Added
		case model.TimelineDirect:
			out.direct = results[i].Added
		}
	}
	return out
}

func (e *Engine) isRestored() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restored
}

// notifyOfUpdatedTimeline reports new-item counts to the listeners and the
// notifier. The notifier always hears about the home timeline when nothing
// else was announced.
func (e *Engine) notifyOfUpdatedTimeline(out fetchOutcome, snap events.Snapshot) {
	counts := []struct {
		tl    model.Timeline
		count int
	}{
		{model.TimelineHome, out.home},
		{model.TimelineMentions, out.mentions},
		{model.TimelineDirect, out.direct},
	}
	for _, c := range counts {
		if c.count > 0 {
			metrics.NewItems.WithLabelValues(string(c.tl)).Add(float64(c.count))
			e.registry.Broadcast(snap, events.NewItems(c.tl, c.count))
		}
	}
	e.registry.Broadcast(snap, events.DataLoading(false))

	notified := false
	if out.mentions > 0 {
		notified = true
		e.notifier.NewItems(model.TimelineMentions, out.mentions)
	}
	if out.direct > 0 {
		notified = true
		e.notifier.NewItems(model.TimelineDirect, out.direct)
	}
	if out.home > 0 || !notified {
		e.notifier.NewItems(model.TimelineHome, out.home)
	}
}
