package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/msageha/statusd/internal/events"
	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/remote"
)

var errBoom = errors.New("boom")

// failFirst returns a func that fails the first n calls and then succeeds.
func failFirst(n int) func() error {
	var calls atomic.Int32
	return func() error {
		if int(calls.Add(1)) <= n {
			return errBoom
		}
		return nil
	}
}

type fakeConnector struct {
	mu    sync.Mutex
	calls []string

	fetch     func(tl model.Timeline) (remote.TimelineResult, error)
	update    func(text, replyTo string) (remote.Status, error)
	destroy   func(id string) error
	favorite  func(id string, create bool) (remote.Status, error)
	retweet   func(id string) (remote.Status, error)
	rateLimit func() (remote.RateLimit, error)
}

func (f *fakeConnector) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeConnector) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeConnector) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeConnector) FetchTimeline(_ context.Context, tl model.Timeline) (remote.TimelineResult, error) {
	f.record("fetch:" + string(tl))
	if f.fetch == nil {
		return remote.TimelineResult{}, nil
	}
	return f.fetch(tl)
}

func (f *fakeConnector) UpdateStatus(_ context.Context, text, replyTo string) (remote.Status, error) {
	f.record("update:" + text)
	if f.update == nil {
		return remote.Status{ID: "1", Text: text}, nil
	}
	return f.update(text, replyTo)
}

func (f *fakeConnector) DestroyStatus(_ context.Context, id string) error {
	f.record("destroy:" + id)
	if f.destroy == nil {
		return nil
	}
	return f.destroy(id)
}

func (f *fakeConnector) Favorite(_ context.Context, id string, create bool) (remote.Status, error) {
	if create {
		f.record("favorite:" + id)
	} else {
		f.record("unfavorite:" + id)
	}
	if f.favorite == nil {
		return remote.Status{ID: id, Favorited: create}, nil
	}
	return f.favorite(id, create)
}

func (f *fakeConnector) Retweet(_ context.Context, id string) (remote.Status, error) {
	f.record("retweet:" + id)
	if f.retweet == nil {
		return remote.Status{ID: id}, nil
	}
	return f.retweet(id)
}

func (f *fakeConnector) RateLimitStatus(context.Context) (remote.RateLimit, error) {
	f.record("rate-limit")
	if f.rateLimit == nil {
		return remote.RateLimit{}, nil
	}
	return f.rateLimit()
}

type fakeAlarm struct {
	mu        sync.Mutex
	scheduled []time.Duration
	cancels   int
	active    bool
}

func (a *fakeAlarm) Schedule(d time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scheduled = append(a.scheduled, d)
	a.active = true
	return nil
}

func (a *fakeAlarm) Cancel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancels++
	was := a.active
	a.active = false
	return was
}

func (a *fakeAlarm) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *fakeAlarm) Scheduled() []time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Duration(nil), a.scheduled...)
}

type itemNote struct {
	tl    model.Timeline
	count int
}

type queueNote struct {
	count int
	clear bool
}

type fakeNotifier struct {
	mu     sync.Mutex
	items  []itemNote
	queues []queueNote
}

func (n *fakeNotifier) NewItems(tl model.Timeline, count int) {
	n.mu.Lock()
	n.items = append(n.items, itemNote{tl, count})
	n.mu.Unlock()
}

func (n *fakeNotifier) Queue(count int, clear bool) {
	n.mu.Lock()
	n.queues = append(n.queues, queueNote{count, clear})
	n.mu.Unlock()
}

func (n *fakeNotifier) Items() []itemNote {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]itemNote(nil), n.items...)
}

func (n *fakeNotifier) LastQueue() (queueNote, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queues) == 0 {
		return queueNote{}, false
	}
	return n.queues[len(n.queues)-1], true
}

type fakeWake struct {
	acquired atomic.Int32
	released atomic.Int32
	held     atomic.Bool
}

func (w *fakeWake) TryLock() error {
	if !w.held.CompareAndSwap(false, true) {
		return errors.New("wake lock already held")
	}
	w.acquired.Add(1)
	return nil
}

func (w *fakeWake) Unlock() error {
	if !w.held.CompareAndSwap(true, false) {
		return errors.New("wake lock not held")
	}
	w.released.Add(1)
	return nil
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) HandleEvent(ev events.Event) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) OfType(t events.EventType) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
