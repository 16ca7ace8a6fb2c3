// Package events carries engine outcomes to registered listeners.
package events

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/statusd/internal/model"
)

// EventType represents the type of event being broadcast.
type EventType string

const (
	// EventNewItems reports items added to a timeline.
	EventNewItems EventType = "new_items"
	// EventDataLoading reports the loading state of a timeline refresh.
	EventDataLoading EventType = "data_loading"
	// EventRateLimit carries a rate-limit snapshot.
	EventRateLimit EventType = "rate_limit"
	// EventAbandoned is broadcast when a command exhausts its retry budget.
	EventAbandoned EventType = "abandoned"
)

// Event is one broadcast payload. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Timeline  model.Timeline `json:"timeline,omitempty"`
	Count     int            `json:"count,omitempty"`
	Loading   bool           `json:"loading,omitempty"`
	Remaining int            `json:"remaining,omitempty"`
	Limit     int            `json:"limit,omitempty"`
	Command   model.Kind     `json:"command,omitempty"`
	ItemID    int64          `json:"item_id,omitempty"`
}

func NewItems(tl model.Timeline, count int) Event {
	return Event{Type: EventNewItems, Timeline: tl, Count: count}
}

func DataLoading(loading bool) Event {
	return Event{Type: EventDataLoading, Loading: loading}
}

func RateLimit(remaining, limit int) Event {
	return Event{Type: EventRateLimit, Remaining: remaining, Limit: limit}
}

func Abandoned(cmd model.Command) Event {
	return Event{Type: EventAbandoned, Command: cmd.Kind, ItemID: cmd.ItemID}
}

// Listener receives broadcast events. A returned error is logged and does
// not affect other listeners.
type Listener interface {
	HandleEvent(Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event) error

func (f ListenerFunc) HandleEvent(ev Event) error { return f(ev) }

type entry struct {
	id string
	l  Listener
}

// Registry is the set of currently registered listeners.
type Registry struct {
	mu        sync.RWMutex
	listeners map[string]Listener
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewRegistry(logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		listeners: make(map[string]Listener),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register adds l under id, replacing any listener with the same id.
// Returns an unregister function.
func (r *Registry) Register(id string, l Listener) func() {
	r.mu.Lock()
	r.listeners[id] = l
	r.mu.Unlock()
	return func() { r.Unregister(id) }
}

// Unregister removes the listener registered under id. It reports whether
// one was present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.listeners[id]; !ok {
		return false
	}
	delete(r.listeners, id)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// IDs returns the registered listener ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Snapshot is the listener set at one point in time. Listeners registered
// after it is taken do not receive its broadcasts.
type Snapshot struct {
	entries []entry
}

func (s Snapshot) Len() int { return len(s.entries) }

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]entry, 0, len(r.listeners))
	for id, l := range r.listeners {
		entries = append(entries, entry{id: id, l: l})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	return Snapshot{entries: entries}
}

// Broadcast delivers ev to every listener in snap, in id order. A failing
// or panicking listener is logged and skipped. Returns the number of
// listeners that accepted the event.
func (r *Registry) Broadcast(snap Snapshot, ev Event) int {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}
	delivered := 0
	for _, e := range snap.entries {
		if err := deliver(e.l, ev); err != nil {
			r.logger.Warnf("listener_failed listener=%s event=%s error=%v", e.id, ev.Type, err)
			continue
		}
		delivered++
	}
	return delivered
}

func deliver(l Listener, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return l.HandleEvent(ev)
}
