// Package engine is the command dispatch engine: it deduplicates and queues
// submitted commands, executes them one at a time against the remote
// service, retries failed mutations with a bounded budget and persists
// unfinished work across restarts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/statusd/internal/events"
	"github.com/msageha/statusd/internal/metrics"
	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/queue"
	"github.com/msageha/statusd/internal/remote"
	"github.com/msageha/statusd/internal/store"
)

// Preferences is the preference store the engine reads and writes.
type Preferences interface {
	Contains(scope, key string) bool
	Bool(scope, key string, def bool) bool
	Int64(scope, key string, def int64) int64
	PutBool(scope, key string, v bool) error
	PutLong(scope, key string, v int64) error
	PutString(scope, key, v string) error
	// ChangeTime and ExamineTime are unix milliseconds.
	ChangeTime() int64
	ExamineTime() int64
	SetExamineTime(ms int64) error
	Now() int64
}

// Alarm is the repeating AutomaticUpdate trigger.
type Alarm interface {
	Schedule(d time.Duration) error
	Cancel() bool
}

// Notifier renders outcomes for the user.
type Notifier interface {
	NewItems(tl model.Timeline, count int)
	// Queue shows the pending-command indicator, or clears it when clear
	// is set or count is zero.
	Queue(count int, clear bool)
}

// WakeLock is held while the executor runs.
type WakeLock interface {
	TryLock() error
	Unlock() error
}

type Config struct {
	Capacity    int
	RetryBudget int
	// StoreName prefixes the persisted queue names.
	StoreName string
	// FetchFrequency is the alarm interval when the fetch_frequency
	// preference is unset.
	FetchFrequency time.Duration
}

// Deps are the engine's collaborators. Store, Connector and Prefs are
// required; the rest default to no-ops.
type Deps struct {
	Store      store.Store
	Connector  remote.Connector
	Resolver   remote.Resolver
	Prefs      Preferences
	Alarm      Alarm
	Notifier   Notifier
	Registry   *events.Registry
	WakeLock   WakeLock
	Online     func(context.Context) bool
	Foreground func() bool
	// OnIdle runs in its own goroutine when an executor run ends with both
	// queues empty and nothing in the foreground.
	OnIdle func()
	Logger *zap.SugaredLogger
}

// Engine owns the queue pair, the retry state and the lifecycle guard.
// One mutex guards all of them; it is never held across a remote call.
type Engine struct {
	mu       sync.Mutex
	queues   *queue.Pair
	retries  map[model.Key]int
	inflight *model.Key
	restored bool
	running  int
	closed   bool
	wakeHeld bool

	prefsChangeTime  int64
	prefsExamineTime int64

	store      store.Store
	storeName  string
	connector  remote.Connector
	resolver   remote.Resolver
	prefs      Preferences
	alarm      Alarm
	notifier   Notifier
	registry   *events.Registry
	wake       WakeLock
	online     func(context.Context) bool
	foreground func() bool
	onIdle     func()

	retryBudget    int
	fetchFrequency time.Duration
	logger         *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Connector == nil || deps.Prefs == nil {
		return nil, fmt.Errorf("engine: store, connector and preferences are required")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = model.DefaultQueueCapacity
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = model.DefaultRetryBudget
	}
	if cfg.StoreName == "" {
		cfg.StoreName = "statusd"
	}
	if cfg.FetchFrequency <= 0 {
		cfg.FetchFrequency = model.DefaultFetchFrequency * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Resolver == nil {
		deps.Resolver = remote.IdentityResolver{}
	}
	if deps.Alarm == nil {
		deps.Alarm = nopAlarm{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Registry == nil {
		deps.Registry = events.NewRegistry(deps.Logger)
	}
	if deps.WakeLock == nil {
		deps.WakeLock = nopWakeLock{}
	}
	if deps.Online == nil {
		deps.Online = func(context.Context) bool { return true }
	}
	if deps.Foreground == nil {
		reg := deps.Registry
		deps.Foreground = func() bool { return reg.Len() > 0 }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		queues:           queue.NewPair(cfg.Capacity),
		retries:          make(map[model.Key]int),
		prefsChangeTime:  deps.Prefs.ChangeTime(),
		prefsExamineTime: deps.Prefs.ExamineTime(),
		store:            deps.Store,
		storeName:        cfg.StoreName,
		connector:        deps.Connector,
		resolver:         deps.Resolver,
		prefs:            deps.Prefs,
		alarm:            deps.Alarm,
		notifier:         deps.Notifier,
		registry:         deps.Registry,
		wake:             deps.WakeLock,
		online:           deps.Online,
		foreground:       deps.Foreground,
		onIdle:           deps.OnIdle,
		retryBudget:      cfg.RetryBudget,
		fetchFrequency:   cfg.FetchFrequency,
		logger:           deps.Logger,
		ctx:              ctx,
		cancel:           cancel,
	}, nil
}

func (e *Engine) Registry() *events.Registry { return e.registry }

// Status is a point-in-time view of the guard and the queues.
type Status struct {
	Restored  bool `json:"restored"`
	Running   bool `json:"running"`
	Closed    bool `json:"closed"`
	Main      int  `json:"main"`
	Retry     int  `json:"retry"`
	Listeners int  `json:"listeners"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Restored:  e.restored,
		Running:   e.running > 0,
		Closed:    e.closed,
		Main:      e.queues.Main.Len(),
		Retry:     e.queues.Retry.Len(),
		Listeners: e.registry.Len(),
	}
}

// Wait blocks until no executor is running.
func (e *Engine) Wait() { e.wg.Wait() }

// Close stops accepting commands, lets the in-flight command finish (or
// cancels it once ctx is done), then saves both queues.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warnf("close_timeout cancelling in-flight command")
		e.cancel()
		<-done
	}
	e.cancel()

	var after deferred
	e.mu.Lock()
	e.queueNoteLocked(true, &after)
	err := e.saveLocked(context.WithoutCancel(ctx))
	e.mu.Unlock()
	after.run()
	return err
}

// saveLocked persists both queues and drops the restored flag. A queue whose
// save fails keeps its commands and the engine stays restored, so nothing
// is dropped from memory.
func (e *Engine) saveLocked(ctx context.Context) error {
	if !e.restored {
		return nil
	}
	var errs []error
	n, err := e.store.Save(ctx, e.storeName+"_main", e.queues.Main)
	if err != nil {
		errs = append(errs, fmt.Errorf("save main queue: %w", err))
	}
	r, err := e.store.Save(ctx, e.storeName+"_retry", e.queues.Retry)
	if err != nil {
		errs = append(errs, fmt.Errorf("save retry queue: %w", err))
	}
	e.observeDepthLocked()
	if len(errs) > 0 {
		e.logger.Errorf("state_save_failed unsaved_main=%d unsaved_retry=%d error=%v",
			e.queues.Main.Len(), e.queues.Retry.Len(), errors.Join(errs...))
		return errors.Join(errs...)
	}
	e.restored = false
	e.retries = make(map[model.Key]int)
	e.logger.Infof("state_saved main=%d retry=%d", n, r)
	return nil
}

// restoreLocked loads both persisted queues once per engine lifetime.
func (e *Engine) restoreLocked(ctx context.Context) {
	if e.restored {
		return
	}
	n, err := e.store.Restore(ctx, e.storeName+"_main", e.queues.Main)
	if err != nil {
		e.logger.Errorf("restore_failed queue=main error=%v", err)
	}
	r, err := e.store.Restore(ctx, e.storeName+"_retry", e.queues.Retry)
	if err != nil {
		e.logger.Errorf("restore_failed queue=retry error=%v", err)
	}
	e.restored = true
	e.observeDepthLocked()
	e.logger.Infof("state_restored main=%d retry=%d", n, r)
}

// forgetLocked drops the retry state of key once no queue holds it.
func (e *Engine) forgetLocked(key model.Key) {
	if e.queues.Main.Contains(key) || e.queues.Retry.Contains(key) {
		return
	}
	delete(e.retries, key)
}

// queueNoteLocked schedules a pending-queue indicator update and returns
// the number of queued commands.
func (e *Engine) queueNoteLocked(clear bool, after *deferred) int {
	count := e.queues.Len()
	n := e.notifier
	if count == 0 || clear {
		after.add(func() { n.Queue(0, true) })
	} else {
		after.add(func() { n.Queue(count, false) })
	}
	return count
}

func (e *Engine) observeDepthLocked() {
	metrics.QueueDepth.WithLabelValues("main").Set(float64(e.queues.Main.Len()))
	metrics.QueueDepth.WithLabelValues("retry").Set(float64(e.queues.Retry.Len()))
}

// deferred collects work that must run after the engine mutex is released.
type deferred []func()

func (d *deferred) add(f func()) { *d = append(*d, f) }

func (d deferred) run() {
	for _, f := range d {
		f()
	}
}

type nopAlarm struct{}

func (nopAlarm) Schedule(time.Duration) error { return nil }
func (nopAlarm) Cancel() bool                 { return false }

type nopNotifier struct{}

func (nopNotifier) NewItems(model.Timeline, int) {}
func (nopNotifier) Queue(int, bool)              {}

type nopWakeLock struct{}

func (nopWakeLock) TryLock() error { return nil }
func (nopWakeLock) Unlock() error  { return nil }
