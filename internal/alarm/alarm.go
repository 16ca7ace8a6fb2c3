// Package alarm is the repeating trigger that re-submits automatic updates.
package alarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// FireFunc is invoked on every tick of an active alarm.
type FireFunc func()

// Alarm runs at most one repeating schedule at a time. Scheduling again
// replaces the previous schedule.
type Alarm struct {
	mu       sync.Mutex
	cron     *cronlib.Cron
	entry    cronlib.EntryID
	active   bool
	interval time.Duration
	fire     FireFunc
	logger   *zap.SugaredLogger
}

func New(fire FireFunc, logger *zap.SugaredLogger) *Alarm {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c := cronlib.New(cronlib.WithChain(cronlib.Recover(cronLogger{logger})))
	c.Start()
	return &Alarm{cron: c, fire: fire, logger: logger}
}

// Schedule starts repeating fire every d, first tick one interval from now.
// Intervals are rounded down to whole seconds with a floor of one second.
func (a *Alarm) Schedule(d time.Duration) error {
	if d < time.Second {
		return fmt.Errorf("alarm interval %s below 1s", d)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		a.cron.Remove(a.entry)
	}
	a.entry = a.cron.Schedule(cronlib.Every(d), cronlib.FuncJob(a.fire))
	a.active = true
	a.interval = d.Truncate(time.Second)
	a.logger.Debugf("alarm_scheduled interval=%s", a.interval)
	return nil
}

// Cancel removes the repeating schedule. It reports whether one was active.
func (a *Alarm) Cancel() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return false
	}
	a.cron.Remove(a.entry)
	a.active = false
	a.interval = 0
	a.logger.Debugf("alarm_cancelled")
	return true
}

func (a *Alarm) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

func (a *Alarm) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval
}

// Next returns the time of the next tick, or the zero time when inactive.
func (a *Alarm) Next() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return time.Time{}
	}
	return a.cron.Entry(a.entry).Next
}

// Stop cancels the schedule and waits for a running tick to finish.
func (a *Alarm) Stop(ctx context.Context) error {
	a.Cancel()
	done := a.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ l *zap.SugaredLogger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
