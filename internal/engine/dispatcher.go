package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/msageha/statusd/internal/metrics"
	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/prefs"
)

// Submit hands cmd to the engine. Outcomes are never reported back to the
// caller; the only error is ErrClosed.
func (e *Engine) Submit(ctx context.Context, cmd model.Command) error {
	return e.submit(ctx, &cmd)
}

// Kick runs the dispatch steps without a new command: it examines changed
// preferences, restores state, promotes retries and starts the executor
// when there is work.
func (e *Engine) Kick(ctx context.Context) error {
	return e.submit(ctx, nil)
}

func (e *Engine) submit(ctx context.Context, cmd *model.Command) error {
	online := e.online(ctx)

	var after deferred
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}

	if change := e.prefs.ChangeTime(); change != e.prefsChangeTime || e.prefsExamineTime < change {
		if err := e.examinePreferencesLocked(); err != nil {
			e.logger.Warnf("examine_preferences_failed error=%v", err)
		}
	}
	e.restoreLocked(ctx)

	if e.queues.Main.IsEmpty() && !e.queues.Retry.IsEmpty() {
		moved, dups, overflow := e.queues.PromoteRetry()
		e.logger.Debugf("retry_promoted moved=%d duplicates=%d overflow=%d", moved, dups, overflow)
		if overflow > 0 {
			metrics.QueueFull.WithLabelValues("main").Add(float64(overflow))
		}
	}

	if cmd != nil {
		e.acceptLocked(*cmd)
	}
	e.observeDepthLocked()
	e.startLocked(online, &after)
	e.mu.Unlock()

	after.run()
	return nil
}

func (e *Engine) acceptLocked(cmd model.Command) {
	kind := cmd.Kind.String()
	switch {
	case cmd.Kind == model.KindUnknown:
		metrics.CommandsSubmitted.WithLabelValues(kind, "discarded").Inc()
		e.logger.Debugf("command_discarded %s", cmd)

	case cmd.Kind.IsImmediate():
		metrics.CommandsSubmitted.WithLabelValues(kind, "immediate").Inc()
		e.executeImmediateLocked(cmd)

	case e.queues.Main.Contains(cmd.Key()):
		// Resubmission of a queued command restarts its retry budget.
		e.retries[cmd.Key()] = 0
		metrics.CommandsSubmitted.WithLabelValues(kind, "duplicate").Inc()
		e.logger.Debugf("command_duplicate %s", cmd)

	default:
		if !e.queues.Main.Offer(cmd) {
			metrics.CommandsSubmitted.WithLabelValues(kind, "dropped").Inc()
			metrics.QueueFull.WithLabelValues("main").Inc()
			e.logger.Errorf("enqueue_failed queue=main %s capacity=%d error=%v", cmd, e.queues.Main.Cap(), ErrQueueFull)
			return
		}
		if key := cmd.Key(); !e.queues.Retry.Contains(key) && !e.executingLocked(key) {
			delete(e.retries, key)
		}
		metrics.CommandsSubmitted.WithLabelValues(kind, "queued").Inc()
		e.logger.Debugf("command_queued %s main=%d", cmd, e.queues.Main.Len())
	}
}

type immediateOutcome string

const (
	outcomeOK      immediateOutcome = "succeeded"
	outcomeFailed  immediateOutcome = "failed"
	outcomeSkipped immediateOutcome = "skipped"
)

// executeImmediateLocked runs alarm, preference and no-op commands in the
// submitter's context. The outcome is only logged.
func (e *Engine) executeImmediateLocked(cmd model.Command) {
	outcome := outcomeOK
	var err error
	switch cmd.Kind {
	case model.KindStartAlarm:
		err = e.scheduleAlarmLocked()
	case model.KindStopAlarm:
		e.alarm.Cancel()
	case model.KindRestartAlarm:
		e.alarm.Cancel()
		err = e.scheduleAlarmLocked()
	case model.KindPreferencesChanged:
		err = e.examinePreferencesLocked()
	case model.KindPutBooleanPreference, model.KindPutLongPreference, model.KindPutStringPreference:
		outcome, err = e.putPreference(cmd)
	case model.KindEmpty:
	}
	if err != nil {
		if outcome != outcomeSkipped {
			outcome = outcomeFailed
		}
		e.logger.Warnf("immediate_command_%s %s error=%v", outcome, cmd, err)
		return
	}
	e.logger.Debugf("immediate_command_%s %s", outcome, cmd)
}

var errNoPreferenceKey = errors.New("missing preference key")

func (e *Engine) putPreference(cmd model.Command) (immediateOutcome, error) {
	key := cmd.StringParam(model.ParamPreferenceKey)
	if key == "" {
		return outcomeSkipped, errNoPreferenceKey
	}
	scope := cmd.StringParam(model.ParamPreferenceScope)
	var err error
	switch cmd.Kind {
	case model.KindPutBooleanPreference:
		err = e.prefs.PutBool(scope, key, cmd.BoolParam(model.ParamPreferenceValue))
	case model.KindPutLongPreference:
		err = e.prefs.PutLong(scope, key, cmd.Int64Param(model.ParamPreferenceValue))
	case model.KindPutStringPreference:
		err = e.prefs.PutString(scope, key, cmd.StringParam(model.ParamPreferenceValue))
	}
	if err != nil {
		return outcomeFailed, fmt.Errorf("put preference %s: %w", key, err)
	}
	return outcomeOK, nil
}

// examinePreferencesLocked re-reads the preferences: it records the change
// and examine times, cancels the alarm and schedules it again when
// automatic updates are on.
func (e *Engine) examinePreferencesLocked() error {
	changeNew := e.prefs.ChangeTime()
	examineNew := e.prefs.Now()
	switch {
	case changeNew > e.prefsExamineTime:
		e.logger.Debugf("preferences_examined at=%d changed_at=%d", examineNew, changeNew)
	case changeNew > e.prefsChangeTime:
		e.logger.Debugf("preferences_changed at=%d", changeNew)
	case changeNew == e.prefsChangeTime:
		e.logger.Debugf("preferences_unchanged at=%d", changeNew)
	default:
		e.logger.Errorf("preferences_change_time_error time=%d", changeNew)
	}
	e.prefsChangeTime = changeNew
	e.prefsExamineTime = examineNew

	var errs []error
	if err := e.prefs.SetExamineTime(examineNew); err != nil {
		errs = append(errs, fmt.Errorf("persist examine time: %w", err))
	}
	e.alarm.Cancel()
	if e.prefs.Contains("", prefs.KeyAutomaticUpdates) && e.prefs.Bool("", prefs.KeyAutomaticUpdates, false) {
		if err := e.scheduleAlarmLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) scheduleAlarmLocked() error {
	secs := e.prefs.Int64("", prefs.KeyFetchFrequency, int64(e.fetchFrequency/time.Second))
	interval := time.Duration(secs) * time.Second
	if err := e.alarm.Schedule(interval); err != nil {
		return fmt.Errorf("schedule alarm: %w", err)
	}
	e.logger.Debugf("alarm_started interval=%s", interval)
	return nil
}
