package engine

import (
	"github.com/msageha/statusd/internal/events"
	"github.com/msageha/statusd/internal/metrics"
	"github.com/msageha/statusd/internal/model"
)

// startLocked starts the executor when main has work, the host is online
// and no executor is running. Offline with work pending only refreshes the
// pending-queue indicator.
func (e *Engine) startLocked(online bool, after *deferred) bool {
	if e.queues.Main.IsEmpty() || e.closed {
		return false
	}
	if !online {
		e.queueNoteLocked(false, after)
		return false
	}
	if e.running > 0 {
		return false
	}

	e.running = 1
	metrics.ExecutorRunning.Set(1)
	if err := e.wake.TryLock(); err != nil {
		e.logger.Warnf("wake_lock_failed error=%v", err)
	} else {
		e.wakeHeld = true
	}
	snap := e.registry.Snapshot()
	runID, err := model.GenerateID(model.IDTypeRun)
	if err != nil {
		runID = "run_unknown"
	}
	e.logger.Debugf("executor_started run=%s listeners=%d main=%d", runID, snap.Len(), e.queues.Main.Len())

	e.wg.Add(1)
	go e.run(runID, snap)
	return true
}

// run drains main until it is empty, the state is no longer restored, or a
// failure happens while offline.
func (e *Engine) run(runID string, snap events.Snapshot) {
	defer e.wg.Done()
	halted := false
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("executor_panic run=%s panic=%v", runID, r)
		}
		e.finish(runID, halted)
	}()

	executed := 0
	for {
		cmd, ok := e.next()
		if !ok {
			break
		}
		res := e.execute(e.ctx, cmd, snap)
		executed++
		e.commit(cmd, res, snap)
		if !res.ok && !e.online(e.ctx) {
			e.logger.Infof("executor_halted run=%s reason=offline %s", runID, cmd)
			halted = true
			break
		}
	}
	e.logger.Debugf("executor_drained run=%s executed=%d", runID, executed)
}

// next polls main and charges one execution against the command's retry
// state.
func (e *Engine) next() (model.Command, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return model.Command{}, false
	}
	if !e.restored {
		e.logger.Warnf("executor_stopped error=%v", ErrNotRestored)
		return model.Command{}, false
	}
	cmd, ok := e.queues.Main.Poll()
	if !ok {
		return model.Command{}, false
	}
	key := cmd.Key()
	left, ok := e.retries[key]
	if !ok {
		left = -1
	}
	e.retries[key] = left - 1
	e.inflight = &key
	e.observeDepthLocked()
	return cmd, true
}

// executingLocked reports whether the executor is running a command with key.
func (e *Engine) executingLocked(key model.Key) bool {
	return e.inflight != nil && *e.inflight == key
}

// finish releases the executor slot and the wake lock exactly once. Work
// that slipped in after the last poll starts a new run if the host is still
// online; an idle engine with nothing in the foreground triggers the idle
// hook.
func (e *Engine) finish(runID string, halted bool) {
	online := e.online(e.ctx)

	var after deferred
	e.mu.Lock()
	e.running = 0
	e.inflight = nil
	metrics.ExecutorRunning.Set(0)
	if e.wakeHeld {
		if err := e.wake.Unlock(); err != nil {
			e.logger.Warnf("wake_unlock_failed error=%v", err)
		}
		e.wakeHeld = false
	}
	count := e.queueNoteLocked(false, &after)
	closed := e.closed
	restarted := false
	if online && !halted && !closed && e.restored && !e.queues.Main.IsEmpty() {
		restarted = e.startLocked(true, &after)
	}
	e.mu.Unlock()
	after.run()

	e.logger.Debugf("executor_finished run=%s queued=%d restarted=%t", runID, count, restarted)
	if count == 0 && !closed && e.onIdle != nil && !e.foreground() {
		e.logger.Infof("engine_idle")
		go e.onIdle()
	}
}
