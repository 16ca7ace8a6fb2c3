// Package queue implements the bounded command FIFOs drained by the engine.
//
// Queues are not safe for concurrent use; the engine serializes every
// access under its own mutex.
package queue

import "github.com/msageha/statusd/internal/model"

// Queue is a bounded FIFO of commands with dedup lookup by model.Key.
type Queue struct {
	items    []model.Command
	capacity int
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = model.DefaultQueueCapacity
	}
	return &Queue{capacity: capacity}
}

// Offer appends cmd unless the queue is full. It never blocks.
func (q *Queue) Offer(cmd model.Command) bool {
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, cmd)
	return true
}

// Poll removes and returns the head of the queue.
func (q *Queue) Poll() (model.Command, bool) {
	if len(q.items) == 0 {
		return model.Command{}, false
	}
	cmd := q.items[0]
	q.items[0] = model.Command{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return cmd, true
}

func (q *Queue) Contains(key model.Key) bool {
	for _, c := range q.items {
		if c.Key() == key {
			return true
		}
	}
	return false
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Cap() int { return q.capacity }

func (q *Queue) IsEmpty() bool { return len(q.items) == 0 }

// Snapshot returns the queued commands in order without removing them.
func (q *Queue) Snapshot() []model.Command {
	out := make([]model.Command, len(q.items))
	copy(out, q.items)
	return out
}

// Clear removes every queued command.
func (q *Queue) Clear() { q.items = nil }

// Pair is the main queue plus the retry queue.
type Pair struct {
	Main  *Queue
	Retry *Queue
}

func NewPair(capacity int) *Pair {
	return &Pair{Main: New(capacity), Retry: New(capacity)}
}

// PromoteRetry moves every retry entry into main, in order. Entries whose
// key is already in main are dropped as duplicates; entries that do not fit
// are counted as overflow and lost.
func (p *Pair) PromoteRetry() (moved, duplicates, overflow int) {
	for {
		cmd, ok := p.Retry.Poll()
		if !ok {
			return moved, duplicates, overflow
		}
		if p.Main.Contains(cmd.Key()) {
			duplicates++
			continue
		}
		if !p.Main.Offer(cmd) {
			overflow++
			continue
		}
		moved++
	}
}

// Len is the total number of queued commands.
func (p *Pair) Len() int { return p.Main.Len() + p.Retry.Len() }
