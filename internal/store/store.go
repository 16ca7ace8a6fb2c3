// Package store persists the engine's queues across process restarts.
//
// A snapshot is a sequence of indexed records, one per queued command. Save
// moves commands out of the queue: the queue is emptied only once the
// record is written. Restore deletes the record after reading it, so an
// unclean shutdown never replays the same snapshot twice.
package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/queue"
)

// Store saves and restores one named queue.
type Store interface {
	// Save replaces the record for name with the contents of q and then
	// empties q. On error q is left untouched.
	Save(ctx context.Context, name string, q *queue.Queue) (int, error)
	// Restore re-enqueues the record for name into q and deletes it.
	Restore(ctx context.Context, name string, q *queue.Queue) (int, error)
}

// Record is the persisted form of one command: kind code and item id, plus
// status text and reply-to id for update-status only.
type Record struct {
	Kind        string `yaml:"kind"`
	ItemID      int64  `yaml:"item_id"`
	Status      string `yaml:"status,omitempty"`
	InReplyToID int64  `yaml:"in_reply_to_id,omitempty"`
}

func RecordOf(cmd model.Command) Record {
	r := Record{Kind: string(cmd.Kind), ItemID: cmd.ItemID}
	if cmd.Kind == model.KindUpdateStatus {
		r.Status = cmd.StringParam(model.ParamStatus)
		r.InReplyToID = cmd.Int64Param(model.ParamInReplyToID)
	}
	return r
}

// Command rebuilds the command. Unknown codes yield a KindUnknown command,
// which terminates a restore.
func (r Record) Command() model.Command {
	kind := model.ParseKind(r.Kind)
	if kind == model.KindUpdateStatus {
		return model.NewCommand(kind, r.ItemID, map[string]any{
			model.ParamStatus:      r.Status,
			model.ParamInReplyToID: r.InReplyToID,
		})
	}
	return model.NewCommand(kind, r.ItemID, nil)
}

// Records converts q into records, in queue order, leaving q as it is.
func Records(q *queue.Queue) []Record {
	cmds := q.Snapshot()
	records := make([]Record, len(cmds))
	for i, cmd := range cmds {
		records[i] = RecordOf(cmd)
	}
	return records
}

// Refill offers restored commands to q in order. Commands that do not fit
// are logged and dropped.
func Refill(q *queue.Queue, name string, cmds []model.Command, logger *zap.SugaredLogger) int {
	count := 0
	for _, cmd := range cmds {
		if !q.Offer(cmd) {
			logger.Errorf("restore_queue_full queue=%s %s capacity=%d", name, cmd, q.Cap())
			continue
		}
		logger.Debugf("command_restored queue=%s %s", name, cmd)
		count++
	}
	return count
}
