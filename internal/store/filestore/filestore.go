// Package filestore keeps queue snapshots as YAML files, one per queue name.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/msageha/statusd/internal/lock"
	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/queue"
	"github.com/msageha/statusd/internal/store"
	atomicyaml "github.com/msageha/statusd/internal/yaml"
)

var _ store.Store = (*Store)(nil)

type snapshotFile struct {
	atomicyaml.Header `yaml:",inline"`
	SavedAt           string               `yaml:"saved_at"`
	Commands          map[int]store.Record `yaml:"commands"`
}

// Option configures the Store.
type Option func(*Store)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) { s.logger = l }
}

// Store writes <dir>/queue/<name>.yaml. Corrupted snapshots are moved to
// <dir>/quarantine and treated as empty.
type Store struct {
	dir    string
	locks  *lock.MutexMap
	logger *zap.SugaredLogger
}

func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:    dir,
		locks:  lock.NewMutexMap(),
		logger: zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, "queue", name+".yaml")
}

func (s *Store) Save(_ context.Context, name string, q *queue.Queue) (int, error) {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	path := s.path(name)
	if q.Len() == 0 {
		if err := atomicyaml.Remove(path); err != nil {
			return 0, fmt.Errorf("clear snapshot %s: %w", name, err)
		}
		return 0, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("create queue dir: %w", err)
	}

	records := store.Records(q)
	snap := snapshotFile{
		Header:   atomicyaml.NewHeader(atomicyaml.FileTypeQueueSnapshot),
		SavedAt:  time.Now().UTC().Format(time.RFC3339),
		Commands: make(map[int]store.Record, len(records)),
	}
	for i, r := range records {
		snap.Commands[i] = r
	}
	// The rename replaces any prior snapshot as a whole.
	if err := atomicyaml.AtomicWrite(path, snap); err != nil {
		return 0, fmt.Errorf("write snapshot %s: %w", name, err)
	}
	// The snapshot is the only copy from now on; a stale .bak would resurrect
	// commands from an older save.
	_ = os.Remove(path + ".bak")
	q.Clear()

	s.logger.Debugf("queue_saved queue=%s count=%d path=%s", name, len(records), path)
	return len(records), nil
}

func (s *Store) Restore(_ context.Context, name string, q *queue.Queue) (int, error) {
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	path := s.path(name)
	var snap snapshotFile
	exists, err := atomicyaml.Load(path, atomicyaml.FileTypeQueueSnapshot, &snap)
	if err != nil {
		var corrupt *atomicyaml.CorruptError
		if !errors.As(err, &corrupt) {
			return 0, fmt.Errorf("load snapshot %s: %w", name, err)
		}
		moved, qerr := atomicyaml.Quarantine(s.dir, path)
		if qerr != nil {
			return 0, fmt.Errorf("quarantine snapshot %s: %w", name, qerr)
		}
		s.logger.Errorf("queue_snapshot_corrupt queue=%s quarantined=%s error=%v", name, moved, err)
		return 0, nil
	}
	if !exists {
		return 0, nil
	}

	var cmds []model.Command
	for i := 0; ; i++ {
		rec, ok := snap.Commands[i]
		if !ok {
			break
		}
		cmd := rec.Command()
		if cmd.Kind == model.KindUnknown {
			break
		}
		cmds = append(cmds, cmd)
	}
	count := store.Refill(q, name, cmds, s.logger)

	if err := atomicyaml.Remove(path); err != nil {
		return count, fmt.Errorf("delete snapshot %s: %w", name, err)
	}
	s.logger.Debugf("queue_restored queue=%s count=%d", name, count)
	return count, nil
}
