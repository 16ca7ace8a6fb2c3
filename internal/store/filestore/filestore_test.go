package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/queue"
)

type tuple struct {
	kind   model.Kind
	itemID int64
	key    model.Key
}

func tuples(q *queue.Queue) []tuple {
	var out []tuple
	for _, c := range q.Snapshot() {
		out = append(out, tuple{c.Kind, c.ItemID, c.Key()})
	}
	return out
}

func sampleQueue() *queue.Queue {
	q := queue.New(10)
	q.Offer(model.NewCommand(model.KindFetchHome, 0, nil))
	q.Offer(model.NewUpdateStatus("hello", 12))
	q.Offer(model.NewCommand(model.KindCreateFavorite, 3, nil))
	q.Offer(model.NewCommand(model.KindDestroyStatus, 4, nil))
	return q
}

func TestSaveRestore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()

	src := sampleQueue()
	want := tuples(src)

	n, err := s.Save(ctx, "statusd_main", src)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, src.Len(), "save must empty the queue")

	dst := queue.New(10)
	n, err = s.Restore(ctx, "statusd_main", dst)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, want, tuples(dst))

	restored := dst.Snapshot()[1]
	assert.Equal(t, int64(12), restored.Int64Param(model.ParamInReplyToID))

	_, err = os.Stat(filepath.Join(dir, "queue", "statusd_main.yaml"))
	assert.True(t, os.IsNotExist(err), "restore must delete the record")

	n, err = s.Restore(ctx, "statusd_main", queue.New(10))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "second restore finds nothing")
}

func TestSave_EmptyQueueClearsPriorRecord(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()

	_, err := s.Save(ctx, "q", sampleQueue())
	require.NoError(t, err)

	n, err := s.Save(ctx, "q", queue.New(10))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.Restore(ctx, "q", queue.New(10))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRestore_StopsAtMissingIndexAndUnknownKind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "queue"), 0755))
	content := `schema_version: 1
file_type: queue_snapshot
commands:
  0: {kind: fetch-home, item_id: 0}
  1: {kind: retweet, item_id: 8}
  3: {kind: retweet, item_id: 9}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queue", "a.yaml"), []byte(content), 0644))

	q := queue.New(10)
	n, err := New(dir).Restore(context.Background(), "a", q)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	content = `schema_version: 1
file_type: queue_snapshot
commands:
  0: {kind: retweet, item_id: 1}
  1: {kind: unknown, item_id: 0}
  2: {kind: retweet, item_id: 2}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queue", "b.yaml"), []byte(content), 0644))
	q = queue.New(10)
	n, err = New(dir).Restore(context.Background(), "b", q)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRestore_CorruptSnapshotIsQuarantined(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "queue"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "queue", "c.yaml"), []byte("commands: [\n"), 0644))

	n, err := New(dir).Restore(context.Background(), "c", queue.New(10))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	entries, err := os.ReadDir(filepath.Join(dir, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRestore_OverflowIsDropped(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()

	_, err := s.Save(ctx, "q", sampleQueue())
	require.NoError(t, err)

	q := queue.New(2)
	n, err := s.Restore(ctx, "q", q)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, q.Len())
}

func TestSave_FailedWriteKeepsQueueAndPriorRecord(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()

	prior := queue.New(10)
	prior.Offer(model.NewCommand(model.KindRetweet, 1, nil))
	_, err := s.Save(ctx, "q", prior)
	require.NoError(t, err)

	// A directory where the backup goes makes the write fail after the
	// new content is staged.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "queue", "q.yaml.bak"), 0755))

	q := sampleQueue()
	want := tuples(q)
	n, err := s.Save(ctx, "q", q)
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, want, tuples(q), "queue must survive a failed save")

	restored := queue.New(10)
	n, err = s.Restore(ctx, "q", restored)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "prior record is still on disk")
	assert.Equal(t, model.KindRetweet, restored.Snapshot()[0].Kind)
}
