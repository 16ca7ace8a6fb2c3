package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/queue"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, WithKeyPrefix("test:")), mr
}

func TestSaveRestore_RoundTrip(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	src := queue.New(10)
	src.Offer(model.NewCommand(model.KindFetchMentions, 0, nil))
	src.Offer(model.NewUpdateStatus("hi there", 77))
	src.Offer(model.NewCommand(model.KindDestroyFavorite, 5, nil))
	want := src.Snapshot()

	n, err := s.Save(ctx, "statusd_retry", src)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, src.Len())
	assert.True(t, mr.Exists("test:queue:statusd_retry"))
	assert.Equal(t, "update-status", mr.HGet("test:queue:statusd_retry", "kind.1"))

	dst := queue.New(10)
	n, err = s.Restore(ctx, "statusd_retry", dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got := dst.Snapshot()
	require.Len(t, got, 3)
	for i := range want {
		assert.Equal(t, want[i].Key(), got[i].Key())
		assert.Equal(t, want[i].ItemID, got[i].ItemID)
	}
	assert.Equal(t, int64(77), got[1].Int64Param(model.ParamInReplyToID))
	assert.False(t, mr.Exists("test:queue:statusd_retry"), "restore must delete the record")
}

func TestSave_ClearsPriorRecord(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	q := queue.New(10)
	q.Offer(model.NewCommand(model.KindRetweet, 1, nil))
	q.Offer(model.NewCommand(model.KindRetweet, 2, nil))
	_, err := s.Save(ctx, "q", q)
	require.NoError(t, err)

	q.Offer(model.NewCommand(model.KindRetweet, 3, nil))
	_, err = s.Save(ctx, "q", q)
	require.NoError(t, err)
	assert.Equal(t, "", mr.HGet("test:queue:q", "kind.1"))

	dst := queue.New(10)
	n, err := s.Restore(ctx, "q", dst)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRestore_StopsAtUnknownKind(t *testing.T) {
	s, mr := newTestStore(t)
	mr.HSet("test:queue:q", "kind.0", "retweet", "item_id.0", "4", "kind.1", "bogus", "kind.2", "retweet", "item_id.2", "5")

	q := queue.New(10)
	n, err := s.Restore(context.Background(), "q", q)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists("test:queue:q"))
}

func TestRestore_NoRecord(t *testing.T) {
	s, _ := newTestStore(t)
	n, err := s.Restore(context.Background(), "none", queue.New(10))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSave_FailedWriteKeepsQueueAndPriorRecord(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	prior := queue.New(10)
	prior.Offer(model.NewCommand(model.KindRetweet, 1, nil))
	_, err := s.Save(ctx, "q", prior)
	require.NoError(t, err)

	q := queue.New(10)
	q.Offer(model.NewCommand(model.KindCreateFavorite, 2, nil))
	q.Offer(model.NewUpdateStatus("pending", 0))

	mr.SetError("ERR injected failure")
	n, err := s.Save(ctx, "q", q)
	mr.SetError("")
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, q.Len(), "queue must survive a failed save")

	assert.Equal(t, "retweet", mr.HGet("test:queue:q", "kind.0"))
	assert.Equal(t, "", mr.HGet("test:queue:q", "kind.1"))
}
