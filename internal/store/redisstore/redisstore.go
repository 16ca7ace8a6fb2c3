// Package redisstore keeps queue snapshots in Redis hashes.
//
// Each queue is one hash at <prefix>queue:<name> whose fields are
// kind.<i>, item_id.<i>, status.<i> and in_reply_to_id.<i>.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/queue"
	"github.com/msageha/statusd/internal/store"
)

var _ store.Store = (*Store)(nil)

const defaultKeyPrefix = "statusd:"

// Option configures the Store.
type Option func(*Store)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) { s.logger = l }
}

func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// Store implements store.Store on Redis. The caller owns the client.
type Store struct {
	client redis.Cmdable
	prefix string
	logger *zap.SugaredLogger
}

func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultKeyPrefix, logger: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewClient builds a client from config the way the daemon does.
func NewClient(cfg model.RedisConfig) *redis.Client {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) queueKey(name string) string { return s.prefix + "queue:" + name }

func field(name string, i int) string { return name + "." + strconv.Itoa(i) }

// Save deletes and rewrites the hash in one transaction, so a failed save
// leaves the prior record in place.
func (s *Store) Save(ctx context.Context, name string, q *queue.Queue) (int, error) {
	key := s.queueKey(name)
	if q.Len() == 0 {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return 0, fmt.Errorf("clear snapshot %s: %w", name, err)
		}
		return 0, nil
	}

	records := store.Records(q)
	values := make(map[string]any, len(records)*2+1)
	for i, r := range records {
		values[field("kind", i)] = r.Kind
		values[field("item_id", i)] = r.ItemID
		if r.Kind == string(model.KindUpdateStatus) {
			values[field("status", i)] = r.Status
			values[field("in_reply_to_id", i)] = r.InReplyToID
		}
	}
	values["saved_at"] = time.Now().UTC().Format(time.RFC3339)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("write snapshot %s: %w", name, err)
	}
	q.Clear()

	s.logger.Debugf("queue_saved queue=%s count=%d key=%s", name, len(records), key)
	return len(records), nil
}

func (s *Store) Restore(ctx context.Context, name string, q *queue.Queue) (int, error) {
	key := s.queueKey(name)
	values, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("read snapshot %s: %w", name, err)
	}
	if len(values) == 0 {
		return 0, nil
	}

	var cmds []model.Command
	for i := 0; ; i++ {
		kind, ok := values[field("kind", i)]
		if !ok {
			break
		}
		rec := store.Record{Kind: kind}
		rec.ItemID, _ = strconv.ParseInt(values[field("item_id", i)], 10, 64)
		rec.Status = values[field("status", i)]
		rec.InReplyToID, _ = strconv.ParseInt(values[field("in_reply_to_id", i)], 10, 64)

		cmd := rec.Command()
		if cmd.Kind == model.KindUnknown {
			break
		}
		cmds = append(cmds, cmd)
	}
	count := store.Refill(q, name, cmds, s.logger)

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return count, fmt.Errorf("delete snapshot %s: %w", name, err)
	}
	s.logger.Debugf("queue_restored queue=%s count=%d", name, count)
	return count, nil
}
