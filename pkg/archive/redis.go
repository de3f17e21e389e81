package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crisis-monitor/pkg/errors"
	"crisis-monitor/pkg/session"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisStore archives summaries in Redis with a TTL. A sorted set indexed
// by end time backs List.
type RedisStore struct {
	client    redis.UniversalClient
	logger    *logrus.Entry
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(config RedisConfig, logger *logrus.Logger) (*RedisStore, error) {
	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "crisis:summary:"
	}
	if config.TTL <= 0 {
		config.TTL = 7 * 24 * time.Hour
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        config.Address,
		Password:    config.Password,
		DB:          config.Database,
		DialTimeout: config.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := &RedisStore{
		client:    client,
		logger:    logger.WithField("component", "redis_archive"),
		keyPrefix: config.KeyPrefix,
		ttl:       config.TTL,
	}
	store.logger.WithFields(logrus.Fields{
		"address":  config.Address,
		"database": config.Database,
		"ttl":      config.TTL,
	}).Info("Redis summary archive initialized")
	return store, nil
}

func (r *RedisStore) key(callID string) string {
	return r.keyPrefix + callID
}

func (r *RedisStore) indexKey() string {
	return r.keyPrefix + "index"
}

// Save implements Store
func (r *RedisStore) Save(ctx context.Context, summary *session.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(summary.CallID), data, r.ttl)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{
		Score:  float64(summary.EndedAt.UnixNano()),
		Member: summary.CallID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store summary in Redis: %w", err)
	}

	r.logger.WithField("call_id", summary.CallID).Debug("Summary archived in Redis")
	return nil
}

// Get implements Store
func (r *RedisStore) Get(ctx context.Context, callID string) (*session.Summary, error) {
	data, err := r.client.Get(ctx, r.key(callID)).Bytes()
	if err == redis.Nil {
		return nil, errors.NewNotFound("no archived summary", map[string]interface{}{"call_id": callID})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary from Redis: %w", err)
	}

	var summary session.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return &summary, nil
}

// List implements Store. Index members whose summary expired are skipped
// and pruned.
func (r *RedisStore) List(ctx context.Context, limit int) ([]*session.Summary, error) {
	if limit <= 0 {
		return []*session.Summary{}, nil
	}
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read summary index: %w", err)
	}

	out := make([]*session.Summary, 0, len(ids))
	for _, id := range ids {
		s, err := r.Get(ctx, id)
		if errors.IsErrorType(err, errors.ErrNotFound) {
			r.client.ZRem(ctx, r.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Close implements Store
func (r *RedisStore) Close() error {
	return r.client.Close()
}
