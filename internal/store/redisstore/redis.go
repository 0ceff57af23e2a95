package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func configKey(key string) string {
	return "tongai:config:" + key
}

// GetConfig returns redis.Nil when the value is not cached.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	return s.rdb.Get(ctx, configKey(key)).Result()
}

func (s *Store) SetConfig(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.rdb.Set(ctx, configKey(key), value, ttl).Err()
}

func (s *Store) DeleteConfig(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, configKey(key)).Err()
}

// Allow implements a fixed one-minute window per subject: INCR then EXPIRE on first hit.
func (s *Store) Allow(ctx context.Context, subject string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	windowKey := fmt.Sprintf("tongai:rl:%s:%d", subject, time.Now().Unix()/60)

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}
