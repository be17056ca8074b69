package refstore

import (
	"context"
	"errors"
	"time"

	"github.com/heraldhq/herald/autopost/transport"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

type RedisRefStore struct {
	Data *cache.Cache
	TTL  time.Duration
}

var _ RefStore = (*RedisRefStore)(nil)

func NewRedisRefStore(rdb *redis.Client, ttl time.Duration) *RedisRefStore {
	data := cache.New(&cache.Options{
		Redis: rdb,
		// refs are overwritten by whichever node sends next; a local cache would serve stale ids
		LocalCache: nil,
	})
	return &RedisRefStore{
		Data: data,
		TTL:  ttl,
	}
}

func redisRefKey(acct transport.AccountID, dest transport.DestinationID) string {
	return "lastref/" + refKey(acct, dest)
}

func (s RedisRefStore) Get(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) (transport.MessageID, error) {
	var val string
	err := s.Data.Get(ctx, redisRefKey(acct, dest), &val)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return transport.MessageID(val), nil
}

func (s RedisRefStore) Set(ctx context.Context, acct transport.AccountID, dest transport.DestinationID, msg transport.MessageID) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisRefKey(acct, dest),
		Value: string(msg),
		TTL:   s.TTL,
	})
}

func (s RedisRefStore) Purge(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) error {
	err := s.Data.Delete(ctx, redisRefKey(acct, dest))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
