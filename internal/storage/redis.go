package storage

import (
	"context"
	"errors"
	"strings"

	logx "lixiwatch/pkg/logx"

	"github.com/go-redis/redis/v8"
)

const defaultRedisPrefix = "lixiwatch:"

type redisStore struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.DSN)
	if addr == "" {
		return nil, errors.New("storage.dsn (redis address) is required for redis driver")
	}
	prefix := cfg.KeyPrefix
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &redisStore{client: client, prefix: prefix, log: log}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	key, err := checkKey(key)
	if err != nil {
		return nil, false, err
	}
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *redisStore) Put(ctx context.Context, key string, value []byte) error {
	key, err := checkKey(key)
	if err != nil {
		return err
	}
	// No TTL: these keys are the durable state.
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

func (s *redisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
