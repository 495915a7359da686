package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minervavault/vault/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const opTimeout = 3 * time.Second

type Redis struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
}

func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Endpoint,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewRedis(client *redis.Client, prefix string, logger *logrus.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (s *Redis) key(k string) string {
	return fmt.Sprintf("%s:token:%s", s.prefix, k)
}

func (s *Redis) Get(key string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to read token from Redis")
		return "", false
	}
	return v, true
}

func (s *Redis) Set(key, value string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to store token in Redis")
	}
}

func (s *Redis) Remove(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to delete token from Redis")
	}
}
