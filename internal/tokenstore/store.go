// Package tokenstore persists the access and refresh tokens between runs.
//
// Stores never return errors: a backend that cannot be reached is logged and
// reads report the key as absent, which the refresh flow already treats as a
// logged-out session.
package tokenstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/minervavault/vault/internal/config"
	"github.com/sirupsen/logrus"
)

const (
	AccessTokenKey  = "minerva.access_token"
	RefreshTokenKey = "minerva.refresh_token"
)

// Store is a synchronous key-value store for credentials.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Remove(key string)
}

// Clear removes both tokens.
func Clear(s Store) {
	s.Remove(AccessTokenKey)
	s.Remove(RefreshTokenKey)
}

type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *Memory) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *Memory) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// New builds the store selected by cfg.TokenStore.Backend.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (Store, error) {
	switch cfg.TokenStore.Backend {
	case config.StoreMemory:
		return NewMemory(), nil
	case config.StoreFile:
		return NewFile(cfg.TokenStore.Path, []byte(cfg.TokenStore.Secret), logger)
	case config.StoreRedis:
		client, err := NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		return NewRedis(client, cfg.TokenStore.Prefix, logger), nil
	case config.StoreDynamo:
		client, err := NewDynamoClient(ctx, &cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		return NewDynamo(client, cfg.DynamoDB.TableName, cfg.TokenStore.Prefix, logger), nil
	}
	return nil, fmt.Errorf("unknown token store backend %q", cfg.TokenStore.Backend)
}
