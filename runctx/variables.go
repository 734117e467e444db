package runctx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrVariableNotFound is returned by Get for an unset name.
var ErrVariableNotFound = errors.New("variable not found")

// VariableStore keeps named values per run id. Values must be
// JSON-serializable.
type VariableStore interface {
	Set(ctx context.Context, runID, name string, value any) error
	Get(ctx context.Context, runID, name string) (any, error)
	Delete(ctx context.Context, runID, name string) error
	Clear(ctx context.Context, runID string) error
	Close() error
}

// =============================================================================
// Memory
// =============================================================================

// MemoryVariables is the default in-process store.
type MemoryVariables struct {
	mu   sync.RWMutex
	vars map[string]map[string]any
}

func NewMemoryVariables() *MemoryVariables {
	return &MemoryVariables{vars: make(map[string]map[string]any)}
}

func (m *MemoryVariables) Set(ctx context.Context, runID, name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.vars[runID]
	if !ok {
		run = make(map[string]any)
		m.vars[runID] = run
	}
	run[name] = value
	return nil
}

func (m *MemoryVariables) Get(ctx context.Context, runID, name string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vars[runID][name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVariableNotFound, name)
	}
	return v, nil
}

func (m *MemoryVariables) Delete(ctx context.Context, runID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vars[runID], name)
	return nil
}

func (m *MemoryVariables) Clear(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vars, runID)
	return nil
}

func (m *MemoryVariables) Close() error { return nil }

// =============================================================================
// Redis
// =============================================================================

// RedisConfig selects the redis instance backing RedisVariables.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RedisVariables keeps each run's variables in one hash so they survive an
// agent restart:
//
//	remote-agent:run:{runID}:vars  name → JSON value
type RedisVariables struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisVariables connects and pings the server.
func NewRedisVariables(config RedisConfig, logger *zap.Logger) (*RedisVariables, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis variable store initialized", zap.String("addr", config.Addr))
	return &RedisVariables{
		client: client,
		logger: logger.With(zap.String("component", "variables")),
	}, nil
}

func varsKey(runID string) string {
	return "remote-agent:run:" + runID + ":vars"
}

func (r *RedisVariables) Set(ctx context.Context, runID, name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	if err := r.client.HSet(ctx, varsKey(runID), name, data).Err(); err != nil {
		r.logger.Error("variable set failed", zap.String("run_id", runID), zap.String("name", name), zap.Error(err))
		return fmt.Errorf("variable set failed: %w", err)
	}
	return nil
}

func (r *RedisVariables) Get(ctx context.Context, runID, name string) (any, error) {
	data, err := r.client.HGet(ctx, varsKey(runID), name).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrVariableNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("variable get failed: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("variable %s: %w", name, err)
	}
	return v, nil
}

func (r *RedisVariables) Delete(ctx context.Context, runID, name string) error {
	return r.client.HDel(ctx, varsKey(runID), name).Err()
}

func (r *RedisVariables) Clear(ctx context.Context, runID string) error {
	return r.client.Del(ctx, varsKey(runID)).Err()
}

func (r *RedisVariables) Close() error {
	return r.client.Close()
}
