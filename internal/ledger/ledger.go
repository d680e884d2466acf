// internal/ledger/ledger.go

// Package ledger remembers which jobs have already been applied to, so a run never
// submits the same application twice.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applypilot/internal/config"
)

// Ledger records applied job references.
type Ledger interface {
	// Applied reports whether job has been marked.
	Applied(ctx context.Context, job string) (bool, error)
	// Mark records job as applied. It returns false when it was already marked.
	Mark(ctx context.Context, job string) (bool, error)
	Close() error
}

// Redis is a Ledger backed by one key per job.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis connects to the configured Redis and verifies it answers.
func NewRedis(ctx context.Context, cfg config.LedgerConfig, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Redis{client: rdb, prefix: cfg.KeyPrefix, ttl: cfg.TTL, logger: logger.Named("ledger")}, nil
}

func (r *Redis) key(job string) string { return r.prefix + job }

func (r *Redis) Applied(ctx context.Context, job string) (bool, error) {
	_, err := r.client.Get(ctx, r.key(job)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger lookup for %s: %w", job, err)
	}
	return true, nil
}

func (r *Redis) Mark(ctx context.Context, job string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(job), time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ledger mark for %s: %w", job, err)
	}
	if !ok {
		r.logger.Debug("Job already in ledger.", zap.String("job", job))
	}
	return ok, nil
}

func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Memory is an in-process Ledger used when no Redis is configured.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]time.Time
}

// NewMemory returns an empty in-process ledger, optionally seeded with jobs.
func NewMemory(seed ...string) *Memory {
	m := &Memory{jobs: make(map[string]time.Time)}
	for _, j := range seed {
		m.jobs[j] = time.Now()
	}
	return m
}

func (m *Memory) Applied(_ context.Context, job string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[job]
	return ok, nil
}

func (m *Memory) Mark(_ context.Context, job string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job]; ok {
		return false, nil
	}
	m.jobs[job] = time.Now()
	return true, nil
}

func (m *Memory) Close() error { return nil }

// Open returns a Redis ledger when an address is configured, else an in-memory one.
func Open(ctx context.Context, cfg config.LedgerConfig, logger *zap.Logger) (Ledger, error) {
	if cfg.RedisAddr == "" {
		return NewMemory(), nil
	}
	return NewRedis(ctx, cfg, logger)
}

// Seed marks every reference in refs and returns how many were not yet recorded.
func Seed(ctx context.Context, l Ledger, refs []string) (int, error) {
	added := 0
	for _, ref := range refs {
		ok, err := l.Mark(ctx, ref)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}
