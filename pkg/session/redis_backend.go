package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "cardiobot:session:"

// RedisRepository stores sessions in Redis so several processes can share
// them. Keys expire after the configured TTL of inactivity.
type RedisRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`
	// Password is the Redis password (optional).
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// Prefix is the key prefix for all session keys (default: "cardiobot:session:").
	Prefix string `yaml:"prefix"`
	// PoolSize is the connection pool size (default: 10).
	PoolSize int `yaml:"pool_size"`
}

// NewRedisRepository connects to Redis. ttl of 0 keeps sessions forever.
func NewRedisRepository(ctx context.Context, cfg RedisConfig, ttl time.Duration) (*RedisRepository, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisRepositoryFromClient(client, cfg.Prefix, ttl), nil
}

// NewRedisRepositoryFromClient wraps an existing client.
// This is useful for testing with miniredis.
func NewRedisRepositoryFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisRepository {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisRepository{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (b *RedisRepository) sessionKey(userID string) string {
	return b.prefix + "user:" + userID
}

func (b *RedisRepository) indexKey() string {
	return b.prefix + "index"
}

func (b *RedisRepository) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// Get implements Repository.
func (b *RedisRepository) Get(ctx context.Context, userID string) (*Session, error) {
	return getOrNew(ctx, b, userID)
}

// Lookup implements Repository.
func (b *RedisRepository) Lookup(ctx context.Context, userID string) (*Session, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	data, err := b.client.Get(ctx, b.sessionKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return decodeSession(data)
}

func decodeSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if s.Fields == nil {
		s.Fields = make(map[string]string)
	}
	return &s, nil
}

// Save implements Repository.
func (b *RedisRepository) Save(ctx context.Context, s *Session) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	s.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, b.sessionKey(s.UserID), data, b.ttl)
	pipe.SAdd(ctx, b.indexKey(), s.UserID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Delete implements Repository.
func (b *RedisRepository) Delete(ctx context.Context, userID string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.Del(ctx, b.sessionKey(userID))
	pipe.SRem(ctx, b.indexKey(), userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List implements Repository. Index entries whose key has expired are pruned.
func (b *RedisRepository) List(ctx context.Context) ([]*Session, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	ids, err := b.client.SMembers(ctx, b.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.sessionKey(id)
	}
	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	var (
		out   []*Session
		stale []any
	)
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		s, err := decodeSession([]byte(raw))
		if err != nil {
			continue
		}
		out = append(out, s)
	}

	if len(stale) > 0 {
		if err := b.client.SRem(ctx, b.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune session index: %w", err)
		}
	}
	return out, nil
}

// Close releases resources held by the repository.
func (b *RedisRepository) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	return b.client.Close()
}

// Ping checks if the Redis connection is alive.
func (b *RedisRepository) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}
