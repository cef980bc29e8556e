package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a session store backed by Redis
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Session namespaces the keys; a random id is generated if empty
	Session string
	// TTL expires keys when the session is idle (0 = no expiry)
	TTL time.Duration
}

// RedisStore is a session-scoped store: keys live under
// "dxscan:session:<id>:" and expire after the configured TTL.
type RedisStore struct {
	client  *redis.Client
	session string
	ttl     time.Duration
}

// NewRedisStore connects to Redis and checks the connection
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("prefs: redis address is required")
	}
	session := cfg.Session
	if session == "" {
		session = uuid.New().String()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("prefs: connect to redis at %s: %w", cfg.Addr, err)
	}

	slog.Info("prefs: connected to redis", "addr", cfg.Addr, "session", session, "ttl", cfg.TTL)
	return &RedisStore{client: client, session: session, ttl: cfg.TTL}, nil
}

// Session returns the session id used to namespace keys
func (r *RedisStore) Session() string {
	return r.session
}

func (r *RedisStore) key(k string) string {
	return "dxscan:session:" + r.session + ":" + k
}

// Get returns the value for key
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("prefs: redis get %q: %w", key, err)
	}
	return val, true, nil
}

// Set stores value under key, refreshing its TTL
func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("prefs: redis set %q: %w", key, err)
	}
	return nil
}

// Close closes the client
func (r *RedisStore) Close() error {
	return r.client.Close()
}
