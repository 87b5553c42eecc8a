package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// RunGuard ensures at most one active run per video
type RunGuard interface {
	// Acquire reports whether the caller now owns the video; release must be
	// called exactly once when it does.
	Acquire(ctx context.Context, videoID string) (release func(), acquired bool, err error)
}

// MemoryGuard is an in-process keyed lock
type MemoryGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewMemoryGuard creates an empty guard
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{active: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(_ context.Context, videoID string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[videoID]; busy {
		return nil, false, nil
	}
	g.active[videoID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, videoID)
			g.mu.Unlock()
		})
	}, true, nil
}

// releaseScript deletes the lock only if it still carries our token
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard is a lock shared by every process using the same Redis
type RedisGuard struct {
	client goredis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisGuard creates a guard whose locks expire after ttl
func NewRedisGuard(client goredis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisGuard {
	return &RedisGuard{
		client: client,
		ttl:    ttl,
		prefix: "vidshare:run:",
		logger: logger,
	}
}

func (g *RedisGuard) Acquire(ctx context.Context, videoID string) (func(), bool, error) {
	key := g.prefix + videoID
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := releaseScript.Run(releaseCtx, g.client, []string{key}, token).Err(); err != nil {
				g.logger.Warn("Failed to release run lock",
					slog.String("video_id", videoID),
					slog.Any("error", err),
				)
			}
		})
	}, true, nil
}
