package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGateway stores save records as JSON documents under
// chessync:save:<id>.
type RedisGateway struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisGateway connects and pings the store. TTL of zero keeps records
// forever; the store owns record lifetime either way.
func NewRedisGateway(redisURL string, ttl time.Duration) (*RedisGateway, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("redis URL required for persistence gateway")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisGateway{rdb: rdb, ttl: ttl}, nil
}

func (g *RedisGateway) Close() error {
	if g == nil || g.rdb == nil {
		return nil
	}
	return g.rdb.Close()
}

// IsReady pings the store. Callers check this before every Save/Load.
func (g *RedisGateway) IsReady(ctx context.Context) bool {
	if g == nil || g.rdb == nil {
		return false
	}
	return g.rdb.Ping(ctx).Err() == nil
}

func (g *RedisGateway) Save(ctx context.Context, id string, payload []byte) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("empty session id")
	}
	if err := g.rdb.Set(ctx, saveKey(id), payload, g.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", saveKey(id), err)
	}
	return nil
}

func (g *RedisGateway) Load(ctx context.Context, id string) ([]byte, bool, error) {
	raw, err := g.rdb.Get(ctx, saveKey(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", saveKey(id), err)
	}
	return raw, true, nil
}

func saveKey(id string) string { return "chessync:save:" + strings.TrimSpace(id) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
