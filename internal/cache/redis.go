package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisConfig はRedisキャッシュの設定を保持する。
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	Namespace  string        // キーの接頭辞。複数サービスで同じRedisを共有する場合に使う
	DefaultTTL time.Duration // TTL未指定時の有効期間
}

// RedisCache はRedisをバックエンドとするキャッシュ。
// 値はJSONで保存し、Get は Encoded を返す。
type RedisCache struct {
	rdb        *goredis.Client
	namespace  string
	defaultTTL time.Duration
	logger     *slog.Logger
}

var _ Cache = (*RedisCache)(nil)

const scanBatchSize = 200

// NewRedisCache はRedisに接続し、疎通確認を行った上でRedisCacheを返す。
func NewRedisCache(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisCacheFromClient(rdb, cfg.Namespace, cfg.DefaultTTL, logger), nil
}

// NewRedisCacheFromClient は既存のクライアントからRedisCacheを生成する。
func NewRedisCacheFromClient(rdb *goredis.Client, namespace string, defaultTTL time.Duration, logger *slog.Logger) *RedisCache {
	if namespace == "" {
		namespace = "learnpath"
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		rdb:        rdb,
		namespace:  namespace,
		defaultTTL: defaultTTL,
		logger:     logger.With(slog.String("component", "redis_cache")),
	}
}

// Close はRedis接続を閉じる。
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

func (c *RedisCache) key(name string) string {
	return c.namespace + ":" + name
}

// Get はRedis障害時もミスとして扱い、呼び出し側には生成処理へフォールバックさせる。
func (c *RedisCache) Get(ctx context.Context, key string) (any, bool) {
	b, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.WarnContext(ctx, "cache get failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}
	return Encoded(b), true
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	var payload []byte
	if enc, ok := value.(Encoded); ok {
		payload = enc
	} else {
		b, err := json.Marshal(value)
		if err != nil {
			c.logger.WarnContext(ctx, "cache value encode failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			return false
		}
		payload = b
	}

	if err := c.rdb.Set(ctx, c.key(key), payload, ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache set failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (c *RedisCache) Delete(ctx context.Context, key string) bool {
	n, err := c.rdb.Del(ctx, c.key(key)).Result()
	if err != nil {
		c.logger.WarnContext(ctx, "cache delete failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return n > 0
}

// DeleteByPattern は名前空間内のキーをSCANし、接頭辞を除いたキー名が正規表現にマッチするものを削除する。
func (c *RedisCache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid cache key pattern %q: %w", pattern, err)
	}
	return c.deleteMatching(ctx, re.MatchString)
}

func (c *RedisCache) Flush(ctx context.Context) {
	if _, err := c.deleteMatching(ctx, func(string) bool { return true }); err != nil {
		c.logger.WarnContext(ctx, "cache flush failed", slog.String("error", err.Error()))
	}
}

func (c *RedisCache) deleteMatching(ctx context.Context, match func(name string) bool) (int, error) {
	prefix := c.namespace + ":"
	iter := c.rdb.Scan(ctx, 0, prefix+"*", scanBatchSize).Iterator()

	var batch []string
	deleted := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		full := iter.Val()
		if !match(strings.TrimPrefix(full, prefix)) {
			continue
		}
		batch = append(batch, full)
		if len(batch) >= scanBatchSize {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}
