package cache

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"
)

// MemoryConfig はインメモリキャッシュの設定を保持する。
type MemoryConfig struct {
	DefaultTTL    time.Duration // TTL未指定時の有効期間
	SweepInterval time.Duration // 期限切れエントリの一括削除間隔
}

// DefaultMemoryConfig はデフォルト設定を返す。
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		DefaultTTL:    DefaultTTL,
		SweepInterval: 120 * time.Second,
	}
}

type entry struct {
	value     any
	expiresAt time.Time
}

// MemoryCache はプロセス内のTTL付きキャッシュ。
// 値は参照のまま保存し、コピーしない。
// 期限切れエントリは読み取り時に除去され、加えてバックグラウンドで定期的に掃除される。
type MemoryCache struct {
	config MemoryConfig
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]entry

	stopCh   chan struct{}
	stopOnce sync.Once
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache は新しいMemoryCacheを生成し、掃除ゴルーチンを開始する。
func NewMemoryCache(config MemoryConfig) *MemoryCache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultTTL
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultMemoryConfig().SweepInterval
	}

	c := &MemoryCache{
		config:  config,
		now:     time.Now,
		entries: make(map[string]entry),
		stopCh:  make(chan struct{}),
	}

	go c.sweepLoop()

	return c
}

// Stop は掃除ゴルーチンを停止する。複数回呼んでもよい。
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *MemoryCache) Get(_ context.Context, key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// 読み取り後に再設定されている可能性がある
		if cur, exists := c.entries[key]; exists && !c.now().Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return e.value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()

	return true
}

func (c *MemoryCache) Delete(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

func (c *MemoryCache) DeleteByPattern(_ context.Context, pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid cache key pattern %q: %w", pattern, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deleted := 0
	for key := range c.entries {
		if re.MatchString(key) {
			delete(c.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

func (c *MemoryCache) Flush(_ context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len は保持しているエントリ数（期限切れ未掃除分を含む）を返す。
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) sweepLoop() {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep は期限切れエントリをすべて削除する。
func (c *MemoryCache) sweep() {
	now := c.now()

	c.mu.Lock()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
