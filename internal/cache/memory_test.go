package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestMemoryCache(t *testing.T) (*MemoryCache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(MemoryConfig{DefaultTTL: time.Hour, SweepInterval: time.Hour})
	c.now = clock.Now
	t.Cleanup(c.Stop)
	return c, clock
}

func TestMemoryCache_SetAndGet(t *testing.T) {
	c, _ := newTestMemoryCache(t)
	ctx := context.Background()

	if !c.Set(ctx, "k", "v", 0) {
		t.Fatal("Set should return true")
	}

	v, ok := c.Get(ctx, "k")
	if !ok {
		t.Fatal("expected hit")
	}
	if v != "v" {
		t.Errorf("value = %v, want v", v)
	}
}

func TestMemoryCache_StoresByReference(t *testing.T) {
	c, _ := newTestMemoryCache(t)
	ctx := context.Background()

	type box struct{ n int }
	b := &box{n: 1}
	c.Set(ctx, "box", b, 0)
	b.n = 2

	v, _ := c.Get(ctx, "box")
	if v.(*box).n != 2 {
		t.Errorf("expected stored value to share the reference, got n=%d", v.(*box).n)
	}
}

func TestMemoryCache_ExpiresOnRead(t *testing.T) {
	c, clock := newTestMemoryCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", 1, 10*time.Second)

	clock.Advance(9 * time.Second)
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("entry should still be live")
	}

	clock.Advance(time.Second)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("entry should be expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed on read, Len = %d", c.Len())
	}
}

func TestMemoryCache_DefaultTTL(t *testing.T) {
	c, clock := newTestMemoryCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", 1, 0)
	clock.Advance(59 * time.Minute)
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("entry should live for the default TTL")
	}
	clock.Advance(time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("entry should expire after the default TTL")
	}
}

func TestMemoryCache_Sweep(t *testing.T) {
	c, clock := newTestMemoryCache(t)
	ctx := context.Background()

	c.Set(ctx, "short", 1, time.Second)
	c.Set(ctx, "long", 2, time.Hour)

	clock.Advance(2 * time.Second)
	c.sweep()

	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1", c.Len())
	}
	if _, ok := c.Get(ctx, "long"); !ok {
		t.Error("live entry should survive the sweep")
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	c, _ := newTestMemoryCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", 1, 0)
	if !c.Delete(ctx, "k") {
		t.Error("Delete of existing key should return true")
	}
	if c.Delete(ctx, "k") {
		t.Error("Delete of missing key should return false")
	}
}

func TestMemoryCache_DeleteByPattern(t *testing.T) {
	c, _ := newTestMemoryCache(t)
	ctx := context.Background()

	for _, k := range []string{"lesson_1", "lesson_1_meta", "lesson_12", "lesson_content_1", "path_1"} {
		c.Set(ctx, k, true, 0)
	}

	n, err := c.DeleteByPattern(ctx, "^lesson_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	for _, k := range []string{"lesson_content_1", "path_1"} {
		if _, ok := c.Get(ctx, k); !ok {
			t.Errorf("%s should remain", k)
		}
	}
}

func TestMemoryCache_DeleteByPattern_InvalidPattern(t *testing.T) {
	c, _ := newTestMemoryCache(t)

	if _, err := c.DeleteByPattern(context.Background(), "("); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestMemoryCache_Flush(t *testing.T) {
	c, _ := newTestMemoryCache(t)
	ctx := context.Background()

	c.Set(ctx, "a", 1, 0)
	c.Set(ctx, "b", 2, 0)
	c.Flush(ctx)

	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestMemoryCache_StopIsIdempotent(t *testing.T) {
	c := NewMemoryCache(DefaultMemoryConfig())
	c.Stop()
	c.Stop()
}

func TestGetOrSet_UsesCachedValue(t *testing.T) {
	c, _ := newTestMemoryCache(t)
	ctx := context.Background()

	calls := 0
	gen := func(context.Context) (string, error) {
		calls++
		return "generated", nil
	}

	first, err := GetOrSet(ctx, c, "k", 0, gen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := GetOrSet(ctx, c, "k", 0, gen)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != "generated" || second != "generated" {
		t.Errorf("values = %q, %q", first, second)
	}
	if calls != 1 {
		t.Errorf("generator calls = %d, want 1", calls)
	}
}

func TestGetOrSet_RegeneratesAfterExpiry(t *testing.T) {
	c, clock := newTestMemoryCache(t)
	ctx := context.Background()

	calls := 0
	gen := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	if v, _ := GetOrSet(ctx, c, "k", time.Minute, gen); v != 1 {
		t.Fatalf("first = %d, want 1", v)
	}
	clock.Advance(2 * time.Minute)
	if v, _ := GetOrSet(ctx, c, "k", time.Minute, gen); v != 2 {
		t.Fatalf("after expiry = %d, want 2", v)
	}
}

func TestGetOrSet_GeneratorErrorIsNotCached(t *testing.T) {
	c, _ := newTestMemoryCache(t)
	ctx := context.Background()

	wantErr := errors.New("boom")
	_, err := GetOrSet(ctx, c, "k", 0, func(context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("failed generation should not be cached")
	}
}

func TestGetOrSet_DecodesEncodedValues(t *testing.T) {
	c, _ := newTestMemoryCache(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}
	c.Set(ctx, "k", Encoded(`{"name":"go"}`), 0)

	got, err := GetOrSet(ctx, c, "k", 0, func(context.Context) (payload, error) {
		t.Fatal("generator should not be called for a decodable value")
		return payload{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "go" {
		t.Errorf("Name = %q, want go", got.Name)
	}
}

type stubRecorder struct {
	hits, misses, invalidated int
}

func (s *stubRecorder) RecordCacheLookup(hit bool) {
	if hit {
		s.hits++
	} else {
		s.misses++
	}
}

func (s *stubRecorder) RecordCacheInvalidation(n int) { s.invalidated += n }

func TestInstrument_RecordsLookupsAndInvalidations(t *testing.T) {
	mem, _ := newTestMemoryCache(t)
	rec := &stubRecorder{}
	c := Instrument(mem, rec)
	ctx := context.Background()

	c.Get(ctx, "missing")
	c.Set(ctx, "lesson_1", 1, 0)
	c.Set(ctx, "lesson_1_x", 1, 0)
	c.Get(ctx, "lesson_1")
	c.Delete(ctx, "lesson_1")
	c.DeleteByPattern(ctx, "^lesson_")

	if rec.hits != 1 || rec.misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", rec.hits, rec.misses)
	}
	if rec.invalidated != 2 {
		t.Errorf("invalidated = %d, want 2", rec.invalidated)
	}
}

func TestInstrument_NilRecorderReturnsCache(t *testing.T) {
	mem, _ := newTestMemoryCache(t)
	if Instrument(mem, nil) != Cache(mem) {
		t.Error("nil recorder should return the underlying cache")
	}
}
