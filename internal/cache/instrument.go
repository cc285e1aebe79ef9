package cache

import "context"

// Recorder はキャッシュの利用状況を記録するインターフェース。
// metrics.Collector が実装する。
type Recorder interface {
	RecordCacheLookup(hit bool)
	RecordCacheInvalidation(count int)
}

type instrumented struct {
	Cache
	rec Recorder
}

// Instrument はヒット・ミス・無効化件数を rec に記録する Cache を返す。
// rec が nil の場合は c をそのまま返す。
func Instrument(c Cache, rec Recorder) Cache {
	if rec == nil {
		return c
	}
	return &instrumented{Cache: c, rec: rec}
}

func (i *instrumented) Get(ctx context.Context, key string) (any, bool) {
	v, ok := i.Cache.Get(ctx, key)
	i.rec.RecordCacheLookup(ok)
	return v, ok
}

func (i *instrumented) Delete(ctx context.Context, key string) bool {
	ok := i.Cache.Delete(ctx, key)
	if ok {
		i.rec.RecordCacheInvalidation(1)
	}
	return ok
}

func (i *instrumented) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	n, err := i.Cache.DeleteByPattern(ctx, pattern)
	if n > 0 {
		i.rec.RecordCacheInvalidation(n)
	}
	return n, err
}
