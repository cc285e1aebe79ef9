// Package cache はプロセス共有のキーバリューキャッシュを提供する。
// インメモリ実装とRedis実装があり、どちらも Cache インターフェースを満たす。
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultTTL はTTL未指定時のエントリ有効期間。
const DefaultTTL = 3600 * time.Second

// Cache はTTL付きキーバリューストアのインターフェース。
type Cache interface {
	// Get は有効期限内のエントリが存在すれば値とtrueを返す。
	Get(ctx context.Context, key string) (any, bool)
	// Set は値を保存する。ttl が0以下の場合はデフォルトTTLを使う。
	Set(ctx context.Context, key string, value any, ttl time.Duration) bool
	// Delete はエントリを削除し、削除できたかどうかを返す。
	Delete(ctx context.Context, key string) bool
	// DeleteByPattern は正規表現にマッチするキーをすべて削除し、削除件数を返す。
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	// Flush は全エントリを削除する。
	Flush(ctx context.Context)
}

// Encoded はシリアライズされたキャッシュ値。
// プロセス外のストアから取得した値はこの型で返り、GetOrSet が呼び出し側の型に復元する。
type Encoded []byte

// GetOrSet は有効なキャッシュ値があればそれを返し、なければ generate の結果を保存して返す。
// generate がエラーを返した場合は何も保存しない。
// 同一キーへの同時呼び出しでは generate が複数回実行されることがあり、最後の書き込みが残る。
func GetOrSet[T any](ctx context.Context, c Cache, key string, ttl time.Duration, generate func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(ctx, key); ok {
		if typed, ok := decode[T](v); ok {
			return typed, nil
		}
	}

	value, err := generate(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	c.Set(ctx, key, value, ttl)
	return value, nil
}

func decode[T any](v any) (T, bool) {
	if typed, ok := v.(T); ok {
		return typed, true
	}

	var out T
	enc, ok := v.(Encoded)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(enc, &out); err != nil {
		return out, false
	}
	return out, true
}
