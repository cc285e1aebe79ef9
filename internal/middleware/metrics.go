package middleware

import (
	"net/http"
	"time"
)

// HTTPRecorder はHTTPレスポンスの計測値を記録するインターフェース。
// metrics.Collector が実装する。
type HTTPRecorder interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// NewMetricsMiddleware はレスポンスのステータスコードと処理時間を記録するミドルウェアを返す。
func NewMetricsMiddleware(rec HTTPRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := newStatusRecorder(w)

			next.ServeHTTP(sr, r)

			rec.RecordHTTPStatus(sr.statusCode)
			rec.RecordRequestLatency(time.Since(start))
		})
	}
}
