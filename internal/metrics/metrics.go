// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// キャッシュ、サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordCacheLookup(hit bool)
	RecordCacheInvalidation(count int)
	RecordRender(format string, duration time.Duration)
	RecordWriteThroughFailure()
	RecordCompletion()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordRerender(success bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cacheLookups       *prometheus.CounterVec
	cacheInvalidations prometheus.Counter
	renders            *prometheus.CounterVec
	renderLatency      prometheus.Histogram
	writeThroughFail   prometheus.Counter
	completions        prometheus.Counter
	httpStatus         *prometheus.CounterVec
	requestLatency     prometheus.Histogram
	rerenders          *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnpath_cache_lookups_total",
			Help: "キャッシュ参照の合計数（result=hit|miss）",
		}, []string{"result"}),
		cacheInvalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "learnpath_cache_invalidations_total",
			Help: "無効化されたキャッシュエントリの合計数",
		}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnpath_content_renders_total",
			Help: "形式別のコンテンツレンダリング数",
		}, []string{"format"}),
		renderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "learnpath_content_render_seconds",
			Help:    "コンテンツレンダリングの所要時間（秒）",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		writeThroughFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "learnpath_content_write_through_failures_total",
			Help: "レンダリング結果の書き戻し失敗の合計数",
		}),
		completions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "learnpath_lesson_completions_total",
			Help: "レッスン完了リクエストの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnpath_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "learnpath_http_request_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		rerenders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "learnpath_rerender_total",
			Help: "再レンダリングジョブで処理したレッスン数（result=success|failure）",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.cacheLookups,
		c.cacheInvalidations,
		c.renders,
		c.renderLatency,
		c.writeThroughFail,
		c.completions,
		c.httpStatus,
		c.requestLatency,
		c.rerenders,
	)

	return c
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

// RecordCacheLookup はキャッシュのヒットまたはミスを記録する。
func (c *Collector) RecordCacheLookup(hit bool) {
	c.cacheLookups.WithLabelValues(result(hit, "hit", "miss")).Inc()
}

// RecordCacheInvalidation は無効化されたエントリ数を記録する。
func (c *Collector) RecordCacheInvalidation(count int) {
	c.cacheInvalidations.Add(float64(count))
}

// RecordRender はレンダリング1回分の形式と所要時間を記録する。
func (c *Collector) RecordRender(format string, duration time.Duration) {
	c.renders.WithLabelValues(format).Inc()
	c.renderLatency.Observe(duration.Seconds())
}

// RecordWriteThroughFailure は書き戻し失敗を記録する。
func (c *Collector) RecordWriteThroughFailure() {
	c.writeThroughFail.Inc()
}

// RecordCompletion はレッスン完了を記録する。
func (c *Collector) RecordCompletion() {
	c.completions.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はHTTPリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordRerender は再レンダリング1件の結果を記録する。
func (c *Collector) RecordRerender(success bool) {
	c.rerenders.WithLabelValues(result(success, "success", "failure")).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカーモードなどAPIルーターを持たないプロセスで使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
