// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RateMetrics は為替レートキャッシュのメトリクス記録インターフェース。
type RateMetrics interface {
	// RecordRateCacheHit はキャッシュヒットを記録する。layerは"memory"または"store"。
	RecordRateCacheHit(layer string)
	RecordRateCacheMiss()
	RecordRateFetchFailure(reason string)
	RecordRateFetchLatency(duration time.Duration)
	// RecordRateFallback はフォールバックを記録する。kindは"stale"または"table"。
	RecordRateFallback(kind string)
}

// SyncMetrics はセッション同期のメトリクス記録インターフェース。
type SyncMetrics interface {
	RecordSyncEvent(eventType string)
	// RecordProfileFetch はプロフィール取得の結果を記録する。
	// outcomeは"ok", "not_found", "unauthorized", "error"のいずれか。
	RecordProfileFetch(outcome string)
	SetActiveSynchronizers(n int)
}

// FeedMetrics は採用フィード取り込みのメトリクス記録インターフェース。
type FeedMetrics interface {
	RecordFeedFetchSuccess(employerID string)
	RecordFeedFetchFailure(employerID string, reason string)
	RecordFeedParseFailure(employerID string)
	RecordFeedHTTPStatus(statusCode int)
	RecordFeedFetchLatency(duration time.Duration)
	RecordPostingsUpserted(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	rateCacheHit     *prometheus.CounterVec
	rateCacheMiss    prometheus.Counter
	rateFetchFail    *prometheus.CounterVec
	rateFetchLatency prometheus.Histogram
	rateFallback     *prometheus.CounterVec

	syncEvents    *prometheus.CounterVec
	profileFetch  *prometheus.CounterVec
	activeSyncers prometheus.Gauge

	feedFetchSuccess prometheus.Counter
	feedFetchFail    prometheus.Counter
	feedParseFail    prometheus.Counter
	feedHTTPStatus   *prometheus.CounterVec
	feedFetchLatency prometheus.Histogram
	postingsUpserted prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		rateCacheHit: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobboard_rate_cache_hit_total",
			Help: "為替レートキャッシュのヒット数（層別）",
		}, []string{"layer"}),
		rateCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobboard_rate_cache_miss_total",
			Help: "為替レートキャッシュのミス数",
		}),
		rateFetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobboard_rate_fetch_fail_total",
			Help: "為替レートAPI呼び出し失敗の合計数",
		}, []string{"reason"}),
		rateFetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobboard_rate_fetch_latency_seconds",
			Help:    "為替レートAPI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		rateFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobboard_rate_fallback_total",
			Help: "為替レート取得失敗時のフォールバック回数",
		}, []string{"kind"}),
		syncEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobboard_sync_events_total",
			Help: "セッション同期が処理した認証イベント数",
		}, []string{"event"}),
		profileFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobboard_profile_fetch_total",
			Help: "セッション同期によるプロフィール取得の結果別件数",
		}, []string{"outcome"}),
		activeSyncers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobboard_sync_active_clients",
			Help: "稼働中のクライアント別セッション同期数",
		}),
		feedFetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobboard_feed_fetch_success_total",
			Help: "採用フィードフェッチ成功の合計数",
		}),
		feedFetchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobboard_feed_fetch_fail_total",
			Help: "採用フィードフェッチ失敗の合計数",
		}),
		feedParseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobboard_feed_parse_fail_total",
			Help: "採用フィードパース失敗の合計数",
		}),
		feedHTTPStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobboard_feed_http_status_total",
			Help: "採用フィードのHTTPステータスコード別レスポンス数",
		}, []string{"status_code"}),
		feedFetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobboard_feed_fetch_latency_seconds",
			Help:    "採用フィードフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		postingsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobboard_postings_upserted_total",
			Help: "フィードから取り込んだ求人の合計数",
		}),
	}

	reg.MustRegister(
		c.rateCacheHit,
		c.rateCacheMiss,
		c.rateFetchFail,
		c.rateFetchLatency,
		c.rateFallback,
		c.syncEvents,
		c.profileFetch,
		c.activeSyncers,
		c.feedFetchSuccess,
		c.feedFetchFail,
		c.feedParseFail,
		c.feedHTTPStatus,
		c.feedFetchLatency,
		c.postingsUpserted,
	)

	return c
}

func (c *Collector) RecordRateCacheHit(layer string) {
	c.rateCacheHit.WithLabelValues(layer).Inc()
}

func (c *Collector) RecordRateCacheMiss() {
	c.rateCacheMiss.Inc()
}

func (c *Collector) RecordRateFetchFailure(reason string) {
	c.rateFetchFail.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordRateFetchLatency(duration time.Duration) {
	c.rateFetchLatency.Observe(duration.Seconds())
}

func (c *Collector) RecordRateFallback(kind string) {
	c.rateFallback.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordSyncEvent(eventType string) {
	c.syncEvents.WithLabelValues(eventType).Inc()
}

func (c *Collector) RecordProfileFetch(outcome string) {
	c.profileFetch.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetActiveSynchronizers(n int) {
	c.activeSyncers.Set(float64(n))
}

// RecordFeedFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFeedFetchSuccess(employerID string) {
	c.feedFetchSuccess.Inc()
}

// RecordFeedFetchFailure はフェッチ失敗を記録する。
func (c *Collector) RecordFeedFetchFailure(employerID string, reason string) {
	c.feedFetchFail.Inc()
}

// RecordFeedParseFailure はパース失敗を記録する。
func (c *Collector) RecordFeedParseFailure(employerID string) {
	c.feedParseFail.Inc()
}

// RecordFeedHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordFeedHTTPStatus(statusCode int) {
	c.feedHTTPStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFeedFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFeedFetchLatency(duration time.Duration) {
	c.feedFetchLatency.Observe(duration.Seconds())
}

// RecordPostingsUpserted は取り込んだ求人数を記録する。
func (c *Collector) RecordPostingsUpserted(count int) {
	c.postingsUpserted.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ RateMetrics = (*Collector)(nil)
	_ SyncMetrics = (*Collector)(nil)
	_ FeedMetrics = (*Collector)(nil)
)
