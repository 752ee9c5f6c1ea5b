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
// 同期層とワーカーから利用する。
type MetricsCollector interface {
	RecordSyncSuccess(accountType string)
	RecordSyncSkipped(accountType string)
	RecordSyncFailure(accountType string, reason string)
	RecordParseFailure()
	RecordAuthFailure(serviceType string)
	RecordHTTPStatus(statusCode int)
	RecordSyncLatency(duration time.Duration)
	RecordItemsInserted(count int)
	RecordItemsUpdated(count int)
	RecordItemsPruned(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncSuccess   *prometheus.CounterVec
	syncSkipped   *prometheus.CounterVec
	syncFail      *prometheus.CounterVec
	parseFail     prometheus.Counter
	authFail      *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
	syncLatency   prometheus.Histogram
	itemsInserted prometheus.Counter
	itemsUpdated  prometheus.Counter
	itemsPruned   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_sync_success_total",
			Help: "フィード同期成功の合計数",
		}, []string{"account_type"}),
		syncSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_sync_skipped_total",
			Help: "304 Not Modifiedでスキップされた同期の合計数",
		}, []string{"account_type"}),
		syncFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_sync_fail_total",
			Help: "フィード同期失敗の合計数",
		}, []string{"account_type", "reason"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_parse_fail_total",
			Help: "フィードパース失敗の合計数",
		}),
		authFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_auth_fail_total",
			Help: "サービスAPI認証失敗の合計数",
		}, []string{"service"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedsync_sync_latency_seconds",
			Help:    "フィード1件の同期レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		itemsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_items_inserted_total",
			Help: "挿入された記事の合計数",
		}),
		itemsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_items_updated_total",
			Help: "更新された記事の合計数",
		}),
		itemsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedsync_items_pruned_total",
			Help: "保持期限で削除された記事の合計数",
		}),
	}

	reg.MustRegister(
		c.syncSuccess,
		c.syncSkipped,
		c.syncFail,
		c.parseFail,
		c.authFail,
		c.httpStatus,
		c.syncLatency,
		c.itemsInserted,
		c.itemsUpdated,
		c.itemsPruned,
	)

	return c
}

// RecordSyncSuccess は同期成功を記録する。
func (c *Collector) RecordSyncSuccess(accountType string) {
	c.syncSuccess.WithLabelValues(accountType).Inc()
}

// RecordSyncSkipped は304によるスキップを記録する。
func (c *Collector) RecordSyncSkipped(accountType string) {
	c.syncSkipped.WithLabelValues(accountType).Inc()
}

// RecordSyncFailure は同期失敗を記録する。
func (c *Collector) RecordSyncFailure(accountType string, reason string) {
	c.syncFail.WithLabelValues(accountType, reason).Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure() {
	c.parseFail.Inc()
}

// RecordAuthFailure はサービスAPI認証失敗を記録する。
func (c *Collector) RecordAuthFailure(serviceType string) {
	c.authFail.WithLabelValues(serviceType).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSyncLatency は同期のレイテンシを記録する。
func (c *Collector) RecordSyncLatency(duration time.Duration) {
	c.syncLatency.Observe(duration.Seconds())
}

// RecordItemsInserted は挿入された記事数を記録する。
func (c *Collector) RecordItemsInserted(count int) {
	c.itemsInserted.Add(float64(count))
}

// RecordItemsUpdated は更新された記事数を記録する。
func (c *Collector) RecordItemsUpdated(count int) {
	c.itemsUpdated.Add(float64(count))
}

// RecordItemsPruned は削除された記事数を記録する。
func (c *Collector) RecordItemsPruned(count int) {
	c.itemsPruned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
