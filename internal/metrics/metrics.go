// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	LoginSuccess = "success"
	LoginFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、ハンドラー、ワーカーから利用する。
type MetricsCollector interface {
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)
	RecordLogin(outcome string)
	RecordTokenIssued()
	RecordTokenCheckFailure()
	RecordGuardRejection(method string)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	logins             *prometheus.CounterVec
	tokensIssued       prometheus.Counter
	tokenCheckFailures prometheus.Counter
	guardRejections    *prometheus.CounterVec
	sessionsPurged     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itembox_http_requests_total",
			Help: "ルート・メソッド・ステータスコード別のHTTPリクエスト数",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "itembox_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itembox_oauth_logins_total",
			Help: "結果別のOAuthログイン数",
		}, []string{"outcome"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itembox_api_tokens_issued_total",
			Help: "発行したAPIトークンの合計数",
		}),
		tokenCheckFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itembox_api_token_check_failures_total",
			Help: "無効または期限切れと判定したトークン確認の合計数",
		}),
		guardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itembox_access_guard_rejections_total",
			Help: "アクセスガードが拒否したリクエスト数",
		}, []string{"method"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itembox_sessions_purged_total",
			Help: "クリーンアップで削除した期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.logins,
		c.tokensIssued,
		c.tokenCheckFailures,
		c.guardRejections,
		c.sessionsPurged,
	)

	return c
}

// ObserveHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
func (c *Collector) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordLogin はOAuthログインの結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordTokenIssued はAPIトークンの発行を記録する。
func (c *Collector) RecordTokenIssued() {
	c.tokensIssued.Inc()
}

// RecordTokenCheckFailure はトークン確認の失敗を記録する。
func (c *Collector) RecordTokenCheckFailure() {
	c.tokenCheckFailures.Inc()
}

// RecordGuardRejection はアクセスガードによる拒否を記録する。
func (c *Collector) RecordGuardRejection(method string) {
	c.guardRejections.WithLabelValues(method).Inc()
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
