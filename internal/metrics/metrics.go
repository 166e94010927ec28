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
// サービス層・ワーカー・HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordLogCreated(habitType string)
	RecordPipelineFailure(stage string)
	RecordPhotoUpload(bytes int, duration time.Duration)
	RecordVerification(outcome string)
	RecordOrphansDeleted(count int)
	RecordDashboardSourceFailure(source string)
	RecordHTTPStatus(statusCode int)
}

// 検証結果のラベル値
const (
	VerificationVerified        = "verified"
	VerificationAlreadyVerified = "already_verified"
	VerificationRejected        = "rejected"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logsCreated      *prometheus.CounterVec
	pipelineFailures *prometheus.CounterVec
	uploadBytes      prometheus.Histogram
	uploadLatency    prometheus.Histogram
	verifications    *prometheus.CounterVec
	orphansDeleted   prometheus.Counter
	dashboardFails   *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitjourney_habit_logs_created_total",
			Help: "作成された活動記録の合計数",
		}, []string{"habit_type"}),
		pipelineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitjourney_habit_log_failures_total",
			Help: "活動記録パイプラインの段階別失敗数",
		}, []string{"stage"}),
		uploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitjourney_photo_upload_bytes",
			Help:    "アップロードした写真のサイズ（バイト）",
			Buckets: prometheus.ExponentialBuckets(32*1024, 2, 8),
		}),
		uploadLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitjourney_photo_upload_latency_seconds",
			Help:    "写真アップロードのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitjourney_verifications_total",
			Help: "結果別の検証リクエスト数",
		}, []string{"outcome"}),
		orphansDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitjourney_orphan_photos_deleted_total",
			Help: "どの記録からも参照されず削除された写真の合計数",
		}),
		dashboardFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitjourney_dashboard_source_failures_total",
			Help: "ダッシュボード指標の取得失敗数",
		}, []string{"source"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitjourney_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logsCreated,
		c.pipelineFailures,
		c.uploadBytes,
		c.uploadLatency,
		c.verifications,
		c.orphansDeleted,
		c.dashboardFails,
		c.httpStatus,
	)

	return c
}

// RecordLogCreated は活動記録の作成を記録する。
func (c *Collector) RecordLogCreated(habitType string) {
	c.logsCreated.WithLabelValues(habitType).Inc()
}

// RecordPipelineFailure は失敗した段階を記録する。
func (c *Collector) RecordPipelineFailure(stage string) {
	c.pipelineFailures.WithLabelValues(stage).Inc()
}

// RecordPhotoUpload はアップロードしたサイズとレイテンシを記録する。
func (c *Collector) RecordPhotoUpload(bytes int, duration time.Duration) {
	c.uploadBytes.Observe(float64(bytes))
	c.uploadLatency.Observe(duration.Seconds())
}

// RecordVerification は検証リクエストの結果を記録する。
func (c *Collector) RecordVerification(outcome string) {
	c.verifications.WithLabelValues(outcome).Inc()
}

// RecordOrphansDeleted は削除した孤立写真の数を記録する。
func (c *Collector) RecordOrphansDeleted(count int) {
	c.orphansDeleted.Add(float64(count))
}

// RecordDashboardSourceFailure は取得に失敗した指標を記録する。
func (c *Collector) RecordDashboardSourceFailure(source string) {
	c.dashboardFails.WithLabelValues(source).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordLogCreated(string)              {}
func (Nop) RecordPipelineFailure(string)         {}
func (Nop) RecordPhotoUpload(int, time.Duration) {}
func (Nop) RecordVerification(string)            {}
func (Nop) RecordOrphansDeleted(int)             {}
func (Nop) RecordDashboardSourceFailure(string)  {}
func (Nop) RecordHTTPStatus(int)                 {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
