// Package metrics はPrometheusメトリクスの収集を提供する。
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder はメトリクス収集のインターフェース。
// APIクライアントから利用する。
type Recorder interface {
	RecordRequest(method, endpoint string, statusCode int)
	RecordRequestFailure(method, endpoint string)
	RecordLatency(duration time.Duration)
	RecordUpload(sizeBytes int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	requests    *prometheus.CounterVec
	requestFail *prometheus.CounterVec
	latency     prometheus.Histogram
	uploads     prometheus.Counter
	uploadBytes prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobman_api_requests_total",
			Help: "APIリクエストの合計数（メソッド・エンドポイント・ステータス別）",
		}, []string{"method", "endpoint", "status_code"}),
		requestFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobman_api_request_failures_total",
			Help: "レスポンスが得られなかったAPIリクエストの合計数",
		}, []string{"method", "endpoint"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "jobman_api_request_duration_seconds",
			Help:    "APIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobman_uploads_total",
			Help: "履歴書アップロードの合計数",
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobman_upload_bytes_total",
			Help: "アップロードされた履歴書の合計バイト数",
		}),
	}

	reg.MustRegister(
		c.requests,
		c.requestFail,
		c.latency,
		c.uploads,
		c.uploadBytes,
	)

	return c
}

// RecordRequest はレスポンスを受信したAPIリクエストを記録する。
func (c *Collector) RecordRequest(method, endpoint string, statusCode int) {
	c.requests.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
}

// RecordRequestFailure はレスポンスが得られなかったリクエストを記録する。
func (c *Collector) RecordRequestFailure(method, endpoint string) {
	c.requestFail.WithLabelValues(method, endpoint).Inc()
}

// RecordLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordLatency(duration time.Duration) {
	c.latency.Observe(duration.Seconds())
}

// RecordUpload は履歴書アップロードを記録する。
func (c *Collector) RecordUpload(sizeBytes int64) {
	c.uploads.Inc()
	c.uploadBytes.Add(float64(sizeBytes))
}

// Nop は何も記録しないRecorder。メトリクスが不要な場面で使用する。
type Nop struct{}

func (Nop) RecordRequest(method, endpoint string, statusCode int) {}
func (Nop) RecordRequestFailure(method, endpoint string)          {}
func (Nop) RecordLatency(duration time.Duration)                  {}
func (Nop) RecordUpload(sizeBytes int64)                          {}
