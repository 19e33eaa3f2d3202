// ============================================================================
// Bulk-Translator Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露批次翻譯任務的運行指標，支持 Prometheus 監控
//
// 指標分類:
//
//   1. 任務計數器 (Counter) - 累計值，只增不減：
//      - bulk_jobs_created_total: 建立的任務總數
//      - bulk_jobs_finished_total{status}: 依終止狀態分類的任務數
//      - bulk_item_failures_total{kind}: 逐項失敗數
//        * kind: upload, subjob_create, progress_query, remote_cancel
//      - bulk_poll_iterations_total: 輪詢迴圈的迭代次數
//      - bulk_phase_transitions_total{phase}: 進入各階段的次數
//
//   2. 性能指標 (Histogram) - 分佈統計：
//      - bulk_job_duration_seconds: 從開始到終止的耗時
//        * 桶分佈: 1s 起，指數成長到約 1 小時
//
//   3. 狀態指標 (Gauge) - 瞬時值：
//      - bulk_jobs_active: 目前 pipeline 執行中的任務數
//
// Prometheus 查詢示例:
//
//   # 每分鐘完成任務數
//   rate(bulk_jobs_finished_total{status="completed"}[1m])
//
//   # 95 分位耗時
//   histogram_quantile(0.95, bulk_job_duration_seconds_bucket)
//
//   # 上傳失敗率
//   rate(bulk_item_failures_total{kind="upload"}[5m])
//
// HTTP 端點:
//   通過 /metrics 端點暴露，由 Prometheus 定期抓取
//   默認端口: 9090
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 逐項失敗種類
const (
	KindUpload        = "upload"
	KindSubJobCreate  = "subjob_create"
	KindProgressQuery = "progress_query"
	KindRemoteCancel  = "remote_cancel"
)

// Collector Prometheus 指標收集器
type Collector struct {
	// 任務相關指標
	jobsCreated      prometheus.Counter
	jobsFinished     *prometheus.CounterVec
	itemFailures     *prometheus.CounterVec
	pollIterations   prometheus.Counter
	phaseTransitions *prometheus.CounterVec

	// 效能指標
	jobDuration prometheus.Histogram

	// 狀態指標
	jobsActive prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewCollector 創建新的指標收集器並註冊到 reg
//
// 參數：
//   - reg: 註冊目標，nil 時使用 prometheus.DefaultRegisterer
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		jobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bulk_jobs_created_total",
			Help: "Total number of bulk translation jobs created",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_jobs_finished_total",
			Help: "Total number of bulk translation jobs that reached a terminal status",
		}, []string{"status"}),
		itemFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_item_failures_total",
			Help: "Per-file or per-locale failures recorded on jobs",
		}, []string{"kind"}),
		pollIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bulk_poll_iterations_total",
			Help: "Iterations of the translating phase polling loop",
		}),
		phaseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulk_phase_transitions_total",
			Help: "Number of times jobs entered each pipeline phase",
		}, []string{"phase"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bulk_job_duration_seconds",
			Help:    "Time from pipeline start to terminal status in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bulk_jobs_active",
			Help: "Current number of jobs whose pipeline is running",
		}),
	}

	// 註冊所有指標
	reg.MustRegister(
		c.jobsCreated,
		c.jobsFinished,
		c.itemFailures,
		c.pollIterations,
		c.phaseTransitions,
		c.jobDuration,
		c.jobsActive,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		c.gatherer = g
	} else {
		c.gatherer = prometheus.DefaultGatherer
	}
	return c
}

// RecordCreated 記錄任務建立
func (c *Collector) RecordCreated() {
	c.jobsCreated.Inc()
}

// RecordStarted 記錄 pipeline 開始
func (c *Collector) RecordStarted() {
	c.jobsActive.Inc()
}

// RecordFinished 記錄任務進入終止狀態
func (c *Collector) RecordFinished(status string, durationSeconds float64) {
	c.jobsFinished.WithLabelValues(status).Inc()
	c.jobDuration.Observe(durationSeconds)
	c.jobsActive.Dec()
}

// RecordItemFailure 記錄逐項失敗
func (c *Collector) RecordItemFailure(kind string) {
	c.itemFailures.WithLabelValues(kind).Inc()
}

// RecordPollIteration 記錄一次輪詢迭代
func (c *Collector) RecordPollIteration() {
	c.pollIterations.Inc()
}

// RecordPhase 記錄進入某個階段
func (c *Collector) RecordPhase(phase string) {
	c.phaseTransitions.WithLabelValues(phase).Inc()
}

// Handler 回傳暴露本收集器所在 registry 的 HTTP handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// NewServer 建立 Prometheus metrics HTTP 伺服器，由呼叫者啟動與關閉
//
// 參數：
//   - port: HTTP 伺服器端口
//
// 返回值：
//   - *http.Server: 只提供 /metrics 的伺服器
func (c *Collector) NewServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
