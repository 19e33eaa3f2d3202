// ============================================================================
// Bulk Translator 控制器 - 批次翻譯任務協調器
// ============================================================================
//
// Package: internal/controller
// 文件: controller.go
// 功能: 接收批次翻譯請求，在背景執行多階段 pipeline，並提供查詢與取消
//
// 架構設計:
//   這是整個系統的"大腦"，負責協調以下組件：
//   - JobManager: 任務記錄存儲（每個任務一把寫入鎖）
//   - translation.Client: 遠端翻譯服務（上傳、建立子任務、查詢進度、取消）
//   - WorkerPool: 有上限的並發 fan-out，用於上傳與建立子任務
//   - Metrics / Notifier: 生命週期指標與事件
//
// Pipeline 階段 (固定順序):
//   initializing → uploading_files → starting_translation → translating
//   → quality_check → finalizing → completed
//   任一階段返回錯誤（或 panic）則整個任務 failed；
//   逐項失敗只記錄在該檔案/語系上，不影響其他項目
//
// 取消語意:
//   - CancelJob 先把記錄改成 cancelled，再取消 pipeline 的 context
//   - pipeline 在每次遠端呼叫前與每次輪詢迭代中檢查 context
//   - 已取得遠端 ID 且未失敗的子任務會收到遠端取消請求（錯誤只記錄）
//
// 並發安全:
//   - 所有對單一任務的寫入都經過 JobManager.Update（per-job mutex）
//   - 查詢只讀取深拷貝快照，從不等待遠端 I/O
//   - handles 保存每個 pipeline 的 cancel 與 done，Shutdown 可取消並等待
//
// ============================================================================

package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChuLiYu/bulk-translator/internal/events"
	"github.com/ChuLiYu/bulk-translator/internal/jobmanager"
	"github.com/ChuLiYu/bulk-translator/internal/metrics"
	"github.com/ChuLiYu/bulk-translator/internal/translation"
	"github.com/ChuLiYu/bulk-translator/internal/worker"
	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

var log = slog.Default()

// ============================================================================
// 資料結構定義
// ============================================================================

// Config Controller 配置
type Config struct {
	PollInterval      time.Duration // 輪詢間隔
	MaxPollIterations int           // 輪詢迭代上限
	ItemConcurrency   int           // 上傳與建立子任務的並發數
	RemoteCallTimeout time.Duration // 單次遠端呼叫超時
	StringsPerFile    int           // 每個檔案估計的字串數
	UnitDuration      time.Duration // 每個 檔案×語系 單位的估計時間
	CostPerString     float64       // 每個字串的費用
}

// DefaultConfig 返回預設配置
func DefaultConfig() Config {
	return Config{
		PollInterval:      10 * time.Second,
		MaxPollIterations: 30,
		ItemConcurrency:   4,
		RemoteCallTimeout: 30 * time.Second,
		StringsPerFile:    100,
		UnitDuration:      30 * time.Second,
		CostPerString:     0.02,
	}
}

// Validate 檢查配置
func (c Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	case c.MaxPollIterations <= 0:
		return fmt.Errorf("max poll iterations must be positive, got %d", c.MaxPollIterations)
	case c.ItemConcurrency <= 0:
		return fmt.Errorf("item concurrency must be positive, got %d", c.ItemConcurrency)
	case c.StringsPerFile <= 0:
		return fmt.Errorf("strings per file must be positive, got %d", c.StringsPerFile)
	case c.CostPerString < 0:
		return fmt.Errorf("cost per string must not be negative, got %v", c.CostPerString)
	}
	return nil
}

// CreateParams 建立批次任務的參數
type CreateParams struct {
	ProjectID     string
	FilePaths     []string
	TargetLocales []string
	Priority      types.Priority
	DueDate       *time.Time
}

// handle 背景 pipeline 的控制把手
type handle struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Controller 批次任務協調器
type Controller struct {
	config   Config
	jobs     *jobmanager.JobManager // 任務記錄存儲
	client   translation.Client     // 遠端翻譯服務
	pool     *worker.Pool           // 逐項 fan-out
	metrics  *metrics.Collector
	notifier events.Notifier
	assessor QualityAssessor
	now      func() time.Time
	newID    func() types.JobID

	mu      sync.Mutex              // 保護 handles 與 closed
	handles map[types.JobID]*handle // 執行中的 pipeline
	closed  bool                    // Shutdown 之後不再接受新任務
	wg      sync.WaitGroup          // 等待所有 pipeline 退出
}

// Option 自訂 Controller
type Option func(*Controller)

// WithMetrics 使用指定的指標收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithNotifier 使用指定的事件通知器
func WithNotifier(n events.Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithQualityAssessor 替換預設的品質評估
func WithQualityAssessor(a QualityAssessor) Option {
	return func(c *Controller) { c.assessor = a }
}

// WithClock 替換時鐘（測試用）
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator 替換任務 ID 產生器
func WithIDGenerator(gen func() types.JobID) Option {
	return func(c *Controller) { c.newID = gen }
}

// ============================================================================
// 核心方法實作
// ============================================================================

// New 建立新的 Controller 實例
//
// 參數：
//   - cfg: Controller 配置
//   - client: 遠端翻譯服務客戶端
//   - opts: 可選的依賴注入
//
// 返回值：
//   - *Controller: Controller 實例
//   - error: 配置不合法
func New(cfg Config, client translation.Client, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("translation client is required")
	}

	c := &Controller{
		config:   cfg,
		jobs:     jobmanager.NewJobManager(),
		client:   client,
		pool:     worker.NewPool(cfg.ItemConcurrency),
		notifier: events.Nop{},
		assessor: CoverageAssessor{},
		now:      time.Now,
		newID:    newJobID,
		handles:  make(map[types.JobID]*handle),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.NewCollector(prometheus.NewRegistry())
	}
	return c, nil
}

// newJobID 時間戳加上隨機部分，同一毫秒內也不會重複
func newJobID() types.JobID {
	return types.JobID(fmt.Sprintf("job_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8]))
}

// CreateBulkJob 建立批次翻譯任務並立即返回
//
// 流程：
//  1. 驗證參數（失敗時不建立任何記錄）
//  2. 建立 queued 記錄，包含每個檔案與語系的待處理項目
//  3. 啟動背景 pipeline，不等待任何遠端呼叫
//
// 返回值：
//   - types.JobID: 新任務的 ID
//   - error: ErrValidation 或 ErrShuttingDown
func (c *Controller) CreateBulkJob(ctx context.Context, p CreateParams) (types.JobID, error) {
	if err := validateParams(&p); err != nil {
		return "", err
	}

	now := c.now()
	job := types.Job{
		ID:   c.newID(),
		Type: types.JobTypeBulkTranslation,
		Params: types.Params{
			ProjectID:     p.ProjectID,
			FilePaths:     append([]string(nil), p.FilePaths...),
			TargetLocales: append([]string(nil), p.TargetLocales...),
			Priority:      p.Priority,
			DueDate:       p.DueDate,
		},
		CreatedAt: now,
		Estimate: types.Estimate{
			Strings:  c.estimateJobSize(len(p.FilePaths), len(p.TargetLocales)),
			Duration: c.estimateJobDuration(len(p.FilePaths), len(p.TargetLocales)),
		},
		UploadedFiles: make([]types.UploadedFile, len(p.FilePaths)),
		SubJobs:       make([]types.SubJob, len(p.TargetLocales)),
	}
	job.Progress = types.Progress{Total: job.Estimate.Strings, CurrentPhase: types.PhaseInitializing}
	for i, path := range p.FilePaths {
		job.UploadedFiles[i] = types.UploadedFile{Path: path, Status: types.ItemPending}
	}
	for i, locale := range p.TargetLocales {
		job.SubJobs[i] = types.SubJob{Locale: locale, Status: types.ItemPending}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrShuttingDown
	}
	if err := c.jobs.Create(job); err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("failed to store job: %w", err)
	}
	runCtx, cancel := context.WithCancelCause(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}
	c.handles[job.ID] = h
	c.wg.Add(1)
	c.mu.Unlock()

	// 通知可能很慢（NATS 重連），不能持有 c.mu
	c.metrics.RecordCreated()
	c.notifier.Notify(ctx, events.FromJob(events.EventCreated, &job, now))
	log.Info("bulk job created",
		"jobID", job.ID,
		"projectID", p.ProjectID,
		"files", len(p.FilePaths),
		"locales", len(p.TargetLocales),
		"priority", p.Priority)

	go c.run(runCtx, job.ID, h)

	return job.ID, nil
}

func validateParams(p *CreateParams) error {
	if p.ProjectID == "" {
		return validationError("projectId", "is required")
	}
	if len(p.FilePaths) == 0 {
		return validationError("filePaths", "must not be empty")
	}
	for _, path := range p.FilePaths {
		if path == "" {
			return validationError("filePaths", "must not contain empty paths")
		}
	}
	if len(p.TargetLocales) == 0 {
		return validationError("targetLocales", "must not be empty")
	}
	for _, locale := range p.TargetLocales {
		if locale == "" {
			return validationError("targetLocales", "must not contain empty locales")
		}
	}
	if p.Priority == "" {
		p.Priority = types.PriorityNormal
	}
	if !p.Priority.Valid() {
		return validationError("priority", fmt.Sprintf("%q is not one of low, normal, high, urgent", p.Priority))
	}
	return nil
}

// CancelJob 取消一個尚未終止的任務
//
// 返回值：
//   - bool: 未知或已終止的任務返回 false，記錄不變
func (c *Controller) CancelJob(id types.JobID) bool {
	now := c.now()
	var snapshot types.Job
	err := c.jobs.Update(id, func(job *types.Job) error {
		if job.Status().IsTerminal() {
			return errJobTerminal
		}
		job.Outcome = types.Cancelled{At: now}
		job.Progress.CurrentPhase = types.PhaseCancelled
		snapshot = job.Clone()
		return nil
	})
	if err != nil {
		return false
	}

	c.mu.Lock()
	h := c.handles[id]
	c.mu.Unlock()
	if h != nil {
		h.cancel(errJobCancelled)
	}

	c.notifier.Notify(context.Background(), events.FromJob(events.EventCancelled, &snapshot, now))
	log.Info("bulk job cancelled", "jobID", id, "completed", snapshot.Progress.Completed, "total", snapshot.Progress.Total)
	return true
}

// Wait 等待任務的 pipeline 結束
func (c *Controller) Wait(ctx context.Context, id types.JobID) error {
	if _, err := c.jobs.Get(id); err != nil {
		return err
	}
	c.mu.Lock()
	h := c.handles[id]
	c.mu.Unlock()
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats 返回每個狀態的任務數
func (c *Controller) Stats() map[string]int {
	return c.jobs.Stats()
}

// Shutdown 優雅關閉
//
// 流程：
//  1. 拒絕新的任務
//  2. 以 ErrShuttingDown 取消所有執行中的 pipeline（它們會以 failed 結束）
//  3. 等待 pipeline 退出或 ctx 到期
//  4. 關閉 Worker Pool（ctx 到期時只拒絕新的 Run，不等待）
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := len(c.handles)
	for _, h := range c.handles {
		h.cancel(ErrShuttingDown)
	}
	c.mu.Unlock()

	log.Info("controller shutting down", "pending", pending)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.pool.Close()
		return fmt.Errorf("shutdown interrupted with pipelines still running: %w", ctx.Err())
	}

	c.pool.Stop()
	log.Info("controller stopped")
	return nil
}
