// ============================================================================
// Bulk-Translator 任務管理器 - 任務記錄存儲
// ============================================================================
//
// Package: internal/jobmanager
// 文件: job_manager.go
// 功能: 保存本進程生命週期內建立的所有批次任務
//
// 設計理念:
//   兩層鎖設計，讓不同任務之間可以完全並行：
//   1. jobs map - 統一的任務存儲，作為單一真實來源 (Single Source of Truth)
//   2. 每個任務一把互斥鎖 - pipeline goroutine 與 CancelJob 對同一任務的寫入
//      在這把鎖下序列化，避免遺失更新
//   3. 讀取端拿到的是深拷貝，不會觀察到寫到一半的記錄
//
// 任務狀態（由 types.Job.Status() 推導）:
//   Queued (已建立)
//      ↓ pipeline 設定 StartedAt
//   Processing (執行中)
//      ↓ Outcome = Completed / Failed / Cancelled
//   Completed / Failed / Cancelled (終止)
//
// 數據結構設計:
//   jobs map[JobID]*record - 主存儲
//   ├─ record.mu 每個任務自己的寫入鎖
//   └─ record.job 任務內容
//   order []JobID - 建立順序，List 依此輸出
//
// 並發安全:
//   - mu (RWMutex) 只保護 map 與 order 本身
//   - record.mu 保護單一任務的欄位
//   - 任務建立後永不刪除，所以取得 record 指標後不需要再持有 mu
//
// ============================================================================

package jobmanager

import (
	"errors"
	"sync"

	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 任務 ID 重複錯誤
	ErrDuplicateJob = errors.New("job already exists")
	// 任務不存在
	ErrJobNotFound = errors.New("job not found")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// record 單一任務與它的寫入鎖
type record struct {
	mu  sync.Mutex
	job *types.Job
}

// Filter List 的篩選條件，零值欄位表示不篩選
type Filter struct {
	Status    types.JobStatus
	Type      types.JobType
	ProjectID string
}

func (f Filter) match(job *types.Job) bool {
	if f.Status != "" && job.Status() != f.Status {
		return false
	}
	if f.Type != "" && job.Type != f.Type {
		return false
	}
	if f.ProjectID != "" && job.Params.ProjectID != f.ProjectID {
		return false
	}
	return true
}

// JobManager 代表任務記錄存儲，由 controller 擁有並注入
type JobManager struct {
	mu    sync.RWMutex
	jobs  map[types.JobID]*record // 所有任務的統一儲存
	order []types.JobID           // 建立順序
}

// ============================================================================
// 核心方法
// ============================================================================

// NewJobManager 建立新的任務管理器實例
//
// 返回值：
//   - *JobManager: 初始化完成的任務管理器
//
// 使用範例：
//
//	jm := NewJobManager()
//	err := jm.Create(types.Job{ID: "job_1", Type: types.JobTypeBulkTranslation})
//
// 併發安全：返回的實例是執行緒安全的
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:  make(map[types.JobID]*record),
		order: make([]types.JobID, 0),
	}
}

// Create 將新任務加入系統
//
// 參數說明：
//   - job: 要加入的任務，必須包含唯一 ID
//
// 返回值：
//   - error: 如果任務 ID 重複則回傳 ErrDuplicateJob
//
// 併發安全：使用互斥鎖保護
func (jm *JobManager) Create(job types.Job) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if _, exists := jm.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}

	stored := job.Clone()
	jm.jobs[job.ID] = &record{job: &stored}
	jm.order = append(jm.order, job.ID)
	return nil
}

// Get 取得任務的深拷貝
//
// 參數說明：
//   - jobID: 任務 ID
//
// 返回值：
//   - types.Job: 任務副本，呼叫端可以自由讀取
//   - error: ErrJobNotFound
//
// 併發安全：持有該任務的寫入鎖進行拷貝
func (jm *JobManager) Get(jobID types.JobID) (types.Job, error) {
	rec := jm.lookup(jobID)
	if rec == nil {
		return types.Job{}, ErrJobNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job.Clone(), nil
}

// Update 在任務的寫入鎖內執行 fn
//
// 參數說明：
//   - jobID: 任務 ID
//   - fn: 修改函數；已終止的任務同樣會傳入，由 fn 自行判斷是否修改
//
// 返回值：
//   - error: ErrJobNotFound 或 fn 回傳的錯誤
//
// 使用範例：
//
//	err := jm.Update(id, func(job *types.Job) error {
//	    job.Progress.CurrentPhase = types.PhaseTranslating
//	    return nil
//	})
//
// 併發安全：同一任務的所有寫入在這裡序列化，不同任務互不阻塞
func (jm *JobManager) Update(jobID types.JobID, fn func(*types.Job) error) error {
	rec := jm.lookup(jobID)
	if rec == nil {
		return ErrJobNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return fn(rec.job)
}

// List 依建立順序回傳符合篩選條件的任務副本
//
// 併發安全：先在讀鎖內複製 record 清單，再逐一拷貝
func (jm *JobManager) List(filter Filter) []types.Job {
	jm.mu.RLock()
	recs := make([]*record, 0, len(jm.order))
	for _, id := range jm.order {
		recs = append(recs, jm.jobs[id])
	}
	jm.mu.RUnlock()

	out := make([]types.Job, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if filter.match(rec.job) {
			out = append(out, rec.job.Clone())
		}
		rec.mu.Unlock()
	}
	return out
}

// Stats 取得各狀態任務的統計資訊
//
// 返回值：
//   - map[string]int: 各狀態的任務數量統計，另含 "total"
//
// 使用範例：
//
//	stats := jm.Stats()
//	log.Info("jobs", "processing", stats["processing"], "completed", stats["completed"])
//
// 併發安全：使用讀鎖保護
func (jm *JobManager) Stats() map[string]int {
	stats := map[string]int{
		string(types.StatusQueued):     0,
		string(types.StatusProcessing): 0,
		string(types.StatusCompleted):  0,
		string(types.StatusFailed):     0,
		string(types.StatusCancelled):  0,
		"total":                        0,
	}
	for _, job := range jm.List(Filter{}) {
		stats[string(job.Status())]++
		stats["total"]++
	}
	return stats
}

// Len 目前保存的任務數
func (jm *JobManager) Len() int {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return len(jm.jobs)
}

func (jm *JobManager) lookup(jobID types.JobID) *record {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return jm.jobs[jobID]
}
