// ============================================================================
// Bulk-Translator Worker Pool - 並發逐項執行器
// ============================================================================
//
// Package: internal/worker
// 文件: worker_pool.go
// 功能: 讓 uploading_files 與 starting_translation 階段並發嘗試每一個項目
//
// 設計模式:
//   每次 Run() 是一次有上限的 fan-out：
//   1. errgroup.SetLimit(size) 限制同時進行的遠端呼叫數
//   2. 每個項目的錯誤寫進自己的 Result，不中斷其他項目
//   3. Run() 在所有項目都嘗試過之後才返回
//
// 架構組件:
//   ┌─────────────┐
//   │  Pipeline   │ --Run(tasks, fn)-->
//   └─────────────┘
//         ↑
//     []Result (依 Task.Index 排列)
//         ↑
//   ┌──────────────────┐
//   │   Pool           │
//   │  errgroup limit N│
//   │  ┌────────┐      │
//   │  │ item 1 │      │
//   │  │ item 2 │ ...  │
//   │  └────────┘      │
//   └──────────────────┘
//
// 並發控制:
//   - 每個 Run() 有自己的 errgroup，不同任務之間互不影響
//   - Mutex 保護 stopped 狀態
//   - WaitGroup 追蹤進行中的 Run()，Stop() 等待它們結束
//
// 取消:
//   - ctx 被取消後，尚未開始的項目標記 Skipped，不發出遠端呼叫
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrPoolClosed 表示當前 Pool 已關閉，無法執行新的 fan-out
	ErrPoolClosed = errors.New("worker pool is closed")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Pool 代表逐項執行器
type Pool struct {
	size    int            // 單次 Run 的最大並發數
	wg      sync.WaitGroup // 等待進行中的 Run 完成
	stopped bool           // 標誌 Pool 是否已停止
	mu      sync.Mutex     // 保護 stopped 狀態的互斥鎖
}

// ============================================================================
// 核心方法實作
// ============================================================================

// NewPool 建立新的 Worker Pool
// 參數：
//   - size: 單次 fan-out 的最大並發數，小於 1 時視為 1
//
// 返回值：
//   - *Pool: Worker Pool 實例
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

// Run 並發執行所有項目並等待全部嘗試完畢
//
// 參數：
//   - ctx: phase 的 context，取消後尚未開始的項目會被跳過
//   - tasks: 要執行的項目
//   - fn: 每個項目的遠端呼叫
//
// 返回值：
//   - []Result: 與 tasks 一一對應（依 Index 排列）
//   - error: Pool 已關閉時返回 ErrPoolClosed
func (p *Pool) Run(ctx context.Context, tasks []Task, fn Func) ([]Result, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	results := make([]Result, len(tasks))
	var g errgroup.Group
	g.SetLimit(p.size)

	for i, task := range tasks {
		task.Index = i
		g.Go(func() error {
			results[i] = execute(ctx, task, fn)
			return nil
		})
	}
	g.Wait()

	return results, nil
}

// Stop 拒絕新的 Run，並等待進行中的 Run 完成
func (p *Pool) Stop() {
	p.Close()
	p.wg.Wait()
}

// Close 拒絕新的 Run，不等待進行中的 Run
func (p *Pool) Close() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
}

// Size 返回單次 fan-out 的並發上限
func (p *Pool) Size() int {
	return p.size
}

// IsStopped 檢查 Pool 是否已停止
func (p *Pool) IsStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
