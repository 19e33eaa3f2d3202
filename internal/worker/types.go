package worker

import (
	"context"
	"time"
)

// Task 代表一次針對單一檔案或單一語系的遠端呼叫
type Task struct {
	Index   int           // 在 phase 內的位置，結果依此回填
	Key     string        // 檔案路徑或語系代碼
	Timeout time.Duration // 單次呼叫的超時時間，0 表示不另設
}

// Func 實際執行遠端呼叫的函數
type Func func(ctx context.Context, task Task) error

// Result 代表任務執行結果
type Result struct {
	Index    int           // 對應 Task.Index
	Key      string        // 對應 Task.Key
	Err      error         // 錯誤訊息（如果有）
	Skipped  bool          // 因取消而未執行
	Duration time.Duration // 實際執行時間
}

// Success 執行是否成功
func (r Result) Success() bool {
	return r.Err == nil && !r.Skipped
}
