package controller

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/bulk-translator/internal/jobmanager"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrValidation 建立任務時參數不合法，任務記錄不會被建立
	ErrValidation = errors.New("validation failed")
	// ErrNotFound 未知的任務 ID
	ErrNotFound = jobmanager.ErrJobNotFound
	// ErrInvalidState 在非 completed 的任務上查詢結果
	ErrInvalidState = errors.New("invalid job state")
	// ErrShuttingDown 關閉中，不再接受新任務；被中斷的 pipeline 以此失敗
	ErrShuttingDown = errors.New("orchestrator shutting down")

	// errJobCancelled 使用者取消時傳給 pipeline context 的原因
	errJobCancelled = errors.New("job cancelled")
	// errJobTerminal pipeline 嘗試推進一個已終止的任務
	errJobTerminal = errors.New("job already terminal")
)

func validationError(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}
