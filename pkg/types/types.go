// Package types 定義了 bulk-translator 系統中使用的核心領域模型
package types

import (
	"time"
)

// JobID 任務唯一識別碼
type JobID string

// JobType 任務種類
type JobType string

// JobTypeBulkTranslation 批次翻譯任務（目前唯一的非同步任務種類）
const JobTypeBulkTranslation JobType = "bulk_translation"

// JobStatus 任務狀態
type JobStatus string

// 定義任務狀態常數
const (
	StatusQueued     JobStatus = "queued"     // 已建立，pipeline 尚未開始
	StatusProcessing JobStatus = "processing" // pipeline 執行中
	StatusCompleted  JobStatus = "completed"  // pipeline 已跑完（不代表每個遠端子任務都到 100%）
	StatusFailed     JobStatus = "failed"     // pipeline 層級錯誤
	StatusCancelled  JobStatus = "cancelled"  // 使用者取消
)

// IsTerminal 是否為終止狀態
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Phase pipeline 階段
type Phase string

// 階段依固定順序執行
const (
	PhaseInitializing        Phase = "initializing"
	PhaseUploadingFiles      Phase = "uploading_files"
	PhaseStartingTranslation Phase = "starting_translation"
	PhaseTranslating         Phase = "translating"
	PhaseQualityCheck        Phase = "quality_check"
	PhaseFinalizing          Phase = "finalizing"
	PhaseCompleted           Phase = "completed"
	PhaseFailed              Phase = "failed"
	PhaseCancelled           Phase = "cancelled"
)

// Ceiling 回傳該階段允許推進到的進度百分比上限
func (p Phase) Ceiling() float64 {
	switch p {
	case PhaseInitializing:
		return 5
	case PhaseUploadingFiles:
		return 25
	case PhaseStartingTranslation:
		return 35
	case PhaseTranslating:
		return 80
	case PhaseQualityCheck:
		return 95
	case PhaseFinalizing, PhaseCompleted:
		return 100
	default:
		return 0
	}
}

// Floor 回傳該階段開始時的進度百分比（即前一階段的上限）
func (p Phase) Floor() float64 {
	switch p {
	case PhaseUploadingFiles:
		return PhaseInitializing.Ceiling()
	case PhaseStartingTranslation:
		return PhaseUploadingFiles.Ceiling()
	case PhaseTranslating:
		return PhaseStartingTranslation.Ceiling()
	case PhaseQualityCheck:
		return PhaseTranslating.Ceiling()
	case PhaseFinalizing:
		return PhaseQualityCheck.Ceiling()
	case PhaseCompleted:
		return 100
	default:
		return 0
	}
}

// Priority 任務優先度（僅供參考，不影響排程順序）
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid 檢查優先度是否合法
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Params 建立任務時的請求快照，建立後不可變
type Params struct {
	ProjectID     string     `json:"projectId"`
	FilePaths     []string   `json:"filePaths"`
	TargetLocales []string   `json:"targetLocales"`
	Priority      Priority   `json:"priority"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
}

// Progress 階段加權進度，不是實際翻譯字串的計數
type Progress struct {
	Completed    int   `json:"completed"`
	Total        int   `json:"total"`
	CurrentPhase Phase `json:"currentPhase"`
}

// Percent 回傳 0-100 的完成百分比
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// Estimate 建立時計算的規模與時間估計
type Estimate struct {
	Strings  int           `json:"strings"`
	Duration time.Duration `json:"duration"`
}

// ItemStatus 單一檔案或子任務的狀態
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemUploaded   ItemStatus = "uploaded"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// UploadedFile 每個來源檔案一筆，建立後不刪除
type UploadedFile struct {
	Path       string     `json:"path"`
	Status     ItemStatus `json:"status"`
	RemoteRef  string     `json:"remoteRef,omitempty"`
	Error      string     `json:"error,omitempty"`
	UploadedAt *time.Time `json:"uploadedAt,omitempty"`
}

// SubJob 每個目標語系一筆遠端子任務，失敗不影響其他語系
type SubJob struct {
	Locale      string     `json:"locale"`
	RemoteJobID string     `json:"remoteJobId,omitempty"`
	Status      ItemStatus `json:"status"`
	Progress    float64    `json:"progress"`
	Error       string     `json:"error,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// QualityIssue 品質檢查發現的問題
type QualityIssue struct {
	Severity string `json:"severity"`
	Target   string `json:"target"`
	Message  string `json:"message"`
}

// QualityResults 品質檢查摘要
type QualityResults struct {
	Score  float64        `json:"score"`
	Issues []QualityIssue `json:"issues"`
}

// LocaleResult 單一檔案在某語系的結果
type LocaleResult struct {
	Locale      string     `json:"locale"`
	Status      ItemStatus `json:"status"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
}

// FileResult 單一檔案的語系可用性
type FileResult struct {
	Path             string         `json:"path"`
	Status           ItemStatus     `json:"status"`
	AvailableLocales []string       `json:"availableLocales"`
	Locales          []LocaleResult `json:"locales"`
}

// DownloadLink 已完成子任務的下載參考
type DownloadLink struct {
	Locale      string `json:"locale"`
	RemoteJobID string `json:"remoteJobId"`
	URL         string `json:"url"`
}

// Results finalizing 階段彙總的結果，只在 completed 時存在
type Results struct {
	CompletionTime    time.Time       `json:"completionTime"`
	TotalStrings      int             `json:"totalStrings"`
	TranslatedStrings int             `json:"translatedStrings"`
	QualityMetrics    *QualityResults `json:"qualityMetrics,omitempty"`
	Files             []FileResult    `json:"files"`
	FinalCost         float64         `json:"finalCost"`
	DownloadLinks     []DownloadLink  `json:"downloadLinks"`
}

// Outcome 任務的終止結果，只由 Completed、Failed、Cancelled 實作
type Outcome interface {
	Status() JobStatus
	Time() time.Time
	isOutcome()
}

// Completed pipeline 成功跑完
type Completed struct {
	At      time.Time
	Results Results
}

// Failed pipeline 層級錯誤
type Failed struct {
	At    time.Time
	Error string
}

// Cancelled 使用者取消
type Cancelled struct {
	At time.Time
}

func (Completed) Status() JobStatus { return StatusCompleted }
func (Failed) Status() JobStatus    { return StatusFailed }
func (Cancelled) Status() JobStatus { return StatusCancelled }

func (o Completed) Time() time.Time { return o.At }
func (o Failed) Time() time.Time    { return o.At }
func (o Cancelled) Time() time.Time { return o.At }

func (Completed) isOutcome() {}
func (Failed) isOutcome()    {}
func (Cancelled) isOutcome() {}

// Job 批次翻譯任務，代表系統中的一個工作單元
type Job struct {
	// 識別與請求
	ID     JobID   `json:"id"`
	Type   JobType `json:"type"`
	Params Params  `json:"params"`

	// 時間管理
	CreatedAt time.Time  `json:"created"`
	StartedAt *time.Time `json:"started,omitempty"`

	// 進度追蹤
	Estimate Estimate `json:"estimate"`
	Progress Progress `json:"progress"`

	// 逐項狀態
	UploadedFiles  []UploadedFile  `json:"uploadedFiles"`
	SubJobs        []SubJob        `json:"subJobs"`
	QualityResults *QualityResults `json:"qualityResults,omitempty"`

	// 終止結果（queued/processing 時為 nil）
	Outcome Outcome `json:"-"`
}

// Status 由 Outcome 與 StartedAt 推導目前狀態
func (j *Job) Status() JobStatus {
	if j.Outcome != nil {
		return j.Outcome.Status()
	}
	if j.StartedAt != nil {
		return StatusProcessing
	}
	return StatusQueued
}

// Results 只有 completed 的任務才有結果
func (j *Job) Results() (Results, bool) {
	c, ok := j.Outcome.(Completed)
	if !ok {
		return Results{}, false
	}
	return c.Results, true
}

// FailureReason 只有 failed 的任務才有錯誤訊息
func (j *Job) FailureReason() (string, bool) {
	f, ok := j.Outcome.(Failed)
	if !ok {
		return "", false
	}
	return f.Error, true
}

// Clone 深拷貝，讓讀取端可以在鎖外使用
func (j *Job) Clone() Job {
	c := *j
	c.Params.FilePaths = append([]string(nil), j.Params.FilePaths...)
	c.Params.TargetLocales = append([]string(nil), j.Params.TargetLocales...)
	if j.Params.DueDate != nil {
		d := *j.Params.DueDate
		c.Params.DueDate = &d
	}
	if j.StartedAt != nil {
		s := *j.StartedAt
		c.StartedAt = &s
	}
	c.UploadedFiles = append([]UploadedFile(nil), j.UploadedFiles...)
	c.SubJobs = append([]SubJob(nil), j.SubJobs...)
	if j.QualityResults != nil {
		q := cloneQuality(*j.QualityResults)
		c.QualityResults = &q
	}
	if done, ok := j.Outcome.(Completed); ok {
		done.Results = cloneResults(done.Results)
		c.Outcome = done
	}
	return c
}

func cloneQuality(q QualityResults) QualityResults {
	q.Issues = append([]QualityIssue(nil), q.Issues...)
	return q
}

func cloneResults(r Results) Results {
	if r.QualityMetrics != nil {
		q := cloneQuality(*r.QualityMetrics)
		r.QualityMetrics = &q
	}
	files := make([]FileResult, len(r.Files))
	for i, f := range r.Files {
		f.AvailableLocales = append([]string(nil), f.AvailableLocales...)
		f.Locales = append([]LocaleResult(nil), f.Locales...)
		files[i] = f
	}
	r.Files = files
	r.DownloadLinks = append([]DownloadLink(nil), r.DownloadLinks...)
	return r
}
