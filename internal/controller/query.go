package controller

import (
	"fmt"
	"time"

	"github.com/ChuLiYu/bulk-translator/internal/jobmanager"
	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

// ============================================================================
// 查詢介面（只讀快照，不做遠端 I/O）
// ============================================================================

// StatusReport get_job_status 的結果
type StatusReport struct {
	JobID               types.JobID     `json:"jobId"`
	State               types.JobStatus `json:"state"`
	Completed           int             `json:"completed"`
	Total               int             `json:"total"`
	EstimatedCompletion string          `json:"estimatedCompletion"`
	CurrentPhase        types.Phase     `json:"currentPhase"`
	Details             *StatusDetails  `json:"details,omitempty"`
}

// StatusDetails includeDetails=true 時附帶的完整狀態
type StatusDetails struct {
	Type             types.JobType         `json:"type"`
	Params           types.Params          `json:"params"`
	Created          time.Time             `json:"created"`
	Started          *time.Time            `json:"started,omitempty"`
	Finished         *time.Time            `json:"finished,omitempty"`
	Percent          float64               `json:"percent"`
	EstimatedSeconds float64               `json:"estimatedSeconds"`
	RemainingSeconds float64               `json:"remainingSeconds"`
	UploadedFiles    []types.UploadedFile  `json:"uploadedFiles"`
	SubJobs          []types.SubJob        `json:"subJobs"`
	QualityResults   *types.QualityResults `json:"qualityResults,omitempty"`
	Error            string                `json:"error,omitempty"`
}

// GetJobStatus 查詢任務狀態與 ETA
//
// 返回值：
//   - StatusReport: 狀態、進度、ETA；includeDetails 時附帶逐項狀態
//   - error: 未知 ID 返回 ErrNotFound
func (c *Controller) GetJobStatus(id types.JobID, includeDetails bool) (StatusReport, error) {
	job, err := c.jobs.Get(id)
	if err != nil {
		return StatusReport{}, err
	}
	now := c.now()

	report := StatusReport{
		JobID:               job.ID,
		State:               job.Status(),
		Completed:           job.Progress.Completed,
		Total:               job.Progress.Total,
		EstimatedCompletion: estimatedCompletion(&job, now),
		CurrentPhase:        job.Progress.CurrentPhase,
	}
	if !includeDetails {
		return report, nil
	}

	details := &StatusDetails{
		Type:             job.Type,
		Params:           job.Params,
		Created:          job.CreatedAt,
		Started:          job.StartedAt,
		Percent:          job.Progress.Percent(),
		EstimatedSeconds: job.Estimate.Duration.Seconds(),
		UploadedFiles:    job.UploadedFiles,
		SubJobs:          job.SubJobs,
		QualityResults:   job.QualityResults,
	}
	if job.Outcome != nil {
		at := job.Outcome.Time()
		details.Finished = &at
	} else {
		details.RemainingSeconds = remaining(&job, now).Seconds()
	}
	if msg, ok := job.FailureReason(); ok {
		details.Error = msg
	}
	report.Details = details
	return report, nil
}

// ResultOptions get_job_results 的選項
type ResultOptions struct {
	IncludeQuality bool
	IncludeFiles   bool
}

// DefaultResultOptions 品質指標預設包含，逐檔結果預設只給摘要
func DefaultResultOptions() ResultOptions {
	return ResultOptions{IncludeQuality: true}
}

// FileSummary IncludeFiles=false 時取代逐檔結果
type FileSummary struct {
	Total            int `json:"total"`
	Uploaded         int `json:"uploaded"`
	Failed           int `json:"failed"`
	Locales          int `json:"locales"`
	CompletedLocales int `json:"completedLocales"`
}

// ResultReport get_job_results 的結果；Files 與 FileSummary 只會有一個
type ResultReport struct {
	JobID             types.JobID           `json:"jobId"`
	CompletionTime    time.Time             `json:"completionTime"`
	TotalStrings      int                   `json:"totalStrings"`
	TranslatedStrings int                   `json:"translatedStrings"`
	QualityMetrics    *types.QualityResults `json:"qualityMetrics,omitempty"`
	Files             []types.FileResult    `json:"files,omitempty"`
	FileSummary       *FileSummary          `json:"fileSummary,omitempty"`
	FinalCost         float64               `json:"finalCost"`
	DownloadLinks     []types.DownloadLink  `json:"downloadLinks"`
}

// GetJobResults 查詢已完成任務的結果
//
// 返回值：
//   - error: 未知 ID 返回 ErrNotFound；非 completed 返回 ErrInvalidState
func (c *Controller) GetJobResults(id types.JobID, opts ResultOptions) (ResultReport, error) {
	job, err := c.jobs.Get(id)
	if err != nil {
		return ResultReport{}, err
	}
	results, ok := job.Results()
	if !ok {
		return ResultReport{}, fmt.Errorf("%w: job %s is %s", ErrInvalidState, id, job.Status())
	}

	report := ResultReport{
		JobID:             job.ID,
		CompletionTime:    results.CompletionTime,
		TotalStrings:      results.TotalStrings,
		TranslatedStrings: results.TranslatedStrings,
		FinalCost:         results.FinalCost,
		DownloadLinks:     results.DownloadLinks,
	}
	if report.DownloadLinks == nil {
		report.DownloadLinks = []types.DownloadLink{}
	}
	if opts.IncludeQuality {
		report.QualityMetrics = results.QualityMetrics
	}
	if opts.IncludeFiles {
		report.Files = results.Files
	} else {
		report.FileSummary = summarizeFiles(job, results)
	}
	return report, nil
}

func summarizeFiles(job types.Job, results types.Results) *FileSummary {
	s := &FileSummary{
		Total:            len(job.UploadedFiles),
		Locales:          len(job.SubJobs),
		CompletedLocales: len(results.DownloadLinks),
	}
	for _, f := range job.UploadedFiles {
		switch f.Status {
		case types.ItemUploaded:
			s.Uploaded++
		case types.ItemFailed:
			s.Failed++
		}
	}
	return s
}

// ListFilter list_jobs 的篩選條件，零值欄位不篩選
type ListFilter struct {
	Status    types.JobStatus
	Type      types.JobType
	ProjectID string
}

// JobSummary list_jobs 的輕量投影
type JobSummary struct {
	ID                  types.JobID     `json:"id"`
	Type                types.JobType   `json:"type"`
	Status              types.JobStatus `json:"status"`
	Progress            types.Progress  `json:"progress"`
	EstimatedCompletion string          `json:"estimatedCompletion"`
	ProjectID           string          `json:"projectId"`
	CreatedAt           time.Time       `json:"created"`
}

// ListJobs 依建立順序列出任務
func (c *Controller) ListJobs(filter ListFilter) []JobSummary {
	jobs := c.jobs.List(jobmanager.Filter{
		Status:    filter.Status,
		Type:      filter.Type,
		ProjectID: filter.ProjectID,
	})
	now := c.now()

	out := make([]JobSummary, 0, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		out = append(out, JobSummary{
			ID:                  job.ID,
			Type:                job.Type,
			Status:              job.Status(),
			Progress:            job.Progress,
			EstimatedCompletion: estimatedCompletion(job, now),
			ProjectID:           job.Params.ProjectID,
			CreatedAt:           job.CreatedAt,
		})
	}
	return out
}
