package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChuLiYu/bulk-translator/internal/events"
	"github.com/ChuLiYu/bulk-translator/internal/metrics"
	"github.com/ChuLiYu/bulk-translator/internal/translation"
	"github.com/ChuLiYu/bulk-translator/internal/worker"
	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

// ============================================================================
// Pipeline 執行
// ============================================================================

// pipeline 單一任務一次執行的狀態
type pipeline struct {
	id      types.JobID
	results types.Results // finalizing 產生，complete 寫入
}

type phaseFunc func(ctx context.Context, p *pipeline) error

type phaseStep struct {
	phase types.Phase
	run   phaseFunc
}

func (c *Controller) phases() []phaseStep {
	return []phaseStep{
		{types.PhaseInitializing, nil},
		{types.PhaseUploadingFiles, c.uploadFiles},
		{types.PhaseStartingTranslation, c.startTranslation},
		{types.PhaseTranslating, c.translate},
		{types.PhaseQualityCheck, c.qualityCheck},
		{types.PhaseFinalizing, c.finalize},
	}
}

// run 背景 pipeline 主體
//
// 流程：
//  1. 標記開始（queued → processing）；已被取消的任務直接結束
//  2. 依序執行每個階段，每個階段前後檢查取消
//  3. 全部成功後寫入 Completed
//
// 任何階段返回錯誤或 panic，任務以 Failed 結束
func (c *Controller) run(ctx context.Context, id types.JobID, h *handle) {
	defer c.wg.Done()
	defer close(h.done)
	defer c.release(id)
	defer c.finish(id)
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", "jobID", id, "panic", r)
			c.fail(id, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	if ctx.Err() != nil {
		c.abort(id, context.Cause(ctx))
		return
	}
	if err := c.start(id); err != nil {
		return
	}

	p := &pipeline{id: id}
	for _, step := range c.phases() {
		if ctx.Err() != nil {
			c.abort(id, context.Cause(ctx))
			return
		}
		if err := c.enterPhase(id, step.phase); err != nil {
			c.abort(id, err)
			return
		}
		if step.run != nil {
			if err := step.run(ctx, p); err != nil {
				if ctx.Err() != nil {
					err = context.Cause(ctx)
				}
				c.abort(id, err)
				return
			}
		}
		if ctx.Err() != nil {
			c.abort(id, context.Cause(ctx))
			return
		}
		if err := c.mutate(id, func(job *types.Job) {
			advance(job, step.phase.Ceiling())
		}); err != nil {
			c.abort(id, err)
			return
		}
	}

	if err := c.complete(p); err != nil {
		c.abort(id, err)
	}
}

func (c *Controller) start(id types.JobID) error {
	now := c.now()
	err := c.jobs.Update(id, func(job *types.Job) error {
		if job.Status().IsTerminal() {
			return errJobTerminal
		}
		job.StartedAt = &now
		return nil
	})
	if err != nil {
		log.Info("bulk job ended before start", "jobID", id)
		return err
	}
	c.metrics.RecordStarted()
	return nil
}

// mutate 只修改尚未終止的任務；已終止時返回 errJobTerminal
func (c *Controller) mutate(id types.JobID, fn func(job *types.Job)) error {
	return c.jobs.Update(id, func(job *types.Job) error {
		if job.Status().IsTerminal() {
			return errJobTerminal
		}
		fn(job)
		return nil
	})
}

func (c *Controller) enterPhase(id types.JobID, phase types.Phase) error {
	var snapshot types.Job
	err := c.mutate(id, func(job *types.Job) {
		job.Progress.CurrentPhase = phase
		advance(job, phase.Floor())
		snapshot = job.Clone()
	})
	if err != nil {
		return err
	}

	c.metrics.RecordPhase(string(phase))
	c.notifier.Notify(context.Background(), events.FromJob(events.EventPhase, &snapshot, c.now()))
	log.Info("bulk job phase", "jobID", id, "phase", phase, "completed", snapshot.Progress.Completed, "total", snapshot.Progress.Total)
	return nil
}

func (c *Controller) complete(p *pipeline) error {
	now := c.now()
	var snapshot types.Job
	err := c.mutate(p.id, func(job *types.Job) {
		results := p.results
		results.CompletionTime = now
		job.Outcome = types.Completed{At: now, Results: results}
		job.Progress.Completed = job.Progress.Total
		job.Progress.CurrentPhase = types.PhaseCompleted
		snapshot = job.Clone()
	})
	if err != nil {
		return err
	}

	c.notifier.Notify(context.Background(), events.FromJob(events.EventCompleted, &snapshot, now))
	log.Info("bulk job completed",
		"jobID", p.id,
		"translatedStrings", p.results.TranslatedStrings,
		"totalStrings", p.results.TotalStrings,
		"downloadLinks", len(p.results.DownloadLinks))
	return nil
}

// abort 結束一個被中斷的 pipeline
//
// 已被使用者取消的任務：把取消傳到遠端子任務
// 其他情況：以 cause 標記 failed
func (c *Controller) abort(id types.JobID, cause error) {
	job, err := c.jobs.Get(id)
	if err != nil {
		return
	}
	if _, ok := job.Outcome.(types.Cancelled); ok {
		c.cancelRemote(job)
		return
	}
	if cause == nil || errors.Is(cause, errJobTerminal) {
		return
	}
	c.fail(id, cause)
}

func (c *Controller) fail(id types.JobID, cause error) {
	now := c.now()
	var snapshot types.Job
	err := c.mutate(id, func(job *types.Job) {
		job.Outcome = types.Failed{At: now, Error: cause.Error()}
		job.Progress.CurrentPhase = types.PhaseFailed
		snapshot = job.Clone()
	})
	if err != nil {
		return
	}

	c.notifier.Notify(context.Background(), events.FromJob(events.EventFailed, &snapshot, now))
	log.Error("bulk job failed", "jobID", id, "error", cause)
}

// cancelRemote 對每個有遠端 ID 且未失敗的子任務送出取消，錯誤只記錄
func (c *Controller) cancelRemote(job types.Job) {
	for _, sub := range job.SubJobs {
		if sub.RemoteJobID == "" || sub.Status == types.ItemFailed {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.config.RemoteCallTimeout)
		err := c.client.CancelJob(ctx, job.Params.ProjectID, sub.RemoteJobID)
		cancel()
		if err != nil {
			c.metrics.RecordItemFailure(metrics.KindRemoteCancel)
			log.Warn("remote cancel failed",
				"jobID", job.ID,
				"locale", sub.Locale,
				"remoteJobID", sub.RemoteJobID,
				"error", err)
		}
	}
}

// finish pipeline 退出時的收尾：補上遺漏的終止狀態並記錄指標
func (c *Controller) finish(id types.JobID) {
	job, err := c.jobs.Get(id)
	if err != nil {
		return
	}
	if job.Outcome == nil {
		c.fail(id, errors.New("pipeline exited without an outcome"))
		if job, err = c.jobs.Get(id); err != nil {
			return
		}
	}
	if job.StartedAt != nil && job.Outcome != nil {
		c.metrics.RecordFinished(string(job.Status()), job.Outcome.Time().Sub(*job.StartedAt).Seconds())
	}
}

func (c *Controller) release(id types.JobID) {
	c.mu.Lock()
	delete(c.handles, id)
	c.mu.Unlock()
}

// ============================================================================
// uploading_files / starting_translation
// ============================================================================

// uploadFiles 逐一上傳來源檔案，單一檔案失敗只記錄在該檔案上
func (c *Controller) uploadFiles(ctx context.Context, p *pipeline) error {
	job, err := c.jobs.Get(p.id)
	if err != nil {
		return err
	}
	projectID := job.Params.ProjectID

	results, err := c.pool.Run(ctx, c.itemTasks(job.Params.FilePaths), func(callCtx context.Context, task worker.Task) error {
		ref, err := c.client.UploadFile(callCtx, projectID, task.Key)
		if err != nil && ctx.Err() != nil {
			return err
		}
		c.recordUpload(p.id, task.Index, ref, err)
		return err
	})
	if err != nil {
		return fmt.Errorf("upload files: %w", err)
	}
	for _, r := range results {
		if r.Err != nil && !r.Skipped && ctx.Err() == nil {
			c.recordUpload(p.id, r.Index, "", r.Err)
		}
	}
	return nil
}

// startTranslation 每個語系建立一個遠端子任務
func (c *Controller) startTranslation(ctx context.Context, p *pipeline) error {
	job, err := c.jobs.Get(p.id)
	if err != nil {
		return err
	}
	projectID := job.Params.ProjectID

	results, err := c.pool.Run(ctx, c.itemTasks(job.Params.TargetLocales), func(callCtx context.Context, task worker.Task) error {
		name := fmt.Sprintf("%s-%s", p.id, task.Key)
		remoteID, err := c.client.CreateLocaleJob(callCtx, projectID, name, task.Key)
		if err != nil && ctx.Err() != nil {
			return err
		}
		c.recordSubJob(p.id, task.Index, remoteID, err)
		return err
	})
	if err != nil {
		return fmt.Errorf("start translation: %w", err)
	}
	for _, r := range results {
		if r.Err != nil && !r.Skipped && ctx.Err() == nil {
			c.recordSubJob(p.id, r.Index, "", r.Err)
		}
	}
	return nil
}

func (c *Controller) itemTasks(keys []string) []worker.Task {
	tasks := make([]worker.Task, len(keys))
	for i, key := range keys {
		tasks[i] = worker.Task{Key: key, Timeout: c.config.RemoteCallTimeout}
	}
	return tasks
}

// recordUpload 寫入單一檔案的結果，只寫一次
func (c *Controller) recordUpload(id types.JobID, idx int, ref string, callErr error) {
	now := c.now()
	recorded := false
	var path string
	c.jobs.Update(id, func(job *types.Job) error {
		f := &job.UploadedFiles[idx]
		if f.Status != types.ItemPending {
			return nil
		}
		recorded = true
		path = f.Path
		if callErr != nil {
			f.Status = types.ItemFailed
			f.Error = callErr.Error()
		} else {
			f.Status = types.ItemUploaded
			f.RemoteRef = ref
			f.UploadedAt = &now
		}
		if !job.Status().IsTerminal() {
			attempted := 0
			for _, e := range job.UploadedFiles {
				if e.Status != types.ItemPending {
					attempted++
				}
			}
			advance(job, bandPercent(types.PhaseUploadingFiles, float64(attempted)/float64(len(job.UploadedFiles))))
		}
		return nil
	})

	if recorded && callErr != nil {
		c.metrics.RecordItemFailure(metrics.KindUpload)
		log.Warn("file upload failed", "jobID", id, "path", path, "error", callErr)
	}
}

// recordSubJob 寫入單一語系子任務的建立結果，只寫一次
func (c *Controller) recordSubJob(id types.JobID, idx int, remoteID string, callErr error) {
	now := c.now()
	recorded := false
	var locale string
	c.jobs.Update(id, func(job *types.Job) error {
		s := &job.SubJobs[idx]
		if s.Status != types.ItemPending {
			return nil
		}
		recorded = true
		locale = s.Locale
		s.UpdatedAt = &now
		if callErr != nil {
			s.Status = types.ItemFailed
			s.Error = callErr.Error()
		} else {
			s.Status = types.ItemInProgress
			s.RemoteJobID = remoteID
		}
		if !job.Status().IsTerminal() {
			attempted := 0
			for _, e := range job.SubJobs {
				if e.Status != types.ItemPending {
					attempted++
				}
			}
			advance(job, bandPercent(types.PhaseStartingTranslation, float64(attempted)/float64(len(job.SubJobs))))
		}
		return nil
	})

	if recorded && callErr != nil {
		c.metrics.RecordItemFailure(metrics.KindSubJobCreate)
		log.Warn("sub-job creation failed", "jobID", id, "locale", locale, "error", callErr)
	}
}

// ============================================================================
// quality_check / finalizing
// ============================================================================

func (c *Controller) qualityCheck(ctx context.Context, p *pipeline) error {
	job, err := c.jobs.Get(p.id)
	if err != nil {
		return err
	}
	quality, err := c.assessor.Assess(ctx, job)
	if err != nil {
		return fmt.Errorf("quality check: %w", err)
	}
	return c.mutate(p.id, func(job *types.Job) {
		job.QualityResults = &quality
	})
}

// finalize 彙總逐項結果；下載連結只包含已完成的子任務
func (c *Controller) finalize(_ context.Context, p *pipeline) error {
	job, err := c.jobs.Get(p.id)
	if err != nil {
		return err
	}
	projectID := job.Params.ProjectID
	linker, _ := c.client.(translation.DownloadLinker)
	downloadURL := func(remoteID string) string {
		if linker == nil {
			return ""
		}
		return linker.DownloadURL(projectID, remoteID)
	}

	uploaded := 0
	for _, f := range job.UploadedFiles {
		if f.Status == types.ItemUploaded {
			uploaded++
		}
	}

	links := make([]types.DownloadLink, 0, len(job.SubJobs))
	for _, s := range job.SubJobs {
		if s.Status != types.ItemCompleted {
			continue
		}
		links = append(links, types.DownloadLink{
			Locale:      s.Locale,
			RemoteJobID: s.RemoteJobID,
			URL:         downloadURL(s.RemoteJobID),
		})
	}
	completedLocales := len(links)

	files := make([]types.FileResult, 0, len(job.UploadedFiles))
	for _, f := range job.UploadedFiles {
		fr := types.FileResult{
			Path:             f.Path,
			Status:           f.Status,
			AvailableLocales: make([]string, 0, len(job.SubJobs)),
			Locales:          make([]types.LocaleResult, 0, len(job.SubJobs)),
		}
		for _, s := range job.SubJobs {
			lr := types.LocaleResult{Locale: s.Locale, Status: s.Status}
			if f.Status != types.ItemUploaded {
				lr.Status = f.Status
			} else if s.Status == types.ItemCompleted {
				lr.DownloadURL = downloadURL(s.RemoteJobID)
				fr.AvailableLocales = append(fr.AvailableLocales, s.Locale)
			}
			fr.Locales = append(fr.Locales, lr)
		}
		files = append(files, fr)
	}

	spf := c.config.StringsPerFile
	translated := uploaded * spf * completedLocales
	p.results = types.Results{
		TotalStrings:      len(job.UploadedFiles) * len(job.SubJobs) * spf,
		TranslatedStrings: translated,
		Files:             files,
		FinalCost:         roundCents(float64(translated) * c.config.CostPerString),
		DownloadLinks:     links,
	}
	if job.QualityResults != nil {
		q := *job.QualityResults
		q.Issues = append([]types.QualityIssue(nil), q.Issues...)
		p.results.QualityMetrics = &q
	}
	return nil
}
