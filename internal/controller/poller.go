package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/ChuLiYu/bulk-translator/internal/metrics"
	"github.com/ChuLiYu/bulk-translator/internal/worker"
	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

// translate is the bounded polling loop. Each iteration queries every
// in-progress sub-job once; the loop ends early when none is left in
// progress and otherwise stops after MaxPollIterations, leaving unfinished
// sub-jobs as they are.
func (c *Controller) translate(ctx context.Context, p *pipeline) error {
	for iter := 1; iter <= c.config.MaxPollIterations; iter++ {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		job, err := c.jobs.Get(p.id)
		if err != nil {
			return err
		}
		tasks := pollTasks(job, c.config.RemoteCallTimeout)
		if len(tasks) == 0 {
			return nil
		}

		if err := c.pollOnce(ctx, job, tasks); err != nil {
			return err
		}
		c.metrics.RecordPollIteration()

		pending, err := c.updateTranslationProgress(p.id)
		if err != nil {
			return err
		}
		if pending == 0 {
			log.Info("all sub-jobs finished", "jobID", p.id, "iterations", iter)
			return nil
		}
		if iter == c.config.MaxPollIterations {
			log.Warn("polling budget exhausted",
				"jobID", p.id,
				"iterations", iter,
				"pendingSubJobs", pending)
			return nil
		}

		timer := time.NewTimer(c.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return context.Cause(ctx)
		case <-timer.C:
		}
	}
	return nil
}

// pollTasks selects the sub-jobs still worth querying: created remotely and
// neither failed nor completed. Task.Index is the sub-job's position.
func pollTasks(job types.Job, timeout time.Duration) []worker.Task {
	var tasks []worker.Task
	for i, s := range job.SubJobs {
		if s.Status != types.ItemInProgress || s.RemoteJobID == "" {
			continue
		}
		tasks = append(tasks, worker.Task{Index: i, Key: s.RemoteJobID, Timeout: timeout})
	}
	return tasks
}

func (c *Controller) pollOnce(ctx context.Context, job types.Job, tasks []worker.Task) error {
	// Pool.Run renumbers tasks, so keep the sub-job positions aside.
	positions := make([]int, len(tasks))
	for i, t := range tasks {
		positions[i] = t.Index
	}

	results, err := c.pool.Run(ctx, tasks, func(callCtx context.Context, task worker.Task) error {
		pct, err := c.client.QueryProgress(callCtx, job.Params.ProjectID, task.Key)
		if err != nil && ctx.Err() != nil {
			return err
		}
		c.recordProgress(job.ID, positions[task.Index], pct, err)
		return err
	})
	if err != nil {
		return fmt.Errorf("poll progress: %w", err)
	}
	for _, r := range results {
		if r.Err != nil && !r.Skipped && ctx.Err() == nil {
			c.recordProgress(job.ID, positions[r.Index], 0, r.Err)
		}
	}
	return nil
}

// recordProgress stores one query result. A failed query fails only that
// sub-job; it is not queried again.
func (c *Controller) recordProgress(id types.JobID, idx int, pct float64, callErr error) {
	now := c.now()
	failed := false
	var locale string
	c.jobs.Update(id, func(job *types.Job) error {
		s := &job.SubJobs[idx]
		if s.Status != types.ItemInProgress {
			return nil
		}
		locale = s.Locale
		s.UpdatedAt = &now
		if callErr != nil {
			s.Status = types.ItemFailed
			s.Error = callErr.Error()
			failed = true
			return nil
		}
		if pct > s.Progress {
			s.Progress = pct
		}
		if s.Progress >= 100 {
			s.Progress = 100
			s.Status = types.ItemCompleted
		}
		return nil
	})

	if failed {
		c.metrics.RecordItemFailure(metrics.KindProgressQuery)
		log.Warn("progress query failed", "jobID", id, "locale", locale, "error", callErr)
	}
}

// updateTranslationProgress scales the average last-observed sub-job
// percentage into the translating band and returns how many sub-jobs are
// still in progress.
func (c *Controller) updateTranslationProgress(id types.JobID) (int, error) {
	pending := 0
	err := c.mutate(id, func(job *types.Job) {
		sum := 0.0
		for _, s := range job.SubJobs {
			sum += s.Progress
			if s.Status == types.ItemInProgress {
				pending++
			}
		}
		avg := sum / float64(len(job.SubJobs))
		advance(job, bandPercent(types.PhaseTranslating, avg/100))
	})
	return pending, err
}
