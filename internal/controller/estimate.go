package controller

import (
	"math"
	"time"

	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

// NotAvailable is reported as the ETA of failed and cancelled jobs.
const NotAvailable = "N/A"

// estimateJobSize is the phase-weighted progress total.
func (c *Controller) estimateJobSize(files, locales int) int {
	return files * locales * c.config.StringsPerFile
}

func (c *Controller) estimateJobDuration(files, locales int) time.Duration {
	return time.Duration(files*locales) * c.config.UnitDuration
}

// advance moves progress toward pct of total. It never moves backwards.
func advance(job *types.Job, pct float64) {
	if pct > 100 {
		pct = 100
	}
	completed := int(math.Round(float64(job.Progress.Total) * pct / 100))
	if completed > job.Progress.Completed {
		job.Progress.Completed = completed
	}
}

// bandPercent scales a fraction (0..1) into the phase's progress band.
func bandPercent(phase types.Phase, fraction float64) float64 {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	floor := phase.Floor()
	return floor + (phase.Ceiling()-floor)*fraction
}

// remaining extrapolates the time left from elapsed time and the progress
// ratio. With no progress yet it falls back to the job's duration estimate.
func remaining(job *types.Job, now time.Time) time.Duration {
	start := job.CreatedAt
	if job.StartedAt != nil {
		start = *job.StartedAt
	}
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	if job.Progress.Completed <= 0 || job.Progress.Total <= 0 {
		return job.Estimate.Duration
	}
	ratio := float64(job.Progress.Completed) / float64(job.Progress.Total)
	left := time.Duration(float64(elapsed)/ratio) - elapsed
	if left < 0 {
		return 0
	}
	return left
}

// estimatedCompletion is the ETA string shown to callers.
func estimatedCompletion(job *types.Job, now time.Time) string {
	switch o := job.Outcome.(type) {
	case types.Completed:
		return o.At.UTC().Format(time.RFC3339)
	case types.Failed, types.Cancelled:
		return NotAvailable
	}
	return now.Add(remaining(job, now)).UTC().Format(time.RFC3339)
}

// roundCents rounds an amount to two decimals.
func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
