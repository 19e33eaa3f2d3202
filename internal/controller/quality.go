package controller

import (
	"context"
	"fmt"
	"math"

	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

// QualityAssessor scores a job as a whole once translation has stopped.
// An error fails the pipeline.
type QualityAssessor interface {
	Assess(ctx context.Context, job types.Job) (types.QualityResults, error)
}

// QualityAssessorFunc adapts a function to QualityAssessor.
type QualityAssessorFunc func(ctx context.Context, job types.Job) (types.QualityResults, error)

func (f QualityAssessorFunc) Assess(ctx context.Context, job types.Job) (types.QualityResults, error) {
	return f(ctx, job)
}

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// CoverageAssessor is the default assessor. The score is the share of
// file×locale pairs that ended up translated, on a 0-100 scale.
type CoverageAssessor struct{}

func (CoverageAssessor) Assess(_ context.Context, job types.Job) (types.QualityResults, error) {
	issues := make([]types.QualityIssue, 0)

	uploaded := 0
	for _, f := range job.UploadedFiles {
		if f.Status == types.ItemUploaded {
			uploaded++
			continue
		}
		issues = append(issues, types.QualityIssue{
			Severity: SeverityError,
			Target:   f.Path,
			Message:  fmt.Sprintf("file not uploaded: %s", orUnknown(f.Error)),
		})
	}

	completed := 0
	for _, s := range job.SubJobs {
		switch s.Status {
		case types.ItemCompleted:
			completed++
		case types.ItemFailed:
			issues = append(issues, types.QualityIssue{
				Severity: SeverityError,
				Target:   s.Locale,
				Message:  fmt.Sprintf("translation failed: %s", orUnknown(s.Error)),
			})
		default:
			issues = append(issues, types.QualityIssue{
				Severity: SeverityWarning,
				Target:   s.Locale,
				Message:  fmt.Sprintf("translation incomplete at %.0f%%", s.Progress),
			})
		}
	}

	score := 0.0
	if n := len(job.UploadedFiles) * len(job.SubJobs); n > 0 {
		score = float64(uploaded*completed) / float64(n) * 100
	}
	return types.QualityResults{
		Score:  math.Round(score*10) / 10,
		Issues: issues,
	}, nil
}

func orUnknown(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}
