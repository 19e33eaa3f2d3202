// Package server exposes the orchestrator as five named tools over gRPC and
// HTTP. Arguments and results are plain JSON objects whose field names are
// part of the caller-visible contract.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ChuLiYu/bulk-translator/internal/controller"
	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

// Tool names.
const (
	ToolCreateBulkJob = "create_bulk_translation_job"
	ToolGetJobStatus  = "get_job_status"
	ToolGetJobResults = "get_job_results"
	ToolCancelJob     = "cancel_job"
	ToolListJobs      = "list_jobs"
)

var (
	// ErrUnknownTool no tool is registered under the name
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments the arguments could not be decoded
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Orchestrator is the part of the controller the tools call.
type Orchestrator interface {
	CreateBulkJob(ctx context.Context, p controller.CreateParams) (types.JobID, error)
	GetJobStatus(id types.JobID, includeDetails bool) (controller.StatusReport, error)
	GetJobResults(id types.JobID, opts controller.ResultOptions) (controller.ResultReport, error)
	CancelJob(id types.JobID) bool
	ListJobs(filter controller.ListFilter) []controller.JobSummary
}

var _ Orchestrator = (*controller.Controller)(nil)

// Argument describes one tool argument.
type Argument struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// Tool is one catalogue entry.
type Tool struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Arguments   []Argument `json:"arguments"`
}

type toolFunc func(ctx context.Context, args map[string]any) (any, error)

// Registry dispatches tool calls to the orchestrator.
type Registry struct {
	orch    Orchestrator
	catalog map[string]Tool
	funcs   map[string]toolFunc
}

// NewRegistry registers the five tools against orch.
func NewRegistry(orch Orchestrator) *Registry {
	r := &Registry{
		orch:    orch,
		catalog: make(map[string]Tool),
		funcs:   make(map[string]toolFunc),
	}

	r.register(Tool{
		Name:        ToolCreateBulkJob,
		Description: "Start translating a set of files into a set of locales. Returns immediately with a job id.",
		Arguments: []Argument{
			{"projectId", "string", true, "project that owns the files"},
			{"filePaths", "string[]", true, "source files to upload, at least one"},
			{"targetLocales", "string[]", true, "locale codes to translate into, at least one"},
			{"priority", "string", false, "low, normal (default), high or urgent; informational"},
			{"dueDate", "string", false, "RFC 3339 timestamp or YYYY-MM-DD"},
		},
	}, r.createBulkJob)

	r.register(Tool{
		Name:        ToolGetJobStatus,
		Description: "Report a job's state, phase-weighted progress and estimated completion.",
		Arguments: []Argument{
			{"jobId", "string", true, "job id returned by " + ToolCreateBulkJob},
			{"includeDetails", "boolean", false, "include per-file and per-locale state"},
		},
	}, r.getJobStatus)

	r.register(Tool{
		Name:        ToolGetJobResults,
		Description: "Return the consolidated results of a completed job.",
		Arguments: []Argument{
			{"jobId", "string", true, "job id"},
			{"includeQuality", "boolean", false, "include quality metrics (default true)"},
			{"includeFiles", "boolean", false, "include per-file results instead of a summary (default false)"},
		},
	}, r.getJobResults)

	r.register(Tool{
		Name:        ToolCancelJob,
		Description: "Cancel a queued or processing job.",
		Arguments: []Argument{
			{"jobId", "string", true, "job id"},
		},
	}, r.cancelJob)

	r.register(Tool{
		Name:        ToolListJobs,
		Description: "List jobs, optionally filtered.",
		Arguments: []Argument{
			{"status", "string", false, "queued, processing, completed, failed or cancelled"},
			{"type", "string", false, "job type, e.g. " + string(types.JobTypeBulkTranslation)},
			{"projectId", "string", false, "originating project"},
		},
	}, r.listJobs)

	return r
}

func (r *Registry) register(t Tool, fn toolFunc) {
	r.catalog[t.Name] = t
	r.funcs[t.Name] = fn
}

// Tools returns the catalogue sorted by name.
func (r *Registry) Tools() []Tool {
	tools := make([]Tool, 0, len(r.catalog))
	for _, t := range r.catalog {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Call runs the named tool and returns its result as a JSON object.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	result, err := fn(ctx, args)
	if err != nil {
		return nil, err
	}
	return toObject(result)
}

// ============================================================================
// Tool handlers
// ============================================================================

type createArgs struct {
	ProjectID     string   `json:"projectId"`
	FilePaths     []string `json:"filePaths"`
	TargetLocales []string `json:"targetLocales"`
	Priority      string   `json:"priority"`
	DueDate       string   `json:"dueDate"`
}

func (r *Registry) createBulkJob(ctx context.Context, raw map[string]any) (any, error) {
	var args createArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	due, err := parseDueDate(args.DueDate)
	if err != nil {
		return nil, err
	}

	id, err := r.orch.CreateBulkJob(ctx, controller.CreateParams{
		ProjectID:     args.ProjectID,
		FilePaths:     args.FilePaths,
		TargetLocales: args.TargetLocales,
		Priority:      types.Priority(args.Priority),
		DueDate:       due,
	})
	if err != nil {
		return nil, err
	}

	report, err := r.orch.GetJobStatus(id, true)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"jobId":             id,
		"status":            report.State,
		"estimatedDuration": report.Details.EstimatedSeconds,
		"total":             report.Total,
	}, nil
}

func parseDueDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: dueDate %q is not RFC 3339 or YYYY-MM-DD", ErrInvalidArguments, s)
}

type statusArgs struct {
	JobID          string `json:"jobId"`
	IncludeDetails bool   `json:"includeDetails"`
}

func (r *Registry) getJobStatus(_ context.Context, raw map[string]any) (any, error) {
	var args statusArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.JobID == "" {
		return nil, missing("jobId")
	}
	return r.orch.GetJobStatus(types.JobID(args.JobID), args.IncludeDetails)
}

type resultsArgs struct {
	JobID          string `json:"jobId"`
	IncludeQuality *bool  `json:"includeQuality"`
	IncludeFiles   *bool  `json:"includeFiles"`
}

func (r *Registry) getJobResults(_ context.Context, raw map[string]any) (any, error) {
	var args resultsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.JobID == "" {
		return nil, missing("jobId")
	}

	opts := controller.DefaultResultOptions()
	if args.IncludeQuality != nil {
		opts.IncludeQuality = *args.IncludeQuality
	}
	if args.IncludeFiles != nil {
		opts.IncludeFiles = *args.IncludeFiles
	}
	return r.orch.GetJobResults(types.JobID(args.JobID), opts)
}

type cancelArgs struct {
	JobID string `json:"jobId"`
}

// cancelJob reports unknown ids as not found; terminal jobs give cancelled=false.
func (r *Registry) cancelJob(_ context.Context, raw map[string]any) (any, error) {
	var args cancelArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.JobID == "" {
		return nil, missing("jobId")
	}
	id := types.JobID(args.JobID)
	if _, err := r.orch.GetJobStatus(id, false); err != nil {
		return nil, err
	}

	cancelled := r.orch.CancelJob(id)
	report, err := r.orch.GetJobStatus(id, false)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"jobId":     id,
		"cancelled": cancelled,
		"status":    report.State,
	}, nil
}

type listArgs struct {
	Status    string `json:"status"`
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
}

func (r *Registry) listJobs(_ context.Context, raw map[string]any) (any, error) {
	var args listArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	switch types.JobStatus(args.Status) {
	case "", types.StatusQueued, types.StatusProcessing, types.StatusCompleted, types.StatusFailed, types.StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidArguments, args.Status)
	}

	jobs := r.orch.ListJobs(controller.ListFilter{
		Status:    types.JobStatus(args.Status),
		Type:      types.JobType(args.Type),
		ProjectID: args.ProjectID,
	})
	return map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	}, nil
}

// ============================================================================
// Helpers
// ============================================================================

func missing(field string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidArguments, field)
}

func decodeArgs(raw map[string]any, dst any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// toObject re-encodes v into the generic form structpb and gin accept.
func toObject(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return out, nil
}
