// Package translation is the boundary to the remote translation-management
// service: file upload, per-locale job creation, progress queries and
// cancellation.
package translation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
)

// Client is what the orchestrator needs from the remote service. Every call
// may fail independently.
type Client interface {
	UploadFile(ctx context.Context, projectID, filePath string) (string, error)
	CreateLocaleJob(ctx context.Context, projectID, name, locale string) (string, error)
	QueryProgress(ctx context.Context, projectID, remoteJobID string) (float64, error)
	CancelJob(ctx context.Context, projectID, remoteJobID string) error
}

// DownloadLinker is implemented by clients that can build a download
// reference for a finished remote job.
type DownloadLinker interface {
	DownloadURL(projectID, remoteJobID string) string
}

// ErrEmptyResponse is returned when a 2xx response lacks the expected id.
var ErrEmptyResponse = errors.New("remote service returned an empty identifier")

// APIError is a non-2xx response from the remote service.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d; body: %s", e.Op, e.StatusCode, abbreviate(e.Body, 512))
}

// Options configures HTTPClient.
type Options struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// HTTPClient talks to the remote service over its JSON API.
type HTTPClient struct {
	baseURL string
	http    *resty.Client
}

var _ Client = (*HTTPClient)(nil)
var _ DownloadLinker = (*HTTPClient)(nil)

func New(opts Options) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	c := resty.New().
		SetTimeout(timeout).
		SetBaseURL(base).
		SetHeader("Accept", "application/json")
	if opts.APIToken != "" {
		c.SetAuthToken(opts.APIToken)
	}
	return &HTTPClient{baseURL: base, http: c}
}

// UploadFile reads filePath from disk and uploads it as a multipart form. The
// part's content type is sniffed from the file contents.
func (c *HTTPClient) UploadFile(ctx context.Context, projectID, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filePath, err)
	}
	mtype := mimetype.Detect(data)

	var resp struct {
		FileID string `json:"fileId"`
	}
	r, err := c.http.R().SetContext(ctx).
		SetPathParam("projectId", projectID).
		SetMultipartField("file", filepath.Base(filePath), mtype.String(), bytes.NewReader(data)).
		SetResult(&resp).
		Post("/projects/{projectId}/files")
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filePath, err)
	}
	if r.IsError() {
		return "", &APIError{Op: "upload file", StatusCode: r.StatusCode(), Body: r.String()}
	}
	if resp.FileID == "" {
		return "", ErrEmptyResponse
	}
	return resp.FileID, nil
}

// CreateLocaleJob creates one remote job scoped to a single target locale.
func (c *HTTPClient) CreateLocaleJob(ctx context.Context, projectID, name, locale string) (string, error) {
	var resp struct {
		JobID string `json:"jobId"`
	}
	r, err := c.http.R().SetContext(ctx).
		SetPathParam("projectId", projectID).
		SetBody(map[string]string{"name": name, "targetLocale": locale}).
		SetResult(&resp).
		Post("/projects/{projectId}/jobs")
	if err != nil {
		return "", fmt.Errorf("create job for %s: %w", locale, err)
	}
	if r.IsError() {
		return "", &APIError{Op: "create job", StatusCode: r.StatusCode(), Body: r.String()}
	}
	if resp.JobID == "" {
		return "", ErrEmptyResponse
	}
	return resp.JobID, nil
}

// QueryProgress returns the remote job's completion percentage, clamped to
// [0, 100].
func (c *HTTPClient) QueryProgress(ctx context.Context, projectID, remoteJobID string) (float64, error) {
	var resp struct {
		Progress float64 `json:"progress"`
	}
	r, err := c.http.R().SetContext(ctx).
		SetPathParams(map[string]string{"projectId": projectID, "jobId": remoteJobID}).
		SetResult(&resp).
		Get("/projects/{projectId}/jobs/{jobId}")
	if err != nil {
		return 0, fmt.Errorf("query progress of %s: %w", remoteJobID, err)
	}
	if r.IsError() {
		return 0, &APIError{Op: "query progress", StatusCode: r.StatusCode(), Body: r.String()}
	}
	switch {
	case resp.Progress < 0:
		return 0, nil
	case resp.Progress > 100:
		return 100, nil
	}
	return resp.Progress, nil
}

func (c *HTTPClient) CancelJob(ctx context.Context, projectID, remoteJobID string) error {
	r, err := c.http.R().SetContext(ctx).
		SetPathParams(map[string]string{"projectId": projectID, "jobId": remoteJobID}).
		Post("/projects/{projectId}/jobs/{jobId}/cancel")
	if err != nil {
		return fmt.Errorf("cancel %s: %w", remoteJobID, err)
	}
	if r.IsError() {
		return &APIError{Op: "cancel job", StatusCode: r.StatusCode(), Body: r.String()}
	}
	return nil
}

func (c *HTTPClient) DownloadURL(projectID, remoteJobID string) string {
	return fmt.Sprintf("%s/projects/%s/jobs/%s/download",
		c.baseURL, url.PathEscape(projectID), url.PathEscape(remoteJobID))
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
