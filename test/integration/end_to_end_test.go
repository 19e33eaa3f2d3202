// ============================================================================
// Bulk Translator 端到端測試
// ============================================================================
//
// Package: test/integration
// 文件: end_to_end_test.go
// 功能: 透過 HTTP 工具介面驅動完整的任務生命週期
//
// 測試拓撲:
//   resty client → gin 工具介面 → Controller → translation.HTTPClient → 模擬遠端服務
//
// TestEndToEndTranslation:
//   建立任務 → 輪詢狀態直到 completed → 取得結果與下載連結
//
// TestEndToEndPartialFailure:
//   一個語系建立失敗，任務仍然完成，結果只包含成功的語系
//
// TestEndToEndCancel:
//   一個語系卡住，任務停在 translating 時取消，遠端子任務收到取消
//
// ============================================================================

package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/bulk-translator/internal/controller"
	"github.com/ChuLiYu/bulk-translator/internal/metrics"
	"github.com/ChuLiYu/bulk-translator/internal/server"
	"github.com/ChuLiYu/bulk-translator/internal/translation"
	"github.com/ChuLiYu/bulk-translator/internal/translation/simulator"
	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

type stack struct {
	sim  *simulator.Simulator
	ctrl *controller.Controller
	api  *resty.Client
}

// newStack 啟動模擬遠端服務、Controller 與 HTTP 工具介面
func newStack(t testing.TB, simCfg simulator.Config, tune func(*controller.Config)) *stack {
	t.Helper()

	simCfg.Token = "integration-token"
	sim := simulator.New(simCfg)
	remote := httptest.NewServer(sim.Handler())
	t.Cleanup(remote.Close)

	cfg := controller.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	if tune != nil {
		tune(&cfg)
	}

	client := translation.New(translation.Options{BaseURL: remote.URL, APIToken: "integration-token"})
	collector := metrics.NewCollector(prometheus.NewRegistry())
	ctrl, err := controller.New(cfg, client, controller.WithMetrics(collector))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctrl.Shutdown(ctx)
	})

	api := httptest.NewServer(server.NewHTTPHandler(server.NewRegistry(ctrl), collector.Handler()))
	t.Cleanup(api.Close)

	return &stack{
		sim:  sim,
		ctrl: ctrl,
		api:  resty.New().SetBaseURL(api.URL).SetTimeout(5 * time.Second),
	}
}

// call 呼叫工具並回傳 JSON 物件
func (s *stack) call(t testing.TB, name string, args map[string]any) (int, map[string]any) {
	t.Helper()
	var out map[string]any
	resp, err := s.api.R().
		SetBody(map[string]any{"name": name, "arguments": args}).
		SetResult(&out).
		SetError(&out).
		Post("/tools/call")
	require.NoError(t, err)
	return resp.StatusCode(), out
}

// waitForState 透過 get_job_status 輪詢，直到 check 成立
func (s *stack) waitForState(t testing.TB, jobID string, timeout time.Duration, check func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		code, status := s.call(t, server.ToolGetJobStatus, map[string]any{"jobId": jobID})
		require.Equal(t, http.StatusOK, code)
		if check(status) {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach the expected state within %v", jobID, timeout)
	return nil
}

func sourceFiles(t testing.TB, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(`{"greeting":"hello"}`), 0644))
		paths = append(paths, path)
	}
	return paths
}

func hasState(state types.JobStatus) func(map[string]any) bool {
	return func(status map[string]any) bool { return status["state"] == string(state) }
}

func TestEndToEndTranslation(t *testing.T) {
	s := newStack(t, simulator.Config{}, nil)
	files := sourceFiles(t, "home.json", "checkout.json", "account.json")

	code, created := s.call(t, server.ToolCreateBulkJob, map[string]any{
		"projectId":     "shop",
		"filePaths":     files,
		"targetLocales": []string{"es-ES", "fr-FR", "ja-JP"},
		"priority":      "urgent",
	})
	require.Equal(t, http.StatusOK, code, created)
	jobID := created["jobId"].(string)
	assert.Equal(t, float64(900), created["total"])

	status := s.waitForState(t, jobID, 10*time.Second, hasState(types.StatusCompleted))
	assert.Equal(t, status["total"], status["completed"])
	assert.Equal(t, string(types.PhaseCompleted), status["currentPhase"])

	code, results := s.call(t, server.ToolGetJobResults, map[string]any{"jobId": jobID, "includeFiles": true})
	require.Equal(t, http.StatusOK, code, results)
	assert.Len(t, results["downloadLinks"], 3)
	assert.Len(t, results["files"], 3)
	assert.Equal(t, float64(900), results["translatedStrings"])
	assert.Equal(t, 18.0, results["finalCost"])

	quality := results["qualityMetrics"].(map[string]any)
	assert.Equal(t, float64(100), quality["score"])

	// 遠端收到每個檔案與每個語系
	assert.Len(t, s.sim.Files(), 3)
	assert.Len(t, s.sim.Jobs(), 3)

	stats := s.ctrl.Stats()
	assert.Equal(t, 1, stats[string(types.StatusCompleted)])
}

func TestEndToEndPartialFailure(t *testing.T) {
	s := newStack(t, simulator.Config{FailLocales: []string{"fr-FR"}}, nil)
	files := sourceFiles(t, "a.json", "b.json")

	code, created := s.call(t, server.ToolCreateBulkJob, map[string]any{
		"projectId":     "p1",
		"filePaths":     files,
		"targetLocales": []string{"es-ES", "fr-FR"},
	})
	require.Equal(t, http.StatusOK, code)
	jobID := created["jobId"].(string)

	s.waitForState(t, jobID, 10*time.Second, hasState(types.StatusCompleted))

	code, results := s.call(t, server.ToolGetJobResults, map[string]any{"jobId": jobID})
	require.Equal(t, http.StatusOK, code)

	links := results["downloadLinks"].([]any)
	require.Len(t, links, 1)
	assert.Equal(t, "es-ES", links[0].(map[string]any)["locale"])
	assert.Equal(t, float64(200), results["translatedStrings"])

	quality := results["qualityMetrics"].(map[string]any)
	assert.Equal(t, float64(50), quality["score"])
	assert.NotEmpty(t, quality["issues"])
}

func TestEndToEndCancel(t *testing.T) {
	s := newStack(t, simulator.Config{StallLocales: []string{"fr-FR"}}, func(cfg *controller.Config) {
		cfg.MaxPollIterations = 10000
	})
	files := sourceFiles(t, "a.json")

	code, created := s.call(t, server.ToolCreateBulkJob, map[string]any{
		"projectId":     "p1",
		"filePaths":     files,
		"targetLocales": []string{"es-ES", "fr-FR"},
	})
	require.Equal(t, http.StatusOK, code)
	jobID := created["jobId"].(string)

	s.waitForState(t, jobID, 10*time.Second, func(status map[string]any) bool {
		return status["currentPhase"] == string(types.PhaseTranslating)
	})

	code, cancelled := s.call(t, server.ToolCancelJob, map[string]any{"jobId": jobID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, cancelled["cancelled"])
	assert.Equal(t, string(types.StatusCancelled), cancelled["status"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.ctrl.Wait(ctx, types.JobID(jobID)))

	remote := s.sim.Jobs()
	require.Len(t, remote, 2)
	for _, job := range remote {
		assert.True(t, job.Cancelled, "remote job %s (%s) should be cancelled", job.ID, job.Locale)
	}

	// 已取消的任務沒有結果
	code, body := s.call(t, server.ToolGetJobResults, map[string]any{"jobId": jobID})
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], "cancelled")

	// 第二次取消不改變狀態
	code, again := s.call(t, server.ToolCancelJob, map[string]any{"jobId": jobID})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, again["cancelled"])
}

func TestEndToEndMetricsEndpoint(t *testing.T) {
	s := newStack(t, simulator.Config{}, nil)
	files := sourceFiles(t, "a.json")

	_, created := s.call(t, server.ToolCreateBulkJob, map[string]any{
		"projectId":     "p1",
		"filePaths":     files,
		"targetLocales": []string{"de-DE"},
	})
	s.waitForState(t, created["jobId"].(string), 10*time.Second, hasState(types.StatusCompleted))

	resp, err := s.api.R().Get("/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Contains(t, resp.String(), "bulk_jobs_created_total")
}
