package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/bulk-translator/internal/config"
	"github.com/ChuLiYu/bulk-translator/internal/controller"
	"github.com/ChuLiYu/bulk-translator/internal/events"
	"github.com/ChuLiYu/bulk-translator/internal/server"
	"github.com/ChuLiYu/bulk-translator/internal/translation"
	"github.com/ChuLiYu/bulk-translator/internal/translation/simulator"
	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "bulk-translator", cmd.Use, "Root command should be 'bulk-translator'")
	assert.Equal(t, "1.0.0", cmd.Version, "Version should be 1.0.0")

	// 檢查子命令
	commands := cmd.Commands()
	assert.Len(t, commands, 7, "Should have 7 subcommands")

	commandNames := make(map[string]bool)
	for _, c := range commands {
		commandNames[c.Name()] = true
	}
	for _, name := range []string{"serve", "submit", "status", "results", "cancel", "list", "tools"} {
		assert.True(t, commandNames[name], "Should have '%s' command", name)
	}

	// 檢查持久化標誌
	configFlag := cmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue, "Default config path should be configs/default.yaml")
	assert.NotNil(t, cmd.PersistentFlags().Lookup("addr"), "Should have --addr flag")
}

func TestBuildSubmitCommand(t *testing.T) {
	cmd := buildSubmitCommand()

	assert.Equal(t, "submit", cmd.Use)
	assert.NotNil(t, cmd.RunE, "RunE function should be set")
	for flag, short := range map[string]string{"project": "p", "file": "f", "locale": "l"} {
		f := cmd.Flags().Lookup(flag)
		require.NotNil(t, f, "Should have --%s flag", flag)
		assert.Equal(t, short, f.Shorthand)
	}
	assert.NotNil(t, cmd.Flags().Lookup("wait"))
	assert.NotNil(t, cmd.Flags().Lookup("due"))
}

func TestJobIDCommandsRequireArgument(t *testing.T) {
	for _, name := range []string{"status", "results", "cancel"} {
		root := BuildCLI()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{name})
		assert.Error(t, root.Execute(), "%s without a job id should fail", name)
	}
}

func TestShowTools(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, showTools(&out))

	for _, name := range []string{
		server.ToolCreateBulkJob, server.ToolGetJobStatus, server.ToolGetJobResults,
		server.ToolCancelJob, server.ToolListJobs,
	} {
		assert.Contains(t, out.String(), name)
	}
	assert.Contains(t, out.String(), "targetLocales")
	assert.Contains(t, out.String(), "(required)")
}

func TestSetupLogging(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	defer slog.SetLogLoggerLevel(slog.LevelInfo)

	cfg := config.Default()
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"

	var out bytes.Buffer
	require.NoError(t, setupLogging(cfg, &out))
	slog.Debug("hello", "jobID", "job_1")
	assert.Contains(t, out.String(), `"msg":"hello"`)
	assert.Contains(t, out.String(), `"jobID":"job_1"`)

	cfg.Log.Level = "loud"
	assert.Error(t, setupLogging(cfg, &out))
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err, "a missing file falls back to defaults")
	assert.Equal(t, ":50051", cfg.Server.GRPCAddr)

	path := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("orchestrator: [broken"), 0644))
	_, err = loadConfig(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

// startBackend runs a controller against the simulator and serves its tools
// over gRPC on a random port.
func startBackend(t *testing.T) (*controller.Controller, string) {
	t.Helper()

	sim := simulator.New(simulator.Config{Token: "test-token"})
	remote := httptest.NewServer(sim.Handler())
	t.Cleanup(remote.Close)

	cfg := controller.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	client := translation.New(translation.Options{BaseURL: remote.URL, APIToken: "test-token"})

	ctrl, err := controller.New(cfg, client)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ctrl.Shutdown(ctx)
	})

	grpcServer, addr, err := server.ServeGRPC("127.0.0.1:0", server.NewRegistry(ctrl))
	require.NoError(t, err)
	t.Cleanup(grpcServer.Stop)

	return ctrl, addr.String()
}

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := BuildCLI()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute(), out.String())
	return out.String()
}

func TestClientCommands(t *testing.T) {
	ctrl, addr := startBackend(t)

	dir := t.TempDir()
	var files []string
	for _, name := range []string{"a.json", "b.json"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(`{"hello":"world"}`), 0644))
		files = append(files, path)
	}

	out := runCLI(t, "submit", "--addr", addr,
		"-p", "p1", "-f", files[0], "-f", files[1], "-l", "es-ES,fr-FR", "--priority", "high")
	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	jobID, _ := created["jobId"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, float64(400), created["total"])

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, ctrl.Wait(ctx, types.JobID(jobID)))

	out = runCLI(t, "status", jobID, "--addr", addr)
	assert.Contains(t, out, `"state": "completed"`)

	out = runCLI(t, "results", jobID, "--files", "--addr", addr)
	var results map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Len(t, results["downloadLinks"], 2)
	assert.Len(t, results["files"], 2)

	out = runCLI(t, "cancel", jobID, "--addr", addr)
	assert.Contains(t, out, `"cancelled": false`)

	out = runCLI(t, "list", "--project", "p1", "--addr", addr)
	assert.Contains(t, out, `"count": 1`)
	assert.True(t, strings.Contains(out, jobID))
}

func TestSubmitWait(t *testing.T) {
	_, addr := startBackend(t)

	path := filepath.Join(t.TempDir(), "strings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"k":"v"}`), 0644))

	out := runCLI(t, "submit", "--addr", addr, "-p", "p2", "-f", path, "-l", "de-DE",
		"--wait", "--interval", "20ms")
	assert.Contains(t, out, "completed")
}

func TestRunServerStopsOnCancel(t *testing.T) {
	tests := []struct {
		name    string
		metrics bool
	}{
		{"transports only", false},
		{"with metrics server", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Server.GRPCAddr = "127.0.0.1:0"
			cfg.Server.HTTPAddr = "127.0.0.1:0"
			cfg.Metrics.Enabled = tt.metrics
			cfg.Metrics.Port = 0

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- runServer(ctx, cfg, prometheus.NewRegistry()) }()

			time.Sleep(100 * time.Millisecond)
			cancel()

			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(10 * time.Second):
				t.Fatal("runServer did not return after cancel")
			}
		})
	}
}

func TestLogEvent(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	defer slog.SetLogLoggerLevel(slog.LevelInfo)

	cfg := config.Default()
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"

	var out bytes.Buffer
	require.NoError(t, setupLogging(cfg, &out))

	job := types.Job{ID: "job_1", Progress: types.Progress{Total: 400, CurrentPhase: types.PhaseTranslating}}
	notifier := events.Multi{events.NotifierFunc(logEvent)}
	notifier.Notify(context.Background(), events.FromJob(events.EventPhase, &job, time.Now()))

	assert.Contains(t, out.String(), `"msg":"job event"`)
	assert.Contains(t, out.String(), `"event":"phase"`)
	assert.Contains(t, out.String(), `"phase":"translating"`)
}
