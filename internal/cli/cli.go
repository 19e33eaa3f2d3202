// ============================================================================
// Bulk Translator CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: cobra command tree for running the orchestrator and calling its tools
//
// Command Structure:
//   bulk-translator                # Root command
//   ├── serve                      # Run orchestrator + gRPC/HTTP tool transports
//   ├── submit                     # create_bulk_translation_job
//   ├── status <jobId>             # get_job_status
//   ├── results <jobId>            # get_job_results
//   ├── cancel <jobId>             # cancel_job
//   ├── list                       # list_jobs
//   ├── tools                      # Print the tool catalogue
//   ├── --config, -c               # Config file (default: configs/default.yaml)
//   └── --addr                     # gRPC address of a running serve
//
// serve Command:
//   1. Load config file (+ .env / environment overrides)
//   2. Create translation client, metrics, event publisher, Controller
//   3. Start gRPC and HTTP tool transports, and the metrics server if enabled
//   4. Listen for system signals (SIGINT, SIGTERM)
//   5. Gracefully shutdown: transports and metrics server stop, running pipelines end failed
//
//   Examples:
//     ./bulk-translator serve
//     ./bulk-translator serve -c custom-config.yaml
//
// Client Commands:
//   submit/status/results/cancel/list call a running serve over gRPC and
//   print the tool result as JSON.
//
//   Examples:
//     ./bulk-translator submit -p p1 -f a.json -f b.json -l es-ES -l fr-FR --wait
//     ./bulk-translator status job_1730000000000_1a2b3c4d --details
//     ./bulk-translator results job_1730000000000_1a2b3c4d --files
//
// ============================================================================

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ChuLiYu/bulk-translator/internal/config"
	"github.com/ChuLiYu/bulk-translator/internal/controller"
	"github.com/ChuLiYu/bulk-translator/internal/events"
	"github.com/ChuLiYu/bulk-translator/internal/metrics"
	"github.com/ChuLiYu/bulk-translator/internal/server"
	"github.com/ChuLiYu/bulk-translator/internal/translation"
	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

var (
	configFile string
	serverAddr string
)

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bulk-translator",
		Short: "Bulk-translator: asynchronous bulk translation jobs",
		Long: `Bulk-translator runs bulk translation jobs against a remote
translation-management service:
- non-blocking job creation with phase-weighted progress
- per-file and per-locale partial failure
- bounded polling of remote sub-jobs
- tools exposed over gRPC and HTTP`,
		Version:      "1.0.0",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "", "gRPC address of a running serve (default: server.grpc_addr)")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildSubmitCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildResultsCommand())
	rootCmd.AddCommand(buildCancelCommand())
	rootCmd.AddCommand(buildListCommand())
	rootCmd.AddCommand(buildToolsCommand())

	return rootCmd
}

// ============================================================================
// serve
// ============================================================================

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator and its tool transports",
		Long:  "Run the bulk job orchestrator with the gRPC and HTTP tool transports until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, prometheus.DefaultRegisterer)
		},
	}
}

// runServer blocks until ctx is done, then shuts everything down.
func runServer(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) error {
	collector := metrics.NewCollector(reg)

	notifier := events.Multi{events.NotifierFunc(logEvent)}
	if cfg.Events.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			return err
		}
		defer pub.Close()
		notifier = append(notifier, pub)
		slog.Info("publishing job events", "url", cfg.Events.NATSURL, "prefix", cfg.Events.SubjectPrefix)
	}

	client := translation.New(translation.Options{
		BaseURL:  cfg.Translation.BaseURL,
		APIToken: cfg.Translation.APIToken,
		Timeout:  cfg.Translation.Timeout,
	})

	ctrl, err := controller.New(cfg.Controller(), client,
		controller.WithMetrics(collector),
		controller.WithNotifier(notifier),
	)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	tools := server.NewRegistry(ctrl)

	grpcServer, grpcAddr, err := server.ServeGRPC(cfg.Server.GRPCAddr, tools)
	if err != nil {
		return err
	}
	defer grpcServer.GracefulStop()

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           server.NewHTTPHandler(tools, collector.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpLis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.HTTPAddr, err)
	}
	go func() {
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "error", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = collector.NewServer(cfg.Metrics.Port)
		metricsLis, err := net.Listen("tcp", metricsServer.Addr)
		if err != nil {
			httpServer.Close()
			return fmt.Errorf("failed to listen on %s: %w", metricsServer.Addr, err)
		}
		slog.Info("starting metrics server", "addr", metricsLis.Addr().String())
		go func() {
			if err := metricsServer.Serve(metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	slog.Info("bulk-translator started",
		"grpc", grpcAddr.String(),
		"http", httpLis.Addr().String(),
		"translationBaseURL", cfg.Translation.BaseURL)

	<-ctx.Done()
	slog.Info("received shutdown signal, stopping gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown", "error", err)
		}
	}
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("system stopped", "jobs", ctrl.Stats())
	return nil
}

// logEvent traces every lifecycle event at debug level.
func logEvent(_ context.Context, ev events.Event) {
	slog.Debug("job event",
		"event", ev.Name,
		"jobID", ev.JobID,
		"status", ev.Status,
		"phase", ev.Phase,
		"completed", ev.Completed,
		"total", ev.Total)
}

// ============================================================================
// client commands
// ============================================================================

func buildSubmitCommand() *cobra.Command {
	var (
		projectID string
		files     []string
		locales   []string
		priority  string
		dueDate   string
		wait      bool
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create a bulk translation job",
		Long:  "Create a bulk translation job on a running serve. With --wait, poll until the job ends.",
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs := map[string]any{
				"projectId":     projectID,
				"filePaths":     files,
				"targetLocales": locales,
			}
			if priority != "" {
				toolArgs["priority"] = priority
			}
			if dueDate != "" {
				toolArgs["dueDate"] = dueDate
			}
			return withClient(cmd, func(ctx context.Context, c *server.Client) error {
				result, err := c.Call(ctx, server.ToolCreateBulkJob, toolArgs)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				if !wait {
					return nil
				}
				jobID, _ := result["jobId"].(string)
				return waitForJob(ctx, cmd.OutOrStdout(), c, jobID, interval)
			})
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project id")
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "source file path (repeatable)")
	cmd.Flags().StringSliceVarP(&locales, "locale", "l", nil, "target locale (repeatable)")
	cmd.Flags().StringVar(&priority, "priority", "", "low, normal, high or urgent")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the job reaches a terminal state")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval for --wait")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("locale")

	return cmd
}

// waitForJob prints one status line per poll until the job is terminal.
func waitForJob(ctx context.Context, w io.Writer, c *server.Client, jobID string, interval time.Duration) error {
	for {
		status, err := c.Call(ctx, server.ToolGetJobStatus, map[string]any{"jobId": jobID})
		if err != nil {
			return err
		}
		state, _ := status["state"].(string)
		fmt.Fprintf(w, "%s  %-10s  %-20v  %v/%v\n", jobID, state, status["currentPhase"], status["completed"], status["total"])
		if types.JobStatus(state).IsTerminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func buildStatusCommand() *cobra.Command {
	var details bool

	cmd := &cobra.Command{
		Use:   "status <jobId>",
		Short: "Show job status",
		Long:  "Display a job's state, progress and estimated completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(cmd, server.ToolGetJobStatus, map[string]any{
				"jobId":          args[0],
				"includeDetails": details,
			})
		},
	}
	cmd.Flags().BoolVar(&details, "details", false, "include per-file and per-locale state")
	return cmd
}

func buildResultsCommand() *cobra.Command {
	var files, noQuality bool

	cmd := &cobra.Command{
		Use:   "results <jobId>",
		Short: "Show results of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(cmd, server.ToolGetJobResults, map[string]any{
				"jobId":          args[0],
				"includeQuality": !noQuality,
				"includeFiles":   files,
			})
		},
	}
	cmd.Flags().BoolVar(&files, "files", false, "include per-file results")
	cmd.Flags().BoolVar(&noQuality, "no-quality", false, "omit quality metrics")
	return cmd
}

func buildCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <jobId>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(cmd, server.ToolCancelJob, map[string]any{"jobId": args[0]})
		},
	}
}

func buildListCommand() *cobra.Command {
	var status, jobType, projectID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callAndPrint(cmd, server.ToolListJobs, map[string]any{
				"status":    status,
				"type":      jobType,
				"projectId": projectID,
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&jobType, "type", "", "filter by job type")
	cmd.Flags().StringVarP(&projectID, "project", "p", "", "filter by project id")
	return cmd
}

func buildToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showTools(cmd.OutOrStdout())
		},
	}
}

func showTools(w io.Writer) error {
	for _, tool := range server.NewRegistry(nil).Tools() {
		fmt.Fprintf(w, "%s\n  %s\n", tool.Name, tool.Description)
		for _, arg := range tool.Arguments {
			req := ""
			if arg.Required {
				req = " (required)"
			}
			fmt.Fprintf(w, "    %-15s %-9s %s%s\n", arg.Name, arg.Type, arg.Description, req)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// ============================================================================
// helpers
// ============================================================================

func callAndPrint(cmd *cobra.Command, tool string, args map[string]any) error {
	return withClient(cmd, func(ctx context.Context, c *server.Client) error {
		result, err := c.Call(ctx, tool, args)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	})
}

// withClient dials the serve gRPC address and runs fn. Without --wait the
// whole exchange is bounded by 10 seconds.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *server.Client) error) error {
	addr, err := resolveAddr()
	if err != nil {
		return err
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if wait, _ := cmd.Flags().GetBool("wait"); !wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	return fn(ctx, server.NewClient(conn))
}

func resolveAddr() (string, error) {
	if serverAddr != "" {
		return serverAddr, nil
	}
	cfg, err := loadConfig(configFile)
	if err != nil {
		return "", err
	}
	addr := cfg.Server.GRPCAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return addr, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := setupLogging(cfg, os.Stderr); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs the default slog handler from the log section.
func setupLogging(cfg *config.Config, w io.Writer) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(cfg.Log.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.SetLogLoggerLevel(level)
	return nil
}
