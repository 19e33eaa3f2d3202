package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ChuLiYu/bulk-translator/internal/controller"
	"github.com/ChuLiYu/bulk-translator/internal/translation"
	"github.com/ChuLiYu/bulk-translator/internal/translation/simulator"
	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/demo/main.go <run|cancel>")
		os.Exit(1)
	}
	mode := os.Args[1]

	// 模擬遠端服務：fr-FR 建立失敗，cancel 模式下 ja-JP 卡住
	simCfg := simulator.Config{Token: "demo-token", ProgressStep: 20, FailLocales: []string{"fr-FR"}}
	if mode == "cancel" {
		simCfg.StallLocales = []string{"ja-JP"}
	}
	sim := simulator.New(simCfg)
	remote := httptest.NewServer(sim.Handler())
	defer remote.Close()

	dir, err := os.MkdirTemp("", "bulk-demo-*")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	var files []string
	for _, name := range []string{"home.json", "checkout.json", "account.json"} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(`{"title":"Welcome"}`), 0644); err != nil {
			log.Fatalf("Failed to write %s: %v", name, err)
		}
		files = append(files, path)
	}

	cfg := controller.DefaultConfig()
	cfg.PollInterval = 200 * time.Millisecond
	cfg.MaxPollIterations = 100

	client := translation.New(translation.Options{BaseURL: remote.URL, APIToken: "demo-token"})
	ctrl, err := controller.New(cfg, client)
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	fmt.Printf("✓ Controller started (mode: %s), remote service at %s\n", mode, remote.URL)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	id, err := ctrl.CreateBulkJob(context.Background(), controller.CreateParams{
		ProjectID:     "demo",
		FilePaths:     files,
		TargetLocales: []string{"es-ES", "fr-FR", "ja-JP"},
		Priority:      types.PriorityHigh,
	})
	if err != nil {
		log.Fatalf("Failed to create job: %v", err)
	}
	fmt.Printf("✓ Created job %s (3 files × 3 locales)\n\n", id)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	cancelled := false
	for {
		select {
		case <-sigChan:
			fmt.Println("\n\nReceived shutdown signal, stopping gracefully...")
			shutdown(ctrl)
			return
		case <-ticker.C:
		}

		report, err := ctrl.GetJobStatus(id, false)
		if err != nil {
			log.Fatalf("Failed to read status: %v", err)
		}
		fmt.Printf("📊 %-10s %-20s %4d/%d  eta %s\n",
			report.State, report.CurrentPhase, report.Completed, report.Total, report.EstimatedCompletion)

		if mode == "cancel" && !cancelled && report.CurrentPhase == types.PhaseTranslating {
			cancelled = ctrl.CancelJob(id)
			fmt.Printf("\n⚡ Cancel requested: %v\n\n", cancelled)
		}
		if report.State.IsTerminal() {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctrl.Wait(ctx, id); err != nil {
		log.Fatalf("Failed to wait for job: %v", err)
	}

	if mode == "cancel" {
		fmt.Printf("\n📦 Remote jobs after cancel:\n")
		for _, job := range sim.Jobs() {
			fmt.Printf("  %-8s %-6s progress=%3.0f cancelled=%v\n", job.ID, job.Locale, job.Progress, job.Cancelled)
		}
	} else {
		results, err := ctrl.GetJobResults(id, controller.ResultOptions{IncludeQuality: true, IncludeFiles: true})
		if err != nil {
			log.Fatalf("Failed to read results: %v", err)
		}
		out, _ := json.MarshalIndent(results, "", "  ")
		fmt.Printf("\n📦 Results:\n%s\n", out)
	}

	fmt.Printf("\n📊 Stats: %v\n", ctrl.Stats())
	shutdown(ctrl)
}

func shutdown(ctrl *controller.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctrl.Shutdown(ctx); err != nil {
		log.Printf("Shutdown: %v", err)
	}
	fmt.Println("✓ Controller stopped")
}
