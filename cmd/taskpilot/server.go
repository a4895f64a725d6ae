package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/taskpilot/internal/api"
	"github.com/kalambet/taskpilot/internal/config"
	"github.com/kalambet/taskpilot/internal/conversation"
	"github.com/kalambet/taskpilot/internal/executor"
	"github.com/kalambet/taskpilot/internal/feedback"
	"github.com/kalambet/taskpilot/internal/intent"
	"github.com/kalambet/taskpilot/internal/llm"
	"github.com/kalambet/taskpilot/internal/orchestrator"
	"github.com/kalambet/taskpilot/internal/patterns"
	"github.com/kalambet/taskpilot/internal/planner"
	"github.com/kalambet/taskpilot/internal/steps"
	"github.com/kalambet/taskpilot/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the taskpilot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running taskpilot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show taskpilot system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "taskpilot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "taskpilot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("taskpilot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("taskpilot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Completion client against the cloud provider.
	client := llm.NewClientWithBaseURL(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if timeout, err := time.ParseDuration(cfg.LLM.RequestTimeout); err == nil {
		client.SetTimeout(timeout)
	} else {
		slog.Warn("invalid llm request timeout, using default", "value", cfg.LLM.RequestTimeout, "error", err)
	}

	// Conversation machinery.
	counter := conversation.NewTokenCounter()
	selector := conversation.NewSelector(cfg.Conversation.WindowMessages, cfg.Conversation.WindowTokenBudget, counter)
	convStore := conversation.NewStore(store, cfg.Conversation.BusyMode == "wait")

	patternStore := patterns.NewStore(store, cfg.Conversation.PatternMinSamples, 0)
	classifier := intent.NewClassifier(client, patternStore, cfg.LLM.ClassifierModel, cfg.Conversation.PatternThreshold)
	generator := planner.NewGenerator(client, cfg.LLM.PlannerModel)

	stepTimeout, err := time.ParseDuration(cfg.Conversation.StepTimeout)
	if err != nil {
		slog.Warn("invalid step timeout, using default 20s", "value", cfg.Conversation.StepTimeout, "error", err)
		stepTimeout = 20 * time.Second
	}
	registry := executor.NewRegistry()
	steps.Register(registry, store, client, cfg.LLM.ClassifierModel)
	exec := executor.NewExecutor(registry, stepTimeout)

	machine := orchestrator.NewMachine(convStore, selector, generator, classifier, exec)

	// HTTP surface: chat + management on one router.
	chatHandler := api.NewChatHandler(api.ChatDeps{Processor: machine, Token: cfg.Server.APIToken})
	appHandler := api.NewAppHandler(api.AppDeps{Store: store, Token: cfg.Server.APIToken})

	topRouter := chi.NewRouter()
	topRouter.Mount("/", chatHandler)
	topRouter.Mount("/", appHandler)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: topRouter,
	}

	// HTTP server, feedback worker, and MCP transport run under one group;
	// the first hard failure or the shutdown signal stops them all.
	g, gctx := errgroup.WithContext(ctx)

	worker := feedback.NewWorker(store, patternStore, 2*time.Second)
	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("feedback worker: %w", err)
		}
		return nil
	})

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Processor: machine,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	g.Go(func() error {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})
	slog.Info("MCP server started (stdio transport)")

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "taskpilot listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("taskpilot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop taskpilot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to taskpilot (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Planner model", "%s", cfg.LLM.PlannerModel)
	printStatus("Classifier model", "%s", cfg.LLM.ClassifierModel)
	printStatus("Busy mode", "%s", cfg.Conversation.BusyMode)
	printStatus("Window", "%d messages / %d tokens", cfg.Conversation.WindowMessages, cfg.Conversation.WindowTokenBudget)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
