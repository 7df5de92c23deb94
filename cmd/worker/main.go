package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"trafficpilot/internal/audit"
	"trafficpilot/internal/config"
	"trafficpilot/internal/db"
	"trafficpilot/internal/logging"
	"trafficpilot/internal/metrics"
	"trafficpilot/internal/tools"
	"trafficpilot/internal/workflows"
)

func main() {
	logging.Init("worker", nil)
	if err := run(os.Args[1:]); err != nil {
		fatalf("worker: %v", err)
	}
}

var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var loadConfig = config.LoadConfig
var newDB = db.NewDB
var newTemporalClient = func(cfg config.OrchestratorConfig) (client.Client, error) {
	return client.Dial(client.Options{HostPort: cfg.TemporalAddr, Namespace: cfg.Namespace})
}

type closeFunc func() error

func (c closeFunc) Close() error {
	return c()
}

var newWorker = func(cfg config.OrchestratorConfig) (worker.Worker, io.Closer, error) {
	c, err := newTemporalClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	return w, closeFunc(func() error { c.Close(); return nil }), nil
}
var runWorker = func(w worker.Worker) error { return w.Run(worker.InterruptCh()) }

func run(args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON (optional)")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics and /healthz on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if cfg.Orchestrator.TemporalAddr == "" {
		return errors.New("orchestrator.temporal_addr required")
	}

	store := audit.New()
	ready := func(context.Context) error { return nil }
	if cfg.Storage.PostgresDSN != "" {
		database, err := newDB(cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		defer database.Close()
		store = audit.NewWithDB(database)
		ready = database.Ping
	}

	if *metricsAddr != "" {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		startMetrics(ctx, *metricsAddr, ready)
	}

	exec := &workflows.Executor{
		Caller:     tools.NewClient(cfg.Actuation.URL, cfg.ActuationTimeout()),
		Credential: cfg.Credentials.UserToken,
		Audit:      store,
		Redactor:   tools.NewRedactor(tools.DefaultRedactPatterns()),
		Logger:     logging.New("executor", nil),
	}
	return startWorker(exec, cfg.Orchestrator)
}

func startWorker(exec *workflows.Executor, cfg config.OrchestratorConfig) error {
	w, closer, err := newWorker(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}
	acts := &workflows.Activities{Executor: exec}
	w.RegisterWorkflow(workflows.PlanExecutionWorkflow)
	w.RegisterActivityWithOptions(acts.ExecuteStep, activity.RegisterOptions{Name: workflows.ActivityExecuteStep})
	slog.Info("worker ready", "temporal_addr", cfg.TemporalAddr, "task_queue", cfg.TaskQueue)
	return runWorker(w)
}

func startMetrics(ctx context.Context, addr string, ready func(context.Context) error) {
	srv := &http.Server{Addr: addr, Handler: healthMux(ready)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
}

// healthMux serves /metrics, /healthz and /readyz. Readiness pings the audit
// database when one is configured.
func healthMux(ready func(context.Context) error) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		pctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(pctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}
