package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trafficpilot/internal/broker"
	"trafficpilot/internal/config"
	"trafficpilot/internal/logging"
	"trafficpilot/internal/metrics"
	"trafficpilot/internal/tools"
)

func main() {
	logging.Init("actuator", nil)
	if err := run(os.Args[1:], serveHTTP); err != nil {
		fatalf("actuator: %v", err)
	}
}

var serveHTTP = func(srv *http.Server) error { return srv.ListenAndServe() }
var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var loadConfig = config.LoadConfig

const shutdownGrace = 30 * time.Second

func run(args []string, serve func(*http.Server) error) error {
	fs := flag.NewFlagSet("actuator", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON (optional)")
	addrFlag := fs.String("addr", "", "listen address (overrides actuation.http_addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	addr := cfg.Actuation.HTTPAddr
	if *addrFlag != "" {
		addr = *addrFlag
	}
	if addr == "" {
		return errors.New("listen address required")
	}

	httpSrv := &http.Server{Addr: addr, Handler: newHandler(cfg)}
	errCh := make(chan error, 1)
	go func() { errCh <- serve(httpSrv) }()

	slog.Info("actuator listening", "addr", addr, "broker", cfg.Broker.BaseURL)
	select {
	case err := <-errCh:
		if err == nil {
			return nil
		}
		if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	forceExit := time.AfterFunc(shutdownGrace, func() { os.Exit(1) })
	defer forceExit.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	err = <-errCh
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func newHandler(cfg config.Config) http.Handler {
	store := &broker.Client{
		BaseURL:     cfg.Broker.BaseURL,
		Service:     cfg.Broker.Service,
		ServicePath: cfg.Broker.ServicePath,
		HTTPClient:  &http.Client{Timeout: cfg.BrokerTimeout()},
		Logger:      logging.New("ngsi_client", nil),
	}
	server := tools.NewServer(cfg.Credentials.UserToken, store, logging.New("mcp_server", nil))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", server)
	return metrics.Middleware(mux)
}
