package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"trafficpilot/internal/broker"
	"trafficpilot/internal/config"
	"trafficpilot/internal/db"
	"trafficpilot/internal/logging"
)

func main() {
	logging.Init("signalctl", os.Stderr)
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fatalf("signalctl: %v", err)
	}
}

var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var loadConfig = config.LoadConfig

type auditReader interface {
	ListAuditEvents(ctx context.Context, traceID string) ([]byte, error)
	ListToolCalls(ctx context.Context, traceID string) ([]byte, error)
	Close() error
}

var openAuditReader = func(dsn string) (auditReader, error) {
	d, err := db.NewDB(dsn)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("command required")
	}
	switch args[0] {
	case "-h", "--help", "help":
		writeUsage(out)
		return nil
	case "init":
		return runInit(args[1:], out)
	case "inspect":
		return runInspect(args[1:], out)
	case "audit":
		return runAudit(args[1:], out)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func writeUsage(out io.Writer) {
	_, _ = fmt.Fprintln(out, "Usage: signalctl <command> [flags]")
	_, _ = fmt.Fprintln(out, "")
	_, _ = fmt.Fprintln(out, "Commands: init, inspect, audit")
}

type commonFlags struct {
	configPath *string
	traceID    *string
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return fs, commonFlags{
		configPath: fs.String("config", "", "path to config JSON (optional)"),
		traceID:    fs.String("trace-id", "", "trace id (generated when empty)"),
	}
}

func brokerClient(cfg config.Config) *broker.Client {
	return &broker.Client{
		BaseURL:     cfg.Broker.BaseURL,
		Service:     cfg.Broker.Service,
		ServicePath: cfg.Broker.ServicePath,
		HTTPClient:  &http.Client{Timeout: cfg.BrokerTimeout()},
		Logger:      logging.New("ngsi_client", os.Stderr),
	}
}

func traceOr(id string) string {
	if strings.TrimSpace(id) != "" {
		return id
	}
	return uuid.NewString()
}

// runInit seeds the traffic signal entity in its resting state.
func runInit(args []string, out io.Writer) error {
	fs, common := newFlagSet("init")
	entityID := fs.String("entity-id", "", "entity id (default: signal.entity_id)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*common.configPath)
	if err != nil {
		return err
	}
	id := cfg.Signal.EntityID
	if *entityID != "" {
		id = *entityID
	}
	entity := map[string]any{
		"id":                        id,
		"type":                      "TrafficSignal",
		"status":                    "normal",
		broker.AttrPriorityCorridor: "none",
		"location":                  cfg.Signal.Location,
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.BrokerTimeout())
	defer cancel()
	if err := brokerClient(cfg).UpsertEntity(ctx, entity, traceOr(*common.traceID)); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "initialized %s\n", id)
	return nil
}

func runInspect(args []string, out io.Writer) error {
	fs, common := newFlagSet("inspect")
	entityID := fs.String("entity-id", "", "entity id (default: signal.entity_id)")
	token := fs.String("token", "", "bearer token forwarded to the broker")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*common.configPath)
	if err != nil {
		return err
	}
	id := cfg.Signal.EntityID
	if *entityID != "" {
		id = *entityID
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.BrokerTimeout())
	defer cancel()
	entity, err := brokerClient(cfg).GetEntity(ctx, id, traceOr(*common.traceID), *token)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(entity)
}

// runAudit prints the persisted audit events and tool calls of one trace.
func runAudit(args []string, out io.Writer) error {
	fs, common := newFlagSet("audit")
	dsn := fs.String("dsn", "", "postgres dsn (default: storage.postgres_dsn)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*common.traceID) == "" {
		return errors.New("trace-id required")
	}
	cfg, err := loadConfig(*common.configPath)
	if err != nil {
		return err
	}
	conn := cfg.Storage.PostgresDSN
	if *dsn != "" {
		conn = *dsn
	}
	if conn == "" {
		return errors.New("postgres dsn required")
	}
	reader, err := openAuditReader(conn)
	if err != nil {
		return err
	}
	defer reader.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	events, err := reader.ListAuditEvents(ctx, *common.traceID)
	if err != nil {
		return err
	}
	calls, err := reader.ListToolCalls(ctx, *common.traceID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]json.RawMessage{
		"audit_events": orEmpty(events),
		"tool_calls":   orEmpty(calls),
	})
}

func orEmpty(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("[]")
	}
	return b
}
