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
	"os/signal"
	"strings"
	"syscall"

	"go.temporal.io/sdk/client"

	"trafficpilot/internal/audit"
	"trafficpilot/internal/config"
	"trafficpilot/internal/db"
	"trafficpilot/internal/llm"
	"trafficpilot/internal/logging"
	"trafficpilot/internal/orchestrator"
	"trafficpilot/internal/plan"
	"trafficpilot/internal/policy"
	"trafficpilot/internal/scheduler"
	"trafficpilot/internal/tools"
	"trafficpilot/internal/workflows"
)

func main() {
	logging.Init("host", nil)
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fatalf("host: %v", err)
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
var logWriter io.Writer

func run(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("host", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON (optional)")
	scenario := fs.String("scenario", envOr("SCENARIO", "A"), "scenario: A, B, "+strings.Join(plan.Scenarios(), ", "))
	describe := fs.String("describe", "", "incident description; asks the advisory planner instead of using -scenario")
	traceID := fs.String("trace-id", "", "trace id (generated when empty)")
	credential := fs.String("credential", "", "user credential presented to the policy engine (default: configured user token)")
	useTemporal := fs.Bool("temporal", false, "execute through the Temporal worker")
	schedule := fs.Bool("schedule", false, "run configured scheduler entries until interrupted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store := audit.New()
	if cfg.Storage.PostgresDSN != "" {
		database, err := newDB(cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		defer database.Close()
		store = audit.NewWithDB(database)
	}
	runner, closeRunner, err := buildRunner(cfg, store, *useTemporal)
	if err != nil {
		return err
	}
	defer closeRunner()

	orch := &orchestrator.Orchestrator{
		Catalog: plan.NewCatalog(cfg.Signal.EntityID, cfg.Credentials.HumanApprovalToken),
		Policy:  policy.NewEvaluator(buildChecker(cfg), store, logging.New("policy_engine", logWriter)),
		Runner:  runner,
		Advisor: buildAdvisor(cfg),
		Audit:   store,
		Logger:  logging.New("host", logWriter),
	}
	cred := *credential
	if cred == "" {
		cred = cfg.Credentials.UserToken
	}

	if *schedule {
		if !cfg.Scheduler.Enabled || len(cfg.Scheduler.Entries) == 0 {
			return errors.New("scheduler.enabled with at least one entry required for -schedule")
		}
		entries := make([]scheduler.Entry, 0, len(cfg.Scheduler.Entries))
		for _, e := range cfg.Scheduler.Entries {
			entries = append(entries, scheduler.Entry{ID: e.ID, Cron: e.Cron, Scenario: e.Scenario})
		}
		s, err := scheduler.New(orch, cred, entries)
		if err != nil {
			return err
		}
		s.PollInterval = cfg.SchedulerPollInterval()
		s.Logger = logging.New("scheduler", logWriter)
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	out, runErr := orch.Run(ctx, orchestrator.Request{
		Scenario:    *scenario,
		Description: *describe,
		Credential:  cred,
		TraceID:     *traceID,
	})
	if out.State != "" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return runErr
}

func buildChecker(cfg config.Config) policy.Checker {
	if cfg.Policy.OPAURL != "" {
		return &policy.PolicyService{OPAURL: cfg.Policy.OPAURL, PolicyPackage: cfg.Policy.PolicyPackage}
	}
	return policy.StaticChecker{UserToken: cfg.Credentials.UserToken, HumanToken: cfg.Credentials.HumanApprovalToken}
}

func buildAdvisor(cfg config.Config) orchestrator.Advisor {
	if cfg.LLM.Provider == "" {
		return llm.Unconfigured{}
	}
	return &llm.Router{
		Provider:       cfg.LLM.Provider,
		Model:          cfg.LLM.Model,
		APIBase:        cfg.LLM.APIBase,
		APIKey:         cfg.LLM.APIKey,
		MaxTokens:      cfg.LLM.MaxOutputTokens,
		HTTPClient:     &http.Client{Timeout: cfg.LLMTimeout()},
		RedactPatterns: cfg.LLM.RedactPatterns,
	}
}

func buildRunner(cfg config.Config, store *audit.Store, useTemporal bool) (orchestrator.Runner, func(), error) {
	if !useTemporal {
		return &workflows.Executor{
			Caller:     tools.NewClient(cfg.Actuation.URL, cfg.ActuationTimeout()),
			Credential: cfg.Credentials.UserToken,
			Audit:      store,
			Redactor:   tools.NewRedactor(tools.DefaultRedactPatterns()),
			Logger:     logging.New("executor", logWriter),
		}, func() {}, nil
	}
	if cfg.Orchestrator.TemporalAddr == "" {
		return nil, nil, errors.New("orchestrator.temporal_addr required for -temporal")
	}
	c, err := newTemporalClient(cfg.Orchestrator)
	if err != nil {
		return nil, nil, err
	}
	runner := &workflows.TemporalRunner{Client: c, TaskQueue: cfg.Orchestrator.TaskQueue, StepTimeout: cfg.ActuationTimeout()}
	return runner, c.Close, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
