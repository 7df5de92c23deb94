// Package scheduler fires canned scenarios on cron expressions, for drills
// and periodic corridor checks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"trafficpilot/internal/logging"
	"trafficpilot/internal/orchestrator"
)

type Entry struct {
	ID       string
	Cron     string
	Scenario string
}

// Runner is satisfied by *orchestrator.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (orchestrator.Outcome, error)
}

type Scheduler struct {
	Runner       Runner
	Credential   string
	PollInterval time.Duration
	Now          func() time.Time
	Logger       *slog.Logger

	entries []scheduled
}

type scheduled struct {
	Entry
	sched   cron.Schedule
	lastRun time.Time
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New parses every entry up front; a bad expression is a configuration
// error, not something to discover at fire time.
func New(runner Runner, credential string, entries []Entry) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("runner required")
	}
	s := &Scheduler{Runner: runner, Credential: credential}
	for i, entry := range entries {
		sched, err := parser.Parse(strings.TrimSpace(entry.Cron))
		if err != nil {
			return nil, fmt.Errorf("schedule %d (%s): %w", i, entry.ID, err)
		}
		if strings.TrimSpace(entry.Scenario) == "" {
			return nil, fmt.Errorf("schedule %d (%s): scenario required", i, entry.ID)
		}
		if entry.ID == "" {
			entry.ID = fmt.Sprintf("schedule-%d", i)
		}
		s.entries = append(s.entries, scheduled{Entry: entry, sched: sched})
	}
	return s, nil
}

func (s *Scheduler) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 30 * time.Second
	}
	s.start()
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce fires every entry whose next activation is due, one after
// another, and returns how many fired. A failed run is logged and does not
// stop the remaining entries.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	s.start()
	now := s.now().UTC()
	log := logging.OrDefault(s.Logger)
	count := 0
	for i := range s.entries {
		entry := &s.entries[i]
		if entry.sched.Next(entry.lastRun).After(now) {
			continue
		}
		entry.lastRun = now
		count++
		log.Info("Scheduled scenario firing", "schedule_id", entry.ID, "scenario", entry.Scenario)
		out, err := s.Runner.Run(ctx, orchestrator.Request{Scenario: entry.Scenario, Credential: s.Credential})
		if err != nil {
			log.Error("Scheduled scenario failed", logging.Trace(out.TraceID), "schedule_id", entry.ID, "err", err)
			continue
		}
		log.Info("Scheduled scenario finished", logging.Trace(out.TraceID), "schedule_id", entry.ID, "state", string(out.State))
	}
	return count
}

// start anchors entries that have never fired to the current time so a
// restart does not replay missed activations.
func (s *Scheduler) start() {
	now := s.now().UTC()
	for i := range s.entries {
		if s.entries[i].lastRun.IsZero() {
			s.entries[i].lastRun = now
		}
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
