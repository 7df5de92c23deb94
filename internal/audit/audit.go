package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Event is one governance record: a plan generated, a decision, a final outcome.
type Event struct {
	TraceID    string         `json:"trace_id"`
	Component  string         `json:"component"`
	Action     string         `json:"action"`
	Decision   string         `json:"decision,omitempty"`
	OccurredAt string         `json:"occurred_at"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// ToolCall records one step attempt against the actuation endpoint.
type ToolCall struct {
	TraceID    string `json:"trace_id"`
	PlanID     string `json:"plan_id"`
	StepID     string `json:"step_id"`
	Tool       string `json:"tool_name"`
	Status     string `json:"status"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Body       string `json:"body,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Writer interface {
	InsertAuditEvent(ctx context.Context, payload []byte) (string, error)
	InsertToolCall(ctx context.Context, traceID string, payload []byte) (string, error)
}

// Store persists audit records when a Writer is configured and is a no-op
// otherwise. A nil *Store is valid.
type Store struct {
	DB  Writer
	Now func() time.Time
}

var marshalJSON = json.Marshal

func New() *Store {
	return &Store{}
}

func NewWithDB(db Writer) *Store {
	return &Store{DB: db}
}

func (s *Store) AppendEvent(ctx context.Context, ev Event) error {
	if s == nil || s.DB == nil {
		return nil
	}
	if ev.TraceID == "" {
		return errors.New("trace_id required")
	}
	if ev.OccurredAt == "" {
		ev.OccurredAt = s.now().UTC().Format(time.RFC3339Nano)
	}
	payload, err := marshalJSON(ev)
	if err != nil {
		return err
	}
	_, err = s.DB.InsertAuditEvent(ctx, payload)
	return err
}

func (s *Store) RecordToolCall(ctx context.Context, call ToolCall) error {
	if s == nil || s.DB == nil {
		return nil
	}
	if call.TraceID == "" {
		return errors.New("trace_id required")
	}
	payload, err := marshalJSON(call)
	if err != nil {
		return err
	}
	_, err = s.DB.InsertToolCall(ctx, call.TraceID, payload)
	return err
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
