package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type auditPayload struct {
	TraceID    string          `json:"trace_id"`
	Component  string          `json:"component"`
	Action     string          `json:"action"`
	Decision   string          `json:"decision"`
	OccurredAt string          `json:"occurred_at"`
	Fields     json.RawMessage `json:"fields"`
}

type toolCallPayload struct {
	PlanID     string `json:"plan_id"`
	StepID     string `json:"step_id"`
	Tool       string `json:"tool_name"`
	Status     string `json:"status"`
	HTTPStatus int    `json:"http_status"`
	Body       string `json:"body"`
	Error      string `json:"error"`
}

func (d *DB) InsertAuditEvent(ctx context.Context, payload []byte) (string, error) {
	var data auditPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return "", err
	}
	if data.TraceID == "" {
		return "", errors.New("trace_id required")
	}
	occurredAt := time.Now().UTC()
	if data.OccurredAt != "" {
		parsed, err := time.Parse(time.RFC3339Nano, data.OccurredAt)
		if err != nil {
			return "", err
		}
		occurredAt = parsed
	}
	action := data.Action
	if action == "" {
		action = "unknown"
	}
	fields := []byte("{}")
	if len(data.Fields) > 0 {
		fields = data.Fields
	}
	id := newID("audit")
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO audit_events(event_id, trace_id, component, action, decision, occurred_at, fields_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, data.TraceID, data.Component, action, nullString(data.Decision), occurredAt, fields)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (d *DB) InsertToolCall(ctx context.Context, traceID string, payload []byte) (string, error) {
	if traceID == "" {
		return "", errors.New("trace_id required")
	}
	var data toolCallPayload
	if err := json.Unmarshal(payload, &data); err != nil {
		return "", err
	}
	if data.Tool == "" {
		return "", errors.New("tool_name required")
	}
	id := newID("toolcall")
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO tool_calls(tool_call_id, trace_id, plan_id, step_id, tool_name, status, http_status, body, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, traceID, data.PlanID, data.StepID, data.Tool, data.Status, nullInt(data.HTTPStatus), nullString(data.Body), nullString(data.Error))
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListAuditEvents returns the events for one trace as a JSON array, oldest
// first. Events sharing a timestamp keep insertion order via seq.
func (d *DB) ListAuditEvents(ctx context.Context, traceID string) ([]byte, error) {
	query := `SELECT COALESCE(jsonb_agg(
		jsonb_build_object(
			'event_id', event_id,
			'trace_id', trace_id,
			'component', component,
			'action', action,
			'decision', decision,
			'occurred_at', occurred_at,
			'fields', fields_json
		) ORDER BY occurred_at, seq
	), '[]'::jsonb) FROM audit_events WHERE trace_id=$1`
	row := d.conn.QueryRowContext(ctx, query, traceID)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListToolCalls returns the tool calls for one trace as a JSON array.
func (d *DB) ListToolCalls(ctx context.Context, traceID string) ([]byte, error) {
	query := `SELECT COALESCE(jsonb_agg(
		jsonb_build_object(
			'tool_call_id', tool_call_id,
			'plan_id', plan_id,
			'step_id', step_id,
			'tool_name', tool_name,
			'status', status,
			'http_status', http_status,
			'error', error
		) ORDER BY created_at, seq
	), '[]'::jsonb) FROM tool_calls WHERE trace_id=$1`
	row := d.conn.QueryRowContext(ctx, query, traceID)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}
