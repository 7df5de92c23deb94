// Package broker talks to an NGSI v2 context broker (Orion) holding the
// traffic-signal entities.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trafficpilot/internal/logging"
)

const AttrPriorityCorridor = "priorityCorridor"

type Client struct {
	BaseURL     string
	Service     string
	ServicePath string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// StatusError carries a non-2xx broker response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("broker status %d: %s", e.Status, e.Body)
}

func (c *Client) GetEntity(ctx context.Context, entityID, traceID, token string) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v2/entities/"+encodeEntityID(entityID), nil, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.logger().Info("Fetched TrafficSignal", logging.Trace(traceID), "entity_id", entityID, "status", resp.StatusCode)
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertEntity creates or replaces an entity using the keyValues
// representation so re-runs are harmless.
func (c *Client) UpsertEntity(ctx context.Context, entity map[string]any, traceID string) error {
	if id, _ := entity["id"].(string); strings.TrimSpace(id) == "" {
		return errors.New("entity id required")
	}
	body, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/v2/entities?options=upsert,keyValues", body, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.logger().Info("Upsert TrafficSignal", logging.Trace(traceID), "status", resp.StatusCode)
	return checkStatus(resp)
}

// UpdateAttribute sets one attribute value. Orion answers 204 with an empty
// body; that is reported as {"result":"updated"}.
func (c *Client) UpdateAttribute(ctx context.Context, entityID, attr string, value any, traceID, token string) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return nil, err
	}
	path := "/v2/entities/" + encodeEntityID(entityID) + "/attrs/" + url.PathEscape(attr)
	resp, err := c.do(ctx, http.MethodPut, path, body, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.logger().Info("Updated "+attr, logging.Trace(traceID), "status", resp.StatusCode, "value", value)
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{"result": "updated"}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, token string) (*http.Response, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return nil, errors.New("broker base url required")
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return nil, err
	}
	if c.Service != "" {
		req.Header.Set("Fiware-Service", c.Service)
	}
	if c.ServicePath != "" {
		req.Header.Set("Fiware-ServicePath", c.ServicePath)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient().Do(req)
}

var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return defaultHTTPClient
	}
	return c.HTTPClient
}

func (c *Client) logger() *slog.Logger {
	return logging.OrDefault(c.Logger)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
}

// encodeEntityID escapes reserved characters (the colon in particular) so
// the id survives as a single path segment.
func encodeEntityID(id string) string {
	return strings.ReplaceAll(url.PathEscape(id), ":", "%3A")
}
