package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

var ErrMalformedResponse = errors.New("malformed actuation response")

// defaultHTTPClient serves a Client built without one.
var defaultHTTPClient = &http.Client{Timeout: 10 * time.Second}

// Client posts envelopes to the actuation endpoint.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{URL: url, HTTPClient: &http.Client{Timeout: timeout}}
}

func (c *Client) Call(ctx context.Context, env Envelope) (Response, error) {
	if strings.TrimSpace(c.URL) == "" {
		return Response{}, errors.New("actuation url required")
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = defaultHTTPClient
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	out := Response{Status: resp.StatusCode, Body: data}
	if err != nil {
		return out, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return out, fmt.Errorf("actuation status %d", resp.StatusCode)
	}
	var decoded resultBody
	if err := json.Unmarshal(data, &decoded); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(decoded.Result) == 0 {
		return out, fmt.Errorf("%w: missing result", ErrMalformedResponse)
	}
	out.Result = decoded.Result
	return out, nil
}
