package tools

import "encoding/json"

// Envelope is the request body the actuation endpoint accepts.
type Envelope struct {
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	TraceID string         `json:"traceId"`
	Token   string         `json:"token,omitempty"`
}

// Response is what came back from one actuation call. Status and Body are
// populated whenever a response was received, even if Call returns an error.
type Response struct {
	Status int
	Body   []byte
	Result json.RawMessage
}

type resultBody struct {
	Result json.RawMessage `json:"result"`
}
