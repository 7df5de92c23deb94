package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestClientCall(t *testing.T) {
	var got Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"result":{"status":"notified"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	resp, err := client.Call(context.Background(), Envelope{
		Method:  MethodNotifyAgents,
		Params:  map[string]any{"message": "hi"},
		TraceID: "trace-1",
		Token:   "user-token",
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if resp.Status != http.StatusOK || string(resp.Result) != `{"status":"notified"}` {
		t.Fatalf("resp: %#v", resp)
	}
	if got.Method != MethodNotifyAgents || got.TraceID != "trace-1" || got.Token != "user-token" {
		t.Fatalf("envelope: %#v", got)
	}
}

func TestClientCallWireKeys(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&raw)
		_, _ = w.Write([]byte(`{"result":1}`))
	}))
	defer srv.Close()

	client := &Client{URL: srv.URL}
	if _, err := client.Call(context.Background(), Envelope{Method: "m", TraceID: "t", Token: "x"}); err != nil {
		t.Fatalf("err: %v", err)
	}
	for _, key := range []string{"method", "params", "traceId", "token"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("missing key %s in %v", key, raw)
		}
	}
}

func TestClientCallNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Invalid token"}`))
	}))
	defer srv.Close()

	client := &Client{URL: srv.URL}
	resp, err := client.Call(context.Background(), Envelope{Method: MethodNotifyAgents})
	if err == nil {
		t.Fatalf("expected error")
	}
	if resp.Status != http.StatusUnauthorized || string(resp.Body) != `{"detail":"Invalid token"}` {
		t.Fatalf("resp: %#v", resp)
	}
}

func TestClientCallMalformed(t *testing.T) {
	for _, body := range []string{`not json`, `{"other":1}`} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		client := &Client{URL: srv.URL}
		_, err := client.Call(context.Background(), Envelope{Method: MethodNotifyAgents})
		srv.Close()
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("body %q: err %v", body, err)
		}
	}
}

func TestClientCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"result":1}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 20*time.Millisecond)
	if _, err := client.Call(context.Background(), Envelope{Method: MethodNotifyAgents}); err == nil {
		t.Fatalf("expected timeout")
	}
}

func TestClientMissingURL(t *testing.T) {
	client := &Client{}
	if _, err := client.Call(context.Background(), Envelope{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestClientSharedWithoutHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"status":"notified"}}`))
	}))
	defer srv.Close()

	client := &Client{URL: srv.URL}
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Call(context.Background(), Envelope{Method: MethodNotifyAgents, TraceID: "t"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("err: %v", err)
		}
	}
	if client.HTTPClient != nil {
		t.Fatalf("Call must not assign HTTPClient")
	}
}
