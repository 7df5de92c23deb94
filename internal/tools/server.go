package tools

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"trafficpilot/internal/broker"
	"trafficpilot/internal/logging"
	"trafficpilot/internal/metrics"
)

// EntityStore is the slice of the context broker the actuation server needs.
type EntityStore interface {
	GetEntity(ctx context.Context, entityID, traceID, token string) (map[string]any, error)
	UpdateAttribute(ctx context.Context, entityID, attr string, value any, traceID, token string) (map[string]any, error)
}

// Server is the actuation endpoint. It authenticates each envelope and
// dispatches it to the context broker.
type Server struct {
	Token    string
	Store    EntityStore
	Redactor *Redactor
	Logger   *slog.Logger
}

type errorBody struct {
	Detail string `json:"detail"`
}

var errBadGateway = errors.New("context broker request failed")

func NewServer(token string, store EntityStore, logger *slog.Logger) *Server {
	return &Server{
		Token:    token,
		Store:    store,
		Redactor: NewRedactor(DefaultRedactPatterns()),
		Logger:   logger,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/", "/mcp":
		s.handleCall(w, r)
	case "/tools":
		s.handleListTools(w, r)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var env Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxResponseBytes)).Decode(&env); err != nil {
		s.served("invalid", http.StatusBadRequest)
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	token := env.Token
	if token == "" {
		token = bearerToken(r)
	}
	log := s.logger().With(logging.Trace(env.TraceID))
	log.Info("Received MCP call", "method", env.Method)

	if !s.authorized(token) {
		log.Warn("Rejected MCP call", "reason", "invalid token")
		s.served(env.Method, http.StatusUnauthorized)
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	if err := ValidateParams(env.Method, env.Params); err != nil {
		status := http.StatusBadRequest
		detail := err.Error()
		if errors.Is(err, ErrUnknownTool) {
			detail = "Unknown method"
		}
		log.Warn("Rejected MCP call", "reason", err.Error())
		s.served(env.Method, status)
		writeError(w, status, detail)
		return
	}

	result, err := s.dispatch(r.Context(), env, token)
	if err != nil {
		log.Error("MCP call failed", "method", env.Method, "err", err)
		s.served(env.Method, http.StatusBadGateway)
		writeError(w, http.StatusBadGateway, errBadGateway.Error()+": "+s.Redactor.RedactString(err.Error()))
		return
	}
	s.served(env.Method, http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func (s *Server) dispatch(ctx context.Context, env Envelope, token string) (any, error) {
	switch env.Method {
	case MethodGetSignalState:
		return s.store().GetEntity(ctx, paramString(env.Params, "entity_id"), env.TraceID, token)
	case MethodSetPriority:
		return s.store().UpdateAttribute(ctx, paramString(env.Params, "entity_id"), broker.AttrPriorityCorridor,
			paramString(env.Params, "value"), env.TraceID, token)
	case MethodNotifyAgents:
		s.logger().Info("Notify traffic agents", logging.Trace(env.TraceID), "message", paramString(env.Params, "message"))
		return map[string]string{"status": "notified"}, nil
	default:
		return nil, ErrUnknownTool
	}
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorized(bearerToken(r)) {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"tools": Registry})
}

func (s *Server) authorized(token string) bool {
	if s.Token == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) == 1
}

func (s *Server) store() EntityStore {
	if s.Store == nil {
		return unavailableStore{}
	}
	return s.Store
}

func (s *Server) served(method string, status int) {
	if _, err := Lookup(method); err != nil {
		method = "unknown"
	}
	metrics.ToolCallsServedTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (s *Server) logger() *slog.Logger {
	return logging.OrDefault(s.Logger)
}

type unavailableStore struct{}

func (unavailableStore) GetEntity(context.Context, string, string, string) (map[string]any, error) {
	return nil, errors.New("context broker not configured")
}

func (unavailableStore) UpdateAttribute(context.Context, string, string, any, string, string) (map[string]any, error) {
	return nil, errors.New("context broker not configured")
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func paramString(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Detail: detail})
}
