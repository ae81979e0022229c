// Package transport exposes a rpchandler.Handler as an HTTP/JSON-RPC 2.0 +
// SSE surface, generalizing the teacher's server/transport package
// (transport.go, handle-a2a-POST.go, handle-a2a-sse.go) from a
// multi-protocol MCP+A2A gateway down to the single A2A surface this
// substrate implements.
package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/allenheltondev/momento-a2a-agent/internal/rpchandler"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

const (
	a2aPath       = "/a2a"
	wellKnownPath = "/.well-known/agent.json"
)

// Server adapts a rpchandler.Handler to net/http.
type Server struct {
	handler   *rpchandler.Handler
	agentCard a2a.AgentCard
	logger    *zap.Logger
	throttle  *throttle
}

// Option configures optional Server behavior.
type Option func(*Server)

// WithThrottle caps each client address to rps requests/second and rpm
// requests/minute on the JSON-RPC endpoint. A zero value disables that
// particular limit. Unset (the default), no throttling is applied.
func WithThrottle(rps, rpm int) Option {
	return func(s *Server) { s.throttle = newThrottle(rps, rpm) }
}

// New builds a Server over its handler and the agent card it advertises at
// the well-known discovery path.
func New(handler *rpchandler.Handler, agentCard a2a.AgentCard, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{handler: handler, agentCard: agentCard, logger: logger.Named("transport")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mux builds the http.Handler serving the A2A JSON-RPC endpoint and the
// agent card discovery document.
func (s *Server) Mux() http.Handler {
	a2aHandler := s.handleA2A
	if s.throttle != nil {
		a2aHandler = s.throttle.middleware(a2aHandler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(a2aPath, a2aHandler)
	mux.HandleFunc(wellKnownPath, s.handleAgentCard)
	return mux
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.agentCard); err != nil {
		s.logger.Error("failed to encode agent card", zap.Error(err))
	}
}

func (s *Server) handleA2A(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

	switch r.Method {
	case http.MethodPost:
		s.handleRPC(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(zap.String("remoteAddr", r.RemoteAddr))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse(nil, a2a.ErrorCodeInvalidRequest, "failed to read request body", nil))
		return
	}
	defer r.Body.Close()

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(nil, a2a.ErrorCodeInvalidRequest, "invalid JSON-RPC request", err.Error()))
		return
	}
	if req.Method == "" {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeInvalidRequest, "method is required", nil))
		return
	}

	logger = logger.With(zap.String("method", req.Method))
	ctx := r.Context()

	switch req.Method {
	case "message/send":
		s.handleSendMessage(ctx, w, req, logger)
	case "message/stream":
		s.handleSendMessageStream(ctx, w, r, req, logger)
	case "tasks/get":
		s.handleGetTask(ctx, w, req, logger)
	case "tasks/cancel":
		s.handleCancelTask(ctx, w, req, logger)
	case "tasks/pushNotificationConfig/set":
		s.handleSetPushConfig(ctx, w, req, logger)
	case "tasks/pushNotificationConfig/get":
		s.handleGetPushConfig(ctx, w, req, logger)
	case "tasks/resubscribe":
		s.handleResubscribe(ctx, w, r, req, logger)
	default:
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil))
	}
}

func (s *Server) handleSendMessage(ctx context.Context, w http.ResponseWriter, req request, logger *zap.Logger) {
	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeInvalidParams, "invalid params", err.Error()))
		return
	}

	task, msg, err := s.handler.SendMessage(ctx, params)
	if err != nil {
		writeRPCError(w, req.ID, err, logger)
		return
	}
	if msg != nil {
		writeJSON(w, http.StatusOK, successResponse(req.ID, msg))
		return
	}
	writeJSON(w, http.StatusOK, successResponse(req.ID, task))
}

func (s *Server) handleGetTask(ctx context.Context, w http.ResponseWriter, req request, logger *zap.Logger) {
	var params a2a.TaskQueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeInvalidParams, "invalid params", err.Error()))
		return
	}
	task, err := s.handler.GetTask(ctx, params)
	if err != nil {
		writeRPCError(w, req.ID, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(req.ID, task))
}

func (s *Server) handleCancelTask(ctx context.Context, w http.ResponseWriter, req request, logger *zap.Logger) {
	var params a2a.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeInvalidParams, "invalid params", err.Error()))
		return
	}
	task, err := s.handler.CancelTask(ctx, params)
	if err != nil {
		writeRPCError(w, req.ID, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(req.ID, task))
}

func (s *Server) handleSetPushConfig(ctx context.Context, w http.ResponseWriter, req request, logger *zap.Logger) {
	var params a2a.SetTaskPushNotificationConfigParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeInvalidParams, "invalid params", err.Error()))
		return
	}
	config, err := s.handler.SetTaskPushNotificationConfig(ctx, params)
	if err != nil {
		writeRPCError(w, req.ID, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(req.ID, config))
}

func (s *Server) handleGetPushConfig(ctx context.Context, w http.ResponseWriter, req request, logger *zap.Logger) {
	var params a2a.TaskIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeInvalidParams, "invalid params", err.Error()))
		return
	}
	config, err := s.handler.GetTaskPushNotificationConfig(ctx, params)
	if err != nil {
		writeRPCError(w, req.ID, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, successResponse(req.ID, config))
}

func clientAcceptsSSE(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream")
}

func writeJSON(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, err error, logger *zap.Logger) {
	rpcErr, ok := a2a.AsRPCError(err)
	if !ok {
		rpcErr = a2a.NewInternalError(err.Error())
	}
	logger.Warn("request failed", zap.Int("code", rpcErr.Code), zap.String("message", rpcErr.Message))
	writeJSON(w, http.StatusOK, errorResponse(id, rpcErr.Code, rpcErr.Message, rpcErr.Data))
}
