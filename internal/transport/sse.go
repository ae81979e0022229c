package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/allenheltondev/momento-a2a-agent/internal/rpchandler"
	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

const heartbeatInterval = 15 * time.Second

func (s *Server) handleSendMessageStream(ctx context.Context, w http.ResponseWriter, r *http.Request, req request, logger *zap.Logger) {
	if !s.agentCard.Capabilities.Streaming {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeStreamingNotSupported, "streaming is not supported by this agent", nil))
		return
	}
	if !clientAcceptsSSE(r) {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeInvalidRequest, "message/stream requires 'Accept: text/event-stream'", nil))
		return
	}

	var params a2a.MessageSendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeInvalidParams, "invalid params", err.Error()))
		return
	}

	stream, err := s.handler.SendMessageStream(ctx, params)
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeInternal, err.Error(), nil))
		return
	}
	s.streamSSE(w, r, stream, logger)
}

func (s *Server) handleResubscribe(ctx context.Context, w http.ResponseWriter, r *http.Request, req request, logger *zap.Logger) {
	if !s.agentCard.Capabilities.Streaming {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeStreamingNotSupported, "streaming is not supported by this agent", nil))
		return
	}
	if !clientAcceptsSSE(r) {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeInvalidRequest, "tasks/resubscribe requires 'Accept: text/event-stream'", nil))
		return
	}

	var params a2a.TaskQueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, a2a.ErrorCodeInvalidParams, "invalid params", err.Error()))
		return
	}

	stream, err := s.handler.Resubscribe(ctx, params)
	if err != nil {
		writeRPCError(w, req.ID, err, logger)
		return
	}
	s.streamSSE(w, r, stream, logger)
}

// streamSSE drains a rpchandler event stream onto the response as
// Server-Sent Events, grounded directly on the teacher's streamA2AResponse
// (server/transport/handle-a2a-sse.go): a 15-second keepalive ticker, records
// framed as "id: {epochMs}-{rand}\ndata: {json}\n\n", and early exit on
// client disconnect or the stream's own closure.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, stream <-chan rpchandler.StreamEvent, logger *zap.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming unsupported: http.Flusher missing")
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Info("client disconnected from SSE stream")
			return
		case <-ticker.C:
			fmt.Fprint(w, "event: ping\n\n")
			flusher.Flush()
		case ev, ok := <-stream:
			if !ok {
				return
			}
			if ev.Err != nil {
				writeSSEError(w, ev.Err)
				flusher.Flush()
				return
			}
			data, err := json.Marshal(ev.Event)
			if err != nil {
				logger.Error("failed to marshal SSE event", zap.Error(err))
				writeSSEError(w, err)
				flusher.Flush()
				return
			}
			fmt.Fprintf(w, "id: %s\ndata: %s\n\n", sseEventID(), data)
			flusher.Flush()
			if ev.Event.IsFinal() {
				return
			}
		}
	}
}

func writeSSEError(w http.ResponseWriter, err error) {
	rpcErr, ok := a2a.AsRPCError(err)
	if !ok {
		rpcErr = a2a.NewInternalError(err.Error())
	}
	data, _ := json.Marshal(rpcErr)
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
}

func sseEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixMilli(), rand.Int63())
}
