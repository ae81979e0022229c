package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

// StreamEvent is one record yielded by StreamMessage/Resubscribe: exactly
// one of Event or Err is set, and an Err ends the stream.
type StreamEvent struct {
	Event a2a.Event
	Err   error
}

// StreamMessage calls `message/stream` and returns a channel of the SSE
// records the agent emits for the task, closed once a final event arrives,
// the stream errors, or ctx is canceled.
//
// Unlike the teacher's mcpClient.Session (which subscribes to a standing GET
// SSE endpoint independent of any single request), A2A streams the response
// of the very request that started the task: the method's result IS the SSE
// body, so there is no separate subscribe step.
func (c *Client) StreamMessage(ctx context.Context, params a2a.MessageSendParams) (<-chan StreamEvent, error) {
	return c.openStream(ctx, "message/stream", params)
}

// Resubscribe calls `tasks/resubscribe` to reattach to an in-flight task's
// event stream.
func (c *Client) Resubscribe(ctx context.Context, params a2a.TaskQueryParams) (<-chan StreamEvent, error) {
	return c.openStream(ctx, "tasks/resubscribe", params)
}

func (c *Client) openStream(ctx context.Context, method string, params interface{}) (<-chan StreamEvent, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: nextID()})
	if err != nil {
		return nil, fmt.Errorf("a2a client: failed to marshal request: %w", err)
	}

	resp, err := c.dialStream(ctx, body)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go c.readStream(ctx, resp.Body, out)
	return out, nil
}

// dialStream opens the SSE response for body, retrying transient failures
// with the same exponential-backoff shape the teacher configures for its
// own SSE reconnects (unbounded elapsed time, bounded by the caller's ctx).
func (c *Client) dialStream(ctx context.Context, body []byte) (*http.Response, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 0

	var resp *http.Response
	operation := func() error {
		req, err := c.newRequest(ctx, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")

		r, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			respBody, _ := io.ReadAll(io.LimitReader(r.Body, 500))
			r.Body.Close()
			return fmt.Errorf("a2a client: stream request returned status %d: %s", r.StatusCode, respBody)
		}

		// A capability-gated request (streaming/push notifications not
		// supported) fails synchronously with a JSON-RPC error body over
		// HTTP 200, never reaching the SSE framing. Surface that error
		// directly instead of trying to parse JSON as an event stream.
		if !strings.Contains(r.Header.Get("Content-Type"), "text/event-stream") {
			defer r.Body.Close()
			var rpcResp rpcResponse
			if err := json.NewDecoder(r.Body).Decode(&rpcResp); err != nil {
				return backoff.Permanent(fmt.Errorf("a2a client: failed to decode non-streaming response: %w", err))
			}
			if rpcResp.Error != nil {
				return backoff.Permanent(rpcResp.Error)
			}
			return backoff.Permanent(fmt.Errorf("a2a client: expected an event stream, got %q", r.Header.Get("Content-Type")))
		}

		resp = r
		return nil
	}

	notify := func(err error, delay time.Duration) {
		c.logger.Warn("SSE stream dial failed, retrying", zap.Error(err), zap.Duration("delay", delay))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(expBackoff, ctx), notify); err != nil {
		return nil, err
	}
	return resp, nil
}

// readStream parses the SSE record framing this module's transport emits
// (blank-line-delimited "id:"/"event:"/"data:" fields) and forwards each
// data record as a decoded a2a.Event, the dual of transport.streamSSE.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, out chan<- StreamEvent) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var dataLines []string

	flush := func() bool {
		if len(dataLines) == 0 {
			eventName = ""
			return true
		}
		data := strings.Join(dataLines, "\n")
		name := eventName
		eventName, dataLines = "", nil

		switch name {
		case "", "message":
			var ev a2a.Event
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				c.logger.Error("failed to decode SSE event", zap.Error(err))
				return true
			}
			select {
			case out <- StreamEvent{Event: ev}:
			case <-ctx.Done():
				return false
			}
			return !ev.IsFinal()
		case "error":
			var rpcErr a2a.RPCError
			if err := json.Unmarshal([]byte(data), &rpcErr); err != nil {
				rpcErr = a2a.RPCError{Code: a2a.ErrorCodeInternal, Message: data}
			}
			select {
			case out <- StreamEvent{Err: &rpcErr}:
			case <-ctx.Done():
			}
			return false
		case "ping":
			return true
		default:
			return true
		}
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return
			}
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, "id:"):
			// sequence id, not needed for replay in this client
		default:
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		select {
		case out <- StreamEvent{Err: fmt.Errorf("a2a client: stream read failed: %w", err)}:
		case <-ctx.Done():
		}
	}
}
