// Package client is a small A2A JSON-RPC + SSE consumer, used to drive a
// running agent the way a real caller would (notably by the end-to-end
// tests). It generalizes the teacher's mcpClient.Session POST-request
// pattern (request.go's executeSendRequest: marshal, POST, 30s timeout,
// status-code check) from a notification-style transport to one that
// returns a JSON-RPC result synchronously.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/allenheltondev/momento-a2a-agent/pkg/a2a"
)

const requestTimeout = 30 * time.Second

// Client calls an agent's JSON-RPC endpoint over HTTP and consumes its SSE
// streams.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client, e.g. to point at an
// httptest.Server's Client() in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the client's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New builds a Client targeting baseURL (the agent's root, not including
// the `/a2a` path).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var lastID int64

func nextID() json.RawMessage {
	id := atomic.AddInt64(&lastID, 1)
	return json.RawMessage(strconv.FormatInt(id, 10))
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  interface{}     `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *a2a.RPCError   `json:"error,omitempty"`
}

// call posts a JSON-RPC request and decodes a synchronous JSON result into
// out (which may be nil to discard the result).
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: nextID()})
	if err != nil {
		return fmt.Errorf("a2a client: failed to marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("a2a client: request to %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return fmt.Errorf("a2a client: %s returned status %d: %s", method, resp.StatusCode, respBody)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("a2a client: failed to decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("a2a client: failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/a2a", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("a2a client: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// sendResult carries message/send's terminal-Message-or-Task outcome: A2A
// response objects have no shared discriminator on the wire, so a Message
// result is distinguished from a Task result by the "role" field only
// Message carries.
type sendResult struct {
	Task    *a2a.Task
	Message *a2a.Message
}

func (r *sendResult) UnmarshalJSON(data []byte) error {
	var probe struct {
		Role json.RawMessage `json:"role"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Role != nil {
		var m a2a.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		r.Message = &m
		return nil
	}
	var t a2a.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	r.Task = &t
	return nil
}

// SendMessage calls `message/send` and blocks until the task reaches a
// terminal state (or the agent returns a standalone terminal Message).
func (c *Client) SendMessage(ctx context.Context, params a2a.MessageSendParams) (*a2a.Task, *a2a.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var result sendResult
	if err := c.call(ctx, "message/send", params, &result); err != nil {
		return nil, nil, err
	}
	return result.Task, result.Message, nil
}

// GetTask calls `tasks/get`.
func (c *Client) GetTask(ctx context.Context, params a2a.TaskQueryParams) (*a2a.Task, error) {
	var task a2a.Task
	if err := c.call(ctx, "tasks/get", params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask calls `tasks/cancel`.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	var task a2a.Task
	if err := c.call(ctx, "tasks/cancel", a2a.TaskIDParams{ID: taskID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SetTaskPushNotificationConfig calls `tasks/pushNotificationConfig/set`.
func (c *Client) SetTaskPushNotificationConfig(ctx context.Context, params a2a.SetTaskPushNotificationConfigParams) (*a2a.TaskPushNotificationConfig, error) {
	var config a2a.TaskPushNotificationConfig
	if err := c.call(ctx, "tasks/pushNotificationConfig/set", params, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// GetTaskPushNotificationConfig calls `tasks/pushNotificationConfig/get`.
func (c *Client) GetTaskPushNotificationConfig(ctx context.Context, taskID string) (*a2a.TaskPushNotificationConfig, error) {
	var config a2a.TaskPushNotificationConfig
	if err := c.call(ctx, "tasks/pushNotificationConfig/get", a2a.TaskIDParams{ID: taskID}, &config); err != nil {
		return nil, err
	}
	return &config, nil
}
