// Package cache wraps a remote cache+topics HTTP service (shaped after
// Momento's Cache and Topics APIs) behind the narrow interface the rest of
// the substrate needs: a TTL'd key/value store and a per-topic publish/
// subscribe primitive with sequence numbers.
package cache

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultTTL is used by Set when no TTL is supplied.
const DefaultTTL = 3600 * time.Second

// Format selects how Get decodes the retrieved value.
type Format int

const (
	FormatRaw Format = iota
	FormatString
	FormatJSON
)

// SetOptions configures a Set call.
type SetOptions struct {
	TTL             time.Duration
	ContentType     string
	Base64Transport bool
}

// Result is the envelope returned by calls made with ThrowOnError=false: the
// caller inspects Success/Absent/Err instead of receiving a Go error.
type Result struct {
	Success bool
	Absent  bool
	Data    []byte
	Err     error
}

// ErrNotFound is returned (or wrapped in Result.Err) when a key is absent.
var ErrNotFound = fmt.Errorf("cache: key not found")

// Item is one entry in a topicSubscribe response.
type Item struct {
	Payload             []byte
	TopicSequenceNumber int64
	Discontinuity       *ItemDiscontinuity
}

// ItemDiscontinuity signals dropped events on the topic.
type ItemDiscontinuity struct {
	NewTopicSequenceNumber int64
	NewSequencePage        int64
}

// Adapter is an HTTP client for the cache+topics service.
type Adapter struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	logger       *zap.Logger
	throwOnError bool
	maxRetries   int
	backoffBase  time.Duration
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithThrowOnError switches the Adapter from the Result-envelope mode to
// raising Go errors directly. Both modes exercise the same retry/transport
// logic; only the caller-facing surface differs.
func WithThrowOnError(throw bool) Option {
	return func(a *Adapter) { a.throwOnError = throw }
}

// WithHTTPClient overrides the underlying http.Client (tests inject one
// pointed at httptest.Server).
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// WithMaxRetries overrides the default retry budget (3).
func WithMaxRetries(n int) Option {
	return func(a *Adapter) { a.maxRetries = n }
}

// New builds an Adapter against baseURL (the cache/topics HTTP service) using
// apiKey for bearer authentication.
func New(baseURL, apiKey string, logger *zap.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger.Named("cache-adapter"),
		maxRetries:  3,
		backoffBase: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Get retrieves key. Result.Data always holds the raw response body; format
// does not change it, and callers decode the bytes themselves. When the key
// is absent it returns ErrNotFound in throwOnError mode, or a Result with
// Absent=true and a nil error in envelope mode.
func (a *Adapter) Get(ctx context.Context, key string, format Format) (Result, error) {
	req, err := a.newRequest(ctx, http.MethodGet, "/cache/"+pathEscape(key), nil)
	if err != nil {
		return a.fail(err)
	}
	resp, body, err := a.doWithRetry(req)
	if err != nil {
		return a.fail(err)
	}
	if resp.StatusCode == http.StatusNotFound {
		if a.throwOnError {
			return Result{}, ErrNotFound
		}
		return Result{Absent: true}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return a.fail(fmt.Errorf("cache: get %q: unexpected status %d: %s", key, resp.StatusCode, string(body)))
	}
	return a.ok(body)
}

// Set stores value under key. Strings are sent verbatim, []byte sent raw,
// anything else is JSON-marshaled.
func (a *Adapter) Set(ctx context.Context, key string, value interface{}, opts SetOptions) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	var payload []byte
	switch v := value.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			_, err2 := a.fail(fmt.Errorf("cache: marshal value for %q: %w", key, err))
			return err2
		}
		payload = b
	}
	if opts.Base64Transport {
		encoded := base64.StdEncoding.EncodeToString(payload)
		payload = []byte(encoded)
	}

	req, err := a.newRequest(ctx, http.MethodPut, fmt.Sprintf("/cache/%s?ttl_seconds=%d", pathEscape(key), int(ttl.Seconds())), bytes.NewReader(payload))
	if err != nil {
		_, err2 := a.fail(err)
		return err2
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	resp, body, err := a.doWithRetry(req)
	if err != nil {
		_, err2 := a.fail(err)
		return err2
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, err2 := a.fail(fmt.Errorf("cache: set %q: unexpected status %d: %s", key, resp.StatusCode, string(body)))
		return err2
	}
	return nil
}

// Delete removes key. Absence is not an error.
func (a *Adapter) Delete(ctx context.Context, key string) error {
	req, err := a.newRequest(ctx, http.MethodDelete, "/cache/"+pathEscape(key), nil)
	if err != nil {
		_, err2 := a.fail(err)
		return err2
	}
	resp, body, err := a.doWithRetry(req)
	if err != nil {
		_, err2 := a.fail(err)
		return err2
	}
	if resp.StatusCode != http.StatusNotFound && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		_, err2 := a.fail(fmt.Errorf("cache: delete %q: unexpected status %d: %s", key, resp.StatusCode, string(body)))
		return err2
	}
	return nil
}

// TopicPublish publishes payload (the JSON string of an event) to topic.
func (a *Adapter) TopicPublish(ctx context.Context, topic string, payload []byte) error {
	req, err := a.newRequest(ctx, http.MethodPost, "/topics/"+pathEscape(topic), bytes.NewReader(payload))
	if err != nil {
		_, err2 := a.fail(err)
		return err2
	}
	resp, body, err := a.doWithRetry(req)
	if err != nil {
		_, err2 := a.fail(err)
		return err2
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, err2 := a.fail(fmt.Errorf("cache: publish %q: unexpected status %d: %s", topic, resp.StatusCode, string(body)))
		return err2
	}
	return nil
}

// TopicSubscribe long-polls topic starting at sequenceNumber/sequencePage,
// returning whatever items the service has ready (possibly zero).
func (a *Adapter) TopicSubscribe(ctx context.Context, topic string, sequenceNumber, sequencePage int64) ([]Item, error) {
	path := fmt.Sprintf("/topics/%s?sequence_number=%d&sequence_page=%d", pathEscape(topic), sequenceNumber, sequencePage)
	req, err := a.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, body, err := a.doWithRetry(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cache: subscribe %q: unexpected status %d: %s", topic, resp.StatusCode, string(body))
	}

	var wire struct {
		Items []struct {
			Message             []byte `json:"message,omitempty"`
			TopicSequenceNumber *int64 `json:"topic_sequence_number,omitempty"`
			Discontinuity       *struct {
				NewTopicSequenceNumber int64 `json:"new_topic_sequence_number"`
				NewSequencePage        int64 `json:"new_sequence_page"`
			} `json:"discontinuity,omitempty"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("cache: decode subscribe response for %q: %w", topic, err)
	}

	items := make([]Item, 0, len(wire.Items))
	for _, raw := range wire.Items {
		if raw.Discontinuity != nil {
			items = append(items, Item{Discontinuity: &ItemDiscontinuity{
				NewTopicSequenceNumber: raw.Discontinuity.NewTopicSequenceNumber,
				NewSequencePage:        raw.Discontinuity.NewSequencePage,
			}})
			continue
		}
		seq := int64(0)
		if raw.TopicSequenceNumber != nil {
			seq = *raw.TopicSequenceNumber
		}
		items = append(items, Item{Payload: raw.Message, TopicSequenceNumber: seq})
	}
	return items, nil
}

// IsValidConnection performs a lookup on a sentinel key and reports whether
// the cache service considers the connection (cache) valid. A "cache not
// found" error body is treated as invalid; any other response (including a
// plain miss on the sentinel key) is treated as valid.
func (a *Adapter) IsValidConnection(ctx context.Context) bool {
	req, err := a.newRequest(ctx, http.MethodGet, "/cache/__a2a_connection_probe__", nil)
	if err != nil {
		return false
	}
	resp, body, err := a.doWithRetry(req)
	if err != nil {
		return false
	}
	if resp.StatusCode == http.StatusNotFound {
		return !bytes.Contains(body, []byte("cache not found"))
	}
	return true
}

func (a *Adapter) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("cache: build request: %w", err)
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	return req, nil
}

// doWithRetry executes req, retrying transient failures (network errors and
// 5xx responses) up to maxRetries times with exponential backoff starting at
// backoffBase and doubling each attempt. 4xx responses and non-transient
// errors return immediately.
func (a *Adapter) doWithRetry(req *http.Request) (*http.Response, []byte, error) {
	var (
		resp *http.Response
		body []byte
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.backoffBase
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	withMax := backoff.WithMaxRetries(bo, uint64(a.maxRetries))

	operation := func() error {
		clone := req.Clone(req.Context())
		if req.GetBody != nil {
			rc, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(err)
			}
			clone.Body = rc
		}

		r, err := a.httpClient.Do(clone)
		if err != nil {
			a.logger.Warn("cache request failed, will retry", zap.Error(err), zap.String("url", req.URL.String()))
			return err // transient: network error
		}
		b, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			a.logger.Warn("cache request returned 5xx, will retry", zap.Int("status", r.StatusCode), zap.String("url", req.URL.String()))
			resp, body = r, b
			return fmt.Errorf("cache: transient status %d", r.StatusCode)
		}
		resp, body = r, b
		return nil
	}

	err := backoff.Retry(operation, withMax)
	if err != nil && resp == nil {
		return nil, nil, err
	}
	return resp, body, nil
}

func (a *Adapter) ok(data []byte) (Result, error) {
	return Result{Success: true, Data: data}, nil
}

func (a *Adapter) fail(err error) (Result, error) {
	if a.throwOnError {
		return Result{}, err
	}
	return Result{Success: false, Err: err}, nil
}

func pathEscape(s string) string {
	// Keys are generated internally (uuids, task ids, context ids) and never
	// contain path separators, but escape defensively against '/'.
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			out = append(out, '%', '2', 'F')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
