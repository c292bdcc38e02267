// ABOUTME: Document store client for the HTTP gateway
// ABOUTME: REST calls for records and a websocket stream for watches

package docstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
)

// Gateway routes
const (
	RecordsPath = "/v1/records/"
	WatchPath   = "/v1/watch"
)

// WatchEvent is the websocket frame carrying one snapshot
type WatchEvent struct {
	Key    string `json:"key"`
	Value  []byte `json:"value,omitempty"`
	Exists bool   `json:"exists"`
}

// Snapshot converts the frame back to a snapshot
func (e WatchEvent) Snapshot() Snapshot {
	return Snapshot{Key: e.Key, Value: e.Value, Exists: e.Exists}
}

// NewWatchEvent builds the frame for s
func NewWatchEvent(s Snapshot) WatchEvent {
	return WatchEvent{Key: s.Key, Value: s.Value, Exists: s.Exists}
}

// HTTPStore talks to the gateway over REST and websockets
type HTTPStore struct {
	baseURL string
	client  *resty.Client
	dialer  *websocket.Dialer
}

// NewHTTPStore creates a client for the gateway at baseURL (e.g. http://localhost:8091)
func NewHTTPStore(baseURL string) *HTTPStore {
	baseURL = strings.TrimRight(baseURL, "/")

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || code == http.StatusBadGateway || code == http.StatusGatewayTimeout
		})

	return &HTTPStore{
		baseURL: baseURL,
		client:  client,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// recordPath escapes each key segment so keys keep their slashes
func recordPath(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return RecordsPath + strings.Join(segments, "/")
}

// Get returns the record at key
func (h *HTTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		Get(recordPath(key))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	if err := statusError(resp); err != nil {
		return nil, err
	}
	body := resp.Body()
	if body == nil {
		body = []byte{}
	}
	return body, nil
}

// Put replaces the record at key
func (h *HTTPStore) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(value).
		Put(recordPath(key))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return statusError(resp)
}

// Merge sends patch as a PATCH; the gateway applies it atomically
func (h *HTTPStore) Merge(ctx context.Context, key string, patch []byte) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/merge-patch+json").
		SetBody(patch).
		Patch(recordPath(key))
	if err != nil {
		return fmt.Errorf("merge %s: %w", key, err)
	}
	return statusError(resp)
}

// Delete removes the record at key
func (h *HTTPStore) Delete(ctx context.Context, key string) error {
	resp, err := h.client.R().
		SetContext(ctx).
		Delete(recordPath(key))
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return statusError(resp)
}

// Watch opens a websocket for key
func (h *HTTPStore) Watch(ctx context.Context, key string) (<-chan Snapshot, error) {
	wsURL, err := h.watchURL(key)
	if err != nil {
		return nil, err
	}

	conn, resp, err := h.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusServiceUnavailable {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("watch %s: %w", key, err)
	}

	var first WatchEvent
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("watch %s: %w", key, err)
	}

	out := make(chan Snapshot, watchBuffer)
	out <- first.Snapshot()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		defer conn.Close()
		for {
			var ev WatchEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case out <- ev.Snapshot():
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (h *HTTPStore) watchURL(key string) (string, error) {
	u, err := url.Parse(h.baseURL + WatchPath)
	if err != nil {
		return "", fmt.Errorf("watch url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"key": {key}}.Encode()
	return u.String(), nil
}

// Close is a no-op; connections are per request or per watch
func (h *HTTPStore) Close() error {
	return nil
}

func statusError(resp *resty.Response) error {
	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusServiceUnavailable:
		return ErrClosed
	case code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w", strings.TrimSpace(resp.String()), ErrNotObject)
	case code >= 400:
		return fmt.Errorf("docstore http: %s: %s", resp.Status(), strings.TrimSpace(resp.String()))
	default:
		return nil
	}
}
