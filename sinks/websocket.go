package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// redialBackoff is how long deliveries fail fast after a dial error.
const redialBackoff = 30 * time.Second

// ErrFeedUnavailable is returned while the sink waits out a failed dial.
var ErrFeedUnavailable = errors.New("feed unavailable")

// WebSocketSink pushes records to a dashboard feed over a long-lived
// websocket. The connection is dialled lazily and redialled after a failure,
// at most once per redialBackoff.
type WebSocketSink struct {
	url    string
	token  string
	dialer websocket.Dialer
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	conn    *websocket.Conn
	retryAt time.Time
}

func NewWebSocketSink(url, token string, logger *zap.Logger) *WebSocketSink {
	return &WebSocketSink{
		url:    url,
		token:  token,
		dialer: websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		logger: logger.Named("ws_sink"),
		now:    time.Now,
	}
}

func (w *WebSocketSink) Name() string { return "websocket" }

func (w *WebSocketSink) connect(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	if w.token != "" {
		headers.Set("Authorization", "Bearer "+w.token)
	}
	headers.Set("Client-Name", "ticketbot")

	conn, _, err := w.dialer.DialContext(ctx, w.url, headers)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", w.url, err)
	}
	go w.readLoop(conn)
	w.logger.Info("feed connected", zap.String("url", w.url))
	return conn, nil
}

// readLoop drains control frames and drops the connection once the peer goes
// away so the next delivery redials.
func (w *WebSocketSink) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			w.mu.Lock()
			if w.conn == conn {
				w.conn = nil
			}
			w.mu.Unlock()
			_ = conn.Close()
			w.logger.Debug("feed disconnected", zap.Error(err))
			return
		}
	}
}

func (w *WebSocketSink) Deliver(ctx context.Context, r Record) error {
	payload, err := json.Marshal(struct {
		Op     string `json:"op"`
		Record Record `json:"record"`
	}{Op: "ticket_event", Record: r})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if w.conn == nil {
			if w.now().Before(w.retryAt) {
				return ErrFeedUnavailable
			}
			conn, err := w.connect(ctx)
			if err != nil {
				w.retryAt = w.now().Add(redialBackoff)
				w.logger.Warn("feed dial failed, backing off", zap.Duration("backoff", redialBackoff), zap.Error(err))
				return err
			}
			w.retryAt = time.Time{}
			w.conn = conn
		}
		_ = w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		err = w.conn.WriteMessage(websocket.TextMessage, payload)
		if err == nil {
			return nil
		}
		_ = w.conn.Close()
		w.conn = nil
	}
	return fmt.Errorf("ws write: %w", err)
}

func (w *WebSocketSink) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := w.conn.Close()
	w.conn = nil
	return err
}
