package wsclient

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Transport carries raw frames to and from the node.
type Transport interface {
	Connect(ctx context.Context) error
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

type WebSocketTransport struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	url          string
	dialer       *websocket.Dialer
	headers      http.Header
	connected    bool
	readTimeout  time.Duration
	writeTimeout time.Duration
	compression  bool
	log          zerolog.Logger
}

type WebSocketOption func(*WebSocketTransport)

func WithHeaders(headers http.Header) WebSocketOption {
	return func(t *WebSocketTransport) {
		for k, v := range headers {
			t.headers[k] = v
		}
	}
}

// WithReadTimeout bounds how long the connection may stay silent. Zero, the
// default, waits forever, which suits idle subscriptions.
func WithReadTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.readTimeout = timeout
	}
}

func WithWriteTimeout(timeout time.Duration) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.writeTimeout = timeout
	}
}

func WithCompression(enabled bool) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.compression = enabled
	}
}

func withTransportLogger(logger zerolog.Logger) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.log = logger
	}
}

func NewWebSocketTransport(url string, opts ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		url:          url,
		dialer:       websocket.DefaultDialer,
		headers:      make(http.Header),
		writeTimeout: 10 * time.Second,
		log:          zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	t.log.Debug().Str("url", t.url).Msg("dialing")

	dialer := *t.dialer
	dialer.HandshakeTimeout = 10 * time.Second
	dialer.EnableCompression = t.compression

	// The upgrade handshake reads from a raw socket, so cancelling ctx
	// closes that socket to unblock it.
	var (
		rawMu sync.Mutex
		raw   net.Conn
	)
	netDial := dialer.NetDialContext
	if netDial == nil {
		netDial = (&net.Dialer{}).DialContext
	}
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := netDial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		rawMu.Lock()
		raw = c
		rawMu.Unlock()
		if err := ctx.Err(); err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	}
	stop := context.AfterFunc(ctx, func() {
		rawMu.Lock()
		defer rawMu.Unlock()
		if raw != nil {
			_ = raw.Close()
		}
	})

	conn, _, err := dialer.DialContext(ctx, t.url, t.headers)
	if !stop() {
		if err == nil {
			_ = conn.Close()
		}
		err = ctx.Err()
	}
	if err != nil {
		t.log.Debug().Err(err).Str("url", t.url).Msg("dial failed")
		return err
	}

	t.log.Debug().Str("url", t.url).Msg("connected")
	t.conn = conn
	t.connected = true

	return nil
}

func (t *WebSocketTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return ErrNotConnected
	}

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}

	t.log.Trace().Bytes("data", data).Msg("send")
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive blocks until the next frame arrives. Only one goroutine may call
// it at a time.
func (t *WebSocketTransport) Receive() ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	if !t.connected || conn == nil {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}

	if t.readTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(t.readTimeout)); err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}
	t.mu.Unlock()

	_, message, err := conn.ReadMessage()
	if err != nil {
		t.markClosed(conn)
		return nil, err
	}

	t.log.Trace().Bytes("data", message).Msg("receive")
	return message, nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return nil
	}

	if err := t.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	); err != nil {
		t.log.Debug().Err(err).Msg("close frame not sent")
	}

	err := t.conn.Close()
	t.connected = false
	t.conn = nil

	return err
}

// markClosed forgets conn after a read failure so the next Connect dials
// again.
func (t *WebSocketTransport) markClosed(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != conn {
		return
	}
	_ = conn.Close()
	t.conn = nil
	t.connected = false
}
