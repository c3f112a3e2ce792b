// Package wsclient is a raw-string JSON-RPC client for nodes reachable over
// WebSocket. It exposes the one-shot and push-subscription capability the
// provider adapter consumes, and reports its connectivity.
package wsclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kleeedolinux/rpcprovider/debug"
	"github.com/kleeedolinux/rpcprovider/jsonrpc"
	"github.com/kleeedolinux/rpcprovider/provider"
)

var (
	ErrNotConnected     = errors.New("wsclient: not connected")
	ErrConnectionClosed = errors.New("wsclient: connection closed")
	ErrClientClosed     = errors.New("wsclient: client closed")
	ErrDuplicateID      = errors.New("wsclient: request id already in flight")
	ErrInvalidMessage   = errors.New("wsclient: invalid message from node")
	ErrConnecting       = errors.New("wsclient: connect already in progress")
)

type Client struct {
	mu         sync.RWMutex
	url        string
	conn       Transport
	connected  bool
	connecting bool
	closed     bool

	pending       map[string]*pendingCall
	subscriptions []*subscription
	byServerID    map[string]*subscription
	connectivity  []func(provider.ConnectivityEvent)
	coder         *jsonrpc.Coder
	internalID    atomic.Int64

	wsOpts            []WebSocketOption
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
	reconnectAttempts int

	log        zerolog.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
}

var (
	_ provider.RPCClient            = (*Client)(nil)
	_ provider.ConnectivityNotifier = (*Client)(nil)
)

type Option func(*Client)

// WithTransport replaces the WebSocket transport. Transport options are
// ignored when it is set.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.conn = t
	}
}

func WithTransportOptions(opts ...WebSocketOption) Option {
	return func(c *Client) {
		c.wsOpts = append(c.wsOpts, opts...)
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		c.reconnectDelay = d
	}
}

func WithMaxReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		c.maxReconnectDelay = d
	}
}

// WithReconnectAttempts sets how often a lost connection is redialed. Zero
// disables reconnection and a negative value retries forever.
func WithReconnectAttempts(attempts int) Option {
	return func(c *Client) {
		c.reconnectAttempts = attempts
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.log = logger.With().Str("component", "wsclient").Logger()
	}
}

func New(url string, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	client := &Client{
		url:               url,
		pending:           make(map[string]*pendingCall),
		byServerID:        make(map[string]*subscription),
		coder:             jsonrpc.NewCoder(),
		reconnectDelay:    1 * time.Second,
		maxReconnectDelay: 30 * time.Second,
		log:               debug.Component("wsclient"),
		ctx:               ctx,
		cancelFunc:        cancel,
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.conn == nil {
		wsOpts := append([]WebSocketOption{withTransportLogger(client.log)}, client.wsOpts...)
		client.conn = NewWebSocketTransport(url, wsOpts...)
	}

	return client
}

// Connect dials the node and starts reading. Subscriptions made on an
// earlier connection are re-established. The dial runs without holding the
// client lock, and Close aborts it.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return ErrConnecting
	}
	c.connecting = true
	c.mu.Unlock()

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	err := c.conn.Connect(dialCtx)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return ErrClientClosed
		}
		return err
	}
	if c.closed {
		c.mu.Unlock()
		_ = c.conn.Close()
		return ErrClientClosed
	}

	c.connected = true
	resubscribe := len(c.subscriptions) > 0
	c.mu.Unlock()

	go c.receiveLoop()

	c.notify(provider.ConnectivityEvent{State: provider.StateConnected})

	if resubscribe {
		go c.resubscribe()
	}

	return nil
}

// OnConnectivity registers fn for every connectivity change.
func (c *Client) OnConnectivity(fn func(provider.ConnectivityEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connectivity = append(c.connectivity, fn)
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}

// Close stops reconnection, closes the connection and fails every call
// still waiting for a response.
func (c *Client) Close() error {
	c.cancelFunc()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	err := c.conn.Close()
	c.failPending()

	if wasConnected {
		c.notify(provider.ConnectivityEvent{State: provider.StateDisconnected})
	}

	return err
}

func (c *Client) receiveLoop() {
	for {
		data, err := c.conn.Receive()
		if err != nil {
			c.handleDisconnect(err)
			return
		}

		msg, err := jsonrpc.ParseMessage(data)
		if err != nil {
			c.log.Debug().Err(err).Msg("dropping unparsable frame")
			c.notify(provider.ConnectivityEvent{State: c.state(), Err: ErrInvalidMessage})
			continue
		}

		switch {
		case msg.IsResponse():
			c.dispatchResponse(msg, data)
		case msg.IsNotification():
			c.dispatchNotification(msg)
		default:
			c.log.Debug().Bytes("data", data).Msg("ignoring frame")
		}
	}
}

func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}

	c.connected = false
	c.mu.Unlock()

	c.log.Debug().Err(err).Msg("connection lost")
	c.failPending()
	c.notify(provider.ConnectivityEvent{State: provider.StateDisconnected, Err: err})

	if c.reconnectAttempts != 0 {
		go c.reconnect()
	}
}

func (c *Client) reconnect() {
	delay := c.reconnectDelay
	attempts := 0

	for c.reconnectAttempts < 0 || attempts < c.reconnectAttempts {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
			c.notify(provider.ConnectivityEvent{State: provider.StateReconnecting})

			err := c.Connect(c.ctx)
			if err == nil {
				return
			}
			if errors.Is(err, ErrClientClosed) {
				return
			}

			attempts++
			c.log.Debug().Err(err).Int("attempt", attempts).Msg("reconnect failed")

			delay *= 2
			if delay > c.maxReconnectDelay {
				delay = c.maxReconnectDelay
			}
		}
	}

	c.notify(provider.ConnectivityEvent{State: provider.StateDisconnected})
}

func (c *Client) state() provider.State {
	if c.IsConnected() {
		return provider.StateConnected
	}
	return provider.StateDisconnected
}

func (c *Client) notify(ev provider.ConnectivityEvent) {
	c.mu.RLock()
	listeners := append(([]func(provider.ConnectivityEvent))(nil), c.connectivity...)
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
