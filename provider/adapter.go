package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kleeedolinux/rpcprovider/debug"
	"github.com/kleeedolinux/rpcprovider/jsonrpc"
)

// Adapter implements Provider on top of an RPCClient.
type Adapter struct {
	mu        sync.RWMutex
	signalMu  sync.Mutex // orders state transitions with their events
	client    RPCClient
	coder     *jsonrpc.Coder
	state     State
	listeners map[Event][]Listener
	log       zerolog.Logger
}

var _ Provider = (*Adapter)(nil)

type Option func(*Adapter)

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Adapter) {
		a.log = logger.With().Str("component", "provider").Logger()
	}
}

// WithCoder shares an id sequence with other users of the same coder.
func WithCoder(coder *jsonrpc.Coder) Option {
	return func(a *Adapter) {
		if coder != nil {
			a.coder = coder
		}
	}
}

// New wraps client. The client is trusted to be usable already, so the
// adapter starts Connected. If client implements ConnectivityNotifier the
// adapter follows its signals from then on.
func New(client RPCClient, opts ...Option) *Adapter {
	a := &Adapter{
		client:    client,
		coder:     jsonrpc.NewCoder(),
		state:     StateConnected,
		listeners: make(map[Event][]Listener),
		log:       debug.Component("provider"),
	}

	for _, opt := range opts {
		opt(a)
	}

	if notifier, ok := client.(ConnectivityNotifier); ok {
		notifier.OnConnectivity(a.handleConnectivity)
	}

	return a
}

// HasSubscriptions is always true, whether or not the client can serve a
// particular subscription method.
func (a *Adapter) HasSubscriptions() bool {
	return true
}

// Clone is unimplemented and always fails.
func (a *Adapter) Clone() (Provider, error) {
	return nil, fmt.Errorf("clone: %w", ErrUnimplemented)
}

// Connect is a no-op. It emits nothing and changes no state.
func (a *Adapter) Connect(ctx context.Context) error {
	a.log.Debug().Msg("connect is a no-op")
	return nil
}

// Disconnect is a no-op. Callers cannot force the adapter into the
// Disconnected state; only the client's own signals do that.
func (a *Adapter) Disconnect() error {
	a.log.Debug().Msg("disconnect is a no-op")
	return nil
}

func (a *Adapter) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.state
}

func (a *Adapter) IsConnected() bool {
	return a.State() == StateConnected
}

// On registers listener for future occurrences of event. The current
// connection state is read with IsConnected or State, not replayed here.
func (a *Adapter) On(event Event, listener Listener) {
	if !event.valid() {
		a.log.Warn().Str("event", string(event)).Msg("ignoring listener for unknown event")
		return
	}
	if listener == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.listeners[event] = append(a.listeners[event], listener)
}

// Off removes every listener registered for event.
func (a *Adapter) Off(event Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.listeners, event)
}

// Send performs a one-shot call and returns the decoded result. Remote
// failures come back as *jsonrpc.Error and malformed replies as
// *jsonrpc.DecodeError.
func (a *Adapter) Send(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	request, err := a.coder.Encode(method, params)
	if err != nil {
		return nil, err
	}

	a.log.Debug().Str("method", method).Str("request", request).Msg("calling")

	response, err := a.client.RPCSend(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	return a.coder.Decode(response)
}

// SendWithRegistration is Send with an optional subscription. With a nil
// reg it behaves exactly like Send. Otherwise it opens the push channel and
// returns the placeholder subscription id as its result.
func (a *Adapter) SendWithRegistration(ctx context.Context, method string, params []any, reg *Registration) (json.RawMessage, error) {
	if reg == nil {
		return a.Send(ctx, method, params)
	}

	local := *reg
	local.Method = method
	local.Params = params
	id, err := a.register(ctx, &local)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprint(id)), nil
}

// Subscribe opens a push subscription. Every message the client delivers is
// decoded and passed to cb; a message that fails to decode or carries a
// remote error is reported through cb and the subscription stays open.
func (a *Adapter) Subscribe(ctx context.Context, typ, method string, params []any, cb Callback) (int, error) {
	return a.register(ctx, &Registration{
		Type:     typ,
		Method:   method,
		Params:   params,
		Callback: cb,
	})
}

func (a *Adapter) register(ctx context.Context, reg *Registration) (int, error) {
	if reg.Callback == nil {
		return 0, ErrNilCallback
	}

	request, err := a.coder.Encode(reg.Method, reg.Params)
	if err != nil {
		return 0, err
	}

	a.log.Debug().
		Str("type", reg.Type).
		Str("method", reg.Method).
		Str("request", request).
		Msg("subscribing")

	callback := reg.Callback
	err = a.client.RPCSubscribe(ctx, request, func(response string) {
		result, err := a.coder.Decode(response)
		if err != nil {
			a.log.Debug().Err(err).Str("method", reg.Method).Msg("subscription message failed to decode")
			callback(err, nil)
			return
		}
		callback(nil, result)
	})
	if err != nil {
		return 0, fmt.Errorf("subscribe %s: %w", reg.Method, err)
	}

	return PlaceholderSubscriptionID, nil
}

// Unsubscribe is unimplemented: the client offers no way to tear a push
// channel down. It always reports false and never an error.
func (a *Adapter) Unsubscribe(ctx context.Context, typ, method string, id int) (bool, error) {
	a.log.Warn().
		Str("type", typ).
		Str("method", method).
		Int("id", id).
		Msg("unsubscribe is unimplemented")
	return false, nil
}

func (a *Adapter) handleConnectivity(ev ConnectivityEvent) {
	a.signalMu.Lock()
	defer a.signalMu.Unlock()

	a.mu.Lock()
	prev := a.state
	a.state = ev.State
	a.mu.Unlock()

	if prev != ev.State {
		a.log.Debug().Stringer("from", prev).Stringer("to", ev.State).Msg("state changed")

		switch ev.State {
		case StateConnected:
			a.emit(EventConnected, nil)
		case StateDisconnected:
			a.emit(EventDisconnected, ev.Err)
		}
	}

	if ev.Err != nil {
		a.emit(EventError, ev.Err)
	}
}

func (a *Adapter) emit(event Event, data any) {
	a.mu.RLock()
	listeners := append([]Listener(nil), a.listeners[event]...)
	a.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}
