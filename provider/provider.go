// Package provider adapts a raw-string, callback-style RPC client to the
// transport contract a JSON-RPC consumer expects: send, subscribe,
// unsubscribe, connection status and status-change events.
package provider

import (
	"context"
	"encoding/json"
	"errors"
)

type Event string

const (
	EventConnected    Event = "connected"
	EventDisconnected Event = "disconnected"
	EventError        Event = "error"
)

func (e Event) valid() bool {
	switch e {
	case EventConnected, EventDisconnected, EventError:
		return true
	}
	return false
}

// Listener receives the event payload: nil for connected, the cause (or nil)
// for disconnected, the error for error.
type Listener func(data any)

// Callback receives every decoded push of a subscription. Exactly one of err
// and value is meaningful.
type Callback func(err error, value json.RawMessage)

// Provider is the contract a JSON-RPC consumer depends on.
type Provider interface {
	HasSubscriptions() bool

	Clone() (Provider, error)

	Connect(ctx context.Context) error

	Disconnect() error

	IsConnected() bool

	On(event Event, listener Listener)

	Send(ctx context.Context, method string, params []any) (json.RawMessage, error)

	Subscribe(ctx context.Context, typ, method string, params []any, cb Callback) (int, error)

	Unsubscribe(ctx context.Context, typ, method string, id int) (bool, error)
}

// Registration describes a subscription handed to the client's push channel.
type Registration struct {
	Type     string
	Method   string
	Params   []any
	Callback Callback
}

// PlaceholderSubscriptionID is returned for every subscription. The client
// does not surface the server-assigned id, so callers tell subscriptions
// apart by the callback they registered.
const PlaceholderSubscriptionID = 0

var (
	ErrUnimplemented = errors.New("provider: operation is unimplemented")
	ErrNilCallback   = errors.New("provider: subscription callback is nil")
)
