package provider

import "context"

// RPCClient is the capability the adapter consumes. Both operations take an
// encoded JSON-RPC request string and hand back raw response strings.
type RPCClient interface {
	// RPCSend performs a one-shot call and returns the raw response.
	RPCSend(ctx context.Context, request string) (string, error)

	// RPCSubscribe registers cb for every raw response the client delivers on
	// the channel opened by request. There is no way to unregister.
	RPCSubscribe(ctx context.Context, request string, cb func(response string)) error
}

// State is the adapter's view of the underlying connection.
type State int

const (
	StateConnected State = iota
	StateDisconnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectivityEvent is a connectivity signal reported by a client.
type ConnectivityEvent struct {
	State State
	Err   error
}

// ConnectivityNotifier is implemented by clients that can report their own
// connection state. The adapter derives its State from these signals.
type ConnectivityNotifier interface {
	OnConnectivity(fn func(ConnectivityEvent))
}
