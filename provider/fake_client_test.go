package provider

import (
	"context"
	"sync"
)

// fakeClient answers RPCSend from a canned response and records every
// subscription so tests can push messages into it.
type fakeClient struct {
	mu           sync.Mutex
	response     string
	sendErr      error
	subscribeErr error
	requests     []string
	subs         []func(string)
	connectivity func(ConnectivityEvent)
}

func (f *fakeClient) RPCSend(ctx context.Context, request string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, request)
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return f.response, nil
}

func (f *fakeClient) RPCSubscribe(ctx context.Context, request string, cb func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, request)
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subs = append(f.subs, cb)
	return nil
}

func (f *fakeClient) push(i int, response string) {
	f.mu.Lock()
	cb := f.subs[i]
	f.mu.Unlock()

	cb(response)
}

func (f *fakeClient) lastRequest() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.requests) == 0 {
		return ""
	}
	return f.requests[len(f.requests)-1]
}

// notifyingClient additionally reports connectivity.
type notifyingClient struct {
	fakeClient
}

func (n *notifyingClient) OnConnectivity(fn func(ConnectivityEvent)) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.connectivity = fn
}

func (n *notifyingClient) signal(ev ConnectivityEvent) {
	n.mu.Lock()
	fn := n.connectivity
	n.mu.Unlock()

	fn(ev)
}
