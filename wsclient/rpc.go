package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kleeedolinux/rpcprovider/jsonrpc"
	"github.com/kleeedolinux/rpcprovider/provider"
)

type pendingCall struct {
	ch  chan string
	sub *subscription
}

// subscription is one push channel opened by RPCSubscribe. requestID is the
// id of the caller's original request; every push is re-shaped into a
// response carrying it.
type subscription struct {
	requestID json.RawMessage
	method    string
	params    json.RawMessage
	cb        func(string)
	serverID  string
}

// RPCSend writes request and waits for the response with the same id.
func (c *Client) RPCSend(ctx context.Context, request string) (string, error) {
	id, err := jsonrpc.PeekID(request)
	if err != nil {
		return "", err
	}
	return c.call(ctx, jsonrpc.IDKey(id), []byte(request), nil)
}

// RPCSubscribe opens a push channel with request. It returns once the node
// has acknowledged the subscription; from then on cb receives every push as
// a response string carrying the request's id. A rejected subscription is
// returned as the node's *jsonrpc.Error.
func (c *Client) RPCSubscribe(ctx context.Context, request string, cb func(response string)) error {
	msg, err := jsonrpc.ParseMessage([]byte(request))
	if err != nil {
		return err
	}
	if !msg.IsRequest() {
		return fmt.Errorf("wsclient: subscribe request needs a method and an id")
	}

	sub := &subscription{
		requestID: msg.ID,
		method:    msg.Method,
		params:    msg.Params,
		cb:        cb,
	}

	ack, err := c.call(ctx, jsonrpc.IDKey(msg.ID), []byte(request), sub)
	if err != nil {
		return err
	}
	_, err = c.coder.Decode(ack)

	c.mu.Lock()
	if err != nil {
		if c.byServerID[sub.serverID] == sub {
			delete(c.byServerID, sub.serverID)
		}
		c.mu.Unlock()
		return err
	}
	c.subscriptions = append(c.subscriptions, sub)
	c.mu.Unlock()

	c.log.Debug().Str("method", sub.method).Str("subscription", sub.serverID).Msg("subscribed")
	return nil
}

func (c *Client) call(ctx context.Context, key string, request []byte, sub *subscription) (string, error) {
	p := &pendingCall{ch: make(chan string, 1), sub: sub}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClientClosed
	}
	if !c.connected {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	if _, exists := c.pending[key]; exists {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, key)
	}
	c.pending[key] = p
	c.mu.Unlock()

	if err := c.conn.Send(request); err != nil {
		c.forget(key, p)
		return "", err
	}

	select {
	case resp, ok := <-p.ch:
		return received(resp, ok)
	case <-ctx.Done():
	}

	if c.forget(key, p) {
		return "", ctx.Err()
	}

	// The read loop already claimed the call, so a response or a close is
	// on its way. A claimed subscription ack is live and must be reported.
	resp, ok := <-p.ch
	return received(resp, ok)
}

func received(resp string, ok bool) (string, error) {
	if !ok {
		return "", ErrConnectionClosed
	}
	return resp, nil
}

// forget drops p if it is still waiting and reports whether it did.
func (c *Client) forget(key string, p *pendingCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[key] == p {
		delete(c.pending, key)
		return true
	}
	return false
}

func (c *Client) dispatchResponse(msg *jsonrpc.Message, data []byte) {
	key := jsonrpc.IDKey(msg.ID)

	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
		if p.sub != nil && msg.Error == nil {
			p.sub.serverID = jsonrpc.IDKey(msg.Result)
			c.byServerID[p.sub.serverID] = p.sub
		}
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Str("id", key).Msg("response without a waiting call")
		return
	}
	p.ch <- string(data)
}

func (c *Client) dispatchNotification(msg *jsonrpc.Message) {
	n, err := msg.Notification()
	if err != nil {
		c.log.Debug().Err(err).Str("method", msg.Method).Msg("dropping malformed notification")
		return
	}

	key := jsonrpc.IDKey(n.Params.Subscription)
	c.mu.RLock()
	sub := c.byServerID[key]
	c.mu.RUnlock()

	if sub == nil {
		c.log.Debug().Str("subscription", key).Msg("notification for unknown subscription")
		return
	}

	resp, err := jsonrpc.NewResponse(sub.requestID, n.Params.Result)
	if err != nil {
		c.log.Debug().Err(err).Msg("cannot re-shape notification")
		return
	}
	data, err := jsonrpc.Marshal(resp)
	if err != nil {
		c.log.Debug().Err(err).Msg("cannot re-shape notification")
		return
	}

	sub.cb(string(data))
}

// failPending wakes every waiting call with ErrConnectionClosed.
func (c *Client) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	for _, p := range pending {
		close(p.ch)
	}
}

// resubscribe re-opens every known subscription on a fresh connection.
// Server ids from the old connection are meaningless and are dropped.
// Internal requests use negative ids so they never collide with ids issued
// by a caller's coder.
func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := append([]*subscription(nil), c.subscriptions...)
	c.byServerID = make(map[string]*subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		id := json.RawMessage(strconv.FormatInt(-c.internalID.Add(1), 10))
		request, err := jsonrpc.Marshal(&jsonrpc.Message{
			JSONRPC: jsonrpc.Version,
			ID:      id,
			Method:  sub.method,
			Params:  sub.params,
		})
		if err != nil {
			c.log.Warn().Err(err).Str("method", sub.method).Msg("cannot rebuild subscription")
			continue
		}

		ack, err := c.call(c.ctx, jsonrpc.IDKey(id), request, sub)
		if err == nil {
			_, err = c.coder.Decode(ack)
		}
		if err != nil {
			c.log.Warn().Err(err).Str("method", sub.method).Msg("resubscribe failed")
			c.notify(provider.ConnectivityEvent{State: c.state(), Err: fmt.Errorf("resubscribe %s: %w", sub.method, err)})
			continue
		}
		c.log.Debug().Str("method", sub.method).Str("subscription", sub.serverID).Msg("resubscribed")
	}
}
