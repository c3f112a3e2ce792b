package devnode

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kleeedolinux/rpcprovider/jsonrpc"
)

func startNode(t *testing.T, opts ...ServerOption) (*Server, *Chain, string) {
	t.Helper()

	srv := NewServer(opts...)
	chain := NewChain(0)
	chain.Register(srv)

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
		ts.Close()
	})

	return srv, chain, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, request string) *jsonrpc.Message {
	t.Helper()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(request)); err != nil {
		t.Fatalf("write: %v", err)
	}
	return readFrame(t, conn)
}

func readFrame(t *testing.T, conn *websocket.Conn) *jsonrpc.Message {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := jsonrpc.ParseMessage(data)
	if err != nil {
		t.Fatalf("parse %s: %v", data, err)
	}
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandleFunc(t *testing.T) {
	srv, _, url := startNode(t)
	srv.HandleFunc("echo", func(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
		var args []string
		if err := jsonrpc.Unmarshal(params, &args); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: "Invalid params"}
		}
		return args, nil
	})

	conn := dial(t, url)
	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":3,"method":"echo","params":["a","b"]}`)

	if string(resp.ID) != "3" {
		t.Errorf("id = %s, want 3", resp.ID)
	}
	if string(resp.Result) != `["a","b"]` {
		t.Errorf("result = %s", resp.Result)
	}

	resp = roundTrip(t, conn, `{"jsonrpc":"2.0","id":4,"method":"echo","params":{"x":1}}`)
	if resp.Error == nil || resp.Error.Code != jsonrpc.InvalidParams {
		t.Errorf("error = %v, want invalid params", resp.Error)
	}
}

func TestErrorResponses(t *testing.T) {
	_, _, url := startNode(t)
	conn := dial(t, url)

	tests := []struct {
		name    string
		request string
		code    int
		id      string
	}{
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"nope","params":[]}`, jsonrpc.MethodNotFound, "1"},
		{"bad json", `{"jsonrpc":`, jsonrpc.ParseError, "null"},
		{"wrong version", `{"jsonrpc":"1.0","id":2,"method":"system_health"}`, jsonrpc.InvalidRequest, "2"},
		{"no method", `{"jsonrpc":"2.0","id":5}`, jsonrpc.InvalidRequest, "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := roundTrip(t, conn, tt.request)
			if resp.Error == nil {
				t.Fatalf("expected error, got result %s", resp.Result)
			}
			if resp.Error.Code != tt.code {
				t.Errorf("code = %d, want %d", resp.Error.Code, tt.code)
			}
			if string(resp.ID) != tt.id {
				t.Errorf("id = %s, want %s", resp.ID, tt.id)
			}
		})
	}
}

func TestChainMethods(t *testing.T) {
	_, chain, url := startNode(t)
	chain.Produce()
	chain.Produce()

	conn := dial(t, url)

	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":1,"method":"chain_getHeader","params":[]}`)
	var head Header
	if err := jsonrpc.Unmarshal(resp.Result, &head); err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if head.Number != "0x2" || head.ParentHash != "0x1" {
		t.Errorf("head = %+v", head)
	}

	resp = roundTrip(t, conn, `{"jsonrpc":"2.0","id":2,"method":"system_networkState","params":[]}`)
	var state NetworkState
	if err := jsonrpc.Unmarshal(resp.Result, &state); err != nil {
		t.Fatalf("decode network state: %v", err)
	}
	if state.PeerID == "" || state.BestNumber != "0x2" {
		t.Errorf("network state = %+v", state)
	}

	resp = roundTrip(t, conn, `{"jsonrpc":"2.0","id":3,"method":"system_health","params":[]}`)
	if resp.Error != nil {
		t.Errorf("system_health: %v", resp.Error)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	srv, chain, url := startNode(t)
	conn := dial(t, url)

	ack := roundTrip(t, conn, `{"jsonrpc":"2.0","id":1,"method":"chain_subscribeNewHead","params":[]}`)
	var subID string
	if err := jsonrpc.Unmarshal(ack.Result, &subID); err != nil || subID == "" {
		t.Fatalf("subscription id = %s (%v)", ack.Result, err)
	}
	waitFor(t, func() bool { return srv.Subscribers(TopicNewHeads) == 1 })

	if n := srv.Publish(TopicNewHeads, chain.Head()); n != 1 {
		t.Fatalf("published to %d subscribers, want 1", n)
	}
	chain.Produce()

	for _, want := range []string{"0x0", "0x1"} {
		push := readFrame(t, conn)
		if !push.IsNotification() || push.Method != MethodNewHead {
			t.Fatalf("expected %s notification, got %+v", MethodNewHead, push)
		}
		n, err := push.Notification()
		if err != nil {
			t.Fatal(err)
		}
		if jsonrpc.IDKey(n.Params.Subscription) != subID {
			t.Errorf("subscription = %s, want %s", n.Params.Subscription, subID)
		}
		var head Header
		if err := jsonrpc.Unmarshal(n.Params.Result, &head); err != nil {
			t.Fatal(err)
		}
		if head.Number != want {
			t.Errorf("number = %s, want %s", head.Number, want)
		}
	}

	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":2,"method":"chain_unsubscribeNewHead","params":["`+subID+`"]}`)
	if string(resp.Result) != "true" {
		t.Errorf("unsubscribe result = %s, want true", resp.Result)
	}
	resp = roundTrip(t, conn, `{"jsonrpc":"2.0","id":3,"method":"chain_unsubscribeNewHead","params":["`+subID+`"]}`)
	if string(resp.Result) != "false" {
		t.Errorf("second unsubscribe result = %s, want false", resp.Result)
	}
	resp = roundTrip(t, conn, `{"jsonrpc":"2.0","id":4,"method":"chain_unsubscribeNewHead","params":[]}`)
	if resp.Error == nil || resp.Error.Code != jsonrpc.InvalidParams {
		t.Errorf("error = %v, want invalid params", resp.Error)
	}

	if n := srv.Publish(TopicNewHeads, chain.Head()); n != 0 {
		t.Errorf("published to %d subscribers after unsubscribe", n)
	}
}

func TestSessionCleanup(t *testing.T) {
	srv, _, url := startNode(t)
	conn := dial(t, url)

	roundTrip(t, conn, `{"jsonrpc":"2.0","id":1,"method":"chain_subscribeNewHead","params":[]}`)
	waitFor(t, func() bool { return srv.Count() == 1 && srv.Subscribers(TopicNewHeads) == 1 })

	conn.Close()
	waitFor(t, func() bool { return srv.Count() == 0 && srv.Subscribers(TopicNewHeads) == 0 })
}

func TestChainRun(t *testing.T) {
	chain := NewChain(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- chain.Run(ctx) }()

	waitFor(t, func() bool { return chain.Head().Number != "0x0" })
	cancel()

	if err := <-done; err != context.Canceled {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

func TestRejectsPlainHTTP(t *testing.T) {
	srv := NewServer()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != 400 {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSmallBuffersAndConnectionLimit(t *testing.T) {
	srv, _, url := startNode(t, WithBufferSize(64), WithMaxConcurrency(1))
	srv.HandleFunc("echo", func(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error) {
		return params, nil
	})

	conn := dial(t, url)
	payload := strings.Repeat("x", 4096)
	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":1,"method":"echo","params":["`+payload+`"]}`)

	var echoed []string
	if err := jsonrpc.Unmarshal(resp.Result, &echoed); err != nil {
		t.Fatal(err)
	}
	if len(echoed) != 1 || echoed[0] != payload {
		t.Errorf("echo lost data through 64 byte buffers")
	}

	_, httpResp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("second connection accepted past the limit")
	}
	if httpResp == nil || httpResp.StatusCode != 503 {
		t.Errorf("second connection response = %v, want 503", httpResp)
	}
}
