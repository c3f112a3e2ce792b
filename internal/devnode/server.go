// Package devnode is a small JSON-RPC 2.0 node served over WebSocket. It
// stands in for a real backing node in the demo commands and in tests.
package devnode

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/kleeedolinux/rpcprovider/debug"
	"github.com/kleeedolinux/rpcprovider/jsonrpc"
)

// HandlerFunc serves one method. Returning a non-nil *jsonrpc.Error sends an
// error response instead of result.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, *jsonrpc.Error)

type subscriptionRoute struct {
	topic        string
	notifyMethod string
}

type Server struct {
	mu          sync.RWMutex
	sessions    map[string]*session
	handlers    map[string]HandlerFunc
	subscribe   map[string]subscriptionRoute
	unsubscribe map[string]bool

	topics *TopicManager

	maxConcurrency       int
	concurrencySemaphore chan struct{}
	compressionEnabled   bool
	bufferSize           int

	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

type ServerOption func(*Server)

func WithMaxConcurrency(maxConcurrent int) ServerOption {
	return func(s *Server) {
		s.maxConcurrency = maxConcurrent
	}
}

func WithCompression(enabled bool) ServerOption {
	return func(s *Server) {
		s.compressionEnabled = enabled
	}
}

func WithBufferSize(size int) ServerOption {
	return func(s *Server) {
		s.bufferSize = size
	}
}

func WithLogger(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.log = logger.With().Str("component", "devnode").Logger()
	}
}

func NewServer(opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		sessions:       make(map[string]*session),
		handlers:       make(map[string]HandlerFunc),
		subscribe:      make(map[string]subscriptionRoute),
		unsubscribe:    make(map[string]bool),
		topics:         NewTopicManager(),
		maxConcurrency: 100,
		bufferSize:     1024,
		log:            debug.Component("devnode"),
		ctx:            ctx,
		cancel:         cancel,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.maxConcurrency > 0 {
		s.concurrencySemaphore = make(chan struct{}, s.maxConcurrency)
	}

	return s
}

// HandleFunc registers handler for method.
func (s *Server) HandleFunc(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Debug().Str("method", method).Msg("registering handler")
	s.handlers[method] = handler
}

// HandleSubscription routes subscribeMethod to topic. Each subscriber gets
// the topic's payloads as notifyMethod notifications until it calls
// unsubscribeMethod with the subscription id or disconnects.
func (s *Server) HandleSubscription(subscribeMethod, notifyMethod, unsubscribeMethod, topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribe[subscribeMethod] = subscriptionRoute{topic: topic, notifyMethod: notifyMethod}
	if unsubscribeMethod != "" {
		s.unsubscribe[unsubscribeMethod] = true
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	if s.concurrencySemaphore != nil {
		select {
		case s.concurrencySemaphore <- struct{}{}:
			defer func() {
				<-s.concurrencySemaphore
			}()
		default:
			http.Error(w, "Too many connections", http.StatusServiceUnavailable)
			return
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:    s.bufferSize,
		WriteBufferSize:   s.bufferSize,
		EnableCompression: s.compressionEnabled,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := newSession(uuid.NewString(), conn, defaultSessionConfig(), s.log)
	s.serveSession(sess)
}

func (s *Server) serveSession(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.log.Debug().Str("session", sess.id).Msg("session opened")

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()

		for _, id := range sess.subIDs() {
			s.topics.Leave(id)
		}
		_ = sess.Close()

		s.log.Debug().Str("session", sess.id).Msg("session closed")
	}()

	for {
		data, err := sess.Read()
		if err != nil {
			return
		}
		s.handleFrame(sess, data)
	}
}

func (s *Server) handleFrame(sess *session, data []byte) {
	msg, err := jsonrpc.ParseMessage(data)
	if err != nil {
		s.reply(sess, jsonrpc.NewErrorResponse(nil, jsonrpc.ParseError, "Parse error"))
		return
	}
	if msg.IsNotification() {
		return
	}
	if !msg.IsRequest() {
		s.reply(sess, jsonrpc.NewErrorResponse(msg.ID, jsonrpc.InvalidRequest, "Invalid request"))
		return
	}
	if err := msg.Validate(); err != nil {
		code, message := jsonrpc.InvalidRequest, "Invalid request"
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			code, message = rpcErr.Code, rpcErr.Message
		}
		s.reply(sess, jsonrpc.NewErrorResponse(msg.ID, code, message))
		return
	}

	s.mu.RLock()
	handler := s.handlers[msg.Method]
	route, isSubscribe := s.subscribe[msg.Method]
	isUnsubscribe := s.unsubscribe[msg.Method]
	s.mu.RUnlock()

	switch {
	case isSubscribe:
		s.handleSubscribe(sess, msg, route)
	case isUnsubscribe:
		s.handleUnsubscribe(sess, msg)
	case handler != nil:
		result, rpcErr := handler(s.ctx, msg.Params)
		if rpcErr != nil {
			s.reply(sess, jsonrpc.NewErrorResponse(msg.ID, rpcErr.Code, rpcErr.Message))
			return
		}
		resp, err := jsonrpc.NewResponse(msg.ID, result)
		if err != nil {
			s.reply(sess, jsonrpc.NewErrorResponse(msg.ID, jsonrpc.InternalError, err.Error()))
			return
		}
		s.reply(sess, resp)
	default:
		s.reply(sess, jsonrpc.NewErrorResponse(msg.ID, jsonrpc.MethodNotFound, "Method not found"))
	}
}

// handleSubscribe acknowledges before joining the topic so the peer never
// sees a notification ahead of the subscription id.
func (s *Server) handleSubscribe(sess *session, msg *jsonrpc.Message, route subscriptionRoute) {
	id := xid.New().String()

	resp, err := jsonrpc.NewResponse(msg.ID, id)
	if err != nil {
		s.reply(sess, jsonrpc.NewErrorResponse(msg.ID, jsonrpc.InternalError, err.Error()))
		return
	}
	if !s.reply(sess, resp) {
		return
	}

	sess.addSub(id)
	s.topics.GetTopic(route.topic).add(&subscriber{id: id, method: route.notifyMethod, session: sess})

	s.log.Debug().Str("session", sess.id).Str("topic", route.topic).Str("subscription", id).Msg("subscribed")
}

func (s *Server) handleUnsubscribe(sess *session, msg *jsonrpc.Message) {
	var params []string
	if err := jsonrpc.Unmarshal(msg.Params, &params); err != nil || len(params) == 0 {
		s.reply(sess, jsonrpc.NewErrorResponse(msg.ID, jsonrpc.InvalidParams, "Invalid params"))
		return
	}

	removed := sess.removeSub(params[0]) && s.topics.Leave(params[0])

	resp, _ := jsonrpc.NewResponse(msg.ID, removed)
	s.reply(sess, resp)
}

func (s *Server) reply(sess *session, resp *jsonrpc.Response) bool {
	data, err := jsonrpc.Marshal(resp)
	if err != nil {
		s.log.Warn().Err(err).Msg("cannot encode response")
		return false
	}
	return sess.Write(data) == nil
}

// Publish sends payload to every subscriber of topic and reports how many
// were reached.
func (s *Server) Publish(topic string, payload any) int {
	delivered := 0
	for _, sub := range s.topics.subscribersOf(topic) {
		n, err := jsonrpc.NewNotification(sub.method, sub.id, payload)
		if err != nil {
			s.log.Warn().Err(err).Str("topic", topic).Msg("cannot encode notification")
			return delivered
		}
		data, err := jsonrpc.Marshal(n)
		if err != nil {
			s.log.Warn().Err(err).Str("topic", topic).Msg("cannot encode notification")
			return delivered
		}
		if sub.session.Write(data) == nil {
			delivered++
		}
	}
	return delivered
}

// Subscribers reports how many subscriptions topic currently has.
func (s *Server) Subscribers(topic string) int {
	return len(s.topics.subscribersOf(topic))
}

func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions)
}

// Shutdown closes every session. The caller still owns the http.Server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sess.Close(); err != nil {
			s.log.Debug().Err(err).Str("session", sess.id).Msg("error closing session")
		}
	}

	return nil
}
