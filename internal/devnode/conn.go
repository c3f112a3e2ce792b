package devnode

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errSessionClosed = errors.New("devnode: session closed")

// session is one WebSocket peer. Writes go through a buffered channel
// drained by writePump; reads happen on the serving goroutine.
type session struct {
	id           string
	conn         *websocket.Conn
	sendCh       chan []byte
	closeCh      chan struct{}
	writeWg      sync.WaitGroup
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       bool
	log          zerolog.Logger

	subsMu sync.Mutex
	subs   map[string]struct{}
}

type sessionConfig struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	BufferSize   int
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		WriteTimeout: 10 * time.Second,
		BufferSize:   100,
	}
}

func newSession(id string, conn *websocket.Conn, config sessionConfig, log zerolog.Logger) *session {
	s := &session{
		id:           id,
		conn:         conn,
		sendCh:       make(chan []byte, config.BufferSize),
		closeCh:      make(chan struct{}),
		writeTimeout: config.WriteTimeout,
		log:          log.With().Str("session", id).Logger(),
		subs:         make(map[string]struct{}),
	}

	if config.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(config.ReadTimeout))
	}

	s.writeWg.Add(1)
	go s.writePump()

	return s
}

func (s *session) writePump() {
	defer s.writeWg.Done()

	for {
		select {
		case <-s.closeCh:
			return
		case message := <-s.sendCh:
			if s.writeTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}

			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				go s.Close()
				return
			}
		}
	}
}

func (s *session) Read() ([]byte, error) {
	_, message, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return message, nil
}

// Write queues data. A peer that cannot keep up is disconnected.
func (s *session) Write(data []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return errSessionClosed
	}

	select {
	case s.sendCh <- data:
		return nil
	default:
		s.log.Warn().Msg("send buffer full, closing session")
		go s.Close()
		return errSessionClosed
	}
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	close(s.closeCh)
	s.mu.Unlock()

	s.writeWg.Wait()

	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	return s.conn.Close()
}

func (s *session) addSub(id string) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs[id] = struct{}{}
}

func (s *session) removeSub(id string) bool {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	_, ok := s.subs[id]
	delete(s.subs, id)
	return ok
}

func (s *session) subIDs() []string {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	return ids
}
