package websocket

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	sentinal_errors "sentinal-relay/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
)

// Session is one authenticated socket connection.
type Session struct {
	ID          string
	UserID      string
	Username    string
	AccessToken string

	conn    *websocket.Conn
	send    chan []byte
	limiter *FrameLimiter

	mu        sync.RWMutex
	closed    bool
	rooms     map[string]struct{}
	friendIDs []string

	connectedAt  time.Time
	lastActivity atomic.Int64
}

// NewSession wraps conn. conn may be nil for sessions that are only fed
// through Send.
func NewSession(conn *websocket.Conn, userID, username, accessToken string) *Session {
	now := time.Now()
	s := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Username:    username,
		AccessToken: accessToken,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		limiter:     NewFrameLimiter(DefaultRateLimits),
		rooms:       make(map[string]struct{}),
		connectedAt: now,
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// Send queues msg without blocking.
func (s *Session) Send(msg []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sentinal_errors.ErrSessionClosed
	}
	select {
	case s.send <- msg:
		return nil
	default:
		return sentinal_errors.ErrSendBufferFull
	}
}

// Close stops accepting frames. The write pump drains what is queued and
// then closes the socket. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// JoinedRooms returns the conversation ids this session joined, sorted.
func (s *Session) JoinedRooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Session) addRoom(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[conversationID]; ok {
		return false
	}
	s.rooms[conversationID] = struct{}{}
	return true
}

func (s *Session) SetFriendIDs(ids []string) {
	s.mu.Lock()
	s.friendIDs = append([]string(nil), ids...)
	s.mu.Unlock()
}

func (s *Session) FriendIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.friendIDs...)
}

func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// readPump delivers inbound text frames to handle until the peer goes away
// or the pong deadline passes.
func (s *Session) readPump(handle func(*Session, []byte), logger *Logger) {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.touch()
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("unexpected close", s.UserID, s.ID, err)
			}
			return
		}
		s.touch()
		handle(s, message)
	}
}

// writePump writes one frame per queued message and keeps the connection
// alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
