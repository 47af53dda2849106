package websocket

import (
	"context"
	"net/http"
	"time"

	"sentinal-relay/internal/auth"
	"sentinal-relay/internal/presence"
	"sentinal-relay/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const presenceTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// PresenceTracker is the presence side of a session's lifecycle.
type PresenceTracker interface {
	HandleConnect(ctx context.Context, userID, username, token string) presence.ConnectResult
	HandleDisconnect(ctx context.Context, userID, username string, cachedFriendIDs []string) presence.DisconnectResult
}

type Authenticator interface {
	Authenticate(r *http.Request) (auth.Identity, error)
}

// Handler upgrades authenticated requests and runs the socket protocol.
type Handler struct {
	registry *Registry
	relay    *Relay
	presence PresenceTracker
	auth     Authenticator
	logger   *Logger
	clock    func() time.Time
}

func NewHandler(registry *Registry, tracker PresenceTracker, authenticator Authenticator, logger *Logger) *Handler {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &Handler{
		registry: registry,
		relay:    NewRelay(registry, logger),
		presence: tracker,
		auth:     authenticator,
		logger:   logger,
		clock:    time.Now,
	}
}

// ServeWS handles GET /ws.
func (h *Handler) ServeWS(c *gin.Context) {
	identity, err := h.auth.Authenticate(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade failed", identity.UserID, "", err)
		return
	}

	username := identity.Username
	if username == "" {
		username = identity.UserID
	}
	s := NewSession(conn, identity.UserID, username, identity.Token)
	h.open(s)

	go s.writePump()
	go func() {
		s.readPump(h.handleFrame, h.logger)
		h.close(s)
	}()
}

// open registers s, runs presence connect and hands the session its
// presence_sync snapshot.
func (h *Handler) open(s *Session) {
	h.registry.Register(s)

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	res := h.presence.HandleConnect(ctx, s.UserID, s.Username, s.AccessToken)
	s.SetFriendIDs(res.FriendIDs)

	if len(res.Sync) > 0 {
		if err := s.Send(res.Sync); err != nil {
			h.logger.Warn("presence sync not delivered", s.UserID, s.ID, zap.Error(err))
		}
	}
}

// close undoes open. Only the user's last session produces room offline
// notices.
func (h *Handler) close(s *Session) {
	if !h.registry.Unregister(s) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	res := h.presence.HandleDisconnect(ctx, s.UserID, s.Username, s.FriendIDs())
	if !res.Offline {
		return
	}

	lastSeen := res.LastSeen
	for _, room := range s.JoinedRooms() {
		msg, err := presence.NewRoomEvent(presence.StatusOffline, s.UserID, s.Username, room, lastSeen, &lastSeen)
		if err != nil {
			h.logger.Error("build room presence failed", s.UserID, s.ID, err)
			continue
		}
		h.registry.BroadcastToRoomExcept(room, s.UserID, msg)
	}
}

func (h *Handler) handleFrame(s *Session, raw []byte) {
	frame, err := parseClientFrame(raw)
	if err != nil || frame.Type == "" {
		h.logger.Warn("malformed frame", s.UserID, s.ID, zap.Int("bytes", len(raw)), zap.Error(err))
		return
	}

	if !s.limiter.Allow(frame.Type) {
		h.logger.Warn("rate limit exceeded", s.UserID, s.ID, zap.String("frame", frame.Type))
		return
	}

	switch frame.Type {
	case FrameJoin:
		h.handleJoin(s, frame)
	case FrameTypingStart:
		h.handleTyping(s, frame, true)
	case FrameTypingStop:
		h.handleTyping(s, frame, false)
	case FrameCallOffer, FrameCallAnswer, FrameCallICECandidate:
		h.relay.Forward(s, frame, raw)
	case FramePing:
		if err := s.Send(pongFrame); err != nil {
			h.logger.Warn("pong not delivered", s.UserID, s.ID, zap.Error(err))
		}
	default:
		h.logger.Debug("unknown frame", s.UserID, s.ID, zap.String("frame", frame.Type))
	}
}

func (h *Handler) handleJoin(s *Session, frame clientFrame) {
	if frame.ConversationID == "" {
		h.logger.Warn("join without conversationId", s.UserID, s.ID)
		return
	}
	if !h.registry.JoinRoom(s, frame.ConversationID) {
		return
	}

	msg, err := presence.NewRoomEvent(presence.StatusOnline, s.UserID, s.Username, frame.ConversationID, h.clock().UnixMilli(), nil)
	if err != nil {
		h.logger.Error("build room presence failed", s.UserID, s.ID, err)
		return
	}
	h.registry.BroadcastToRoomExcept(frame.ConversationID, s.UserID, msg)
}

func (h *Handler) handleTyping(s *Session, frame clientFrame, isTyping bool) {
	if frame.ConversationID == "" {
		h.logger.Warn("typing without conversationId", s.UserID, s.ID)
		return
	}
	msg, err := newTypingFrame(frame.ConversationID, s.UserID, isTyping, h.clock().UnixMilli())
	if err != nil {
		h.logger.Error("build typing frame failed", s.UserID, s.ID, err)
		return
	}
	h.registry.BroadcastToRoomExcept(frame.ConversationID, s.UserID, msg)
}
