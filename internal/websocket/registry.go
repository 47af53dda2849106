package websocket

import (
	"context"
	"sync"
	"sync/atomic"

	"sentinal-relay/internal/metrics"

	"go.uber.org/zap"
)

// sessionSet is one user's or one room's sessions. A set that became empty
// is marked dead and removed from its map; writers that still hold it retry
// against a fresh set.
type sessionSet struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	dead     bool
}

func newSessionSet() *sessionSet {
	return &sessionSet{sessions: make(map[string]*Session)}
}

// add reports whether s was newly added and whether the set was still live.
func (ss *sessionSet) add(s *Session) (added, live bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.dead {
		return false, false
	}
	if _, ok := ss.sessions[s.ID]; ok {
		return false, true
	}
	ss.sessions[s.ID] = s
	return true, true
}

// remove drops s and retires the set when it becomes empty.
func (ss *sessionSet) remove(s *Session) (retired bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.sessions, s.ID)
	if len(ss.sessions) == 0 && !ss.dead {
		ss.dead = true
		return true
	}
	return false
}

func (ss *sessionSet) snapshot() []*Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	out := make([]*Session, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		out = append(out, s)
	}
	return out
}

func (ss *sessionSet) size() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.sessions)
}

// Registry indexes live sessions by id, by user and by joined conversation.
// All methods are safe for concurrent use.
type Registry struct {
	sessions sync.Map // session id -> *Session
	users    sync.Map // user id -> *sessionSet
	rooms    sync.Map // conversation id -> *sessionSet
	count    atomic.Int64

	metrics *metrics.Instruments
	logger  *Logger
}

func NewRegistry(m *metrics.Instruments, logger *Logger) *Registry {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &Registry{metrics: m, logger: logger}
}

func addToSet(m *sync.Map, key string, s *Session) bool {
	for {
		v, _ := m.LoadOrStore(key, newSessionSet())
		set := v.(*sessionSet)
		added, live := set.add(s)
		if live {
			return added
		}
		// Lost the race with a retiring set; drop it if still mapped and retry.
		m.CompareAndDelete(key, set)
	}
}

func removeFromSet(m *sync.Map, key string, s *Session) {
	v, ok := m.Load(key)
	if !ok {
		return
	}
	set := v.(*sessionSet)
	if set.remove(s) {
		m.CompareAndDelete(key, set)
	}
}

func loadSet(m *sync.Map, key string) *sessionSet {
	v, ok := m.Load(key)
	if !ok {
		return nil
	}
	return v.(*sessionSet)
}

// Register makes s reachable by user. Registering the same session twice is
// a no-op.
func (r *Registry) Register(s *Session) {
	if _, loaded := r.sessions.LoadOrStore(s.ID, s); loaded {
		return
	}
	addToSet(&r.users, s.UserID, s)
	r.count.Add(1)
	r.metrics.WSSessions.Add(context.Background(), 1)
	r.logger.Info("session registered", s.UserID, s.ID, zap.Int("user_sessions", r.UserSessionCount(s.UserID)))
}

// Unregister removes s from its user and from every room it joined, then
// closes it. It reports false when s was not registered.
func (r *Registry) Unregister(s *Session) bool {
	if _, loaded := r.sessions.LoadAndDelete(s.ID); !loaded {
		return false
	}
	removeFromSet(&r.users, s.UserID, s)
	for _, room := range s.JoinedRooms() {
		removeFromSet(&r.rooms, room, s)
	}
	s.Close()
	r.count.Add(-1)
	r.metrics.WSSessions.Add(context.Background(), -1)
	r.logger.Info("session unregistered", s.UserID, s.ID, zap.Int("user_sessions", r.UserSessionCount(s.UserID)))
	return true
}

// JoinRoom subscribes s to a conversation. It reports whether s was newly
// joined; joining twice, joining an empty id or joining with an
// unregistered session all return false.
func (r *Registry) JoinRoom(s *Session, conversationID string) bool {
	if conversationID == "" {
		return false
	}
	if _, ok := r.sessions.Load(s.ID); !ok {
		return false
	}
	s.addRoom(conversationID)
	added := addToSet(&r.rooms, conversationID, s)

	// Unregister may have snapshotted the rooms before this join.
	if _, ok := r.sessions.Load(s.ID); !ok {
		removeFromSet(&r.rooms, conversationID, s)
		return false
	}
	return added
}

// BroadcastToUser sends msg to every session of userID and returns the
// number of sessions that accepted it.
func (r *Registry) BroadcastToUser(userID string, msg []byte) int {
	set := loadSet(&r.users, userID)
	if set == nil {
		return 0
	}
	return r.fanout(set.snapshot(), msg, "", "user", userID)
}

func (r *Registry) BroadcastToRoom(conversationID string, msg []byte) int {
	return r.BroadcastToRoomExcept(conversationID, "", msg)
}

// BroadcastToRoomExcept sends msg to the room, skipping every session of
// excludeUserID.
func (r *Registry) BroadcastToRoomExcept(conversationID, excludeUserID string, msg []byte) int {
	set := loadSet(&r.rooms, conversationID)
	if set == nil {
		return 0
	}
	return r.fanout(set.snapshot(), msg, excludeUserID, "room", conversationID)
}

func (r *Registry) fanout(targets []*Session, msg []byte, excludeUserID, scope, key string) int {
	ctx := context.Background()
	delivered, dropped := 0, 0
	for _, s := range targets {
		if excludeUserID != "" && s.UserID == excludeUserID {
			continue
		}
		if err := s.Send(msg); err != nil {
			dropped++
			r.logger.Warn("send failed", s.UserID, s.ID, zap.String("scope", scope), zap.String("target", key), zap.Error(err))
			continue
		}
		delivered++
	}
	if delivered > 0 {
		metrics.Add(ctx, r.metrics.FanoutSends, int64(delivered), "scope", scope)
	}
	if dropped > 0 {
		metrics.Add(ctx, r.metrics.FanoutDrops, int64(dropped), "scope", scope)
	}
	return delivered
}

func (r *Registry) SessionsForUser(userID string) []*Session {
	set := loadSet(&r.users, userID)
	if set == nil {
		return nil
	}
	return set.snapshot()
}

func (r *Registry) UserSessionCount(userID string) int {
	set := loadSet(&r.users, userID)
	if set == nil {
		return 0
	}
	return set.size()
}

func (r *Registry) RoomSize(conversationID string) int {
	set := loadSet(&r.rooms, conversationID)
	if set == nil {
		return 0
	}
	return set.size()
}

func (r *Registry) SessionCount() int {
	return int(r.count.Load())
}
