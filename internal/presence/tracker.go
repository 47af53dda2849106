package presence

import (
	"context"
	"time"

	"sentinal-relay/internal/friends"
	"sentinal-relay/internal/redis"

	"go.uber.org/zap"
)

// Store is the shared presence state.
type Store interface {
	IncrementSessions(ctx context.Context, userID string) (int64, error)
	DecrementSessions(ctx context.Context, userID string) (int64, error)
	MarkOffline(ctx context.Context, userID string, at time.Time) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	FriendStates(ctx context.Context, userIDs []string) ([]redis.FriendState, error)
	CacheFriends(ctx context.Context, userID string, list []friends.Friend) error
	CachedFriends(ctx context.Context, userID string) ([]friends.Friend, error)
}

// Notifier delivers a frame to every local session of a user.
type Notifier interface {
	BroadcastToUser(userID string, msg []byte) int
}

// ConnectResult is handed back to the socket layer. FriendIDs must be kept
// for HandleDisconnect; Sync is the presence_sync frame for the new session.
type ConnectResult struct {
	SessionCount int64
	FriendIDs    []string
	Sync         []byte
}

type DisconnectResult struct {
	Offline      bool
	SessionCount int64
	LastSeen     int64
	Notified     int
}

type Tracker struct {
	store    Store
	friends  friends.Source
	notifier Notifier
	clock    func() time.Time
	logger   *zap.Logger
}

func NewTracker(store Store, source friends.Source, notifier Notifier, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:    store,
		friends:  source,
		notifier: notifier,
		clock:    time.Now,
		logger:   logger.Named("presence"),
	}
}

// HandleConnect counts the new session, refreshes the friend cache and
// notifies every friend, on every session and not only the first.
func (t *Tracker) HandleConnect(ctx context.Context, userID, username, token string) ConnectResult {
	log := t.logger.With(zap.String("user_id", userID))
	var res ConnectResult

	count, err := t.store.IncrementSessions(ctx, userID)
	if err != nil {
		log.Warn("failed to increment session counter", zap.Error(err))
	}
	res.SessionCount = count

	list := t.friends.Friends(ctx, token)
	if err := t.store.CacheFriends(ctx, userID, list); err != nil {
		log.Warn("failed to cache friend list", zap.Error(err))
	}
	res.FriendIDs = friends.IDs(list)

	now := t.clock().UnixMilli()
	for _, friendID := range res.FriendIDs {
		msg, err := NewFriendEvent(StatusOnline, userID, username, friendID, now, nil)
		if err != nil {
			log.Error("failed to build presence event", zap.Error(err))
			continue
		}
		t.notifier.BroadcastToUser(friendID, msg)
	}

	statuses := make([]FriendStatus, 0, len(res.FriendIDs))
	states, err := t.store.FriendStates(ctx, res.FriendIDs)
	if err != nil {
		log.Warn("failed to load friend presence, reporting offline", zap.Error(err))
		for _, id := range res.FriendIDs {
			statuses = append(statuses, FriendStatus{UserID: id, Status: StatusOffline})
		}
	} else {
		for _, s := range states {
			statuses = append(statuses, FriendStatus{UserID: s.UserID, Status: statusText(s.Online), LastSeen: s.LastSeen})
		}
	}
	res.Sync, err = newSync(userID, statuses, now)
	if err != nil {
		log.Error("failed to build presence sync", zap.Error(err))
	}

	log.Debug("user connected", zap.Int64("sessions", count), zap.Int("friends", len(res.FriendIDs)))
	return res
}

// HandleDisconnect drops one session. Only the last one triggers the
// offline transition and the offline events.
func (t *Tracker) HandleDisconnect(ctx context.Context, userID, username string, cachedFriendIDs []string) DisconnectResult {
	log := t.logger.With(zap.String("user_id", userID))
	var res DisconnectResult

	left, err := t.store.DecrementSessions(ctx, userID)
	if err != nil {
		log.Warn("failed to decrement session counter", zap.Error(err))
		return res
	}
	res.SessionCount = left
	if left > 0 {
		return res
	}
	if left < 0 {
		log.Error("session counter went below zero, clamped", zap.Int64("value", left))
		res.SessionCount = 0
	}

	now := t.clock()
	res.Offline = true
	res.LastSeen = now.UnixMilli()
	if err := t.store.MarkOffline(ctx, userID, now); err != nil {
		log.Warn("failed to record offline state", zap.Error(err))
	}

	ids := cachedFriendIDs
	cached, err := t.store.CachedFriends(ctx, userID)
	if err != nil {
		log.Warn("failed to load cached friend list", zap.Error(err))
	} else if len(cached) > 0 {
		ids = friends.IDs(cached)
	}

	lastSeen := res.LastSeen
	for _, friendID := range ids {
		if friendID == "" {
			continue
		}
		msg, err := NewFriendEvent(StatusOffline, userID, username, friendID, lastSeen, &lastSeen)
		if err != nil {
			log.Error("failed to build presence event", zap.Error(err))
			continue
		}
		t.notifier.BroadcastToUser(friendID, msg)
		res.Notified++
	}
	log.Debug("user went offline", zap.Int("friends_notified", res.Notified))
	return res
}

// IsOnline reports presence, treating store failures as offline.
func (t *Tracker) IsOnline(ctx context.Context, userID string) bool {
	online, err := t.store.IsOnline(ctx, userID)
	if err != nil {
		t.logger.Warn("presence lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return online
}
