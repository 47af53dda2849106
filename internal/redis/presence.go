package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sentinal-relay/internal/friends"

	goredis "github.com/redis/go-redis/v9"
)

// Redis key prefixes for presence
const (
	sessionKeyPrefix  = "presence:sessions:"
	statusKeyPrefix   = "presence:status:"
	lastSeenKeyPrefix = "presence:lastSeen:"
	friendsKeyPrefix  = "presence:friends:"

	StatusOnline  = "online"
	StatusOffline = "offline"
)

// TTLs for presence keys
const (
	sessionTTL  = 12 * time.Hour
	statusTTL   = 12 * time.Hour
	lastSeenTTL = 7 * 24 * time.Hour
	friendsTTL  = 6 * time.Hour
)

// decrementScript decrements the session counter and deletes it once it
// reaches zero or below, so a stray decrement never leaves a negative value.
var decrementScript = goredis.NewScript(`
	local v = redis.call('DECR', KEYS[1])
	if v <= 0 then
		redis.call('DEL', KEYS[1])
	else
		redis.call('EXPIRE', KEYS[1], ARGV[1])
	end
	return v
`)

// FriendState is the presence of one user as seen by a friend.
type FriendState struct {
	UserID   string
	Online   bool
	LastSeen *int64
}

// PresenceStore holds session counters, status flags, last-seen times and
// cached friend lists.
type PresenceStore struct {
	client *goredis.Client
}

func NewPresenceStore(client *goredis.Client) *PresenceStore {
	return &PresenceStore{client: client}
}

func sessionKey(userID string) string  { return sessionKeyPrefix + userID }
func statusKey(userID string) string   { return statusKeyPrefix + userID }
func lastSeenKey(userID string) string { return lastSeenKeyPrefix + userID }
func friendsKey(userID string) string  { return friendsKeyPrefix + userID }

// IncrementSessions adds one session and marks the user online.
func (p *PresenceStore) IncrementSessions(ctx context.Context, userID string) (int64, error) {
	pipe := p.client.TxPipeline()
	incr := pipe.Incr(ctx, sessionKey(userID))
	pipe.Expire(ctx, sessionKey(userID), sessionTTL)
	pipe.Set(ctx, statusKey(userID), StatusOnline, statusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// DecrementSessions removes one session. A result of zero or below means the
// counter was deleted; below zero means more closes than opens were seen.
func (p *PresenceStore) DecrementSessions(ctx context.Context, userID string) (int64, error) {
	return decrementScript.Run(ctx, p.client, []string{sessionKey(userID)}, int(sessionTTL.Seconds())).Int64()
}

// MarkOffline records the last-seen time and flips the status flag.
func (p *PresenceStore) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	pipe := p.client.Pipeline()
	pipe.Set(ctx, lastSeenKey(userID), strconv.FormatInt(at.UnixMilli(), 10), lastSeenTTL)
	pipe.Set(ctx, statusKey(userID), StatusOffline, statusTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// SessionCount returns the stored counter, 0 when absent.
func (p *PresenceStore) SessionCount(ctx context.Context, userID string) (int64, error) {
	n, err := p.client.Get(ctx, sessionKey(userID)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	return n, err
}

// IsOnline trusts the session counter. The status flag is consulted only
// when the counter holds something that is not an integer.
func (p *PresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	states, err := p.FriendStates(ctx, []string{userID})
	if err != nil {
		return false, err
	}
	return states[0].Online, nil
}

// LastSeen returns the last-seen epoch milliseconds, if recorded.
func (p *PresenceStore) LastSeen(ctx context.Context, userID string) (*int64, error) {
	val, err := p.client.Get(ctx, lastSeenKey(userID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseMillis(val), nil
}

// FriendStates reads counter, status and last-seen for every id in one round trip.
func (p *PresenceStore) FriendStates(ctx context.Context, userIDs []string) ([]FriendState, error) {
	if len(userIDs) == 0 {
		return []FriendState{}, nil
	}
	pipe := p.client.Pipeline()
	counters := make([]*goredis.StringCmd, len(userIDs))
	statuses := make([]*goredis.StringCmd, len(userIDs))
	lastSeen := make([]*goredis.StringCmd, len(userIDs))
	for i, id := range userIDs {
		counters[i] = pipe.Get(ctx, sessionKey(id))
		statuses[i] = pipe.Get(ctx, statusKey(id))
		lastSeen[i] = pipe.Get(ctx, lastSeenKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, err
	}

	out := make([]FriendState, len(userIDs))
	for i, id := range userIDs {
		out[i] = FriendState{UserID: id}
		if raw, err := counters[i].Result(); err == nil {
			if n, perr := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); perr == nil {
				out[i].Online = n > 0
			} else {
				out[i].Online = statuses[i].Val() == StatusOnline
			}
		}
		if raw, err := lastSeen[i].Result(); err == nil {
			out[i].LastSeen = parseMillis(raw)
		}
	}
	return out, nil
}

// CacheFriends stores the friend list; an empty list clears the cache.
func (p *PresenceStore) CacheFriends(ctx context.Context, userID string, list []friends.Friend) error {
	if len(list) == 0 {
		return p.client.Del(ctx, friendsKey(userID)).Err()
	}
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode friend list: %w", err)
	}
	return p.client.Set(ctx, friendsKey(userID), data, friendsTTL).Err()
}

// CachedFriends returns the cached list, or nil when nothing is cached.
func (p *PresenceStore) CachedFriends(ctx context.Context, userID string) ([]friends.Friend, error) {
	data, err := p.client.Get(ctx, friendsKey(userID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []friends.Friend
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode cached friend list: %w", err)
	}
	return list, nil
}

func parseMillis(raw string) *int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
