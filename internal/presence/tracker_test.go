package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"sentinal-relay/internal/friends"
	"sentinal-relay/internal/redis"
)

type staticFriends map[string][]friends.Friend

func (s staticFriends) Friends(ctx context.Context, token string) []friends.Friend {
	return s[token]
}

type recorder struct {
	mu   sync.Mutex
	sent map[string][]Event
}

func (r *recorder) BroadcastToUser(userID string, msg []byte) int {
	var ev Event
	_ = json.Unmarshal(msg, &ev)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = map[string][]Event{}
	}
	r.sent[userID] = append(r.sent[userID], ev)
	return 1
}

func (r *recorder) count(userID, status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.sent[userID] {
		if ev.Status == status {
			n++
		}
	}
	return n
}

func newTracker(t *testing.T, source staticFriends) (*Tracker, *recorder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rec := &recorder{}
	tr := NewTracker(redis.NewPresenceStore(client), source, rec, nil)
	tr.clock = func() time.Time { return time.UnixMilli(1700000000000) }
	return tr, rec, mr
}

func TestTwoSessionsGoOfflineOnlyAfterLastClose(t *testing.T) {
	source := staticFriends{"tok-a": {{ID: "bob"}, {ID: "carol"}}}
	tr, rec, mr := newTracker(t, source)
	ctx := context.Background()

	first := tr.HandleConnect(ctx, "alice", "alice", "tok-a")
	second := tr.HandleConnect(ctx, "alice", "alice", "tok-a")
	if second.SessionCount != 2 {
		t.Fatalf("session count = %d", second.SessionCount)
	}
	if rec.count("bob", StatusOnline) != 2 {
		t.Fatalf("friends should be notified on every session, got %d", rec.count("bob", StatusOnline))
	}

	res := tr.HandleDisconnect(ctx, "alice", "alice", first.FriendIDs)
	if res.Offline || res.SessionCount != 1 {
		t.Fatalf("first close: %+v", res)
	}
	if rec.count("bob", StatusOffline) != 0 {
		t.Fatal("no offline event while a session remains")
	}
	if !tr.IsOnline(ctx, "alice") {
		t.Fatal("alice should still be online")
	}

	res = tr.HandleDisconnect(ctx, "alice", "alice", second.FriendIDs)
	if !res.Offline || res.Notified != 2 {
		t.Fatalf("second close: %+v", res)
	}
	if rec.count("bob", StatusOffline) != 1 || rec.count("carol", StatusOffline) != 1 {
		t.Fatal("each friend should get exactly one offline event")
	}
	if tr.IsOnline(ctx, "alice") {
		t.Fatal("alice should be offline")
	}
	if v, _ := mr.Get("presence:lastSeen:alice"); v != "1700000000000" {
		t.Fatalf("lastSeen = %q", v)
	}

	off := rec.sent["bob"][len(rec.sent["bob"])-1]
	if off.LastSeen == nil || *off.LastSeen != 1700000000000 || off.TargetUserID != "bob" || off.UserID != "alice" {
		t.Fatalf("unexpected offline event %+v", off)
	}
}

func TestCounterMatchesConnectsMinusDisconnects(t *testing.T) {
	tr, _, mr := newTracker(t, staticFriends{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tr.HandleConnect(ctx, "u", "u", "")
	}
	for i := 0; i < 3; i++ {
		tr.HandleDisconnect(ctx, "u", "u", nil)
	}
	if v, _ := mr.Get("presence:sessions:u"); v != "2" {
		t.Fatalf("counter = %q, want 2", v)
	}

	for i := 0; i < 4; i++ {
		tr.HandleDisconnect(ctx, "u", "u", nil)
	}
	if mr.Exists("presence:sessions:u") {
		t.Fatal("counter must not be stored at or below zero")
	}
	if tr.IsOnline(ctx, "u") {
		t.Fatal("status must be offline")
	}
}

func TestPresenceSyncSnapshot(t *testing.T) {
	source := staticFriends{
		"tok-a": {{ID: "bob"}, {ID: "carol"}},
		"tok-b": {{ID: "alice"}},
	}
	tr, _, _ := newTracker(t, source)
	ctx := context.Background()

	tr.HandleConnect(ctx, "bob", "bob", "tok-b")
	tr.HandleConnect(ctx, "carol", "carol", "")
	tr.HandleDisconnect(ctx, "carol", "carol", nil)

	res := tr.HandleConnect(ctx, "alice", "alice", "tok-a")
	var sync Sync
	if err := json.Unmarshal(res.Sync, &sync); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if sync.Type != TypePresenceSync || sync.TargetUserID != "alice" || len(sync.Friends) != 2 {
		t.Fatalf("unexpected sync %+v", sync)
	}
	if sync.Friends[0].UserID != "bob" || sync.Friends[0].Status != StatusOnline {
		t.Fatalf("bob: %+v", sync.Friends[0])
	}
	if sync.Friends[1].Status != StatusOffline || sync.Friends[1].LastSeen == nil {
		t.Fatalf("carol: %+v", sync.Friends[1])
	}
}

func TestDisconnectFallsBackToCallerFriendIDs(t *testing.T) {
	tr, rec, _ := newTracker(t, staticFriends{})
	ctx := context.Background()

	tr.HandleConnect(ctx, "alice", "alice", "")
	res := tr.HandleDisconnect(ctx, "alice", "alice", []string{"dave"})
	if res.Notified != 1 || rec.count("dave", StatusOffline) != 1 {
		t.Fatalf("expected offline event to caller-supplied friend, got %+v", res)
	}
}

func TestEmptySyncHasFriendsArray(t *testing.T) {
	tr, _, _ := newTracker(t, staticFriends{})
	res := tr.HandleConnect(context.Background(), "alice", "alice", "")
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(res.Sync, &raw); err != nil {
		t.Fatal(err)
	}
	if string(raw["friends"]) != "[]" {
		t.Fatalf("friends = %s", raw["friends"])
	}
}
