package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"sentinal-relay/internal/friends"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestMarkProcessedOnlyOnce(t *testing.T) {
	mr, client := newTestClient(t)
	d := NewDedupStore(client)
	ctx := context.Background()

	first, err := d.MarkProcessed(ctx, "m1")
	if err != nil || !first {
		t.Fatalf("first claim = %v, %v", first, err)
	}
	again, err := d.MarkProcessed(ctx, "m1")
	if err != nil || again {
		t.Fatalf("second claim = %v, %v", again, err)
	}
	if ttl := mr.TTL("processed:m1"); ttl != 24*time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	mr.FastForward(25 * time.Hour)
	if ok, _ := d.MarkProcessed(ctx, "m1"); !ok {
		t.Fatal("marker should expire after a day")
	}
}

func TestDedupScopesAreIndependent(t *testing.T) {
	mr, client := newTestClient(t)
	ctx := context.Background()
	a := NewDedupStore(client).WithScope("socket-a")
	b := NewDedupStore(client).WithScope("socket-b")

	for _, d := range []*DedupStore{a, b} {
		if ok, err := d.MarkProcessed(ctx, "m1"); err != nil || !ok {
			t.Fatalf("first claim per scope = %v, %v", ok, err)
		}
	}
	if ok, _ := a.MarkProcessed(ctx, "m1"); ok {
		t.Fatal("replay within a scope must be rejected")
	}
	if !mr.Exists("processed:socket-a:m1") {
		t.Fatal("scoped marker key missing")
	}
}

func TestSessionCounterNeverGoesNegative(t *testing.T) {
	mr, client := newTestClient(t)
	p := NewPresenceStore(client)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := p.IncrementSessions(ctx, "u1")
		if err != nil || n != int64(i) {
			t.Fatalf("increment %d = %d, %v", i, n, err)
		}
	}
	for want := int64(2); want >= 0; want-- {
		n, err := p.DecrementSessions(ctx, "u1")
		if err != nil || n != want {
			t.Fatalf("decrement = %d, %v; want %d", n, err, want)
		}
	}
	if mr.Exists("presence:sessions:u1") {
		t.Fatal("counter should be deleted at zero")
	}

	n, err := p.DecrementSessions(ctx, "u1")
	if err != nil || n != -1 {
		t.Fatalf("stray decrement = %d, %v", n, err)
	}
	if mr.Exists("presence:sessions:u1") {
		t.Fatal("negative counter must not be stored")
	}
	if online, _ := p.IsOnline(ctx, "u1"); online {
		t.Fatal("user with no sessions reported online")
	}
}

func TestIsOnlineFallsBackToStatusOnlyForCorruptCounter(t *testing.T) {
	mr, client := newTestClient(t)
	p := NewPresenceStore(client)
	ctx := context.Background()

	_ = mr.Set("presence:status:u1", "online")
	if online, _ := p.IsOnline(ctx, "u1"); online {
		t.Fatal("missing counter must mean offline even with a stale status flag")
	}

	_ = mr.Set("presence:sessions:u1", "garbage")
	if online, _ := p.IsOnline(ctx, "u1"); !online {
		t.Fatal("corrupt counter should fall back to the status flag")
	}

	_ = mr.Set("presence:sessions:u1", "0")
	if online, _ := p.IsOnline(ctx, "u1"); online {
		t.Fatal("zero counter means offline")
	}
}

func TestMarkOfflineAndFriendStates(t *testing.T) {
	mr, client := newTestClient(t)
	p := NewPresenceStore(client)
	ctx := context.Background()
	at := time.UnixMilli(1700000000123)

	_, _ = p.IncrementSessions(ctx, "online-friend")
	if err := p.MarkOffline(ctx, "gone-friend", at); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("presence:lastSeen:gone-friend"); ttl != 7*24*time.Hour {
		t.Fatalf("lastSeen ttl = %v", ttl)
	}

	states, err := p.FriendStates(ctx, []string{"online-friend", "gone-friend", "never-seen"})
	if err != nil {
		t.Fatal(err)
	}
	if !states[0].Online || states[0].LastSeen != nil {
		t.Fatalf("online friend: %+v", states[0])
	}
	if states[1].Online || states[1].LastSeen == nil || *states[1].LastSeen != 1700000000123 {
		t.Fatalf("offline friend: %+v", states[1])
	}
	if states[2].Online || states[2].LastSeen != nil {
		t.Fatalf("unknown friend: %+v", states[2])
	}
}

func TestFriendCache(t *testing.T) {
	mr, client := newTestClient(t)
	p := NewPresenceStore(client)
	ctx := context.Background()

	list := []friends.Friend{{ID: "f1", Username: "alice"}, {ID: "f2"}}
	if err := p.CacheFriends(ctx, "u1", list); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("presence:friends:u1"); ttl != 6*time.Hour {
		t.Fatalf("friends ttl = %v", ttl)
	}
	got, err := p.CachedFriends(ctx, "u1")
	if err != nil || len(got) != 2 || got[0].Username != "alice" {
		t.Fatalf("cached = %+v, %v", got, err)
	}

	if err := p.CacheFriends(ctx, "u1", nil); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("presence:friends:u1") {
		t.Fatal("empty list should clear the cache")
	}
	if got, _ := p.CachedFriends(ctx, "u1"); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestAllowCallEnforcesLimit(t *testing.T) {
	_, client := newTestClient(t)
	rl := NewRateLimiter(client, RateLimitConfig{CallLimit: 2, CallWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := rl.AllowCall(ctx, "u1")
		if err != nil || !res.Allowed {
			t.Fatalf("call %d should be allowed: %+v, %v", i, res, err)
		}
	}
	res, err := rl.AllowCall(ctx, "u1")
	if err != nil || res.Allowed || res.Remaining != 0 {
		t.Fatalf("third call should be limited: %+v, %v", res, err)
	}
	if err := rl.ResetUser(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if res, _ := rl.AllowCall(ctx, "u1"); !res.Allowed {
		t.Fatal("reset should restore quota")
	}
}
