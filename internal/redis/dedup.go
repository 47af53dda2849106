package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	processedKeyPrefix = "processed:"
	processedTTL       = 24 * time.Hour
)

// DedupStore remembers processed message tokens for a day.
type DedupStore struct {
	client *goredis.Client
	ttl    time.Duration
	scope  string
}

func NewDedupStore(client *goredis.Client) *DedupStore {
	return &DedupStore{client: client, ttl: processedTTL}
}

// WithScope returns a store whose markers live under processed:<scope>:.
// Socket instances that each receive every broker message use their
// instance id so one instance's claim does not suppress delivery on another.
func (d *DedupStore) WithScope(scope string) *DedupStore {
	out := *d
	out.scope = scope
	return &out
}

func (d *DedupStore) key(token string) string {
	if d.scope == "" {
		return processedKeyPrefix + token
	}
	return processedKeyPrefix + d.scope + ":" + token
}

// MarkProcessed atomically claims token. It returns true for the first
// claim and false when the token was already processed.
func (d *DedupStore) MarkProcessed(ctx context.Context, token string) (bool, error) {
	return d.client.SetNX(ctx, d.key(token), "1", d.ttl).Result()
}
