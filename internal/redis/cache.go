package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/repository"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache key patterns:
// - conversation:{conv_id} - short TTL, type plus participant profiles

const DefaultConversationTTL = 30 * time.Second

type cachedParticipant struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Active      bool      `json:"active"`
}

type cachedConversation struct {
	ID           uuid.UUID           `json:"id"`
	Type         string              `json:"type"`
	Participants []cachedParticipant `json:"participants"`
}

// ConversationCache is a read-through cache in front of the conversation
// repository. Membership changes are not invalidated, so the TTL bounds how
// stale an authorization decision can be.
type ConversationCache struct {
	client *goredis.Client
	next   repository.ConversationRepository
	ttl    time.Duration
	logger *zap.Logger
}

var _ repository.ConversationRepository = (*ConversationCache)(nil)

func NewConversationCache(client *goredis.Client, next repository.ConversationRepository, ttl time.Duration, logger *zap.Logger) *ConversationCache {
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationCache{client: client, next: next, ttl: ttl, logger: logger.Named("conversation-cache")}
}

func conversationKey(id uuid.UUID) string {
	return fmt.Sprintf("conversation:%s", id.String())
}

// GetByID serves from Redis when possible. Redis failures fall through to the
// repository; lookups that fail are never cached.
func (c *ConversationCache) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	data, err := c.client.Get(ctx, conversationKey(id)).Bytes()
	switch {
	case err == nil:
		var cached cachedConversation
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached.toDomain(), nil
		}
		c.logger.Warn("dropping undecodable cache entry", zap.String("conversation_id", id.String()))
	case !errors.Is(err, goredis.Nil):
		c.logger.Warn("conversation cache read failed", zap.String("conversation_id", id.String()), zap.Error(err))
	}

	conv, err := c.next.GetByID(ctx, id)
	if err != nil {
		return conv, err
	}
	c.store(ctx, conv)
	return conv, nil
}

// Invalidate removes a cached conversation.
func (c *ConversationCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	return c.client.Del(ctx, conversationKey(id)).Err()
}

func (c *ConversationCache) store(ctx context.Context, conv conversation.Conversation) {
	data, err := json.Marshal(fromDomain(conv))
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, conversationKey(conv.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("conversation cache write failed", zap.String("conversation_id", conv.ID.String()), zap.Error(err))
	}
}

func fromDomain(conv conversation.Conversation) cachedConversation {
	out := cachedConversation{ID: conv.ID, Type: string(conv.Type), Participants: make([]cachedParticipant, 0, len(conv.Participants))}
	for _, p := range conv.Participants {
		out.Participants = append(out.Participants, cachedParticipant(p))
	}
	return out
}

func (c cachedConversation) toDomain() conversation.Conversation {
	out := conversation.Conversation{ID: c.ID, Type: conversation.Type(c.Type), Participants: make([]conversation.Participant, 0, len(c.Participants))}
	for _, p := range c.Participants {
		out.Participants = append(out.Participants, conversation.Participant(p))
	}
	return out
}
