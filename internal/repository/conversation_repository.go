package repository

import (
	"context"

	"github.com/google/uuid"

	"sentinal-relay/internal/domain/conversation"
	sentinal_errors "sentinal-relay/pkg/errors"
)

type conversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT c.id, c.type, u.id, COALESCE(u.username, ''), COALESCE(u.display_name, ''), COALESCE(u.avatar_url, ''),
               COALESCE(p.left_at IS NULL, false)
        FROM conversations c
        LEFT JOIN participants p ON p.conversation_id = c.id
        LEFT JOIN users u ON u.id = p.user_id
        WHERE c.id = $1
        ORDER BY p.joined_at ASC
    `, id)
	if err != nil {
		return conversation.Conversation{}, err
	}
	defer rows.Close()

	var (
		conv  conversation.Conversation
		found bool
	)
	for rows.Next() {
		var (
			convType string
			userID   uuid.NullUUID
			p        conversation.Participant
		)
		if err := rows.Scan(&conv.ID, &convType, &userID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.Active); err != nil {
			return conversation.Conversation{}, err
		}
		found = true
		conv.Type = conversation.Type(convType)
		if userID.Valid {
			p.UserID = userID.UUID
			conv.Participants = append(conv.Participants, p)
		}
	}
	if err := rows.Err(); err != nil {
		return conversation.Conversation{}, err
	}
	if !found {
		return conversation.Conversation{}, sentinal_errors.ErrNotFound
	}
	return conv, nil
}
