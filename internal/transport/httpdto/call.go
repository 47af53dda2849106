package httpdto

import (
	"time"

	"sentinal-relay/internal/services"
)

// InitiateCallRequest is used for POST /v1/calls
type InitiateCallRequest struct {
	ConversationID string `json:"conversationId" binding:"required"`
	ReceiverID     string `json:"receiverId" binding:"required"`
	Type           string `json:"type" binding:"required"` // "VOICE" or "VIDEO"
}

// CallHistoryQuery holds query parameters for GET /v1/calls/history
type CallHistoryQuery struct {
	ConversationID string `form:"conversationId"`
	Page           int    `form:"page"`
	Size           int    `form:"size"`
}

// CallDTO represents a call in API responses
type CallDTO struct {
	ID                string  `json:"id"`
	ConversationID    string  `json:"conversationId"`
	CallerID          string  `json:"callerId"`
	CallerName        string  `json:"callerName,omitempty"`
	CallerAvatarURL   string  `json:"callerAvatarUrl,omitempty"`
	ReceiverID        string  `json:"receiverId"`
	ReceiverName      string  `json:"receiverName,omitempty"`
	ReceiverAvatarURL string  `json:"receiverAvatarUrl,omitempty"`
	Type              string  `json:"type"`
	Status            string  `json:"status"`
	StartedAt         string  `json:"startedAt"`
	AnsweredAt        *string `json:"answeredAt"`
	EndedAt           *string `json:"endedAt"`
	EndedBy           *string `json:"endedBy"`
	EndReason         string  `json:"endReason,omitempty"`
	Duration          *int64  `json:"duration"`
}

// CallHistoryResponse is returned when paging through call history
type CallHistoryResponse struct {
	Calls []CallDTO `json:"calls"`
	Total int64     `json:"total"`
	Page  int       `json:"page"`
	Size  int       `json:"size"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// FromCall converts a call with its participant profiles to CallDTO
func FromCall(d services.CallDetails) CallDTO {
	dto := CallDTO{
		ID:             d.ID.String(),
		ConversationID: d.ConversationID.String(),
		CallerID:       d.CallerID.String(),
		ReceiverID:     d.ReceiverID.String(),
		Type:           string(d.Type),
		Status:         d.Status.String(),
		StartedAt:      d.StartedAt.UTC().Format(time.RFC3339),
		AnsweredAt:     formatTime(d.AnsweredAt),
		EndedAt:        formatTime(d.EndedAt),
		EndReason:      d.EndReason,
		Duration:       d.DurationSeconds,
	}
	if d.EndedBy != nil {
		by := d.EndedBy.String()
		dto.EndedBy = &by
	}
	if d.Caller != nil {
		dto.CallerName = d.Caller.Name()
		dto.CallerAvatarURL = d.Caller.AvatarURL
	}
	if d.Receiver != nil {
		dto.ReceiverName = d.Receiver.Name()
		dto.ReceiverAvatarURL = d.Receiver.AvatarURL
	}
	return dto
}

// FromCallSlice converts a slice of calls to CallDTO slice
func FromCallSlice(calls []services.CallDetails) []CallDTO {
	dtos := make([]CallDTO, len(calls))
	for i, c := range calls {
		dtos[i] = FromCall(c)
	}
	return dtos
}

func FromCallHistory(h services.CallHistory) CallHistoryResponse {
	return CallHistoryResponse{
		Calls: FromCallSlice(h.Items),
		Total: h.Total,
		Page:  h.Page,
		Size:  h.Size,
	}
}
