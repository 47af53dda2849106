package handler

import (
	"fmt"
	"net/http"

	"sentinal-relay/internal/domain/call"
	"sentinal-relay/internal/services"
	"sentinal-relay/internal/transport/httpdto"
	sentinal_errors "sentinal-relay/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type CallHandler struct {
	service *services.CallService
}

func NewCallHandler(service *services.CallService) *CallHandler {
	return &CallHandler{service: service}
}

// Register mounts the call routes on rg. initiate runs before Initiate only.
func (h *CallHandler) Register(rg *gin.RouterGroup, initiate ...gin.HandlerFunc) {
	calls := rg.Group("/calls")
	calls.POST("", append(initiate, h.Initiate)...)
	calls.GET("/active", h.Active)
	calls.GET("/history", h.History)
	calls.GET("/:id", h.GetByID)
	calls.POST("/:id/answer", h.Answer)
	calls.POST("/:id/reject", h.Reject)
	calls.POST("/:id/end", h.End)
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return uuid.Nil, false
	}
	return userID, true
}

func callIDParam(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid call id", "INVALID_REQUEST"))
		return uuid.Nil, false
	}
	return callID, true
}

func (h *CallHandler) Initiate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req httpdto.InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid conversationId", "INVALID_REQUEST"))
		return
	}
	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid receiverId", "INVALID_REQUEST"))
		return
	}

	details, err := h.service.Initiate(c.Request.Context(), userID, services.InitiateCallInput{
		ConversationID: conversationID,
		ReceiverID:     receiverID,
		Type:           call.Type(req.Type),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(httpdto.FromCall(details)))
}

type transitionFunc func(c *gin.Context, callID, userID uuid.UUID) (services.CallDetails, error)

func (h *CallHandler) transition(c *gin.Context, fn transitionFunc) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	details, err := fn(c, callID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromCall(details)))
}

func (h *CallHandler) Answer(c *gin.Context) {
	h.transition(c, func(c *gin.Context, callID, userID uuid.UUID) (services.CallDetails, error) {
		return h.service.Answer(c.Request.Context(), callID, userID)
	})
}

func (h *CallHandler) Reject(c *gin.Context) {
	h.transition(c, func(c *gin.Context, callID, userID uuid.UUID) (services.CallDetails, error) {
		return h.service.Reject(c.Request.Context(), callID, userID)
	})
}

func (h *CallHandler) End(c *gin.Context) {
	h.transition(c, func(c *gin.Context, callID, userID uuid.UUID) (services.CallDetails, error) {
		return h.service.End(c.Request.Context(), callID, userID)
	})
}

func (h *CallHandler) GetByID(c *gin.Context) {
	h.transition(c, func(c *gin.Context, callID, userID uuid.UUID) (services.CallDetails, error) {
		return h.service.Get(c.Request.Context(), callID, userID)
	})
}

func (h *CallHandler) Active(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	items, err := h.service.Active(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"calls": httpdto.FromCallSlice(items)}))
}

func (h *CallHandler) History(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var q httpdto.CallHistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid query", "INVALID_REQUEST"))
		return
	}
	var conversationID *uuid.UUID
	if q.ConversationID != "" {
		id, err := uuid.Parse(q.ConversationID)
		if err != nil {
			_ = c.Error(fmt.Errorf("conversationId: %w", sentinal_errors.ErrInvalidInput))
			return
		}
		conversationID = &id
	}
	history, err := h.service.History(c.Request.Context(), userID, conversationID, q.Page, q.Size)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.FromCallHistory(history)))
}
