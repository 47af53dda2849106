package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sentinal-relay/internal/auth"
	"sentinal-relay/internal/domain/conversation"
	"sentinal-relay/internal/middleware"
	"sentinal-relay/internal/redis"
	"sentinal-relay/internal/repository/memory"
	"sentinal-relay/internal/services"
	"sentinal-relay/internal/transport/httpdto"
	"sentinal-relay/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const testSecret = "handler-test-secret"

type callAPI struct {
	router     *gin.Engine
	alice, bob uuid.UUID
	conv       uuid.UUID
}

func newCallAPI(t *testing.T, limiter *redis.RateLimiter) *callAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	api := &callAPI{alice: uuid.New(), bob: uuid.New(), conv: uuid.New()}
	store := memory.NewStore()
	store.PutConversation(conversation.Conversation{ID: api.conv, Type: conversation.TypeDirect, Participants: []conversation.Participant{
		{UserID: api.alice, Username: "alice", DisplayName: "Alice", Active: true},
		{UserID: api.bob, Username: "bob", Active: true},
	}})
	svc := services.NewCallService(store, store.Calls(), store, nil, zap.NewNop())

	r := gin.New()
	r.Use(middleware.RequestIDMiddleware(), middleware.ErrorHandler(logger.NewNop()))
	v1 := r.Group("/v1", middleware.AuthMiddleware(auth.NewVerifier(testSecret, false)))
	NewCallHandler(svc).Register(v1, middleware.CallRateLimitMiddleware(limiter))
	api.router = r
	return api
}

func bearer(t *testing.T, userID uuid.UUID, username string) string {
	t.Helper()
	claims := auth.AccessClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + token
}

func (a *callAPI) do(t *testing.T, method, path string, as uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != uuid.Nil {
		req.Header.Set("Authorization", bearer(t, as, "user"))
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) httpdto.Response[T] {
	t.Helper()
	var out httpdto.Response[T]
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func (a *callAPI) initiate(t *testing.T) httpdto.CallDTO {
	t.Helper()
	w := a.do(t, http.MethodPost, "/v1/calls", a.alice, httpdto.InitiateCallRequest{
		ConversationID: a.conv.String(),
		ReceiverID:     a.bob.String(),
		Type:           "VOICE",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate status %d: %s", w.Code, w.Body.String())
	}
	return decode[httpdto.CallDTO](t, w).Data
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	api := newCallAPI(t, nil)
	created := api.initiate(t)
	if created.Status != "INITIATED" || created.CallerName != "Alice" || created.AnsweredAt != nil {
		t.Fatalf("unexpected created call %+v", created)
	}

	w := api.do(t, http.MethodPost, "/v1/calls/"+created.ID+"/answer", api.alice, nil)
	if w.Code != http.StatusForbidden || decode[any](t, w).Code != "FORBIDDEN" {
		t.Fatalf("caller answer: %d %s", w.Code, w.Body.String())
	}

	w = api.do(t, http.MethodPost, "/v1/calls/"+created.ID+"/answer", api.bob, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("answer: %d %s", w.Code, w.Body.String())
	}
	if got := decode[httpdto.CallDTO](t, w).Data; got.Status != "ANSWERED" || got.AnsweredAt == nil {
		t.Fatalf("unexpected answered call %+v", got)
	}

	w = api.do(t, http.MethodPost, "/v1/calls/"+created.ID+"/reject", api.bob, nil)
	if w.Code != http.StatusConflict || decode[any](t, w).Code != "CONFLICT" {
		t.Fatalf("reject after answer: %d %s", w.Code, w.Body.String())
	}

	w = api.do(t, http.MethodPost, "/v1/calls/"+created.ID+"/end", api.alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("end: %d %s", w.Code, w.Body.String())
	}
	ended := decode[httpdto.CallDTO](t, w).Data
	if ended.Status != "ENDED" || ended.EndedBy == nil || *ended.EndedBy != api.alice.String() || ended.Duration == nil {
		t.Fatalf("unexpected ended call %+v", ended)
	}

	w = api.do(t, http.MethodGet, "/v1/calls/"+created.ID, api.bob, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
}

func TestCallRoutesRequireAuth(t *testing.T) {
	api := newCallAPI(t, nil)
	w := api.do(t, http.MethodGet, "/v1/calls/active", uuid.Nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCallRequestValidation(t *testing.T) {
	api := newCallAPI(t, nil)
	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"missing body fields", http.MethodPost, "/v1/calls", map[string]string{"type": "VOICE"}, http.StatusBadRequest},
		{"bad conversation id", http.MethodPost, "/v1/calls", httpdto.InitiateCallRequest{ConversationID: "x", ReceiverID: uuid.NewString(), Type: "VOICE"}, http.StatusBadRequest},
		{"bad call type", http.MethodPost, "/v1/calls", httpdto.InitiateCallRequest{ConversationID: api.conv.String(), ReceiverID: api.bob.String(), Type: "FAX"}, http.StatusBadRequest},
		{"unknown conversation", http.MethodPost, "/v1/calls", httpdto.InitiateCallRequest{ConversationID: uuid.NewString(), ReceiverID: api.bob.String(), Type: "VOICE"}, http.StatusNotFound},
		{"bad call id", http.MethodPost, "/v1/calls/nope/answer", nil, http.StatusBadRequest},
		{"unknown call", http.MethodGet, "/v1/calls/" + uuid.NewString(), nil, http.StatusNotFound},
		{"bad history filter", http.MethodGet, "/v1/calls/history?conversationId=zzz", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := api.do(t, tc.method, tc.path, api.alice, tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
		})
	}
}

func TestActiveAndHistory(t *testing.T) {
	api := newCallAPI(t, nil)
	first := api.initiate(t)
	second := api.initiate(t)

	w := api.do(t, http.MethodGet, "/v1/calls/active", api.bob, nil)
	active := decode[struct {
		Calls []httpdto.CallDTO `json:"calls"`
	}](t, w).Data
	if len(active.Calls) != 1 || active.Calls[0].ID != second.ID {
		t.Fatalf("unexpected active calls %+v", active.Calls)
	}

	w = api.do(t, http.MethodGet, "/v1/calls/history?page=1&size=1&conversationId="+api.conv.String(), api.bob, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d %s", w.Code, w.Body.String())
	}
	page := decode[httpdto.CallHistoryResponse](t, w).Data
	if page.Total != 2 || page.Size != 1 || len(page.Calls) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	w = api.do(t, http.MethodGet, "/v1/calls/history?page=2&size=1", api.bob, nil)
	page = decode[httpdto.CallHistoryResponse](t, w).Data
	if len(page.Calls) != 1 || page.Calls[0].ID != first.ID || page.Calls[0].EndReason != "replaced_by_new_call" {
		t.Fatalf("unexpected second page %+v", page)
	}
}

func TestInitiateIsRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := redis.NewRateLimiter(client, redis.RateLimitConfig{CallLimit: 1, CallWindow: time.Minute})

	api := newCallAPI(t, limiter)
	api.initiate(t)
	w := api.do(t, http.MethodPost, "/v1/calls", api.alice, httpdto.InitiateCallRequest{
		ConversationID: api.conv.String(),
		ReceiverID:     api.bob.String(),
		Type:           "VOICE",
	})
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "1" || w.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected headers %v", w.Header())
	}

	w = api.do(t, http.MethodGet, "/v1/calls/active", api.alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reads must not be limited: %d", w.Code)
	}
}
