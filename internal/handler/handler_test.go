package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/support-router/internal/bot"
	"github.com/omnidesk/support-router/internal/channel"
	"github.com/omnidesk/support-router/internal/hub"
	"github.com/omnidesk/support-router/internal/middleware"
	"github.com/omnidesk/support-router/internal/model"
	"github.com/omnidesk/support-router/internal/service"
	"github.com/omnidesk/support-router/internal/store"
	"github.com/omnidesk/support-router/pkg/logger"
)

// testIdentity reads the synthetic auth headers the tests set, standing in
// for the JWT middleware.
func testIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.UserIDKey, r.Header.Get("X-Test-User"))
		ctx = context.WithValue(ctx, middleware.RoleKey, model.Role(r.Header.Get("X-Test-Role")))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	log := logger.Nop()
	conversations := store.NewMemoryConversationStore()
	messages := store.NewMemoryMessageStore()
	users := store.NewMemoryUserStore()

	adapters := channel.NewRegistry()
	adapters.Register(channel.NewWebChatAdapter(channel.DevTransport))
	adapters.Register(channel.NewWhatsAppAdapter(channel.DevTransport))

	broadcastHub := hub.New(users, log)
	botEngine := bot.NewEngine()
	manager := service.NewConversationManager(conversations, broadcastHub, botEngine, nil, 35*time.Minute, log)
	coordinator := service.NewEscalationCoordinator(manager, broadcastHub, log)
	router := service.NewMessageRouter(
		messages, manager, adapters, botEngine, coordinator, broadcastHub, nil,
		10*time.Minute, time.Second, log,
	)
	suggestions := service.NewSuggestionService(messages, manager, nil, log)

	healthHandler := NewHealthHandler(nil)
	conversationHandler := NewConversationHandler(manager, log)
	messageHandler := NewMessageHandler(router, suggestions, log)
	webhookHandler := NewWebhookHandler(router, log)

	r := chi.NewRouter()
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Post("/webhooks/{channel}", webhookHandler.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(testIdentity)
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Post("/claim", conversationHandler.Claim)
				r.Post("/release", conversationHandler.Release)
				r.Post("/end", conversationHandler.End)
				r.Post("/read", conversationHandler.MarkRead)
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Post("/suggest", messageHandler.Suggest)
			})
		})
		r.Delete("/messages/{id}", messageHandler.Delete)
		r.Post("/bot/reset/{senderId}", webhookHandler.ResetBot)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, user string, body []byte) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-Test-User", user)
		req.Header.Set("X-Test-Role", string(model.RoleAgent))
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		decoded = nil
	}
	return resp, decoded
}

// seedConversation posts a webchat message and returns the conversation id.
func seedConversation(t *testing.T, srv *httptest.Server, messageID, visitorID string) string {
	t.Helper()

	payload := fmt.Sprintf(`{"message_id": %q, "visitor_id": %q, "text": "hello"}`, messageID, visitorID)
	resp, body := doRequest(t, srv, http.MethodPost, "/webhooks/webchat", "", []byte(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["conversation_id"])
	return body["conversation_id"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, body = doRequest(t, srv, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestWebhookIngestsMessage(t *testing.T) {
	srv := newTestServer(t)

	convID := seedConversation(t, srv, "m-1", "v-1")
	assert.NotEmpty(t, convID)
}

func TestWebhookRedeliveryReturnsSameMessage(t *testing.T) {
	srv := newTestServer(t)

	payload := []byte(`{"message_id": "m-1", "visitor_id": "v-1", "text": "hello"}`)
	_, first := doRequest(t, srv, http.MethodPost, "/webhooks/webchat", "", payload)
	_, second := doRequest(t, srv, http.MethodPost, "/webhooks/webchat", "", payload)

	assert.Equal(t, first["message_id"], second["message_id"])
	assert.Equal(t, first["conversation_id"], second["conversation_id"])
}

func TestWebhookAcknowledgesNonMessages(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodPost, "/webhooks/webchat", "",
		[]byte(`{"message_id": "m-1", "visitor_id": "v-1", "typing": true}`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhookAbsorbsMalformedPayload(t *testing.T) {
	srv := newTestServer(t)

	// A malformed body never becomes valid; 200 stops the provider's
	// retry loop without creating anything.
	resp, _ := doRequest(t, srv, http.MethodPost, "/webhooks/webchat", "", []byte(`{broken`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebhookUnknownChannel(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodPost, "/webhooks/telex", "", []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestClaimFlow(t *testing.T) {
	srv := newTestServer(t)
	convID := seedConversation(t, srv, "m-1", "v-1")

	resp, body := doRequest(t, srv, http.MethodPost, "/api/v1/conversations/"+convID+"/claim", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["agent_id"])
	assert.Equal(t, "active", body["status"])

	// A second agent gets a conflict.
	resp, _ = doRequest(t, srv, http.MethodPost, "/api/v1/conversations/"+convID+"/claim", "bob", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Release by a non-owner is forbidden, by the owner allowed.
	resp, _ = doRequest(t, srv, http.MethodPost, "/api/v1/conversations/"+convID+"/release", "bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = doRequest(t, srv, http.MethodPost, "/api/v1/conversations/"+convID+"/release", "alice", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClaimValidation(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodPost, "/api/v1/conversations/not-a-uuid/claim", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodPost,
		"/api/v1/conversations/00000000-0000-7000-8000-000000000000/claim", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessageRequiresClaim(t *testing.T) {
	srv := newTestServer(t)
	convID := seedConversation(t, srv, "m-1", "v-1")

	sendBody := []byte(`{"content": "how can I help?"}`)
	path := "/api/v1/conversations/" + convID + "/messages"

	resp, _ := doRequest(t, srv, http.MethodPost, path, "alice", sendBody)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodPost, "/api/v1/conversations/"+convID+"/claim", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doRequest(t, srv, http.MethodPost, path, "alice", sendBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "outbound", body["direction"])
	assert.Equal(t, "sent", body["status"])

	// Empty content never reaches the router.
	resp, _ = doRequest(t, srv, http.MethodPost, path, "alice", []byte(`{"content": ""}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListMessages(t *testing.T) {
	srv := newTestServer(t)
	convID := seedConversation(t, srv, "m-1", "v-1")

	resp, body := doRequest(t, srv, http.MethodGet, "/api/v1/conversations/"+convID+"/messages", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Inbound greeting plus the bot's reply.
	assert.Equal(t, float64(2), body["total"])
}

func TestListConversationsFilters(t *testing.T) {
	srv := newTestServer(t)
	seedConversation(t, srv, "m-1", "v-1")
	convID := seedConversation(t, srv, "m-2", "v-2")

	resp, _ := doRequest(t, srv, http.MethodPost, "/api/v1/conversations/"+convID+"/claim", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doRequest(t, srv, http.MethodGet, "/api/v1/conversations?status=pending", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total"])

	resp, body = doRequest(t, srv, http.MethodGet, "/api/v1/conversations?mine=true", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total"])

	resp, body = doRequest(t, srv, http.MethodGet, "/api/v1/conversations", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total"])
}

func TestMarkReadEndpoint(t *testing.T) {
	srv := newTestServer(t)
	convID := seedConversation(t, srv, "m-1", "v-1")

	resp, body := doRequest(t, srv, http.MethodPost, "/api/v1/conversations/"+convID+"/read", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["unread_count"])
}

func TestEndRequiresOwnershipUnlessAdmin(t *testing.T) {
	srv := newTestServer(t)
	convID := seedConversation(t, srv, "m-1", "v-1")

	resp, _ := doRequest(t, srv, http.MethodPost, "/api/v1/conversations/"+convID+"/claim", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodPost, "/api/v1/conversations/"+convID+"/end", "bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/conversations/"+convID+"/end", nil)
	require.NoError(t, err)
	req.Header.Set("X-Test-User", "root")
	req.Header.Set("X-Test-Role", string(model.RoleAdmin))
	adminResp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer adminResp.Body.Close()
	assert.Equal(t, http.StatusOK, adminResp.StatusCode)
}

func TestDeleteMessage(t *testing.T) {
	srv := newTestServer(t)
	convID := seedConversation(t, srv, "m-1", "v-1")

	resp, body := doRequest(t, srv, http.MethodGet, "/api/v1/conversations/"+convID+"/messages", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	messages := body["messages"].([]any)
	messageID := messages[0].(map[string]any)["id"].(string)

	resp, deleted := doRequest(t, srv, http.MethodDelete, "/api/v1/messages/"+messageID, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, deleted["is_deleted"])

	resp, _ = doRequest(t, srv, http.MethodDelete, "/api/v1/messages/not-a-uuid", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSuggestDisabledWithoutProvider(t *testing.T) {
	srv := newTestServer(t)
	convID := seedConversation(t, srv, "m-1", "v-1")

	resp, _ := doRequest(t, srv, http.MethodPost, "/api/v1/conversations/"+convID+"/claim", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodPost, "/api/v1/conversations/"+convID+"/suggest", "alice", nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestBotResetEndpoint(t *testing.T) {
	srv := newTestServer(t)
	seedConversation(t, srv, "m-1", "v-1")

	resp, body := doRequest(t, srv, http.MethodPost, "/api/v1/bot/reset/v-1?channel=webchat", "root", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reset", body["status"])
}
