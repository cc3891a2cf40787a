package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medres/whatsapp-gateway/internal/config"
	"github.com/medres/whatsapp-gateway/internal/wa"
)

type stubChat struct {
	id string
}

func (c *stubChat) ID() string   { return c.id }
func (c *stubChat) Name() string { return "" }

func (c *stubChat) FetchMessages(ctx context.Context, limit int) ([]wa.RawMessage, error) {
	return nil, nil
}

type stubSession struct {
	mu       sync.Mutex
	handlers wa.EventHandlers
	chats    map[string]wa.Chat
	sent     []string
}

func (s *stubSession) Initialize(ctx context.Context) error { return nil }
func (s *stubSession) Destroy(ctx context.Context) error    { return nil }

func (s *stubSession) SendMessage(ctx context.Context, chatID, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, chatID)
	return nil
}

func (s *stubSession) GetChatByID(ctx context.Context, chatID string) (wa.Chat, error) {
	if chat, ok := s.chats[chatID]; ok {
		return chat, nil
	}
	return nil, errors.New("chat not found")
}

func (s *stubSession) GetContacts(ctx context.Context) ([]wa.RawContact, error) {
	return []wa.RawContact{{ID: "c1", Name: "Alice", Number: "111", IsMyContact: true}}, nil
}

func (s *stubSession) GetChats(ctx context.Context) ([]wa.Chat, error) { return nil, nil }
func (s *stubSession) SelfNumber() string                              { return "5511999999999" }

func (s *stubSession) SetHandlers(h wa.EventHandlers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = h
}

func (s *stubSession) events() wa.EventHandlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers
}

type gatewayFixture struct {
	registry *wa.Registry
	router   http.Handler

	mu       sync.Mutex
	sessions map[string]*stubSession
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	f := &gatewayFixture{sessions: make(map[string]*stubSession)}
	factory := func(identity wa.ClientIdentity) (wa.Session, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		s := &stubSession{chats: make(map[string]wa.Chat)}
		f.sessions[identity.ClientID] = s
		return s, nil
	}

	f.registry = wa.NewRegistry(factory, wa.Options{AuthDataPath: t.TempDir()})
	f.router = NewGatewayHandler(f.registry, nil, nil).Routes()
	return f
}

func (f *gatewayFixture) session(organizationID string) *stubSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions["whatsapp-org-"+organizationID]
}

// connectReady drives an organization through pairing to the ready state.
func (f *gatewayFixture) connectReady(t *testing.T, organizationID string) *stubSession {
	t.Helper()
	require.NoError(t, f.registry.Connect(context.Background(), organizationID))
	s := f.session(organizationID)
	s.events().OnReady()
	return s
}

func (f *gatewayFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGetStatus(t *testing.T) {
	t.Run("unknown organization reads as disconnected", func(t *testing.T) {
		f := newGatewayFixture(t)

		rec := f.do(http.MethodGet, "/ghost/status", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		data := body["data"].(map[string]any)
		assert.Equal(t, false, data["isReady"])
		assert.Equal(t, false, data["isConnecting"])
		assert.Nil(t, data["qrCode"])
	})

	t.Run("ready organization", func(t *testing.T) {
		f := newGatewayFixture(t)
		f.connectReady(t, "org1")

		rec := f.do(http.MethodGet, "/org1/status", "")
		require.Equal(t, http.StatusOK, rec.Code)

		data := decode(t, rec)["data"].(map[string]any)
		assert.Equal(t, true, data["isReady"])
	})
}

func TestGetQR(t *testing.T) {
	t.Run("404 when no code pending", func(t *testing.T) {
		f := newGatewayFixture(t)

		rec := f.do(http.MethodGet, "/org1/qr", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", decode(t, rec)["code"])
	})

	t.Run("returns pending code with image data url", func(t *testing.T) {
		f := newGatewayFixture(t)
		require.NoError(t, f.registry.Connect(context.Background(), "org1"))
		f.session("org1").events().OnQR("ABC123")

		rec := f.do(http.MethodGet, "/org1/qr", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		assert.Equal(t, "ABC123", body["qr"])
		qrImage, ok := body["qrImage"].(string)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(qrImage, "data:image/png;base64,"))
	})
}

func TestConnectEndpoint(t *testing.T) {
	f := newGatewayFixture(t)

	rec := f.do(http.MethodPost, "/org1/connect", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["isConnecting"])
}

func TestSendEndpoint(t *testing.T) {
	t.Run("rejects invalid json", func(t *testing.T) {
		f := newGatewayFixture(t)
		rec := f.do(http.MethodPost, "/org1/send", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decode(t, rec)["code"])
	})

	t.Run("rejects missing recipient", func(t *testing.T) {
		f := newGatewayFixture(t)
		rec := f.do(http.MethodPost, "/org1/send", `{"message":"hello"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MISSING_REQUIRED", decode(t, rec)["code"])
	})

	t.Run("rejects missing message", func(t *testing.T) {
		f := newGatewayFixture(t)
		rec := f.do(http.MethodPost, "/org1/send", `{"to":"5511999"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MISSING_REQUIRED", decode(t, rec)["code"])
	})

	t.Run("rejects malformed recipient", func(t *testing.T) {
		f := newGatewayFixture(t)
		rec := f.do(http.MethodPost, "/org1/send", `{"to":"not-a-number!","message":"hello"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_RECIPIENT", decode(t, rec)["code"])
	})

	t.Run("rejects oversized message", func(t *testing.T) {
		f := newGatewayFixture(t)
		long := strings.Repeat("x", config.MaxMessageLength+1)
		rec := f.do(http.MethodPost, "/org1/send", `{"to":"5511999","message":"`+long+`"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MESSAGE_TOO_LONG", decode(t, rec)["code"])
	})

	t.Run("409 when organization not connected", func(t *testing.T) {
		f := newGatewayFixture(t)
		rec := f.do(http.MethodPost, "/ghost/send", `{"to":"5511999","message":"hello"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "NOT_CONNECTED", decode(t, rec)["code"])
	})

	t.Run("404 when chat unresolvable", func(t *testing.T) {
		f := newGatewayFixture(t)
		f.connectReady(t, "org1")

		rec := f.do(http.MethodPost, "/org1/send", `{"to":"5511999","message":"hello"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "CHAT_NOT_FOUND", decode(t, rec)["code"])
	})

	t.Run("delivers and reports success", func(t *testing.T) {
		f := newGatewayFixture(t)
		s := f.connectReady(t, "org1")
		s.chats["5511999@c.us"] = &stubChat{id: "5511999@c.us"}

		rec := f.do(http.MethodPost, "/org1/send", `{"to":"5511999","message":"hello"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decode(t, rec)["success"])
		assert.Equal(t, []string{"5511999@c.us"}, s.sent)
	})
}

func TestGetMessagesEndpoint(t *testing.T) {
	t.Run("rejects bad limit", func(t *testing.T) {
		f := newGatewayFixture(t)

		for _, limit := range []string{"abc", "0", "-5", "1001"} {
			rec := f.do(http.MethodGet, "/org1/messages?limit="+limit, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
		}
	})

	t.Run("returns buffered messages with count", func(t *testing.T) {
		f := newGatewayFixture(t)
		s := f.connectReady(t, "org1")
		s.events().OnMessage(wa.RawMessage{ID: "m1", Body: "oi", Timestamp: 1700000000})

		rec := f.do(http.MethodGet, "/org1/messages", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		assert.Equal(t, float64(1), body["count"])
		data := body["data"].([]any)
		require.Len(t, data, 1)
		assert.Equal(t, float64(1700000000000), data[0].(map[string]any)["timestamp"])
	})

	t.Run("limit truncates", func(t *testing.T) {
		f := newGatewayFixture(t)
		s := f.connectReady(t, "org1")
		for i := 0; i < 5; i++ {
			s.events().OnMessage(wa.RawMessage{ID: "m", Timestamp: int64(i)})
		}

		rec := f.do(http.MethodGet, "/org1/messages?limit=2", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(2), decode(t, rec)["count"])
	})
}

func TestGetContactsEndpoint(t *testing.T) {
	f := newGatewayFixture(t)
	f.connectReady(t, "org1")

	rec := f.do(http.MethodGet, "/org1/contacts", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
	contact := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, "Alice", contact["name"])
	assert.Equal(t, "org1", contact["organizationId"])
}

func TestArchiveEndpointDisabled(t *testing.T) {
	f := newGatewayFixture(t)

	rec := f.do(http.MethodGet, "/org1/archive", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec)["code"])
}

func TestListConnectionsEndpoint(t *testing.T) {
	f := newGatewayFixture(t)
	f.connectReady(t, "orgB")
	require.NoError(t, f.registry.Connect(context.Background(), "orgA"))

	rec := f.do(http.MethodGet, "/connections", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := decode(t, rec)["data"].([]any)
	require.Len(t, data, 2)
	first := data[0].(map[string]any)
	assert.Equal(t, "orgA", first["organizationId"])
	assert.Equal(t, true, first["isConnecting"])
	second := data[1].(map[string]any)
	assert.Equal(t, "orgB", second["organizationId"])
	assert.Equal(t, true, second["isReady"])
}

func TestDisconnectEndpoints(t *testing.T) {
	t.Run("disconnect resets state", func(t *testing.T) {
		f := newGatewayFixture(t)
		f.connectReady(t, "org1")

		rec := f.do(http.MethodPost, "/org1/disconnect", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, f.registry.IsConnected("org1"))
	})

	t.Run("disconnect all empties the listing", func(t *testing.T) {
		f := newGatewayFixture(t)
		f.connectReady(t, "org1")
		f.connectReady(t, "org2")

		rec := f.do(http.MethodPost, "/disconnect-all", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, f.registry.GetAllConnections())
	})
}
