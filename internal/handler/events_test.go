package handler

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	redisclient "github.com/medres/whatsapp-gateway/internal/redis"
	"github.com/medres/whatsapp-gateway/internal/sse"
	"github.com/medres/whatsapp-gateway/internal/wa"
)

// failingStreamWriter flushes but rejects every write, like a client that
// vanished between dial and handshake.
type failingStreamWriter struct {
	header http.Header
}

func (w *failingStreamWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *failingStreamWriter) Write([]byte) (int, error) {
	return 0, errors.New("client went away")
}

func (w *failingStreamWriter) WriteHeader(int) {}
func (w *failingStreamWriter) Flush()          {}

// plainWriter does not implement http.Flusher.
type plainWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (w *plainWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *plainWriter) Write(p []byte) (int, error) { return w.body.Write(p) }
func (w *plainWriter) WriteHeader(status int)      { w.status = status }

func newEventsFixture(t *testing.T) *EventsHandler {
	t.Helper()

	// The broker never receives anything in these tests; the redis client
	// points at a closed port and is only dialed by the background reader.
	broker := sse.NewBroker(&redisclient.Client{
		Client: goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}),
	})
	t.Cleanup(broker.Close)

	registry := wa.NewRegistry(func(identity wa.ClientIdentity) (wa.Session, error) {
		return nil, errors.New("no session in this test")
	}, wa.Options{})

	return NewEventsHandler(broker, registry)
}

func TestEventsHandler(t *testing.T) {
	t.Run("rejects writers without streaming support", func(t *testing.T) {
		h := newEventsFixture(t)

		w := &plainWriter{}
		req := httptest.NewRequest(http.MethodGet, "/org1/events", nil)
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.status)
		assert.Contains(t, w.body.String(), "Streaming not supported")
	})

	t.Run("handshake write failure ends the stream", func(t *testing.T) {
		h := newEventsFixture(t)

		req := httptest.NewRequest(http.MethodGet, "/org1/events", nil)
		done := make(chan struct{})
		go func() {
			h.ServeHTTP(&failingStreamWriter{}, req)
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handler kept streaming after the handshake failed")
		}
	})
}
