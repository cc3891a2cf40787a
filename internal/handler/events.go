package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/medres/whatsapp-gateway/internal/sse"
	"github.com/medres/whatsapp-gateway/internal/wa"
)

// EventsHandler streams one organization's status and message events to web
// clients over SSE. The bridge publishes registry events into the broker;
// this handler only drains a broker subscription.
type EventsHandler struct {
	broker   *sse.Broker
	registry *wa.Registry
}

func NewEventsHandler(broker *sse.Broker, registry *wa.Registry) *EventsHandler {
	return &EventsHandler{
		broker:   broker,
		registry: registry,
	}
}

// GET /{organizationID}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	organizationID := chi.URLParam(r, "organizationID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(organizationID)
	defer h.broker.Unsubscribe(client)

	log.Info().
		Str("organizationId", organizationID).
		Msg("sse connection established")

	ctx := r.Context()

	if err := h.sendEvent(w, flusher, "connected", map[string]any{
		"organizationId": organizationID,
		"connection":     h.registry.GetConnectionStatus(organizationID),
	}); err != nil {
		log.Error().Err(err).
			Str("organizationId", organizationID).
			Msg("failed to send handshake event")
		return
	}

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("organizationId", organizationID).
				Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().
				Str("organizationId", organizationID).
				Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("organizationId", organizationID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
