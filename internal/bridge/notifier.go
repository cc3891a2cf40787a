package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medres/whatsapp-gateway/internal/model"
	"github.com/medres/whatsapp-gateway/internal/repository"
	"github.com/medres/whatsapp-gateway/internal/sse"
	"github.com/medres/whatsapp-gateway/internal/wa"
)

const publishTimeout = 5 * time.Second

// Notifier subscribes to the registry's listener fan-out and forwards
// events into the SSE broker, plus the message archive when configured.
// It is the only consumer-side glue between the connection core and the
// web-facing surfaces.
type Notifier struct {
	registry    *wa.Registry
	broker      *sse.Broker
	archiveRepo repository.MessageArchiveRepository // nil when archiving is disabled
	unsubscribe []func()
}

func NewNotifier(registry *wa.Registry, broker *sse.Broker, archiveRepo repository.MessageArchiveRepository) *Notifier {
	return &Notifier{
		registry:    registry,
		broker:      broker,
		archiveRepo: archiveRepo,
	}
}

// Start registers the bridge on both listener lists.
func (n *Notifier) Start() {
	n.unsubscribe = append(n.unsubscribe,
		n.registry.OnMessage(n.handleMessage),
		n.registry.OnStatusChange(n.handleStatus),
	)
	log.Info().Bool("archive", n.archiveRepo != nil).Msg("event bridge started")
}

// Stop removes the bridge from the listener lists.
func (n *Notifier) Stop() {
	for _, unsub := range n.unsubscribe {
		unsub()
	}
	n.unsubscribe = nil
	log.Info().Msg("event bridge stopped")
}

func (n *Notifier) handleMessage(msg model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := n.broker.Publish(ctx, msg.OrganizationID, sse.Event{
		Type: "message",
		Data: msg.ToSSEEventData(),
	}); err != nil {
		log.Error().Err(err).
			Str("organizationId", msg.OrganizationID).
			Str("messageId", msg.ID).
			Msg("failed to publish message event")
	}

	if n.archiveRepo == nil {
		return
	}
	if err := n.archiveRepo.Insert(ctx, msg); err != nil {
		log.Error().Err(err).
			Str("organizationId", msg.OrganizationID).
			Str("messageId", msg.ID).
			Msg("failed to archive message")
	}
}

func (n *Notifier) handleStatus(update model.StatusUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := n.broker.Publish(ctx, update.OrganizationID, sse.Event{
		Type: "status",
		Data: update.ToSSEEventData(),
	}); err != nil {
		log.Error().Err(err).
			Str("organizationId", update.OrganizationID).
			Str("status", string(update.Status)).
			Msg("failed to publish status event")
	}
}
