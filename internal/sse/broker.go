package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/medres/whatsapp-gateway/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	OrganizationID string
	Events         chan Event
	Done           chan struct{}
}

// Broker fans organization events out to SSE clients. Events travel through
// redis pubsub so every instance's clients see them, whichever instance
// hosts the tenant's session.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // organizationID -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(organizationID string) *Client {
	client := &Client{
		OrganizationID: organizationID,
		Events:         make(chan Event, 100),
		Done:           make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[organizationID] == nil {
		b.clients[organizationID] = make(map[*Client]bool)
		go b.subscribeToRedis(organizationID)
	}
	b.clients[organizationID][client] = true
	clientCount := len(b.clients[organizationID])
	b.mu.Unlock()

	log.Info().
		Str("organizationId", organizationID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.OrganizationID]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.OrganizationID)
		}

		log.Info().
			Str("organizationId", client.OrganizationID).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

func (b *Broker) Publish(ctx context.Context, organizationID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.EventChannel(organizationID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(organizationID string) {
	channel := redisclient.EventChannel(organizationID)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("organizationId", organizationID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(organizationID, event)
		}
	}
}

func (b *Broker) broadcast(organizationID string, event Event) {
	b.mu.RLock()
	clients := b.clients[organizationID]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("organizationId", organizationID).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(organizationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[organizationID])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
