package wa

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/medres/whatsapp-gateway/internal/config"
	apperrors "github.com/medres/whatsapp-gateway/internal/errors"
	"github.com/medres/whatsapp-gateway/internal/model"
)

// MessageListener receives every formatted message, across all tenants.
type MessageListener func(msg model.Message)

// StatusListener receives every lifecycle notification, across all tenants.
type StatusListener func(update model.StatusUpdate)

// connection is the per-organization state bundle. The registry owns it
// exclusively; all field access goes through mu.
type connection struct {
	organizationID string
	session        Session

	mu                    sync.Mutex
	isReady               bool
	isConnecting          bool
	qrCode                string
	lastConnectionAttempt time.Time
	connectionTimeout     *time.Timer
	messages              []model.Message
	contacts              []model.Contact
}

// Options tunes a Registry. Zero values fall back to the config defaults.
type Options struct {
	AuthDataPath      string
	QRRenderer        QRRenderer
	ConnectionTimeout time.Duration
	ReconnectGrace    time.Duration
}

// Registry multiplexes one WhatsApp session per organization. It is the
// single source of truth for whether a tenant has a live session and what
// state it is in. Construct one per process and inject it; it is not a
// package-level singleton.
type Registry struct {
	factory           SessionFactory
	authDataPath      string
	renderQR          QRRenderer
	connectionTimeout time.Duration
	reconnectGrace    time.Duration

	mu          sync.RWMutex
	connections map[string]*connection

	messageEvents *emitter[model.Message]
	statusEvents  *emitter[model.StatusUpdate]
}

func NewRegistry(factory SessionFactory, opts Options) *Registry {
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = config.ConnectionTimeout
	}
	if opts.ReconnectGrace <= 0 {
		opts.ReconnectGrace = config.ReconnectGrace
	}

	return &Registry{
		factory:           factory,
		authDataPath:      opts.AuthDataPath,
		renderQR:          opts.QRRenderer,
		connectionTimeout: opts.ConnectionTimeout,
		reconnectGrace:    opts.ReconnectGrace,
		connections:       make(map[string]*connection),
		messageEvents:     newEmitter[model.Message](),
		statusEvents:      newEmitter[model.StatusUpdate](),
	}
}

// getOrCreate returns the organization's record, building session and
// lifecycle wiring on first use. Double-checked under the registry lock so
// two simultaneous first-ever calls never build two session handles.
func (r *Registry) getOrCreate(organizationID string) (*connection, error) {
	r.mu.RLock()
	conn := r.connections[organizationID]
	r.mu.RUnlock()
	if conn != nil {
		return conn, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if conn = r.connections[organizationID]; conn != nil {
		return conn, nil
	}

	identity := ClientIdentity{
		ClientID: "whatsapp-org-" + organizationID,
		DataPath: filepath.Join(r.authDataPath, organizationID),
	}

	session, err := r.factory(identity)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", organizationID, err)
	}

	conn = &connection{
		organizationID: organizationID,
		session:        session,
	}
	r.wireLifecycle(conn)
	r.connections[organizationID] = conn

	log.Info().Str("organizationId", organizationID).Msg("whatsapp connection created")
	return conn, nil
}

func (r *Registry) lookup(organizationID string) *connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connections[organizationID]
}

// wireLifecycle binds the lifecycle event router onto a new session. These
// handlers are the only writers of the record's flags once the record is
// published, so accessors never observe half-applied transitions.
func (r *Registry) wireLifecycle(conn *connection) {
	organizationID := conn.organizationID

	conn.session.SetHandlers(EventHandlers{
		OnQR: func(qr string) {
			conn.mu.Lock()
			conn.qrCode = qr
			conn.isConnecting = true
			r.armConnectionTimeout(conn)
			conn.mu.Unlock()

			log.Info().Str("organizationId", organizationID).Msg("qr code generated")
			if r.renderQR != nil {
				r.renderQR(qr)
			}
			r.notifyStatus(organizationID, model.StatusQRGenerated, map[string]any{"qr": qr})
		},

		OnAuthenticated: func() {
			log.Info().Str("organizationId", organizationID).Msg("whatsapp authenticated")
			r.notifyStatus(organizationID, model.StatusAuthenticated, nil)
		},

		OnReady: func() {
			conn.mu.Lock()
			conn.isReady = true
			conn.qrCode = ""
			conn.isConnecting = false
			r.clearConnectionTimeout(conn)
			conn.mu.Unlock()

			ctx := context.Background()
			r.loadContacts(ctx, conn)
			r.loadRecentMessages(ctx, conn)

			myNumber := conn.session.SelfNumber()
			log.Info().
				Str("organizationId", organizationID).
				Str("myNumber", myNumber).
				Msg("whatsapp connected")
			r.notifyStatus(organizationID, model.StatusReady, map[string]any{"myNumber": myNumber})
		},

		OnAuthFailure: func(reason string) {
			conn.mu.Lock()
			conn.isReady = false
			conn.isConnecting = false
			conn.qrCode = ""
			r.clearConnectionTimeout(conn)
			conn.mu.Unlock()

			log.Error().Str("organizationId", organizationID).Str("reason", reason).Msg("whatsapp auth failure")
			r.notifyStatus(organizationID, model.StatusAuthFailure, map[string]any{"error": reason})
		},

		OnDisconnected: func(reason string) {
			conn.mu.Lock()
			conn.isReady = false
			conn.isConnecting = false
			conn.qrCode = ""
			r.clearConnectionTimeout(conn)
			conn.mu.Unlock()

			log.Warn().Str("organizationId", organizationID).Str("reason", reason).Msg("whatsapp disconnected")
			r.notifyStatus(organizationID, model.StatusDisconnected, map[string]any{"reason": reason})
		},

		OnLoading: func(percent int, message string) {
			log.Debug().
				Str("organizationId", organizationID).
				Int("percent", percent).
				Str("message", message).
				Msg("whatsapp loading")
			r.notifyStatus(organizationID, model.StatusLoading, map[string]any{
				"percent": percent,
				"message": message,
			})
		},

		OnMessage: func(raw RawMessage) {
			msg := FormatMessage(raw, organizationID)
			conn.prepend(msg)
			r.messageEvents.emit(msg)
		},

		OnMessageCreate: func(raw RawMessage) {
			// Echoes cover every message created on the account; only
			// self-originated ones belong in the buffer.
			if !raw.FromMe {
				return
			}
			msg := FormatMessage(raw, organizationID)
			conn.prepend(msg)
			r.messageEvents.emit(msg)
		},
	})
}

// prepend adds one live message newest-first and evicts beyond the cap.
func (c *connection) prepend(msg model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = append([]model.Message{msg}, c.messages...)
	if len(c.messages) > config.MessageBufferCap {
		c.messages = c.messages[:config.MessageBufferCap]
	}
}

// armConnectionTimeout (re)arms the pairing watchdog. Callers hold conn.mu.
// At most one timer is pending per record; arming clears any prior timer.
func (r *Registry) armConnectionTimeout(conn *connection) {
	if conn.connectionTimeout != nil {
		conn.connectionTimeout.Stop()
	}

	conn.connectionTimeout = time.AfterFunc(r.connectionTimeout, func() {
		conn.mu.Lock()
		stuck := conn.isConnecting && !conn.isReady
		conn.mu.Unlock()

		if !stuck {
			return
		}

		log.Warn().
			Str("organizationId", conn.organizationID).
			Dur("timeout", r.connectionTimeout).
			Msg("pairing did not complete in time, reconnecting")

		if err := r.Reconnect(context.Background(), conn.organizationID); err != nil {
			log.Error().Err(err).
				Str("organizationId", conn.organizationID).
				Msg("watchdog reconnect failed")
		}
	})
}

// clearConnectionTimeout cancels a pending watchdog. Callers hold conn.mu.
func (r *Registry) clearConnectionTimeout(conn *connection) {
	if conn.connectionTimeout != nil {
		conn.connectionTimeout.Stop()
		conn.connectionTimeout = nil
	}
}

// Connect starts pairing for an organization, creating the record lazily.
// A ready or already-connecting record is a no-op. Failure of the initialize
// call itself resets the connecting flag and propagates to the caller.
func (r *Registry) Connect(ctx context.Context, organizationID string) error {
	conn, err := r.getOrCreate(organizationID)
	if err != nil {
		return err
	}

	conn.mu.Lock()
	if conn.isReady {
		conn.mu.Unlock()
		log.Info().Str("organizationId", organizationID).Msg("connect: already connected")
		return nil
	}
	if conn.isConnecting {
		conn.mu.Unlock()
		log.Info().Str("organizationId", organizationID).Msg("connect: connection already in progress")
		return nil
	}
	// The connecting flag must flip before the initialize call is issued,
	// so a second Connect arriving mid-initialize is a no-op.
	conn.isConnecting = true
	conn.lastConnectionAttempt = time.Now()
	conn.mu.Unlock()

	log.Info().Str("organizationId", organizationID).Msg("initializing whatsapp session")
	if err := conn.session.Initialize(ctx); err != nil {
		conn.mu.Lock()
		conn.isConnecting = false
		conn.mu.Unlock()
		return apperrors.External("whatsapp", err)
	}

	return nil
}

// Disconnect tears down an organization's live session. The record stays in
// the registry so buffered messages and contacts survive; only the
// live-connection flags reset. No-op when the organization is unknown.
func (r *Registry) Disconnect(ctx context.Context, organizationID string) error {
	conn := r.lookup(organizationID)
	if conn == nil {
		return nil
	}

	conn.mu.Lock()
	r.clearConnectionTimeout(conn)
	conn.mu.Unlock()

	if err := conn.session.Destroy(ctx); err != nil {
		log.Error().Err(err).Str("organizationId", organizationID).Msg("session destroy failed")
	}

	conn.mu.Lock()
	conn.isReady = false
	conn.isConnecting = false
	conn.qrCode = ""
	conn.mu.Unlock()

	log.Info().Str("organizationId", organizationID).Msg("whatsapp disconnected by request")
	return nil
}

// Reconnect tears the session down, waits for the underlying client to
// release its resources, then starts a fresh pairing attempt.
func (r *Registry) Reconnect(ctx context.Context, organizationID string) error {
	log.Info().Str("organizationId", organizationID).Msg("reconnecting whatsapp session")

	if err := r.Disconnect(ctx, organizationID); err != nil {
		return err
	}

	select {
	case <-time.After(r.reconnectGrace):
	case <-ctx.Done():
		return ctx.Err()
	}

	return r.Connect(ctx, organizationID)
}

// SendMessage delivers one text message on an organization's session.
// Setup failures (not connected, unresolvable chat) return an error;
// delivery failures after that are logged and surface as ok == false,
// since they are common and retryable by the caller.
func (r *Registry) SendMessage(ctx context.Context, organizationID, to, body string) (bool, error) {
	conn := r.lookup(organizationID)
	if conn == nil {
		return false, apperrors.NotConnected(organizationID)
	}

	conn.mu.Lock()
	ready := conn.isReady
	conn.mu.Unlock()
	if !ready {
		return false, apperrors.NotConnected(organizationID)
	}

	chatID := NormalizeChatID(to)

	chat, err := conn.session.GetChatByID(ctx, chatID)
	if err != nil || chat == nil {
		return false, apperrors.ChatNotFound(chatID)
	}

	if err := conn.session.SendMessage(ctx, chatID, body); err != nil {
		log.Error().Err(err).
			Str("organizationId", organizationID).
			Str("chatId", chatID).
			Msg("failed to send message")
		return false, nil
	}

	log.Info().
		Str("organizationId", organizationID).
		Str("chatId", chatID).
		Msg("message sent")
	return true, nil
}

// loadContacts replaces the record's contact set with a fresh address-book
// snapshot. Failures are logged and never block the ready flow.
func (r *Registry) loadContacts(ctx context.Context, conn *connection) {
	raws, err := conn.session.GetContacts(ctx)
	if err != nil {
		log.Error().Err(err).
			Str("organizationId", conn.organizationID).
			Msg("failed to load contacts")
		return
	}

	contacts := make([]model.Contact, 0, len(raws))
	for _, raw := range raws {
		if !KeepContact(raw) {
			continue
		}
		contacts = append(contacts, FormatContact(raw, conn.organizationID))
	}

	conn.mu.Lock()
	conn.contacts = contacts
	conn.mu.Unlock()

	log.Info().
		Str("organizationId", conn.organizationID).
		Int("count", len(contacts)).
		Msg("contacts loaded")
}

// loadRecentMessages seeds the buffer from the most recently active chats.
// Messages arrive interleaved across chats, so this is the one place the
// buffer is re-sorted; per-chat failures skip only that chat.
func (r *Registry) loadRecentMessages(ctx context.Context, conn *connection) {
	chats, err := conn.session.GetChats(ctx)
	if err != nil {
		log.Error().Err(err).
			Str("organizationId", conn.organizationID).
			Msg("failed to load chats")
		return
	}

	if len(chats) > config.RecentChatsToLoad {
		chats = chats[:config.RecentChatsToLoad]
	}

	var loaded []model.Message
	for _, chat := range chats {
		raws, err := chat.FetchMessages(ctx, config.MessagesPerChat)
		if err != nil {
			log.Error().Err(err).
				Str("organizationId", conn.organizationID).
				Str("chatId", chat.ID()).
				Str("chatName", chat.Name()).
				Msg("failed to load chat messages")
			continue
		}
		for _, raw := range raws {
			loaded = append(loaded, FormatMessage(raw, conn.organizationID))
		}
	}

	conn.mu.Lock()
	conn.messages = append(conn.messages, loaded...)
	sort.SliceStable(conn.messages, func(i, j int) bool {
		return conn.messages[i].TimestampMs > conn.messages[j].TimestampMs
	})
	if len(conn.messages) > config.RecentMessagesCap {
		conn.messages = conn.messages[:config.RecentMessagesCap]
	}
	count := len(conn.messages)
	conn.mu.Unlock()

	log.Info().
		Str("organizationId", conn.organizationID).
		Int("count", count).
		Msg("recent messages loaded")
}

// GetQRCode returns the pending pairing payload, or "" when none is pending.
func (r *Registry) GetQRCode(organizationID string) string {
	conn := r.lookup(organizationID)
	if conn == nil {
		return ""
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.qrCode
}

func (r *Registry) IsConnected(organizationID string) bool {
	conn := r.lookup(organizationID)
	if conn == nil {
		return false
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.isReady
}

func (r *Registry) IsConnecting(organizationID string) bool {
	conn := r.lookup(organizationID)
	if conn == nil {
		return false
	}
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.isConnecting
}

// GetConnectionStatus snapshots one record's flags. Unknown organizations
// read as fully disconnected; accessors never fail.
func (r *Registry) GetConnectionStatus(organizationID string) model.ConnectionStatus {
	conn := r.lookup(organizationID)
	if conn == nil {
		return model.ConnectionStatus{}
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	status := model.ConnectionStatus{
		IsReady:      conn.isReady,
		IsConnecting: conn.isConnecting,
	}
	if conn.qrCode != "" {
		qr := conn.qrCode
		status.QRCode = &qr
	}
	return status
}

// GetMessages returns the newest-first buffer truncated to limit.
func (r *Registry) GetMessages(organizationID string, limit int) []model.Message {
	if limit <= 0 {
		limit = config.DefaultReadLimit
	}

	conn := r.lookup(organizationID)
	if conn == nil {
		return []model.Message{}
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	if limit > len(conn.messages) {
		limit = len(conn.messages)
	}
	out := make([]model.Message, limit)
	copy(out, conn.messages[:limit])
	return out
}

func (r *Registry) GetContacts(organizationID string) []model.Contact {
	conn := r.lookup(organizationID)
	if conn == nil {
		return []model.Contact{}
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	out := make([]model.Contact, len(conn.contacts))
	copy(out, conn.contacts)
	return out
}

// OnMessage registers a listener for every formatted message across all
// tenants. The returned disposer removes the listener.
func (r *Registry) OnMessage(listener MessageListener) func() {
	return r.messageEvents.subscribe(func(msg model.Message) { listener(msg) })
}

// OnStatusChange registers a listener for every lifecycle notification
// across all tenants. The returned disposer removes the listener.
func (r *Registry) OnStatusChange(listener StatusListener) func() {
	return r.statusEvents.subscribe(func(update model.StatusUpdate) { listener(update) })
}

func (r *Registry) notifyStatus(organizationID string, status model.Status, data map[string]any) {
	r.statusEvents.emit(model.StatusUpdate{
		OrganizationID: organizationID,
		Status:         status,
		Data:           data,
	})
}

// DisconnectAll concurrently disconnects every known organization, then
// drops all records. Unlike Disconnect, buffered history does not survive.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.connections))
	for id := range r.connections {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(organizationID string) {
			defer wg.Done()
			if err := r.Disconnect(ctx, organizationID); err != nil {
				log.Error().Err(err).Str("organizationId", organizationID).Msg("disconnect failed")
			}
		}(id)
	}
	wg.Wait()

	r.mu.Lock()
	r.connections = make(map[string]*connection)
	r.mu.Unlock()

	log.Info().Int("count", len(ids)).Msg("all whatsapp connections closed")
	return nil
}

// GetAllConnections snapshots every record's flags for diagnostics.
func (r *Registry) GetAllConnections() []model.ConnectionSummary {
	r.mu.RLock()
	conns := make([]*connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	out := make([]model.ConnectionSummary, 0, len(conns))
	for _, conn := range conns {
		conn.mu.Lock()
		out = append(out, model.ConnectionSummary{
			OrganizationID: conn.organizationID,
			IsReady:        conn.isReady,
			IsConnecting:   conn.isConnecting,
		})
		conn.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].OrganizationID < out[j].OrganizationID
	})
	return out
}
