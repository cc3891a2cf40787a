package wa

import "context"

// ClientIdentity scopes a session's pairing data to one tenant. Two
// organizations never share a ClientID or DataPath, so their credentials
// and browser profiles stay isolated.
type ClientIdentity struct {
	ClientID string
	DataPath string
}

// RawContact mirrors the underlying client's contact shape before formatting.
type RawContact struct {
	ID          string
	Name        string
	Pushname    string
	Number      string
	IsMyContact bool
}

// RawMessage mirrors the underlying client's message shape. Timestamp is
// epoch seconds, as reported by the client. Sender carries the resolved
// contact for the message, or nil when the client could not resolve one.
type RawMessage struct {
	ID        string
	From      string
	To        string
	Body      string
	Timestamp int64
	FromMe    bool
	Sender    *RawContact
}

// Chat is one conversation handle on the underlying client.
type Chat interface {
	ID() string
	Name() string
	FetchMessages(ctx context.Context, limit int) ([]RawMessage, error)
}

// EventHandlers receives a session's asynchronous lifecycle stream.
// Sessions must tolerate nil fields.
type EventHandlers struct {
	// OnQR fires when a pairing payload is issued for human scanning.
	OnQR func(qr string)
	// OnAuthenticated fires once credentials are accepted, before ready.
	OnAuthenticated func()
	// OnReady fires when the session can send and receive messages.
	OnReady func()
	// OnAuthFailure fires when stored or scanned credentials are rejected.
	OnAuthFailure func(reason string)
	// OnDisconnected fires when an established session drops.
	OnDisconnected func(reason string)
	// OnLoading reports sync progress between authenticated and ready.
	OnLoading func(percent int, message string)
	// OnMessage fires for every inbound message.
	OnMessage func(msg RawMessage)
	// OnMessageCreate fires for every message created on this account,
	// including echoes of messages sent from other devices.
	OnMessageCreate func(msg RawMessage)
}

// Session is the black-box messaging client behind one organization's
// connection. Implementations wrap a browser-automation or native client;
// the registry never depends on anything beyond this surface.
type Session interface {
	Initialize(ctx context.Context) error
	Destroy(ctx context.Context) error
	SendMessage(ctx context.Context, chatID, body string) error
	GetChatByID(ctx context.Context, chatID string) (Chat, error)
	GetContacts(ctx context.Context) ([]RawContact, error)
	GetChats(ctx context.Context) ([]Chat, error)
	// SelfNumber returns the paired account's own number, or "" before ready.
	SelfNumber() string
	SetHandlers(h EventHandlers)
}

// SessionFactory builds a session bound to a tenant-scoped identity.
type SessionFactory func(identity ClientIdentity) (Session, error)
