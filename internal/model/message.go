package model

import "encoding/json"

// ContactInfo is the denormalized sender info carried on each message.
type ContactInfo struct {
	Name     string `json:"name" db:"contact_name"`
	Pushname string `json:"pushname" db:"contact_pushname"`
	Number   string `json:"number" db:"contact_number"`
}

// Message is a formatted WhatsApp message owned by one organization's buffer.
// TimestampMs is epoch milliseconds; the underlying client reports seconds.
type Message struct {
	ID             string      `json:"id" db:"id"`
	From           string      `json:"from" db:"from_address"`
	To             string      `json:"to" db:"to_address"`
	Body           string      `json:"body" db:"body"`
	TimestampMs    int64       `json:"timestamp" db:"timestamp_ms"`
	IsFromMe       bool        `json:"isFromMe" db:"is_from_me"`
	OrganizationID string      `json:"organizationId" db:"organization_id"`
	Contact        ContactInfo `json:"contact"`
}

// ToSSEEventData returns JSON data for SSE message events
func (m *Message) ToSSEEventData() json.RawMessage {
	data, _ := json.Marshal(m)
	return data
}

// Contact is one address-book entry scoped to an organization.
type Contact struct {
	ID             string `json:"id" db:"id"`
	Name           string `json:"name" db:"name"`
	Pushname       string `json:"pushname" db:"pushname"`
	Number         string `json:"number" db:"number"`
	IsMyContact    bool   `json:"isMyContact" db:"is_my_contact"`
	OrganizationID string `json:"organizationId" db:"organization_id"`
}
