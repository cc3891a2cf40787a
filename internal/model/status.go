package model

import "encoding/json"

// Status names the lifecycle notifications pushed to status listeners.
type Status string

const (
	StatusQRGenerated   Status = "qr_generated"
	StatusAuthenticated Status = "authenticated"
	StatusReady         Status = "ready"
	StatusAuthFailure   Status = "auth_failure"
	StatusDisconnected  Status = "disconnected"
	StatusLoading       Status = "loading"
)

// StatusUpdate is one lifecycle notification for an organization.
type StatusUpdate struct {
	OrganizationID string         `json:"organizationId"`
	Status         Status         `json:"status"`
	Data           map[string]any `json:"data,omitempty"`
}

// ToSSEEventData returns JSON data for SSE status events
func (u *StatusUpdate) ToSSEEventData() json.RawMessage {
	data, _ := json.Marshal(u)
	return data
}

// ConnectionStatus is the read-accessor snapshot of one record's flags.
// QRCode is nil whenever no pairing code is pending, so clients see null.
type ConnectionStatus struct {
	IsReady      bool    `json:"isReady"`
	IsConnecting bool    `json:"isConnecting"`
	QRCode       *string `json:"qrCode"`
}

// ConnectionSummary is one row of the diagnostics listing.
type ConnectionSummary struct {
	OrganizationID string `json:"organizationId"`
	IsReady        bool   `json:"isReady"`
	IsConnecting   bool   `json:"isConnecting"`
}
