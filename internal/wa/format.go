package wa

import (
	"strings"

	"github.com/medres/whatsapp-gateway/internal/model"
)

const defaultChatSuffix = "@c.us"

// FormatMessage converts a raw client message into the Message entity the
// rest of the service works with. The client reports timestamps in seconds;
// buffers and APIs use milliseconds.
func FormatMessage(raw RawMessage, organizationID string) model.Message {
	msg := model.Message{
		ID:             raw.ID,
		From:           raw.From,
		To:             raw.To,
		Body:           raw.Body,
		TimestampMs:    raw.Timestamp * 1000,
		IsFromMe:       raw.FromMe,
		OrganizationID: organizationID,
	}

	if raw.Sender != nil {
		msg.Contact = model.ContactInfo{
			Name:     contactDisplayName(*raw.Sender, ""),
			Pushname: raw.Sender.Pushname,
			Number:   raw.Sender.Number,
		}
	}

	return msg
}

// FormatContact converts a raw address-book entry into a Contact. The
// display name falls back from saved name to pushname to the raw number.
func FormatContact(raw RawContact, organizationID string) model.Contact {
	return model.Contact{
		ID:             raw.ID,
		Name:           contactDisplayName(raw, raw.Number),
		Pushname:       raw.Pushname,
		Number:         raw.Number,
		IsMyContact:    raw.IsMyContact,
		OrganizationID: organizationID,
	}
}

// KeepContact reports whether an address-book entry is worth retaining:
// only contacts the tenant saved, or entries carrying a name.
func KeepContact(raw RawContact) bool {
	return raw.IsMyContact || raw.Name != ""
}

// NormalizeChatID appends the client's address suffix when the recipient
// is a bare number.
func NormalizeChatID(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	return to + defaultChatSuffix
}

func contactDisplayName(c RawContact, fallback string) string {
	if c.Name != "" {
		return c.Name
	}
	if c.Pushname != "" {
		return c.Pushname
	}
	return fallback
}
