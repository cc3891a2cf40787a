package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/medres/whatsapp-gateway/internal/model"
)

// MessageArchiveRepository persists formatted messages so history survives
// process restarts. The live read path stays in-memory; this table backs
// the /archive endpoints and diagnostics only.
type MessageArchiveRepository interface {
	Insert(ctx context.Context, msg model.Message) error
	FindByOrganizationID(ctx context.Context, organizationID string, limit, offset int) ([]model.Message, error)
	CountByOrganizationID(ctx context.Context, organizationID string) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type archivedMessage struct {
	ID              string `db:"id"`
	OrganizationID  string `db:"organization_id"`
	FromAddress     string `db:"from_address"`
	ToAddress       string `db:"to_address"`
	Body            string `db:"body"`
	TimestampMs     int64  `db:"timestamp_ms"`
	IsFromMe        bool   `db:"is_from_me"`
	ContactName     string `db:"contact_name"`
	ContactPushname string `db:"contact_pushname"`
	ContactNumber   string `db:"contact_number"`
}

func (a archivedMessage) toModel() model.Message {
	return model.Message{
		ID:             a.ID,
		From:           a.FromAddress,
		To:             a.ToAddress,
		Body:           a.Body,
		TimestampMs:    a.TimestampMs,
		IsFromMe:       a.IsFromMe,
		OrganizationID: a.OrganizationID,
		Contact: model.ContactInfo{
			Name:     a.ContactName,
			Pushname: a.ContactPushname,
			Number:   a.ContactNumber,
		},
	}
}

type messageArchiveRepo struct {
	db *sqlx.DB
}

func NewMessageArchiveRepository(db *sqlx.DB) MessageArchiveRepository {
	return &messageArchiveRepo{db: db}
}

func (r *messageArchiveRepo) Insert(ctx context.Context, msg model.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO archived_messages (
			id, organization_id, from_address, to_address, body,
			timestamp_ms, is_from_me, contact_name, contact_pushname, contact_number
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id, organization_id) DO NOTHING
	`,
		msg.ID, msg.OrganizationID, msg.From, msg.To, msg.Body,
		msg.TimestampMs, msg.IsFromMe,
		msg.Contact.Name, msg.Contact.Pushname, msg.Contact.Number,
	)
	return err
}

func (r *messageArchiveRepo) FindByOrganizationID(ctx context.Context, organizationID string, limit, offset int) ([]model.Message, error) {
	var rows []archivedMessage
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, organization_id, from_address, to_address, body,
		       timestamp_ms, is_from_me, contact_name, contact_pushname, contact_number
		FROM archived_messages
		WHERE organization_id = $1
		ORDER BY timestamp_ms DESC
		LIMIT $2 OFFSET $3
	`, organizationID, limit, offset)
	if err != nil {
		return nil, err
	}

	msgs := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toModel())
	}
	return msgs, nil
}

func (r *messageArchiveRepo) CountByOrganizationID(ctx context.Context, organizationID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM archived_messages WHERE organization_id = $1
	`, organizationID)
	return count, err
}

func (r *messageArchiveRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM archived_messages WHERE timestamp_ms < $1
	`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
