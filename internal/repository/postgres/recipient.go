package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/delivery"
	"github.com/ignite/outreach/internal/service/tracking"
)

// RecipientRepo implements tracking.Repository and delivery.Repository.
type RecipientRepo struct{ db *sql.DB }

var (
	_ tracking.Repository = (*RecipientRepo)(nil)
	_ delivery.Repository = (*RecipientRepo)(nil)
)

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

func (r *RecipientRepo) RecordOpen(ctx context.Context, campaignID, token string, at time.Time) (bool, error) {
	return r.bump(ctx, `
		UPDATE campaign_recipients
		SET opened_at = COALESCE(opened_at, $3), opens_count = opens_count + 1, last_event_at = $3
		WHERE campaign_id = $1 AND tracking_token = $2
	`, campaignID, token, at)
}

func (r *RecipientRepo) RecordClick(ctx context.Context, campaignID, token string, at time.Time) (bool, error) {
	return r.bump(ctx, `
		UPDATE campaign_recipients
		SET clicked_at = COALESCE(clicked_at, $3), clicks_count = clicks_count + 1, last_event_at = $3
		WHERE campaign_id = $1 AND tracking_token = $2
	`, campaignID, token, at)
}

func (r *RecipientRepo) bump(ctx context.Context, q, campaignID, token string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, campaignID, token, at)
	if err != nil {
		return false, fmt.Errorf("record engagement: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *RecipientRepo) findOne(ctx context.Context, where string, args ...any) (*domain.Recipient, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recipientColumns("")+` FROM campaign_recipients WHERE `+where, args...)
	rec, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recipient: %w", err)
	}
	return rec, nil
}

func (r *RecipientRepo) FindByMessageID(ctx context.Context, messageID string) (*domain.Recipient, error) {
	return r.findOne(ctx, `message_id = $1 LIMIT 1`, messageID)
}

func (r *RecipientRepo) FindByToken(ctx context.Context, campaignID, token string) (*domain.Recipient, error) {
	return r.findOne(ctx, `campaign_id = $1 AND tracking_token = $2`, campaignID, token)
}

func (r *RecipientRepo) FindLatestByEmail(ctx context.Context, email string) (*domain.Recipient, error) {
	return r.findOne(ctx, `lower(email) = lower($1) ORDER BY sent_at DESC NULLS LAST, created_at DESC LIMIT 1`, email)
}

// deliveryColumn is the set-once timestamp for each kind.
var deliveryColumn = map[domain.DeliveryKind]string{
	domain.DeliveryDelivered:  "delivered_at",
	domain.DeliveryBounced:    "bounced_at",
	domain.DeliveryComplained: "complained_at",
}

// ApplyDelivery evaluates the status guard against the locked pre-update row
// so the result reports whether the transition was allowed.
func (r *RecipientRepo) ApplyDelivery(ctx context.Context, recipientID string, kind domain.DeliveryKind, allowedFrom []domain.RecipientStatus, detail string, at time.Time) (bool, error) {
	col, ok := deliveryColumn[kind]
	if !ok {
		return false, fmt.Errorf("unknown delivery kind %q", kind)
	}
	from := make([]string, len(allowedFrom))
	for i, st := range allowedFrom {
		from[i] = string(st)
	}
	keepError := kind == domain.DeliveryDelivered || detail == ""

	var applied bool
	err := r.db.QueryRowContext(ctx, `
		UPDATE campaign_recipients AS r
		SET last_event_at = $2,
		    status = CASE WHEN o.ok THEN $4 ELSE r.status END,
		    `+col+` = CASE WHEN o.ok THEN COALESCE(r.`+col+`, $2) ELSE r.`+col+` END,
		    last_error = CASE WHEN o.ok AND NOT $6 THEN $5 ELSE r.last_error END
		FROM (
			SELECT id, status = ANY($3) AS ok FROM campaign_recipients WHERE id = $1 FOR UPDATE
		) AS o
		WHERE r.id = o.id
		RETURNING o.ok
	`, recipientID, at, pq.Array(from), string(kind.RecipientStatus()), detail, keepError).Scan(&applied)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("apply delivery: %w", err)
	}
	return applied, nil
}
