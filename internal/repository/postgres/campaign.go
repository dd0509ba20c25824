package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

var _ campaign.Repository = (*CampaignRepo)(nil)

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, user_id, name, subject, html_content, from_email, from_name,
			 status, price_per_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.UserID, c.Name, c.Subject, c.HTMLContent, c.FromEmail, c.FromName,
		c.Status, c.PricePerEmail, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Get(ctx context.Context, userID, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var completed sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, subject, html_content, from_email, from_name, status,
		       price_per_email, recipients_count, credits_charged, completed_at, created_at, updated_at
		FROM campaigns
		WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(
		&c.ID, &c.UserID, &c.Name, &c.Subject, &c.HTMLContent, &c.FromEmail, &c.FromName, &c.Status,
		&c.PricePerEmail, &c.RecipientsCount, &c.CreditsCharged, &completed, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	c.CompletedAt = timePtr(completed)
	return c, nil
}

func (r *CampaignRepo) TransitionStatus(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $3::text,
		    updated_at = NOW(),
		    completed_at = CASE WHEN $3::text IN ('sent', 'failed') THEN NOW() ELSE completed_at END
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("transition campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *CampaignRepo) AddCreditsCharged(ctx context.Context, id string, delta int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET credits_charged = credits_charged + $2, updated_at = NOW() WHERE id = $1`,
		id, delta)
	if err != nil {
		return fmt.Errorf("update credits charged: %w", err)
	}
	return nil
}

// AddRecipients inserts the batch with one array-unnesting statement.
// Addresses already on the campaign hit the (campaign_id, lower(email))
// unique index and are skipped.
func (r *CampaignRepo) AddRecipients(ctx context.Context, campaignID string, rs []domain.Recipient) (inserted int, err error) {
	if len(rs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(rs))
	emails := make([]string, len(rs))
	tokens := make([]string, len(rs))
	statuses := make([]string, len(rs))
	created := time.Now().UTC()
	for i, rec := range rs {
		ids[i] = rec.ID
		emails[i] = strings.ToLower(rec.Email)
		tokens[i] = rec.TrackingToken
		statuses[i] = string(rec.Status)
		if statuses[i] == "" {
			statuses[i] = string(domain.RecipientQueued)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin add recipients: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO campaign_recipients (id, campaign_id, email, tracking_token, status, created_at)
		SELECT u.id, $1, u.email, NULLIF(u.token, ''), u.status, $6
		FROM unnest($2::text[], $3::text[], $4::text[], $5::text[]) AS u(id, email, token, status)
		ON CONFLICT DO NOTHING
	`, campaignID, pq.Array(ids), pq.Array(emails), pq.Array(tokens), pq.Array(statuses), created)
	if err != nil {
		return 0, fmt.Errorf("insert recipients: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err = tx.ExecContext(ctx,
		`UPDATE campaigns SET recipients_count = recipients_count + $2, updated_at = NOW() WHERE id = $1`,
		campaignID, n); err != nil {
		return 0, fmt.Errorf("bump recipients count: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit add recipients: %w", err)
	}
	return int(n), nil
}

// recipientColumns lists the scanRecipient columns, qualified by t.
func recipientColumns(t string) string {
	return strings.ReplaceAll(`{t}id, {t}campaign_id, {t}email, COALESCE({t}tracking_token, ''), {t}status,
		COALESCE({t}message_id, ''), COALESCE({t}last_error, ''), {t}claimed_at, {t}sent_at, {t}delivered_at,
		{t}bounced_at, {t}complained_at, {t}opened_at, {t}opens_count, {t}clicked_at, {t}clicks_count,
		{t}last_event_at, {t}created_at`, "{t}", t)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecipient(s scanner) (*domain.Recipient, error) {
	var rec domain.Recipient
	var claimed, sent, delivered, bounced, compl, opened, clicked, lastEvent sql.NullTime
	err := s.Scan(&rec.ID, &rec.CampaignID, &rec.Email, &rec.TrackingToken, &rec.Status,
		&rec.MessageID, &rec.LastError, &claimed, &sent, &delivered,
		&bounced, &compl, &opened, &rec.OpensCount, &clicked, &rec.ClicksCount,
		&lastEvent, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.ClaimedAt = timePtr(claimed)
	rec.SentAt = timePtr(sent)
	rec.DeliveredAt = timePtr(delivered)
	rec.BouncedAt = timePtr(bounced)
	rec.ComplainedAt = timePtr(compl)
	rec.OpenedAt = timePtr(opened)
	rec.ClickedAt = timePtr(clicked)
	rec.LastEventAt = timePtr(lastEvent)
	return &rec, nil
}

func collectRecipients(rows *sql.Rows) ([]domain.Recipient, error) {
	defer rows.Close()
	var out []domain.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// ClaimQueued locks candidate rows with SKIP LOCKED so concurrent batches
// partition the queue instead of blocking on each other.
func (r *CampaignRepo) ClaimQueued(ctx context.Context, campaignID string, limit int, staleBefore, now time.Time) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE campaign_recipients AS r
		SET status = 'claimed', claimed_at = $4
		FROM (
			SELECT id FROM campaign_recipients
			WHERE campaign_id = $1
			  AND (status = 'queued' OR (status = 'claimed' AND claimed_at < $3))
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) AS q
		WHERE r.id = q.id
		RETURNING `+recipientColumns("r."), campaignID, limit, staleBefore, now)
	if err != nil {
		return nil, fmt.Errorf("claim recipients: %w", err)
	}
	return collectRecipients(rows)
}

func (r *CampaignRepo) PeekQueued(ctx context.Context, campaignID string, limit int) ([]domain.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recipientColumns("")+`
		FROM campaign_recipients
		WHERE campaign_id = $1 AND status = 'queued'
		ORDER BY created_at
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("peek recipients: %w", err)
	}
	return collectRecipients(rows)
}

func (r *CampaignRepo) ReleaseClaims(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET status = 'queued', claimed_at = NULL
		WHERE id = ANY($1) AND status = 'claimed'
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("release claims: %w", err)
	}
	return nil
}

func (r *CampaignRepo) SetTrackingToken(ctx context.Context, recipientID, token string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET tracking_token = $2
		WHERE id = $1 AND (tracking_token IS NULL OR tracking_token = '')
	`, recipientID, token)
	if err != nil {
		return fmt.Errorf("set tracking token: %w", err)
	}
	return nil
}

func (r *CampaignRepo) MarkSent(ctx context.Context, recipientID, messageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET status = 'sent', message_id = $2, sent_at = $3, last_error = NULL
		WHERE id = $1 AND status = 'claimed'
	`, recipientID, nullString(messageID), at)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

func (r *CampaignRepo) MarkFailed(ctx context.Context, recipientID, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET status = 'failed', last_error = $2, last_event_at = $3
		WHERE id = $1 AND status IN ('queued', 'claimed')
	`, recipientID, reason, at)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *CampaignRepo) Progress(ctx context.Context, campaignID string) (campaign.Progress, error) {
	var p campaign.Progress
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status IN ('queued', 'claimed')),
		       COUNT(*) FILTER (WHERE status IN ('sent', 'delivered', 'bounced', 'complained'))
		FROM campaign_recipients
		WHERE campaign_id = $1
	`, campaignID).Scan(&p.Pending, &p.Sent)
	if err != nil {
		return p, fmt.Errorf("campaign progress: %w", err)
	}
	return p, nil
}

func (r *CampaignRepo) Stats(ctx context.Context, campaignID string) (*domain.CampaignStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*),
		       COALESCE(SUM(opens_count), 0), COUNT(*) FILTER (WHERE opened_at IS NOT NULL),
		       COALESCE(SUM(clicks_count), 0), COUNT(*) FILTER (WHERE clicked_at IS NOT NULL)
		FROM campaign_recipients
		WHERE campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}
	defer rows.Close()

	st := &domain.CampaignStats{CampaignID: campaignID, ByStatus: map[domain.RecipientStatus]int{}}
	for rows.Next() {
		var status domain.RecipientStatus
		var n, opens, uopens, clicks, uclicks int
		if err := rows.Scan(&status, &n, &opens, &uopens, &clicks, &uclicks); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.ByStatus[status] = n
		st.Opens += opens
		st.UniqueOpens += uopens
		st.Clicks += clicks
		st.UniqueClicks += uclicks
	}
	return st, rows.Err()
}
