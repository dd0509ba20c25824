package memory

import (
	"context"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/delivery"
	"github.com/ignite/outreach/internal/service/tracking"
)

// RecipientRepo implements tracking.Repository and delivery.Repository.
type RecipientRepo struct{ s *Store }

var (
	_ tracking.Repository = (*RecipientRepo)(nil)
	_ delivery.Repository = (*RecipientRepo)(nil)
)

func (r *RecipientRepo) byToken(campaignID, token string) *domain.Recipient {
	for _, id := range r.s.order {
		rec := r.s.recipients[id]
		if rec.CampaignID == campaignID && rec.TrackingToken == token {
			return rec
		}
	}
	return nil
}

func (r *RecipientRepo) RecordOpen(_ context.Context, campaignID, token string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec := r.byToken(campaignID, token)
	if rec == nil {
		return false, nil
	}
	if rec.OpenedAt == nil {
		t := at
		rec.OpenedAt = &t
	}
	rec.OpensCount++
	t := at
	rec.LastEventAt = &t
	return true, nil
}

func (r *RecipientRepo) RecordClick(_ context.Context, campaignID, token string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec := r.byToken(campaignID, token)
	if rec == nil {
		return false, nil
	}
	if rec.ClickedAt == nil {
		t := at
		rec.ClickedAt = &t
	}
	rec.ClicksCount++
	t := at
	rec.LastEventAt = &t
	return true, nil
}

func (r *RecipientRepo) FindByMessageID(_ context.Context, messageID string) (*domain.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range r.s.order {
		if rec := r.s.recipients[id]; rec.MessageID == messageID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *RecipientRepo) FindByToken(_ context.Context, campaignID, token string) (*domain.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rec := r.byToken(campaignID, token); rec != nil {
		cp := *rec
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *RecipientRepo) FindLatestByEmail(_ context.Context, email string) (*domain.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *domain.Recipient
	for _, id := range r.s.order {
		rec := r.s.recipients[id]
		if !strings.EqualFold(rec.Email, email) {
			continue
		}
		if best == nil || newer(rec, best) {
			best = rec
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// newer orders by sent_at desc with unsent rows last, then created_at desc.
func newer(a, b *domain.Recipient) bool {
	switch {
	case a.SentAt != nil && b.SentAt == nil:
		return true
	case a.SentAt == nil && b.SentAt != nil:
		return false
	case a.SentAt != nil && !a.SentAt.Equal(*b.SentAt):
		return a.SentAt.After(*b.SentAt)
	}
	return !a.CreatedAt.Before(b.CreatedAt)
}

func (r *RecipientRepo) ApplyDelivery(_ context.Context, recipientID string, kind domain.DeliveryKind, allowedFrom []domain.RecipientStatus, detail string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.recipients[recipientID]
	if !ok {
		return false, domain.ErrNotFound
	}
	t := at
	rec.LastEventAt = &t

	allowed := false
	for _, st := range allowedFrom {
		if rec.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	rec.Status = kind.RecipientStatus()
	switch kind {
	case domain.DeliveryDelivered:
		if rec.DeliveredAt == nil {
			rec.DeliveredAt = &t
		}
	case domain.DeliveryBounced:
		if rec.BouncedAt == nil {
			rec.BouncedAt = &t
		}
	case domain.DeliveryComplained:
		if rec.ComplainedAt == nil {
			rec.ComplainedAt = &t
		}
	}
	if detail != "" && kind != domain.DeliveryDelivered {
		rec.LastError = detail
	}
	return true, nil
}
