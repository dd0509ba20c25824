package memory

import (
	"context"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository.
type CampaignRepo struct{ s *Store }

var _ campaign.Repository = (*CampaignRepo)(nil)

func (r *CampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *c
	if cp.Status == "" {
		cp.Status = domain.CampaignDraft
	}
	r.s.campaigns[cp.ID] = &cp
	return nil
}

func (r *CampaignRepo) Get(_ context.Context, userID, id string) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.UserID != userID {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *CampaignRepo) TransitionStatus(_ context.Context, id string, from, to domain.CampaignStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	now := time.Now().UTC()
	c.Status = to
	c.UpdatedAt = now
	if to == domain.CampaignSent || to == domain.CampaignFailed {
		c.CompletedAt = &now
	}
	return true, nil
}

func (r *CampaignRepo) AddCreditsCharged(_ context.Context, id string, delta int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.campaigns[id]; ok {
		c.CreditsCharged += delta
	}
	return nil
}

func (r *CampaignRepo) AddRecipients(_ context.Context, campaignID string, rs []domain.Recipient) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing := make(map[string]bool)
	for _, rec := range r.s.recipients {
		if rec.CampaignID == campaignID {
			existing[strings.ToLower(rec.Email)] = true
		}
	}
	n := 0
	for _, rec := range rs {
		email := strings.ToLower(rec.Email)
		if existing[email] {
			continue
		}
		existing[email] = true
		cp := rec
		if cp.Status == "" {
			cp.Status = domain.RecipientQueued
		}
		r.s.recipients[cp.ID] = &cp
		r.s.order = append(r.s.order, cp.ID)
		n++
	}
	if c, ok := r.s.campaigns[campaignID]; ok {
		c.RecipientsCount += n
	}
	return n, nil
}

func (r *CampaignRepo) ClaimQueued(_ context.Context, campaignID string, limit int, staleBefore, now time.Time) ([]domain.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Recipient
	for _, id := range r.s.order {
		if len(out) >= limit {
			break
		}
		rec := r.s.recipients[id]
		if rec.CampaignID != campaignID {
			continue
		}
		stale := rec.Status == domain.RecipientClaimed && rec.ClaimedAt != nil && rec.ClaimedAt.Before(staleBefore)
		if rec.Status != domain.RecipientQueued && !stale {
			continue
		}
		at := now
		rec.Status = domain.RecipientClaimed
		rec.ClaimedAt = &at
		out = append(out, *rec)
	}
	return out, nil
}

func (r *CampaignRepo) PeekQueued(_ context.Context, campaignID string, limit int) ([]domain.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Recipient
	for _, id := range r.s.order {
		if len(out) >= limit {
			break
		}
		rec := r.s.recipients[id]
		if rec.CampaignID == campaignID && rec.Status == domain.RecipientQueued {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *CampaignRepo) ReleaseClaims(_ context.Context, ids []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range ids {
		if rec, ok := r.s.recipients[id]; ok && rec.Status == domain.RecipientClaimed {
			rec.Status = domain.RecipientQueued
			rec.ClaimedAt = nil
		}
	}
	return nil
}

func (r *CampaignRepo) SetTrackingToken(_ context.Context, recipientID, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rec, ok := r.s.recipients[recipientID]; ok && rec.TrackingToken == "" {
		rec.TrackingToken = token
	}
	return nil
}

func (r *CampaignRepo) MarkSent(_ context.Context, recipientID, messageID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.recipients[recipientID]
	if !ok || rec.Status != domain.RecipientClaimed {
		return nil
	}
	rec.Status = domain.RecipientSent
	rec.MessageID = messageID
	rec.SentAt = &at
	rec.LastError = ""
	return nil
}

func (r *CampaignRepo) MarkFailed(_ context.Context, recipientID, reason string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.recipients[recipientID]
	if !ok || !rec.Status.CanTransition(domain.RecipientFailed) {
		return nil
	}
	rec.Status = domain.RecipientFailed
	rec.LastError = reason
	rec.LastEventAt = &at
	return nil
}

func (r *CampaignRepo) Progress(_ context.Context, campaignID string) (campaign.Progress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var p campaign.Progress
	for _, rec := range r.s.recipients {
		if rec.CampaignID != campaignID {
			continue
		}
		switch rec.Status {
		case domain.RecipientQueued, domain.RecipientClaimed:
			p.Pending++
		case domain.RecipientSent, domain.RecipientDelivered, domain.RecipientBounced, domain.RecipientComplained:
			p.Sent++
		}
	}
	return p, nil
}

func (r *CampaignRepo) Stats(_ context.Context, campaignID string) (*domain.CampaignStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st := &domain.CampaignStats{CampaignID: campaignID, ByStatus: map[domain.RecipientStatus]int{}}
	for _, rec := range r.s.recipients {
		if rec.CampaignID != campaignID {
			continue
		}
		st.ByStatus[rec.Status]++
		st.Opens += rec.OpensCount
		st.Clicks += rec.ClicksCount
		if rec.OpenedAt != nil {
			st.UniqueOpens++
		}
		if rec.ClickedAt != nil {
			st.UniqueClicks++
		}
	}
	return st, nil
}

// Snapshot returns a copy of a recipient row, or nil. Used by tests.
func (s *Store) Snapshot(recipientID string) *domain.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recipients[recipientID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// CampaignSnapshot returns a copy of a campaign row, or nil. Used by tests.
func (s *Store) CampaignSnapshot(id string) *domain.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}
