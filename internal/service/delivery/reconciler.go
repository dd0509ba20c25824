package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/pkg/metrics"
)

// Reconciler applies normalized delivery events.
type Reconciler struct {
	repo Repository
	now  func() time.Time
}

// NewReconciler creates a reconciler backed by the given repository.
func NewReconciler(repo Repository) *Reconciler {
	return &Reconciler{repo: repo, now: time.Now}
}

// Apply matches ev to a recipient and applies it. Unmatched events write
// nothing and are not an error.
func (r *Reconciler) Apply(ctx context.Context, ev domain.DeliveryEvent) (bool, error) {
	if !ev.Kind.Valid() {
		return false, fmt.Errorf("%w: unknown delivery kind %q", ErrMalformed, ev.Kind)
	}
	rec, via, err := r.match(ctx, ev)
	if err != nil {
		return false, err
	}
	defer func() {
		metrics.WebhookEvents.WithLabelValues(ev.Provider, string(ev.Kind), strconv.FormatBool(rec != nil)).Inc()
	}()
	if rec == nil {
		logger.Info("delivery event unmatched", "provider", ev.Provider, "kind", ev.Kind, "message_id", ev.MessageID)
		return false, nil
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = r.now()
	}
	target := ev.Kind.RecipientStatus()
	applied, err := r.repo.ApplyDelivery(ctx, rec.ID, ev.Kind, domain.PredecessorsOf(target), ev.Detail, at.UTC())
	if err != nil {
		return true, &domain.PersistenceError{Op: "apply delivery event", Err: err}
	}
	if !applied {
		logger.Debug("delivery event out of order", "recipient_id", rec.ID, "status", rec.Status, "kind", ev.Kind)
	}
	logger.Info("delivery event applied", "provider", ev.Provider, "kind", ev.Kind,
		"recipient_id", rec.ID, "matched_by", via, "transitioned", applied)
	return true, nil
}

// match tries message id, then (campaign, token), then email.
func (r *Reconciler) match(ctx context.Context, ev domain.DeliveryEvent) (*domain.Recipient, string, error) {
	type finder struct {
		name string
		ok   bool
		find func() (*domain.Recipient, error)
	}
	finders := []finder{
		{"message_id", ev.MessageID != "", func() (*domain.Recipient, error) {
			return r.repo.FindByMessageID(ctx, ev.MessageID)
		}},
		{"tracking_token", ev.HasFallbackKey(), func() (*domain.Recipient, error) {
			return r.repo.FindByToken(ctx, ev.CampaignID, ev.TrackingToken)
		}},
		{"email", ev.Email != "", func() (*domain.Recipient, error) {
			return r.repo.FindLatestByEmail(ctx, ev.Email)
		}},
	}
	for _, f := range finders {
		if !f.ok {
			continue
		}
		rec, err := f.find()
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", &domain.PersistenceError{Op: "match recipient by " + f.name, Err: err}
		}
		return rec, f.name, nil
	}
	return nil, "", nil
}
