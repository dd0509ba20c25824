package tracking

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/pkg/metrics"
)

// Repository records engagement on a recipient row. Each call is a single
// atomic update: the first-event timestamp is set only while null and the
// counter always increments. matched is false when no row has the given
// (campaign, token) pair.
type Repository interface {
	RecordOpen(ctx context.Context, campaignID, token string, at time.Time) (matched bool, err error)
	RecordClick(ctx context.Context, campaignID, token string, at time.Time) (matched bool, err error)
}

// Service records opens and clicks.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a tracking service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// RecordOpen notes one open. Empty identifiers are ignored.
func (s *Service) RecordOpen(ctx context.Context, campaignID, token string) (bool, error) {
	return s.record(ctx, domain.EventOpen, campaignID, token)
}

// RecordClick notes one click. Empty identifiers are ignored.
func (s *Service) RecordClick(ctx context.Context, campaignID, token string) (bool, error) {
	return s.record(ctx, domain.EventClick, campaignID, token)
}

func (s *Service) record(ctx context.Context, typ domain.TrackingEventType, campaignID, token string) (bool, error) {
	if campaignID == "" || token == "" {
		return false, nil
	}
	at := s.now().UTC()
	var (
		matched bool
		err     error
	)
	if typ == domain.EventOpen {
		matched, err = s.repo.RecordOpen(ctx, campaignID, token, at)
	} else {
		matched, err = s.repo.RecordClick(ctx, campaignID, token, at)
	}
	if err != nil {
		return false, err
	}
	metrics.TrackingEvents.WithLabelValues(string(typ)).Inc()
	if !matched {
		logger.Debug("tracking event unmatched", "type", typ, "campaign_id", campaignID)
	}
	return matched, nil
}

// SafeRedirect returns target when it is an absolute http(s) URL with a
// host, and fallback otherwise.
func SafeRedirect(target, fallback string) string {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil || u.Host == "" {
		return fallback
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.String()
	}
	return fallback
}
