package campaign

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/idempotency"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/pkg/metrics"
	"github.com/ignite/outreach/internal/service/tracking"
)

// SendInput is one send request. Overrides replace the stored campaign
// content for this batch only.
type SendInput struct {
	Subject   string `json:"subject,omitempty"`
	HTML      string `json:"html,omitempty"`
	FromEmail string `json:"fromEmail,omitempty"`
	FromName  string `json:"fromName,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	DryRun    bool   `json:"dryRun,omitempty"`
}

// RecipientError describes one failed recipient in a batch.
type RecipientError struct {
	RecipientID string `json:"recipientId"`
	Email       string `json:"email"`
	Error       string `json:"error"`
}

// SendResult is the batch summary. Partial failures are reported here and
// never as a request error.
type SendResult struct {
	OK             bool             `json:"ok"`
	Sent           int              `json:"sent"`
	Skipped        int              `json:"skipped"`
	Failed         int              `json:"failed"`
	Errors         []RecipientError `json:"errors"`
	CreditsCharged int64            `json:"creditsCharged"`
}

// Send processes one batch of the campaign's queue.
func (s *Service) Send(ctx context.Context, userID, campaignID string, in SendInput) (*SendResult, error) {
	c, err := s.Get(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}

	msg := content{
		subject:   pick(in.Subject, c.Subject),
		html:      pick(in.HTML, c.HTMLContent),
		fromEmail: pick(in.FromEmail, c.FromEmail),
		fromName:  pick(in.FromName, c.FromName),
	}
	switch {
	case msg.subject == "":
		return nil, domain.Validation("subject is required")
	case msg.html == "":
		return nil, domain.Validation("html is required")
	case msg.fromEmail == "":
		return nil, domain.Validation("fromEmail is required")
	}
	if err := s.validate.Var(msg.fromEmail, "email"); err != nil {
		return nil, domain.Validation("fromEmail is not a valid address")
	}
	tpl, err := s.tpl.compile(msg.subject, msg.html)
	if err != nil {
		return nil, err
	}

	res := &SendResult{OK: true, Errors: []RecipientError{}}
	if c.IsTerminal() {
		return res, nil
	}
	limit := s.clampLimit(in.Limit)

	if in.DryRun {
		return s.dryRun(ctx, c, tpl, limit)
	}

	now := s.now().UTC()
	batch, err := s.repo.ClaimQueued(ctx, c.ID, limit, now.Add(-s.opts.ClaimTTL), now)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "claim recipients", Err: err}
	}
	if len(batch) == 0 {
		s.finish(ctx, c)
		return res, nil
	}

	corr, err := s.reserve(ctx, c, batch)
	if err != nil {
		s.release(ctx, recipientIDs(batch))
		return nil, err
	}

	// From here on the batch is paid for; bookkeeping must outlive the request.
	bg := context.WithoutCancel(ctx)
	if c.Status == domain.CampaignDraft {
		if _, err := s.repo.TransitionStatus(bg, c.ID, domain.CampaignDraft, domain.CampaignSending); err != nil {
			s.refund(bg, c, corr, len(batch), "campaign start failed")
			s.release(bg, recipientIDs(batch))
			return nil, &domain.PersistenceError{Op: "start campaign", Err: err}
		}
	}

	// Recipients not started before half the claim TTL are handed back so a
	// concurrent send cannot reclaim a row this batch is still working on.
	unsent := s.deliver(ctx, c, msg, tpl, batch, now.Add(s.opts.ClaimTTL/2), res)
	if len(unsent) > 0 {
		s.release(bg, unsent)
		logger.Warn("campaign batch interrupted", "campaign_id", c.ID, "released", len(unsent), "error", ctx.Err())
	}

	charged := int64(len(batch)) * c.PricePerEmail
	if n := res.Failed + len(unsent); n > 0 && c.PricePerEmail > 0 {
		if s.refund(bg, c, corr, n, "unsent campaign recipients") {
			charged -= int64(n) * c.PricePerEmail
		}
	}
	if charged != 0 {
		if err := s.repo.AddCreditsCharged(bg, c.ID, charged); err != nil {
			logger.Error("update credits_charged failed", "campaign_id", c.ID, "error", err)
		}
	}
	res.CreditsCharged = charged

	s.finish(bg, c)
	logger.Info("campaign batch done", "campaign_id", c.ID, "sent", res.Sent,
		"failed", res.Failed, "released", len(unsent), "credits", charged, "provider", s.sender.Name())
	return res, nil
}

// refund credits back n recipients of the batch reserved under corr.
func (s *Service) refund(ctx context.Context, c *domain.Campaign, corr string, n int, note string) bool {
	amount := int64(n) * c.PricePerEmail
	if amount == 0 {
		return true
	}
	if _, err := s.ledger.Credit(ctx, c.UserID, amount, domain.LedgerRefund,
		idempotency.Derive(corr, "refund"), note,
		map[string]any{"campaign_id": c.ID, "recipients": n}); err != nil {
		logger.Error("campaign refund failed", "campaign_id", c.ID, "amount", amount, "error", err)
		return false
	}
	return true
}

type content struct {
	subject, html, fromEmail, fromName string
}

func pick(override, stored string) string {
	if override != "" {
		return override
	}
	return stored
}

func (s *Service) clampLimit(n int) int {
	if n <= 0 {
		return s.opts.DefaultLimit
	}
	if n > s.opts.MaxLimit {
		return s.opts.MaxLimit
	}
	return n
}

// dryRun renders every queued recipient in the window without claiming or
// sending anything.
func (s *Service) dryRun(ctx context.Context, c *domain.Campaign, tpl *compiled, limit int) (*SendResult, error) {
	res := &SendResult{OK: true, Errors: []RecipientError{}}
	queued, err := s.repo.PeekQueued(ctx, c.ID, limit)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "peek recipients", Err: err}
	}
	for i := range queued {
		if _, _, err := tpl.render(c.ID, &queued[i]); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, RecipientError{queued[i].ID, queued[i].Email, err.Error()})
			continue
		}
		res.Skipped++
	}
	return res, nil
}

// reserve debits the whole batch up front. The correlation id is derived
// from the claimed ids so a retried request for the same claim set is not
// charged twice.
func (s *Service) reserve(ctx context.Context, c *domain.Campaign, batch []domain.Recipient) (string, error) {
	ids := recipientIDs(batch)
	sort.Strings(ids)
	corr := idempotency.Key(c.UserID, "campaign.send", c.ID, ids)

	cost := int64(len(batch)) * c.PricePerEmail
	if cost == 0 {
		return corr, nil
	}
	_, err := s.ledger.Debit(ctx, c.UserID, cost, corr, "campaign send",
		map[string]any{"campaign_id": c.ID, "recipients": len(batch)})
	if err != nil {
		return "", fmt.Errorf("reserve credits: %w", err)
	}
	return corr, nil
}

func recipientIDs(batch []domain.Recipient) []string {
	out := make([]string, len(batch))
	for i := range batch {
		out[i] = batch[i].ID
	}
	return out
}

func (s *Service) release(ctx context.Context, ids []string) {
	if err := s.repo.ReleaseClaims(context.WithoutCancel(ctx), ids); err != nil {
		logger.Error("release claims failed", "count", len(ids), "error", err)
	}
}

// deliver fans the batch out over the worker pool. Workers share one pacer.
// It returns the ids of recipients that were never handed to the provider
// because ctx ended, pacing failed or deadline passed.
func (s *Service) deliver(ctx context.Context, c *domain.Campaign, msg content, tpl *compiled, batch []domain.Recipient, deadline time.Time, res *SendResult) []string {
	var (
		mu     sync.Mutex
		g      errgroup.Group
		unsent []string
	)
	g.SetLimit(s.opts.Workers)

	for i := range batch {
		r := &batch[i]
		g.Go(func() error {
			err := s.sendOne(ctx, c, msg, tpl, r, deadline)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, errNotAttempted) {
				unsent = append(unsent, r.ID)
				return nil
			}
			if err != nil {
				res.Failed++
				res.Errors = append(res.Errors, RecipientError{r.ID, r.Email, err.Error()})
				return nil
			}
			res.Sent++
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].RecipientID < res.Errors[j].RecipientID })
	return unsent
}

// errNotAttempted marks a claimed recipient that never reached the provider.
var errNotAttempted = errors.New("recipient not attempted")

const (
	markSentAttempts = 3
	markSentBackoff  = 25 * time.Millisecond
)

// sendOne renders, tracks and sends to one recipient and persists the
// outcome. errNotAttempted leaves the claim untouched; any other non-nil
// error means the recipient was marked failed.
func (s *Service) sendOne(ctx context.Context, c *domain.Campaign, msg content, tpl *compiled, r *domain.Recipient, deadline time.Time) error {
	if ctx.Err() != nil || !s.now().Before(deadline) {
		return errNotAttempted
	}
	provider := s.sender.Name()
	fail := func(cause error) error {
		metrics.EmailsFailed.WithLabelValues(provider).Inc()
		if err := s.repo.MarkFailed(context.WithoutCancel(ctx), r.ID, cause.Error(), s.now().UTC()); err != nil {
			logger.Error("mark failed failed", "recipient_id", r.ID, "error", err)
		}
		return cause
	}

	if r.TrackingToken == "" {
		r.TrackingToken = newTrackingToken()
		if err := s.repo.SetTrackingToken(ctx, r.ID, r.TrackingToken); err != nil {
			return fail(fmt.Errorf("assign tracking token: %w", err))
		}
	}

	subject, html, err := tpl.render(c.ID, r)
	if err != nil {
		return fail(fmt.Errorf("render: %w", err))
	}
	html = tracking.Rewrite(html, c.ID, r.TrackingToken, s.opts.TrackingBaseURL)

	if err := s.opts.Pacer.Wait(ctx); err != nil {
		logger.Warn("pacing wait ended", "recipient_id", r.ID, "error", err)
		return errNotAttempted
	}
	if ctx.Err() != nil {
		return errNotAttempted
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.RecipientTimeout)
	defer cancel()
	start := time.Now()
	messageID, err := s.sender.Send(sendCtx, &domain.OutboundEmail{
		CampaignID:    c.ID,
		RecipientID:   r.ID,
		TrackingToken: r.TrackingToken,
		To:            r.Email,
		FromEmail:     msg.fromEmail,
		FromName:      msg.fromName,
		Subject:       subject,
		HTMLContent:   html,
	})
	metrics.SendDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("provider timeout after %s: %w", s.opts.RecipientTimeout, err)
		}
		return fail(err)
	}

	metrics.EmailsSent.WithLabelValues(provider).Inc()
	s.recordSent(context.WithoutCancel(ctx), r, messageID)
	return nil
}

// recordSent persists a provider acceptance. The message has left, so the
// recipient counts as sent either way; when MarkSent keeps failing the row is
// closed as failed so a stale-claim sweep can never send it again.
func (s *Service) recordSent(ctx context.Context, r *domain.Recipient, messageID string) {
	var err error
	for attempt := 1; attempt <= markSentAttempts; attempt++ {
		if err = s.repo.MarkSent(ctx, r.ID, messageID, s.now().UTC()); err == nil {
			return
		}
		if attempt < markSentAttempts {
			time.Sleep(time.Duration(attempt) * markSentBackoff)
		}
	}
	logger.Error("mark sent failed", "recipient_id", r.ID, "message_id", messageID, "error", err)
	reason := "accepted by provider as " + messageID + "; sent status not recorded"
	if ferr := s.repo.MarkFailed(ctx, r.ID, reason, s.now().UTC()); ferr != nil {
		logger.Error("closing unrecorded send failed", "recipient_id", r.ID, "message_id", messageID, "error", ferr)
	}
}

// finish closes out the campaign once nothing is queued or claimed.
func (s *Service) finish(ctx context.Context, c *domain.Campaign) {
	p, err := s.repo.Progress(ctx, c.ID)
	if err != nil {
		logger.Warn("campaign progress unavailable", "campaign_id", c.ID, "error", err)
		return
	}
	if p.Pending > 0 {
		return
	}
	to := domain.CampaignSent
	if p.Sent == 0 {
		to = domain.CampaignFailed
	}
	changed, err := s.repo.TransitionStatus(ctx, c.ID, domain.CampaignSending, to)
	if err != nil {
		logger.Warn("campaign completion failed", "campaign_id", c.ID, "error", err)
		return
	}
	if changed {
		logger.Info("campaign completed", "campaign_id", c.ID, "status", to, "sent", p.Sent)
	}
}
