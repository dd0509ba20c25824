package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/pkg/ratelimit"
	"github.com/ignite/outreach/internal/service/sending"
	"github.com/ignite/outreach/internal/service/wallet"
)

// maxRecipientsPerCall bounds one AddRecipients request.
const maxRecipientsPerCall = 10000

// Ledger is the slice of the wallet the sender needs.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount int64, correlationID, note string, metadata map[string]any, opts ...wallet.DebitOption) (int64, error)
	Credit(ctx context.Context, userID string, amount int64, kind domain.LedgerKind, correlationID, note string, metadata map[string]any) (int64, error)
}

// Options tunes the sender. Zero values get the defaults from NewService.
type Options struct {
	TrackingBaseURL  string
	DefaultLimit     int
	MaxLimit         int
	Workers          int
	Pacer            ratelimit.Waiter
	ClaimTTL         time.Duration
	RecipientTimeout time.Duration
	DefaultPrice     int64
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo     Repository
	ledger   Ledger
	sender   sending.Sender
	opts     Options
	validate *validator.Validate
	tpl      *templates
	now      func() time.Time
}

// NewService wires a campaign service.
func NewService(repo Repository, ledger Ledger, sender sending.Sender, opts Options) *Service {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 200
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 1000
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Pacer == nil {
		opts.Pacer = ratelimit.NewPacer(0, nil)
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 10 * time.Minute
	}
	if opts.RecipientTimeout <= 0 {
		opts.RecipientTimeout = 20 * time.Second
	}
	opts.TrackingBaseURL = strings.TrimRight(opts.TrackingBaseURL, "/")
	return &Service{
		repo:     repo,
		ledger:   ledger,
		sender:   sender,
		opts:     opts,
		validate: validator.New(),
		tpl:      newTemplates(),
		now:      time.Now,
	}
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name          string `json:"name" validate:"required,max=200"`
	Subject       string `json:"subject" validate:"max=998"`
	HTML          string `json:"html"`
	FromEmail     string `json:"from_email" validate:"omitempty,email"`
	FromName      string `json:"from_name" validate:"max=200"`
	PricePerEmail *int64 `json:"price_per_email" validate:"omitempty,min=0"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*domain.Campaign, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationFrom(err)
	}
	if in.Subject != "" || in.HTML != "" {
		if err := s.tpl.check(in.Subject, in.HTML); err != nil {
			return nil, err
		}
	}
	price := s.opts.DefaultPrice
	if in.PricePerEmail != nil {
		price = *in.PricePerEmail
	}
	now := s.now().UTC()
	c := &domain.Campaign{
		ID:            uuid.New().String(),
		UserID:        userID,
		Name:          in.Name,
		Subject:       in.Subject,
		HTMLContent:   in.HTML,
		FromEmail:     in.FromEmail,
		FromName:      in.FromName,
		Status:        domain.CampaignDraft,
		PricePerEmail: price,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, &domain.PersistenceError{Op: "create campaign", Err: err}
	}
	logger.Info("campaign created", "campaign_id", c.ID, "user_id", userID)
	return c, nil
}

// Get returns a campaign owned by userID.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", id, err)
	}
	return c, nil
}

// AddResult reports what AddRecipients did with each input address.
type AddResult struct {
	Added      int      `json:"added"`
	Duplicates int      `json:"duplicates"`
	Invalid    []string `json:"invalid,omitempty"`
}

// AddRecipients queues addresses on a draft or sending campaign. Addresses
// are trimmed and lowercased; repeats within the request or already on the
// campaign count as duplicates.
func (s *Service) AddRecipients(ctx context.Context, userID, id string, emails []string) (*AddResult, error) {
	if len(emails) == 0 {
		return nil, domain.Validation("emails is required")
	}
	if len(emails) > maxRecipientsPerCall {
		return nil, &domain.ValidationError{Code: "VALIDATION", Message: fmt.Sprintf("%v: max %d", ErrTooMany, maxRecipientsPerCall)}
	}
	c, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if c.IsTerminal() {
		return nil, &domain.ValidationError{Code: "VALIDATION", Message: ErrNotEditable.Error()}
	}

	res := &AddResult{}
	seen := make(map[string]bool, len(emails))
	now := s.now().UTC()
	batch := make([]domain.Recipient, 0, len(emails))
	for _, raw := range emails {
		e := strings.ToLower(strings.TrimSpace(raw))
		if s.validate.Var(e, "required,email") != nil {
			res.Invalid = append(res.Invalid, raw)
			continue
		}
		if seen[e] {
			res.Duplicates++
			continue
		}
		seen[e] = true
		batch = append(batch, domain.Recipient{
			ID:            uuid.New().String(),
			CampaignID:    c.ID,
			Email:         e,
			TrackingToken: newTrackingToken(),
			Status:        domain.RecipientQueued,
			CreatedAt:     now,
		})
	}
	if len(batch) > 0 {
		n, err := s.repo.AddRecipients(ctx, c.ID, batch)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "add recipients", Err: err}
		}
		res.Added = n
		res.Duplicates += len(batch) - n
	}
	logger.Info("recipients added", "campaign_id", c.ID, "added", res.Added,
		"duplicates", res.Duplicates, "invalid", len(res.Invalid))
	return res, nil
}

// Stats returns per-status counts and engagement totals.
func (s *Service) Stats(ctx context.Context, userID, id string) (*domain.CampaignStats, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	st, err := s.repo.Stats(ctx, id)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "campaign stats", Err: err}
	}
	return st, nil
}

// newTrackingToken returns an unguessable per-recipient token.
func newTrackingToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func validationFrom(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return domain.Validation("%v", err)
	}
	fe := verrs[0]
	return domain.Validation("%s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
}
