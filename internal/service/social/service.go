package social

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/idempotency"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/pkg/metrics"
	"github.com/ignite/outreach/internal/service/wallet"
)

// maxTextLen is the longest post body accepted by either provider.
const maxTextLen = 3000

// Publisher creates a post on one provider.
type Publisher interface {
	Publish(ctx context.Context, acct *domain.SocialAccount, post domain.Post) (*domain.PublishResult, error)
}

// Accounts resolves the stored connection for a user.
type Accounts interface {
	Account(ctx context.Context, userID string, p domain.Provider) (*domain.SocialAccount, error)
}

// Ledger is the wallet surface used for metering.
type Ledger interface {
	Require(ctx context.Context, userID string, cost int64) (int64, error)
	Balance(ctx context.Context, userID string) (int64, error)
	Debit(ctx context.Context, userID string, amount int64, correlationID, note string, metadata map[string]any, opts ...wallet.DebitOption) (int64, error)
}

// Pricing is the credit cost of a post.
type Pricing struct {
	TextCost       map[domain.Provider]int64
	ImageSurcharge int64
}

// Cost returns the price of post on p.
func (p Pricing) Cost(provider domain.Provider, post domain.Post) int64 {
	cost := p.TextCost[provider]
	if post.ImageURL != "" {
		cost += p.ImageSurcharge
	}
	return cost
}

// Result is a published post plus the balance after charging it.
// ChargePending is set when the post was created but the debit could not
// be recorded; Balance is then the current, uncharged balance.
type Result struct {
	OK            bool   `json:"ok"`
	ID            string `json:"id"`
	Permalink     string `json:"permalink,omitempty"`
	Balance       int64  `json:"balance"`
	ChargePending bool   `json:"chargePending,omitempty"`
}

// Service meters and dispatches publish requests.
type Service struct {
	accounts   Accounts
	ledger     Ledger
	publishers map[domain.Provider]Publisher
	pricing    Pricing
	now        func() time.Time
}

// NewService wires the publisher set.
func NewService(accounts Accounts, ledger Ledger, pricing Pricing, publishers map[domain.Provider]Publisher) *Service {
	return &Service{accounts: accounts, ledger: ledger, publishers: publishers, pricing: pricing, now: time.Now}
}

// Publish checks credits, creates the post and then records the charge.
func (s *Service) Publish(ctx context.Context, userID string, p domain.Provider, post domain.Post) (res *Result, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.SocialPublishes.WithLabelValues(string(p), outcome).Inc()
	}()

	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	pub, ok := s.publishers[p]
	if !ok {
		return nil, domain.Validation("provider %s is not available", p)
	}
	post.Text = strings.TrimSpace(post.Text)
	switch {
	case post.Text == "" && post.ImageURL == "":
		return nil, domain.Validation("text or imageUrl is required")
	case len([]rune(post.Text)) > maxTextLen:
		return nil, domain.Validation("text exceeds %d characters", maxTextLen)
	}

	acct, err := s.accounts.Account(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	if acct.TokenExpired(s.now()) {
		return nil, &domain.ValidationError{Code: "TOKEN_EXPIRED", Message: fmt.Sprintf("%s token expired; reconnect the account", p)}
	}

	cost := s.pricing.Cost(p, post)
	balance, err := s.ledger.Require(ctx, userID, cost)
	if err != nil {
		return nil, err
	}

	created, err := pub.Publish(ctx, acct, post)
	if err != nil {
		return nil, err
	}

	res = &Result{OK: true, ID: created.ID, Permalink: created.Permalink, Balance: balance}
	if cost > 0 {
		corr := idempotency.Key(userID, "social.publish", string(p), created.ID)
		// The post exists; the ledger must record it even if the balance
		// moved since the pre-check.
		b, err := s.ledger.Debit(context.WithoutCancel(ctx), userID, cost, corr, "social publish",
			map[string]any{"provider": p, "post_id": created.ID}, wallet.AllowOverdraft())
		if err != nil {
			// Retrying with the same post id replays the same correlation id.
			logger.Error("social publish debit failed", "user_id", userID, "provider", p, "post_id", created.ID, "error", err)
			res.ChargePending = true
			if b, berr := s.ledger.Balance(context.WithoutCancel(ctx), userID); berr == nil {
				res.Balance = b
			}
		} else {
			res.Balance = b
		}
	}
	logger.Info("social post published", "user_id", userID, "provider", p, "post_id", created.ID, "cost", cost)
	return res, nil
}
