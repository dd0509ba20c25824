package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/distlock"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/pkg/metrics"
)

const lockPoll = 100 * time.Millisecond

// Options tunes the manager. Zero values get defaults.
type Options struct {
	ChangeLimit int
	StateTTL    time.Duration
	// LockWait bounds how long a callback waits for the per-user lock.
	LockWait time.Duration
}

// Service is the connection manager.
type Service struct {
	repo      Repository
	locks     distlock.Factory
	providers map[domain.Provider]Provider
	opts      Options
	now       func() time.Time
}

// NewService wires the manager with the enabled providers.
func NewService(repo Repository, locks distlock.Factory, opts Options, providers ...Provider) *Service {
	if opts.ChangeLimit <= 0 {
		opts.ChangeLimit = 2
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = 15 * time.Minute
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 10 * time.Second
	}
	if locks == nil {
		locks = distlock.NewLocalFactory()
	}
	m := make(map[domain.Provider]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Service{repo: repo, locks: locks, providers: m, opts: opts, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) provider(p domain.Provider) (Provider, error) {
	prov, ok := s.providers[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, ErrProviderDisabled)
	}
	return prov, nil
}

// Start records a fresh state and returns the consent URL.
func (s *Service) Start(ctx context.Context, userID string, p domain.Provider) (string, error) {
	if userID == "" {
		return "", domain.ErrUnauthorized
	}
	prov, err := s.provider(p)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	if n, err := s.repo.PruneStates(ctx, now.Add(-s.opts.StateTTL)); err != nil {
		logger.Warn("prune oauth states failed", "error", err)
	} else if n > 0 {
		logger.Debug("pruned oauth states", "count", n)
	}

	if _, err := s.repo.GetAccount(ctx, userID, p); err == nil {
		used, err := s.repo.ChangesUsed(ctx, userID, p)
		if err != nil {
			return "", &domain.PersistenceError{Op: "read change usage", Err: err}
		}
		if used >= s.opts.ChangeLimit {
			return "", &domain.ChangeLimitExceededError{Provider: p, Remaining: 0}
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return "", &domain.PersistenceError{Op: "read account", Err: err}
	}

	state, err := newState()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	if err := s.repo.SaveState(ctx, &domain.OAuthState{State: state, UserID: userID, Provider: p, CreatedAt: now}); err != nil {
		return "", &domain.PersistenceError{Op: "save oauth state", Err: err}
	}
	logger.Info("oauth started", "user_id", userID, "provider", p)
	return prov.AuthCodeURL(state), nil
}

// Callback completes a consent round trip and returns the stored account.
func (s *Service) Callback(ctx context.Context, p domain.Provider, code, state string) (acct *domain.SocialAccount, err error) {
	defer func() { record(p, "callback", err) }()

	prov, err := s.provider(p)
	if err != nil {
		return nil, err
	}
	if state == "" {
		return nil, domain.ErrInvalidState
	}
	st, err := s.repo.ConsumeState(ctx, state)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, domain.ErrInvalidState
	case err != nil:
		return nil, &domain.PersistenceError{Op: "consume oauth state", Err: err}
	}
	if st.Provider != p || s.now().Sub(st.CreatedAt) > s.opts.StateTTL {
		return nil, domain.ErrInvalidState
	}
	if code == "" {
		return nil, domain.Validation("code is required")
	}

	tok, err := prov.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	id, err := prov.Identity(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	err = s.withLock(ctx, st.UserID, p, func() error {
		var lerr error
		acct, lerr = s.store(ctx, prov, st.UserID, tok, id)
		return lerr
	})
	if err != nil {
		return nil, err
	}
	logger.Info("oauth connected", "user_id", st.UserID, "provider", p, "external_id", id.ExternalID)
	return acct, nil
}

// store upserts the account, charging one change on an identity switch.
func (s *Service) store(ctx context.Context, prov Provider, userID string, tok *Token, id *Identity) (*domain.SocialAccount, error) {
	p := prov.Name()
	now := s.now().UTC()
	acct := &domain.SocialAccount{
		UserID:       userID,
		Provider:     p,
		ExternalID:   id.ExternalID,
		DisplayName:  id.Name,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
		Scopes:       tok.Scopes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	switched := false
	existing, err := s.repo.GetAccount(ctx, userID, p)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return nil, &domain.PersistenceError{Op: "read account", Err: err}
	case existing.ExternalID == id.ExternalID:
		acct.CreatedAt = existing.CreatedAt
		acct.SelectedPageID = existing.SelectedPageID
	default:
		ok, err := s.repo.ConsumeChange(ctx, userID, p, s.opts.ChangeLimit)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "consume connection change", Err: err}
		}
		if !ok {
			s.revoke(ctx, prov, tok.AccessToken)
			return nil, &domain.ChangeLimitExceededError{Provider: p, Remaining: 0}
		}
		switched = true
		logger.Info("oauth identity switched", "user_id", userID, "provider", p,
			"from", existing.ExternalID, "to", id.ExternalID)
	}

	if err := s.repo.UpsertAccount(ctx, acct); err != nil {
		if switched {
			s.refundChange(ctx, userID, p)
		}
		return nil, &domain.PersistenceError{Op: "upsert account", Err: err}
	}
	return acct, nil
}

// Disconnect consumes one change, revokes the token and deletes the account.
func (s *Service) Disconnect(ctx context.Context, userID string, p domain.Provider) (err error) {
	defer func() { record(p, "disconnect", err) }()
	if userID == "" {
		return domain.ErrUnauthorized
	}
	prov, err := s.provider(p)
	if err != nil {
		return err
	}

	return s.withLock(ctx, userID, p, func() error {
		acct, err := s.repo.GetAccount(ctx, userID, p)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%s account: %w", p, domain.ErrNotFound)
			}
			return &domain.PersistenceError{Op: "read account", Err: err}
		}
		ok, err := s.repo.ConsumeChange(ctx, userID, p, s.opts.ChangeLimit)
		if err != nil {
			return &domain.PersistenceError{Op: "consume connection change", Err: err}
		}
		if !ok {
			return &domain.ChangeLimitExceededError{Provider: p, Remaining: 0}
		}
		s.revoke(ctx, prov, acct.AccessToken)
		if err := s.repo.DeleteAccount(ctx, userID, p); err != nil {
			s.refundChange(ctx, userID, p)
			return &domain.PersistenceError{Op: "delete account", Err: err}
		}
		logger.Info("oauth disconnected", "user_id", userID, "provider", p)
		return nil
	})
}

// refundChange returns a change whose account write did not happen.
func (s *Service) refundChange(ctx context.Context, userID string, p domain.Provider) {
	if err := s.repo.RefundChange(context.WithoutCancel(ctx), userID, p); err != nil {
		logger.Error("refund connection change failed", "user_id", userID, "provider", p, "error", err)
	}
}

// Status reports the connection without exposing tokens.
func (s *Service) Status(ctx context.Context, userID string, p domain.Provider) (*domain.ConnectionStatus, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	if _, err := s.provider(p); err != nil {
		return nil, err
	}
	used, err := s.repo.ChangesUsed(ctx, userID, p)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "read change usage", Err: err}
	}
	st := &domain.ConnectionStatus{
		Provider:         p,
		ChangesUsed:      used,
		ChangesRemaining: max(s.opts.ChangeLimit-used, 0),
	}
	acct, err := s.repo.GetAccount(ctx, userID, p)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return st, nil
	case err != nil:
		return nil, &domain.PersistenceError{Op: "read account", Err: err}
	}
	st.Connected = true
	st.ExternalID = acct.ExternalID
	st.Name = acct.DisplayName
	st.Scopes = acct.Scopes
	st.ExpiresAt = acct.ExpiresAt
	st.SelectedPageID = acct.SelectedPageID
	return st, nil
}

// Account returns the stored account including tokens, for publishing.
func (s *Service) Account(ctx context.Context, userID string, p domain.Provider) (*domain.SocialAccount, error) {
	acct, err := s.repo.GetAccount(ctx, userID, p)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%s account: %w", p, domain.ErrNotFound)
		}
		return nil, &domain.PersistenceError{Op: "read account", Err: err}
	}
	return acct, nil
}

// Pages lists the pages the connected Facebook user manages.
func (s *Service) Pages(ctx context.Context, userID string) ([]domain.Page, error) {
	prov, err := s.provider(domain.ProviderFacebook)
	if err != nil {
		return nil, err
	}
	lister, ok := prov.(PageLister)
	if !ok {
		return nil, ErrPagesUnsupported
	}
	acct, err := s.Account(ctx, userID, domain.ProviderFacebook)
	if err != nil {
		return nil, err
	}
	return lister.Pages(ctx, acct.AccessToken)
}

// SelectPage stores the default publish page after checking ownership.
func (s *Service) SelectPage(ctx context.Context, userID, pageID string) error {
	if pageID == "" {
		return domain.Validation("page_id is required")
	}
	pages, err := s.Pages(ctx, userID)
	if err != nil {
		return err
	}
	for _, pg := range pages {
		if pg.ID == pageID {
			if err := s.repo.SetSelectedPage(ctx, userID, domain.ProviderFacebook, pageID); err != nil {
				return &domain.PersistenceError{Op: "select page", Err: err}
			}
			return nil
		}
	}
	return domain.Validation("page %s is not managed by this account", pageID)
}

func (s *Service) withLock(ctx context.Context, userID string, p domain.Provider, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.LockWait)
	defer cancel()
	lock := s.locks.Lock(fmt.Sprintf("oauth:%s:%s", userID, p))
	return distlock.Do(ctx, lock, lockPoll, fn)
}

func (s *Service) revoke(ctx context.Context, prov Provider, token string) {
	if token == "" {
		return
	}
	if err := prov.Revoke(context.WithoutCancel(ctx), token); err != nil {
		logger.Warn("oauth token revoke failed", "provider", prov.Name(), "error", err)
	}
}

func record(p domain.Provider, op string, err error) {
	outcome := "ok"
	var cl *domain.ChangeLimitExceededError
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidState):
		outcome = "invalid_state"
	case errors.As(err, &cl):
		outcome = "change_limit"
	default:
		outcome = "error"
	}
	metrics.OAuthOutcomes.WithLabelValues(string(p), op, outcome).Inc()
}

// newState returns 32 random bytes, URL-safe encoded.
func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
