package memory

import (
	"context"
	"time"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/service/oauth"
)

// ConnectionRepo implements oauth.Repository.
type ConnectionRepo struct{ s *Store }

var _ oauth.Repository = (*ConnectionRepo)(nil)

func (r *ConnectionRepo) PruneStates(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, st := range r.s.states {
		if st.CreatedAt.Before(cutoff) {
			delete(r.s.states, k)
			n++
		}
	}
	return n, nil
}

func (r *ConnectionRepo) SaveState(_ context.Context, st *domain.OAuthState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.states[st.State] = *st
	return nil
}

func (r *ConnectionRepo) ConsumeState(_ context.Context, state string) (*domain.OAuthState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.states[state]
	if !ok {
		return nil, domain.ErrNotFound
	}
	delete(r.s.states, state)
	return &st, nil
}

func (r *ConnectionRepo) GetAccount(_ context.Context, userID string, p domain.Provider) (*domain.SocialAccount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[accountKey{userID, p}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	cp.Scopes = append([]string(nil), a.Scopes...)
	return &cp, nil
}

func (r *ConnectionRepo) UpsertAccount(_ context.Context, a *domain.SocialAccount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *a
	key := accountKey{a.UserID, a.Provider}
	if old, ok := r.s.accounts[key]; ok {
		cp.CreatedAt = old.CreatedAt
	}
	r.s.accounts[key] = &cp
	return nil
}

func (r *ConnectionRepo) DeleteAccount(_ context.Context, userID string, p domain.Provider) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.accounts, accountKey{userID, p})
	return nil
}

func (r *ConnectionRepo) SetSelectedPage(_ context.Context, userID string, p domain.Provider, pageID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.accounts[accountKey{userID, p}]
	if !ok {
		return domain.ErrNotFound
	}
	a.SelectedPageID = pageID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *ConnectionRepo) ChangesUsed(_ context.Context, userID string, p domain.Provider) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.usage[accountKey{userID, p}], nil
}

func (r *ConnectionRepo) ConsumeChange(_ context.Context, userID string, p domain.Provider, limit int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := accountKey{userID, p}
	if r.s.usage[key] >= limit {
		return false, nil
	}
	r.s.usage[key]++
	return true, nil
}

func (r *ConnectionRepo) RefundChange(_ context.Context, userID string, p domain.Provider) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := accountKey{userID, p}
	if r.s.usage[key] > 0 {
		r.s.usage[key]--
	}
	return nil
}
