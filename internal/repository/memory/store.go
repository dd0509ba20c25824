// Package memory provides thread-safe in-memory repositories. They back the
// service tests and the server's no-database development mode, and mirror
// the conditional-update semantics of the PostgreSQL implementations.
package memory

import (
	"sync"

	"github.com/ignite/outreach/internal/domain"
)

// Store is the shared state behind every in-memory repository.
type Store struct {
	mu sync.Mutex

	campaigns  map[string]*domain.Campaign
	recipients map[string]*domain.Recipient
	order      []string // recipient ids in insertion order

	ledger  []domain.LedgerEntry
	byCorr  map[string]bool
	wallets map[string]int64

	accounts map[accountKey]*domain.SocialAccount
	states   map[string]domain.OAuthState
	usage    map[accountKey]int
}

type accountKey struct {
	userID   string
	provider domain.Provider
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		campaigns:  make(map[string]*domain.Campaign),
		recipients: make(map[string]*domain.Recipient),
		byCorr:     make(map[string]bool),
		wallets:    make(map[string]int64),
		accounts:   make(map[accountKey]*domain.SocialAccount),
		states:     make(map[string]domain.OAuthState),
		usage:      make(map[accountKey]int),
	}
}

// Wallets returns the ledger repository.
func (s *Store) Wallets() *WalletRepo { return &WalletRepo{s} }

// Campaigns returns the campaign and recipient-queue repository.
func (s *Store) Campaigns() *CampaignRepo { return &CampaignRepo{s} }

// Recipients returns the tracking and delivery repository.
func (s *Store) Recipients() *RecipientRepo { return &RecipientRepo{s} }

// Connections returns the OAuth state, account and usage repository.
func (s *Store) Connections() *ConnectionRepo { return &ConnectionRepo{s} }
