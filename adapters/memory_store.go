package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
)

var (
	_ repositories.ProfileStore           = (*MemoryProfileStore)(nil)
	_ repositories.TopupRepository        = (*MemoryTopupRepository)(nil)
	_ repositories.ConversationRepository = (*MemoryConversationRepository)(nil)
)

// MemoryProfileStore is an in-memory ProfileStore for development and tests
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*entities.Account
}

// NewMemoryProfileStore creates an empty profile store
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{
		profiles: make(map[string]*entities.Account),
	}
}

// GetProfile implements repositories.ProfileStore
func (m *MemoryProfileStore) GetProfile(ctx context.Context, userID, emailHint, nameHint string) (*entities.Account, error) {
	if userID == "" {
		return nil, errors.New("user ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	profile, exists := m.profiles[userID]
	if !exists {
		profile = entities.NewAccount(userID, emailHint, nameHint)
		m.profiles[userID] = profile
	}

	// Return a copy to prevent external modifications
	profileCopy := *profile
	return &profileCopy, nil
}

// UpdateBalance implements repositories.ProfileStore
func (m *MemoryProfileStore) UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return errors.New("balance cannot be negative")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	profile, exists := m.profiles[userID]
	if !exists {
		return repositories.ErrNotFound
	}
	profile.Credits = balance
	profile.UpdatedAt = time.Now()
	return nil
}

// SetBalance overwrites a balance out of band, the way an admin edit would
func (m *MemoryProfileStore) SetBalance(userID string, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile, exists := m.profiles[userID]
	if !exists {
		profile = entities.NewAccount(userID, "", "")
		m.profiles[userID] = profile
	}
	profile.Credits = balance
}

// MemoryTopupRepository is an in-memory TopupRepository
type MemoryTopupRepository struct {
	mu     sync.RWMutex
	orders map[string]*entities.TopupOrder
}

// NewMemoryTopupRepository creates an empty top-up repository
func NewMemoryTopupRepository() *MemoryTopupRepository {
	return &MemoryTopupRepository{
		orders: make(map[string]*entities.TopupOrder),
	}
}

// Create implements repositories.TopupRepository
func (m *MemoryTopupRepository) Create(ctx context.Context, order *entities.TopupOrder) error {
	if order == nil {
		return errors.New("order cannot be nil")
	}
	if order.ID == "" {
		return errors.New("order ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.ID]; exists {
		return errors.New("order already exists")
	}
	orderCopy := *order
	m.orders[order.ID] = &orderCopy
	return nil
}

// GetByID implements repositories.TopupRepository
func (m *MemoryTopupRepository) GetByID(ctx context.Context, id string) (*entities.TopupOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, exists := m.orders[id]
	if !exists {
		return nil, repositories.ErrNotFound
	}
	orderCopy := *order
	return &orderCopy, nil
}

// SetCheckout implements repositories.TopupRepository
func (m *MemoryTopupRepository) SetCheckout(ctx context.Context, id, transactionID, checkoutURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, exists := m.orders[id]
	if !exists {
		return repositories.ErrNotFound
	}
	order.TransactionID = transactionID
	order.CheckoutURL = checkoutURL
	return nil
}

// MarkPaid implements repositories.TopupRepository
func (m *MemoryTopupRepository) MarkPaid(ctx context.Context, id, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, exists := m.orders[id]
	if !exists {
		return false, repositories.ErrNotFound
	}
	if order.Status == entities.TopupStatusPaid {
		return false, nil
	}

	now := time.Now()
	order.Status = entities.TopupStatusPaid
	order.PaidAt = &now
	if transactionID != "" {
		order.TransactionID = transactionID
	}
	return true, nil
}

// MemoryConversationRepository keeps chat history in memory
type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]*entities.Conversation
}

// NewMemoryConversationRepository creates an empty conversation repository
func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		conversations: make(map[string]*entities.Conversation),
	}
}

// GetByAccountID implements repositories.ConversationRepository
func (m *MemoryConversationRepository) GetByAccountID(ctx context.Context, accountID string) (*entities.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, exists := m.conversations[accountID]
	if !exists {
		return nil, repositories.ErrNotFound
	}
	return copyConversation(conv), nil
}

// Save implements repositories.ConversationRepository
func (m *MemoryConversationRepository) Save(ctx context.Context, conv *entities.Conversation) error {
	if conv == nil {
		return errors.New("conversation cannot be nil")
	}
	if err := conv.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv.AccountID] = copyConversation(conv)
	return nil
}

func copyConversation(conv *entities.Conversation) *entities.Conversation {
	convCopy := *conv
	convCopy.Turns = make([]entities.ChatTurn, len(conv.Turns))
	copy(convCopy.Turns, conv.Turns)
	return &convCopy
}
