package repositories

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/exbuilderia/studio/server/domain/entities"
)

// ErrNotFound is returned by stores when a record does not exist
var ErrNotFound = errors.New("not found")

// ProfileStore is the remote, durable source of truth for account balances
type ProfileStore interface {
	// GetProfile returns the profile for userID, creating it with the starter
	// balance when it does not exist yet
	GetProfile(ctx context.Context, userID, emailHint, nameHint string) (*entities.Account, error)
	// UpdateBalance overwrites the stored balance
	UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal) error
}

// TopupRepository persists credit purchases
type TopupRepository interface {
	Create(ctx context.Context, order *entities.TopupOrder) error
	GetByID(ctx context.Context, id string) (*entities.TopupOrder, error)
	// SetCheckout records the processor session for a pending order
	SetCheckout(ctx context.Context, id, transactionID, checkoutURL string) error
	// MarkPaid flips a pending order to paid exactly once. It reports false
	// without error when the order was already paid.
	MarkPaid(ctx context.Context, id, transactionID string) (bool, error)
}

// ConversationRepository persists chat history per account
type ConversationRepository interface {
	// GetByAccountID returns ErrNotFound when the account has no conversation yet
	GetByAccountID(ctx context.Context, accountID string) (*entities.Conversation, error)
	// Save replaces the stored conversation of conv.AccountID
	Save(ctx context.Context, conv *entities.Conversation) error
}
