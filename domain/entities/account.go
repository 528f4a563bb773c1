package entities

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// GuestIDPrefix marks accounts that live only in memory
	GuestIDPrefix = "guest-user"

	defaultDisplayName = "New Creator"
	guestDisplayName   = "Beta Creator"
	guestEmail         = "guest@exbuilder.ia"
)

var (
	// StarterBalance seeds accounts created in the remote profile store
	StarterBalance = decimal.NewFromInt(10)
	// GuestStarterBalance seeds in-memory guest accounts
	GuestStarterBalance = decimal.NewFromInt(100)
)

// Account represents a creator and their credit balance
type Account struct {
	ID          string          `json:"id" db:"id"`
	DisplayName string          `json:"display_name" db:"full_name"`
	Email       string          `json:"email" db:"email"`
	AvatarURL   string          `json:"avatar_url,omitempty" db:"avatar_url"`
	Credits     decimal.Decimal `json:"credits" db:"credits"`
	// Stale is set when the last balance write to the remote store failed
	Stale     bool      `json:"balance_stale"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAccount builds a remote account seeded with the starter balance.
// Empty hints fall back to defaults.
func NewAccount(id, emailHint, nameHint string) *Account {
	name := strings.TrimSpace(nameHint)
	if name == "" {
		name = defaultDisplayName
	}
	return &Account{
		ID:          id,
		DisplayName: name,
		Email:       strings.TrimSpace(emailHint),
		Credits:     StarterBalance,
		UpdatedAt:   time.Now(),
	}
}

// NewGuestAccount builds a non-persisted guest with a unique id
func NewGuestAccount() *Account {
	return &Account{
		ID:          GuestIDPrefix + ":" + uuid.NewString(),
		DisplayName: guestDisplayName,
		Email:       guestEmail,
		Credits:     GuestStarterBalance,
		UpdatedAt:   time.Now(),
	}
}

// IsGuestID reports whether id belongs to a guest account
func IsGuestID(id string) bool {
	return id == GuestIDPrefix || strings.HasPrefix(id, GuestIDPrefix+":")
}

// IsGuest reports whether the account is never synchronized remotely
func (a *Account) IsGuest() bool {
	return IsGuestID(a.ID)
}

// CanAfford reports whether the balance covers cost
func (a *Account) CanAfford(cost decimal.Decimal) bool {
	return a.Credits.GreaterThanOrEqual(cost)
}

// Validate checks the account invariants
func (a *Account) Validate() error {
	if a.ID == "" {
		return errors.New("account id is required")
	}
	if a.Credits.IsNegative() {
		return errors.New("credits cannot be negative")
	}
	return nil
}

// Snapshot returns a copy safe to hand outside the ledger
func (a *Account) Snapshot() Account {
	return *a
}
