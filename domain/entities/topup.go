package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditPack is a purchasable bundle of credits
type CreditPack struct {
	ID          string          `json:"id"`
	Label       string          `json:"label"`
	Credits     decimal.Decimal `json:"credits"`
	AmountMinor int64           `json:"amount_minor"`
	Popular     bool            `json:"popular,omitempty"`
}

// DefaultCreditPacks are priced in minor units of the configured currency
var DefaultCreditPacks = []CreditPack{
	{ID: "starter", Label: "Starter", Credits: decimal.NewFromInt(25), AmountMinor: 2990},
	{ID: "pro", Label: "Professional", Credits: decimal.NewFromInt(120), AmountMinor: 6990, Popular: true},
	{ID: "enterprise", Label: "Enterprise", Credits: decimal.NewFromInt(350), AmountMinor: 14700},
}

// FindCreditPack looks a pack up by id
func FindCreditPack(id string) (CreditPack, bool) {
	for _, pack := range DefaultCreditPacks {
		if pack.ID == id {
			return pack, true
		}
	}
	return CreditPack{}, false
}

// TopupStatus tracks a purchase
type TopupStatus string

const (
	TopupStatusPending TopupStatus = "pending"
	TopupStatusPaid    TopupStatus = "paid"
)

// TopupOrder is a credit purchase awaiting verified payment.
// TransactionID is the idempotency key the payment processor echoes back.
type TopupOrder struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	PackID        string          `json:"pack_id"`
	Credits       decimal.Decimal `json:"credits"`
	AmountMinor   int64           `json:"amount_minor"`
	Currency      string          `json:"currency"`
	Status        TopupStatus     `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	CheckoutURL   string          `json:"checkout_url,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
}

// NewTopupOrder creates a pending order for pack
func NewTopupOrder(accountID string, pack CreditPack, currency string) *TopupOrder {
	return &TopupOrder{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		PackID:      pack.ID,
		Credits:     pack.Credits,
		AmountMinor: pack.AmountMinor,
		Currency:    currency,
		Status:      TopupStatusPending,
		CreatedAt:   time.Now(),
	}
}
