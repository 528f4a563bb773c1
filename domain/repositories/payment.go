package repositories

import (
	"context"

	"github.com/exbuilderia/studio/server/domain/entities"
)

// PaymentEvent is a verified notification from the payment processor
type PaymentEvent struct {
	// OrderID is the reference we handed to the processor at checkout
	OrderID       string
	TransactionID string
	AmountMinor   int64
	Currency      string
	Completed     bool
}

// PaymentGateway creates checkouts and verifies processor callbacks
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, order *entities.TopupOrder, customerEmail string) (transactionID, checkoutURL string, err error)
	// VerifyWebhook authenticates payload and returns nil, nil for events that
	// do not concern top-ups
	VerifyWebhook(payload []byte, signature string) (*PaymentEvent, error)
}
