package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
)

const (
	metadataOrderID = "order_id"
	checkoutTTL     = 2 * time.Hour
)

var _ repositories.PaymentGateway = (*StripeGateway)(nil)

// StripeConfig holds the Stripe account settings
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
	// BackendURL overrides the Stripe API endpoint
	BackendURL string
}

// ValidateStripeConfig validates the StripeConfig
func ValidateStripeConfig(config *StripeConfig, logger *zap.Logger) error {
	if config.SecretKey == "" {
		return fmt.Errorf("Stripe secret key is required")
	}
	if config.WebhookSecret == "" {
		return fmt.Errorf("Stripe webhook secret is required")
	}
	if config.Currency == "" {
		config.Currency = "brl"
		logger.Info("Using default Stripe currency", zap.String("currency", config.Currency))
	}
	config.Currency = strings.ToLower(strings.TrimSpace(config.Currency))
	if config.SuccessURL == "" || config.CancelURL == "" {
		return fmt.Errorf("Stripe success and cancel URLs are required")
	}
	return nil
}

// StripeGateway sells credit packs through Stripe Checkout
type StripeGateway struct {
	sessions *checkoutsession.Client
	config   StripeConfig
	logger   *zap.Logger
}

// NewStripeGateway creates a gateway bound to one Stripe account
func NewStripeGateway(config StripeConfig, logger *zap.Logger) (*StripeGateway, error) {
	if err := ValidateStripeConfig(&config, logger); err != nil {
		return nil, err
	}

	backend := stripe.GetBackend(stripe.APIBackend)
	if config.BackendURL != "" {
		backend = stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(config.BackendURL),
			MaxNetworkRetries: stripe.Int64(0),
		})
	}

	return &StripeGateway{
		sessions: &checkoutsession.Client{B: backend, Key: config.SecretKey},
		config:   config,
		logger:   logger,
	}, nil
}

// CreateCheckout implements repositories.PaymentGateway. The order id travels
// as the client reference so the webhook can find the order again.
func (g *StripeGateway) CreateCheckout(ctx context.Context, order *entities.TopupOrder, customerEmail string) (string, string, error) {
	if order == nil {
		return "", "", fmt.Errorf("order cannot be nil")
	}

	currency := order.Currency
	if currency == "" {
		currency = g.config.Currency
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(g.config.SuccessURL),
		CancelURL:         stripe.String(g.config.CancelURL),
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(order.ID),
		ExpiresAt:         stripe.Int64(time.Now().Add(checkoutTTL).Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(order.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%s credits", order.Credits.String())),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if customerEmail != "" {
		params.CustomerEmail = stripe.String(customerEmail)
	}
	params.Context = ctx
	params.AddMetadata(metadataOrderID, order.ID)

	sess, err := g.sessions.New(params)
	if err != nil {
		return "", "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	if strings.TrimSpace(sess.URL) == "" {
		return "", "", fmt.Errorf("checkout session %s has no URL", sess.ID)
	}

	g.logger.Info("Checkout session created",
		zap.String("orderID", order.ID),
		zap.String("sessionID", sess.ID),
		zap.Int64("amountMinor", order.AmountMinor))
	return sess.ID, sess.URL, nil
}

// VerifyWebhook implements repositories.PaymentGateway
func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (*repositories.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.config.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify webhook signature: %w", err)
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		g.logger.Debug("Ignoring Stripe event", zap.String("type", string(event.Type)))
		return nil, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}

	orderID := strings.TrimSpace(sess.ClientReferenceID)
	if orderID == "" {
		orderID = sess.Metadata[metadataOrderID]
	}
	if orderID == "" {
		g.logger.Warn("Checkout session without order reference", zap.String("sessionID", sess.ID))
		return nil, nil
	}

	return &repositories.PaymentEvent{
		OrderID:       orderID,
		TransactionID: sess.ID,
		AmountMinor:   sess.AmountTotal,
		Currency:      strings.ToLower(string(sess.Currency)),
		Completed:     sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}, nil
}
