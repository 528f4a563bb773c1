package usecase

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/domain"
	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
	"github.com/exbuilderia/studio/server/internal/ledger"
)

// TopupService sells credit packs. Credits are granted only from a verified
// payment notification, and at most once per order.
type TopupService struct {
	ledger   *ledger.Ledger
	orders   repositories.TopupRepository
	gateway  repositories.PaymentGateway
	currency string
	logger   *zap.Logger
}

// NewTopupService creates a TopupService charging in currency
func NewTopupService(l *ledger.Ledger, orders repositories.TopupRepository, gateway repositories.PaymentGateway, currency string, logger *zap.Logger) *TopupService {
	if currency == "" {
		currency = "brl"
	}
	return &TopupService{
		ledger:   l,
		orders:   orders,
		gateway:  gateway,
		currency: strings.ToLower(currency),
		logger:   logger,
	}
}

// Packs lists the purchasable credit packs
func (s *TopupService) Packs() []entities.CreditPack {
	return entities.DefaultCreditPacks
}

// Currency is the lowercase ISO code orders are priced in
func (s *TopupService) Currency() string {
	return s.currency
}

// CreateTopup opens a pending order for packID and a checkout to pay it
func (s *TopupService) CreateTopup(ctx context.Context, accountID, packID string) (*entities.TopupOrder, error) {
	const op = "topup.create"

	account, err := s.ledger.Account(accountID)
	if err != nil {
		return nil, err
	}
	pack, ok := entities.FindCreditPack(packID)
	if !ok {
		return nil, domain.Errorf(domain.KindInvalidInput, op, "unknown credit pack %q", packID)
	}

	order := entities.NewTopupOrder(accountID, pack, s.currency)
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, domain.E(domain.KindSubmissionFailed, op, err)
	}

	transactionID, checkoutURL, err := s.gateway.CreateCheckout(ctx, order, account.Email)
	if err != nil {
		s.logger.Error("Failed to create checkout",
			zap.String("accountID", accountID),
			zap.String("orderID", order.ID),
			zap.Error(err))
		return nil, domain.E(domain.KindSubmissionFailed, op, err)
	}
	if err := s.orders.SetCheckout(ctx, order.ID, transactionID, checkoutURL); err != nil {
		return nil, domain.E(domain.KindSubmissionFailed, op, err)
	}
	order.TransactionID = transactionID
	order.CheckoutURL = checkoutURL

	s.logger.Info("Top-up order created",
		zap.String("accountID", accountID),
		zap.String("orderID", order.ID),
		zap.String("packID", pack.ID),
		zap.String("credits", pack.Credits.String()))
	return order, nil
}

// GetTopup returns an order owned by accountID
func (s *TopupService) GetTopup(ctx context.Context, accountID, orderID string) (*entities.TopupOrder, error) {
	const op = "topup.get"

	order, err := s.orders.GetByID(ctx, orderID)
	if errors.Is(err, repositories.ErrNotFound) || (err == nil && order.AccountID != accountID) {
		return nil, domain.Errorf(domain.KindInvalidInput, op, "order %s not found", orderID)
	}
	if err != nil {
		return nil, domain.E(domain.KindUnknown, op, err)
	}
	return order, nil
}

// HandleWebhook verifies a payment notification and credits the paid order.
// Repeated deliveries for the same order are acknowledged and ignored.
func (s *TopupService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	const op = "topup.webhook"

	event, err := s.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		s.logger.Warn("Rejected payment notification", zap.Error(err))
		return domain.E(domain.KindPaymentVerificationFailed, op, err)
	}
	if event == nil {
		return nil
	}
	if !event.Completed {
		s.logger.Info("Payment not completed yet", zap.String("orderID", event.OrderID))
		return nil
	}

	order, err := s.orders.GetByID(ctx, event.OrderID)
	if errors.Is(err, repositories.ErrNotFound) {
		s.logger.Warn("Payment for unknown order", zap.String("orderID", event.OrderID))
		return nil
	}
	if err != nil {
		return domain.E(domain.KindUnknown, op, err)
	}

	if err := matchPayment(order, event); err != nil {
		s.logger.Error("Payment does not match order",
			zap.String("orderID", order.ID),
			zap.Int64("expectedAmount", order.AmountMinor),
			zap.Int64("paidAmount", event.AmountMinor),
			zap.Error(err))
		return domain.E(domain.KindPaymentVerificationFailed, op, err)
	}

	paid, err := s.orders.MarkPaid(ctx, order.ID, event.TransactionID)
	if err != nil {
		return domain.E(domain.KindUnknown, op, err)
	}
	if !paid {
		s.logger.Info("Duplicate payment notification ignored", zap.String("orderID", order.ID))
		return nil
	}

	if err := s.credit(ctx, order); err != nil {
		s.logger.Error("Paid order could not be credited",
			zap.String("accountID", order.AccountID),
			zap.String("orderID", order.ID),
			zap.String("credits", order.Credits.String()),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *TopupService) credit(ctx context.Context, order *entities.TopupOrder) error {
	receipt, err := s.ledger.Credit(ctx, order.AccountID, order.Credits)
	if domain.IsKind(err, domain.KindAccountNotFound) && !entities.IsGuestID(order.AccountID) {
		if _, err := s.ledger.Open(ctx, order.AccountID, "", ""); err != nil {
			return err
		}
		receipt, err = s.ledger.Credit(ctx, order.AccountID, order.Credits)
	}
	if err != nil {
		return err
	}

	s.logger.Info("Top-up credited",
		zap.String("accountID", order.AccountID),
		zap.String("orderID", order.ID),
		zap.String("balance", receipt.Balance.String()))
	return nil
}

func matchPayment(order *entities.TopupOrder, event *repositories.PaymentEvent) error {
	if event.AmountMinor != order.AmountMinor {
		return errors.New("amount mismatch")
	}
	if event.Currency != "" && !strings.EqualFold(event.Currency, order.Currency) {
		return errors.New("currency mismatch")
	}
	if order.TransactionID != "" && event.TransactionID != "" && event.TransactionID != order.TransactionID {
		return errors.New("transaction mismatch")
	}
	return nil
}
