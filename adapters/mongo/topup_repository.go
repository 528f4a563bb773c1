package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
)

type topupDocument struct {
	ID            string     `bson:"_id"`
	AccountID     string     `bson:"account_id"`
	PackID        string     `bson:"pack_id"`
	Credits       string     `bson:"credits"`
	AmountMinor   int64      `bson:"amount_minor"`
	Currency      string     `bson:"currency"`
	Status        string     `bson:"status"`
	TransactionID string     `bson:"transaction_id,omitempty"`
	CheckoutURL   string     `bson:"checkout_url,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
	PaidAt        *time.Time `bson:"paid_at,omitempty"`
}

// TopupRepository stores credit purchases in MongoDB
type TopupRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewTopupRepository creates a MongoDB top-up repository
func NewTopupRepository(ctx context.Context, db *mongo.Database, logger *zap.Logger) (*TopupRepository, error) {
	collection := db.Collection("topup_orders")

	// a processor transaction may settle at most one order
	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"transaction_id": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create top-up indexes: %w", err)
	}

	return &TopupRepository{collection: collection, logger: logger}, nil
}

// Create implements repositories.TopupRepository
func (r *TopupRepository) Create(ctx context.Context, order *entities.TopupOrder) error {
	if order == nil {
		return errors.New("order cannot be nil")
	}

	if _, err := r.collection.InsertOne(ctx, toTopupDocument(order)); err != nil {
		return fmt.Errorf("failed to create top-up order: %w", err)
	}
	return nil
}

// GetByID implements repositories.TopupRepository
func (r *TopupRepository) GetByID(ctx context.Context, id string) (*entities.TopupOrder, error) {
	var doc topupDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get top-up order %s: %w", id, err)
	}
	return fromTopupDocument(doc)
}

// SetCheckout implements repositories.TopupRepository
func (r *TopupRepository) SetCheckout(ctx context.Context, id, transactionID, checkoutURL string) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"transaction_id": transactionID,
			"checkout_url":   checkoutURL,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to record checkout for order %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

// MarkPaid implements repositories.TopupRepository. The status filter makes
// the flip atomic across concurrent webhook deliveries.
func (r *TopupRepository) MarkPaid(ctx context.Context, id, transactionID string) (bool, error) {
	set := bson.M{
		"status":  string(entities.TopupStatusPaid),
		"paid_at": time.Now(),
	}
	if transactionID != "" {
		set["transaction_id"] = transactionID
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": string(entities.TopupStatusPending)},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark order %s paid: %w", id, err)
	}
	if result.ModifiedCount == 1 {
		return true, nil
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, fmt.Errorf("failed to look up order %s: %w", id, err)
	}
	if count == 0 {
		return false, repositories.ErrNotFound
	}

	r.logger.Info("Top-up order already paid", zap.String("orderID", id))
	return false, nil
}

func toTopupDocument(order *entities.TopupOrder) topupDocument {
	return topupDocument{
		ID:            order.ID,
		AccountID:     order.AccountID,
		PackID:        order.PackID,
		Credits:       order.Credits.String(),
		AmountMinor:   order.AmountMinor,
		Currency:      order.Currency,
		Status:        string(order.Status),
		TransactionID: order.TransactionID,
		CheckoutURL:   order.CheckoutURL,
		CreatedAt:     order.CreatedAt,
		PaidAt:        order.PaidAt,
	}
}

func fromTopupDocument(doc topupDocument) (*entities.TopupOrder, error) {
	credits, err := decimal.NewFromString(doc.Credits)
	if err != nil {
		return nil, fmt.Errorf("invalid credits on order %s: %w", doc.ID, err)
	}
	return &entities.TopupOrder{
		ID:            doc.ID,
		AccountID:     doc.AccountID,
		PackID:        doc.PackID,
		Credits:       credits,
		AmountMinor:   doc.AmountMinor,
		Currency:      doc.Currency,
		Status:        entities.TopupStatus(doc.Status),
		TransactionID: doc.TransactionID,
		CheckoutURL:   doc.CheckoutURL,
		CreatedAt:     doc.CreatedAt,
		PaidAt:        doc.PaidAt,
	}, nil
}
