package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
)

type turnDocument struct {
	Role      string    `bson:"role"`
	Text      string    `bson:"text"`
	Timestamp time.Time `bson:"timestamp"`
}

type conversationDocument struct {
	AccountID     string         `bson:"_id"`
	Turns         []turnDocument `bson:"turns"`
	CreatedAt     time.Time      `bson:"created_at"`
	LastMessageAt *time.Time     `bson:"last_message_at,omitempty"`
}

// ConversationRepository keeps one chat history document per account
type ConversationRepository struct {
	collection *mongo.Collection
}

// NewConversationRepository creates a MongoDB conversation repository
func NewConversationRepository(db *mongo.Database) *ConversationRepository {
	return &ConversationRepository{
		collection: db.Collection("conversations"),
	}
}

// GetByAccountID implements repositories.ConversationRepository
func (r *ConversationRepository) GetByAccountID(ctx context.Context, accountID string) (*entities.Conversation, error) {
	if accountID == "" {
		return nil, errors.New("account ID cannot be empty")
	}

	var doc conversationDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": accountID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation for account %s: %w", accountID, err)
	}

	conv := &entities.Conversation{
		AccountID:     doc.AccountID,
		Turns:         make([]entities.ChatTurn, 0, len(doc.Turns)),
		CreatedAt:     doc.CreatedAt,
		LastMessageAt: doc.LastMessageAt,
	}
	for _, turn := range doc.Turns {
		conv.Turns = append(conv.Turns, entities.ChatTurn{
			Role:      entities.ChatRole(turn.Role),
			Text:      turn.Text,
			Timestamp: turn.Timestamp,
		})
	}
	return conv, nil
}

// Save implements repositories.ConversationRepository
func (r *ConversationRepository) Save(ctx context.Context, conv *entities.Conversation) error {
	if conv == nil {
		return errors.New("conversation cannot be nil")
	}
	if err := conv.Validate(); err != nil {
		return err
	}

	turns := make([]turnDocument, 0, len(conv.Turns))
	for _, turn := range conv.Turns {
		turns = append(turns, turnDocument{
			Role:      string(turn.Role),
			Text:      turn.Text,
			Timestamp: turn.Timestamp,
		})
	}

	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": conv.AccountID},
		conversationDocument{
			AccountID:     conv.AccountID,
			Turns:         turns,
			CreatedAt:     conv.CreatedAt,
			LastMessageAt: conv.LastMessageAt,
		},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation for account %s: %w", conv.AccountID, err)
	}
	return nil
}
