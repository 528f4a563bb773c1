package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
)

const (
	defaultChatModel       = "gemini-3-pro-preview"
	defaultChatTemperature = 0.8
	defaultChatTimeout     = 60 * time.Second
)

// DefaultStrategySystemPrompt steers the chat agent
const DefaultStrategySystemPrompt = "You are the senior strategy and sales director of exbuilderIA. " +
	"Your mission is to design content plans that sell and drive massive engagement."

// ChatConfig tunes the strategy chat agent
type ChatConfig struct {
	Model        string
	Temperature  float32
	SystemPrompt string
	Timeout      time.Duration
}

// ValidateChatConfig validates the ChatConfig
func ValidateChatConfig(config ChatConfig) error {
	if config.Temperature != 0 && (config.Temperature < 0 || config.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", config.Temperature)
	}
	if config.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", config.Timeout)
	}
	return nil
}

// ChatSession replays a window of a conversation as context for the next turn
type ChatSession struct {
	inference    repositories.Inference
	logger       *zap.Logger
	model        string
	temperature  float32
	systemPrompt string
	timeout      time.Duration
	history      []*genai.Content
}

// NewChatSession creates a session seeded with history
func NewChatSession(inference repositories.Inference, config ChatConfig, logger *zap.Logger, history []entities.ChatTurn) (*ChatSession, error) {
	if err := ValidateChatConfig(config); err != nil {
		return nil, err
	}

	model := config.Model
	if model == "" {
		model = defaultChatModel
	}
	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultChatTemperature
	}
	systemPrompt := config.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultStrategySystemPrompt
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultChatTimeout
	}

	return &ChatSession{
		inference:    inference,
		logger:       logger,
		model:        model,
		temperature:  temperature,
		systemPrompt: systemPrompt,
		timeout:      timeout,
		history:      TurnsToContents(history),
	}, nil
}

// SendMessage sends text and returns the assistant reply. The session history
// grows only when a reply arrives.
func (s *ChatSession) SendMessage(ctx context.Context, text string) (string, error) {
	userContent := genai.NewContentFromText(text, genai.RoleUser)

	contents := make([]*genai.Content, 0, len(s.history)+1)
	contents = append(contents, s.history...)
	contents = append(contents, userContent)

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(s.systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(s.temperature),
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.inference.GenerateContent(ctx, s.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to send chat message: %w", err)
	}

	reply := contentText(resp)
	if reply == "" {
		return "", fmt.Errorf("chat model returned an empty reply")
	}

	s.history = append(s.history, userContent, genai.NewContentFromText(reply, genai.RoleModel))

	s.logger.Info("Chat message processed",
		zap.String("userMessage", preview(text)),
		zap.String("responsePreview", preview(reply)),
		zap.Int("historyLength", len(s.history)))
	return reply, nil
}

// TurnsToContents converts chat turns to provider contents
func TurnsToContents(turns []entities.ChatTurn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		role := genai.Role(genai.RoleUser)
		if turn.Role == entities.ChatRoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	return contents
}

func contentText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// preview keeps the first 50 runes of s for logging
func preview(s string) string {
	if utf8.RuneCountInString(s) <= 50 {
		return s
	}
	return string([]rune(s)[:50])
}
