package repositories

import (
	"context"

	"google.golang.org/genai"
)

// Inference abstracts the remote multimodal inference provider
type Inference interface {
	// GenerateContent runs a synchronous request
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	// GenerateVideos submits a long-running video job
	GenerateVideos(ctx context.Context, model string, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
	// GetVideosOperation re-fetches a job handle
	GetVideosOperation(ctx context.Context, operation *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error)
	// Download performs an authenticated GET of a delivery locator
	Download(ctx context.Context, uri string) ([]byte, string, error)
}

// ChatSession is a multi-turn conversation with the inference provider
type ChatSession interface {
	SendMessage(ctx context.Context, text string) (string, error)
}
