package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/exbuilderia/studio/server/domain/repositories"
)

const (
	defaultDownloadTimeout = 5 * time.Minute
	maxDownloadBytes       = 512 << 20
)

var _ repositories.Inference = (*Gemini)(nil)

// GeminiConfig holds the provider credentials
type GeminiConfig struct {
	APIKey          string
	DownloadTimeout time.Duration
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("Gemini API key is required")
	}
	if config.DownloadTimeout < 0 {
		return fmt.Errorf("download timeout must be positive, got %s", config.DownloadTimeout)
	}
	return nil
}

// Gemini implements repositories.Inference with Google's Gen AI SDK
type Gemini struct {
	client     *genai.Client
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGemini creates a Gemini inference adapter
func NewGemini(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*Gemini, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	timeout := config.DownloadTimeout
	if timeout == 0 {
		timeout = defaultDownloadTimeout
		logger.Info("Using default download timeout", zap.Duration("timeout", timeout))
	}

	return &Gemini{
		client:     client,
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// GenerateContent implements repositories.Inference
func (g *Gemini) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with %s: %w", model, err)
	}

	g.logger.Debug("Content generated",
		zap.String("model", model),
		zap.Int("candidates", len(resp.Candidates)),
		zap.Duration("latency", time.Since(start)))
	return resp, nil
}

// GenerateVideos implements repositories.Inference
func (g *Gemini) GenerateVideos(ctx context.Context, model string, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	op, err := g.client.Models.GenerateVideos(ctx, model, prompt, image, config)
	if err != nil {
		return nil, fmt.Errorf("failed to submit video job to %s: %w", model, err)
	}

	g.logger.Info("Video job submitted", zap.String("model", model), zap.String("operation", op.Name))
	return op, nil
}

// GetVideosOperation implements repositories.Inference
func (g *Gemini) GetVideosOperation(ctx context.Context, operation *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
	op, err := g.client.Operations.GetVideosOperation(ctx, operation, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get video operation %s: %w", operation.Name, err)
	}
	return op, nil
}

// Download fetches a delivery URI with the API key attached
func (g *Gemini) Download(ctx context.Context, uri string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build download request: %w", err)
	}
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("unexpected status %d downloading media", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, "", fmt.Errorf("media exceeds %d bytes", maxDownloadBytes)
	}

	g.logger.Info("Media downloaded", zap.Int("bytes", len(data)))
	return data, resp.Header.Get("Content-Type"), nil
}
