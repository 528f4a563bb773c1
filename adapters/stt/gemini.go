package stt

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
	"github.com/exbuilderia/studio/server/internal/normalize"
)

const (
	transcribeInstruction = "Transcribe this audio faithfully. Text only."
	defaultAudioMIMEType  = "audio/webm"
)

var _ repositories.Transcriber = (*GeminiTranscriber)(nil)

// GeminiTranscriber transcribes recordings with a multimodal model
type GeminiTranscriber struct {
	inference repositories.Inference
	model     string
	logger    *zap.Logger
}

// NewGeminiTranscriber creates a transcriber backed by inference
func NewGeminiTranscriber(inference repositories.Inference, model string, logger *zap.Logger) *GeminiTranscriber {
	if model == "" {
		model = "gemini-3-flash-preview"
		logger.Info("Using default transcription model", zap.String("model", model))
	}
	return &GeminiTranscriber{inference: inference, model: model, logger: logger}
}

// Transcribe implements repositories.Transcriber
func (g *GeminiTranscriber) Transcribe(ctx context.Context, audio entities.MediaPayload) (string, error) {
	if audio.Empty() {
		return "", fmt.Errorf("no audio data received")
	}

	mimeType := audio.MIMEType
	if mimeType == "" {
		mimeType = defaultAudioMIMEType
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(transcribeInstruction),
			genai.NewPartFromBytes(audio.Data, mimeType),
		}, genai.RoleUser),
	}

	resp, err := g.inference.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to transcribe audio: %w", err)
	}

	text := normalize.Transcript(resp)
	g.logger.Info("Audio transcribed",
		zap.String("model", g.model),
		zap.Int("audioSize", len(audio.Data)),
		zap.Int("textLength", len(text)))
	return text, nil
}
