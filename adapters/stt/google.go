package stt

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
)

const streamChunkSize = 32 * 1024

var _ repositories.Transcriber = (*GoogleSpeechTranscriber)(nil)

// GoogleSpeechConfig holds the recognition settings
type GoogleSpeechConfig struct {
	LanguageCode string
	// SampleRate is only sent for encodings that do not carry it in a header
	SampleRate int
}

// ValidateGoogleSpeechConfig validates the GoogleSpeechConfig
func ValidateGoogleSpeechConfig(config *GoogleSpeechConfig, logger *zap.Logger) error {
	if config.LanguageCode == "" {
		config.LanguageCode = "pt-BR"
		logger.Info("Using default speech language", zap.String("languageCode", config.LanguageCode))
	}
	if config.SampleRate == 0 {
		config.SampleRate = 48000
		logger.Info("Using default speech sample rate", zap.Int("sampleRate", config.SampleRate))
	}
	if config.SampleRate < 0 {
		return fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	return nil
}

// GoogleSpeechTranscriber transcribes recordings with Google Cloud Speech-to-Text
type GoogleSpeechTranscriber struct {
	client *speech.Client
	config GoogleSpeechConfig
	logger *zap.Logger
}

// NewGoogleSpeechTranscriber creates a transcriber using application default credentials
func NewGoogleSpeechTranscriber(ctx context.Context, config GoogleSpeechConfig, logger *zap.Logger) (*GoogleSpeechTranscriber, error) {
	if err := ValidateGoogleSpeechConfig(&config, logger); err != nil {
		return nil, err
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	return &GoogleSpeechTranscriber{client: client, config: config, logger: logger}, nil
}

// Close releases the underlying client
func (g *GoogleSpeechTranscriber) Close() error {
	return g.client.Close()
}

// Transcribe implements repositories.Transcriber
func (g *GoogleSpeechTranscriber) Transcribe(ctx context.Context, audio entities.MediaPayload) (string, error) {
	if audio.Empty() {
		return "", fmt.Errorf("no audio data received")
	}

	recognitionConfig, err := g.recognitionConfig(audio.MIMEType)
	if err != nil {
		return "", err
	}

	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         recognitionConfig,
				InterimResults: false,
			},
		},
	}); err != nil {
		stream.CloseSend()
		return "", fmt.Errorf("failed to send streaming config: %w", err)
	}

	for offset := 0; offset < len(audio.Data); offset += streamChunkSize {
		end := min(offset+streamChunkSize, len(audio.Data))
		if err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: audio.Data[offset:end],
			},
		}); err != nil {
			stream.CloseSend()
			return "", fmt.Errorf("failed to send audio data: %w", err)
		}
	}

	if err := stream.CloseSend(); err != nil {
		return "", fmt.Errorf("failed to close send stream: %w", err)
	}

	var segments []string
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to receive response: %w", err)
		}
		for _, result := range resp.Results {
			if result.IsFinal && len(result.Alternatives) > 0 {
				segments = append(segments, strings.TrimSpace(result.Alternatives[0].Transcript))
			}
		}
	}

	text := strings.TrimSpace(strings.Join(segments, " "))
	g.logger.Info("Speech transcribed",
		zap.Int("audioSize", len(audio.Data)),
		zap.Int("segments", len(segments)),
		zap.Int("textLength", len(text)))
	return text, nil
}

func (g *GoogleSpeechTranscriber) recognitionConfig(mimeType string) (*speechpb.RecognitionConfig, error) {
	encoding, err := encodingForMIME(mimeType)
	if err != nil {
		return nil, err
	}

	config := &speechpb.RecognitionConfig{
		Encoding:                   encoding,
		LanguageCode:               g.config.LanguageCode,
		EnableAutomaticPunctuation: true,
	}
	if encoding != speechpb.RecognitionConfig_FLAC && encoding != speechpb.RecognitionConfig_LINEAR16 {
		config.SampleRateHertz = int32(g.config.SampleRate)
	}
	return config, nil
}

// encodingForMIME maps a recording MIME type to the Speech API encoding
func encodingForMIME(mimeType string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}

	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/l16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "audio/flac", "audio/x-flac":
		return speechpb.RecognitionConfig_FLAC, nil
	case "audio/basic", "audio/mulaw":
		return speechpb.RecognitionConfig_MULAW, nil
	case "audio/amr":
		return speechpb.RecognitionConfig_AMR, nil
	case "audio/amr-wb":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "audio/ogg":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "audio/webm", "":
		if codecs := params["codecs"]; codecs != "" && !strings.Contains(codecs, "opus") {
			return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported webm codec: %s", codecs)
		}
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", mimeType)
	}
}
