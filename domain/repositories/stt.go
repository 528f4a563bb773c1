package repositories

import (
	"context"

	"github.com/exbuilderia/studio/server/domain/entities"
)

// Transcriber converts recorded audio to text. Silence yields an empty string.
type Transcriber interface {
	Transcribe(ctx context.Context, audio entities.MediaPayload) (string, error)
}

// AudioRecorder accumulates a recording from a capture device
type AudioRecorder interface {
	Start(mimeType string) error
	Write(chunk []byte) error
	// Stop ends the recording and returns everything captured
	Stop() (entities.MediaPayload, error)
	Recording() bool
}
