package stt

import (
	"errors"
	"sync"

	"github.com/exbuilderia/studio/server/domain"
	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
)

// MaxRecordingSize bounds a single buffered recording
const MaxRecordingSize = 20 * 1024 * 1024

var (
	errNotRecording      = errors.New("no recording in progress")
	errRecordingTooLarge = errors.New("recording exceeds maximum size")
)

var _ repositories.AudioRecorder = (*BufferRecorder)(nil)

// BufferRecorder collects chunks streamed from a client capture device
type BufferRecorder struct {
	mu        sync.Mutex
	recording bool
	mimeType  string
	data      []byte
}

// NewBufferRecorder creates an idle recorder
func NewBufferRecorder() *BufferRecorder {
	return &BufferRecorder{}
}

// Start implements repositories.AudioRecorder. Starting twice reports the
// device as unavailable.
func (r *BufferRecorder) Start(mimeType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return domain.Errorf(domain.KindDeviceUnavailable, "recorder.start", "recording already in progress")
	}
	if mimeType == "" {
		mimeType = defaultAudioMIMEType
	}
	r.recording = true
	r.mimeType = mimeType
	r.data = r.data[:0]
	return nil
}

// Write implements repositories.AudioRecorder
func (r *BufferRecorder) Write(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return domain.E(domain.KindDeviceUnavailable, "recorder.write", errNotRecording)
	}
	if len(r.data)+len(chunk) > MaxRecordingSize {
		return domain.E(domain.KindInvalidInput, "recorder.write", errRecordingTooLarge)
	}
	r.data = append(r.data, chunk...)
	return nil
}

// Stop implements repositories.AudioRecorder
func (r *BufferRecorder) Stop() (entities.MediaPayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return entities.MediaPayload{}, domain.E(domain.KindDeviceUnavailable, "recorder.stop", errNotRecording)
	}
	r.recording = false

	data := make([]byte, len(r.data))
	copy(data, r.data)
	r.data = nil
	return entities.MediaPayload{Data: data, MIMEType: r.mimeType}, nil
}

// Recording reports whether a capture is in progress
func (r *BufferRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}
