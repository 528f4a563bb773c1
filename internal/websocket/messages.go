package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/exbuilderia/studio/server/domain"
	"github.com/exbuilderia/studio/server/internal/videogen"
)

// MessageValidator parses and validates control messages sent by clients
type MessageValidator struct {
	validate *validator.Validate
}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{validate: validator.New()}
}

// ValidateMessage decodes a text frame into a control message
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (*domain.ControlMessage, error) {
	var msg domain.ControlMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("message type is required")
	}
	if err := v.validate.Struct(&msg); err != nil {
		if msg.Type != domain.MessageTypeRecordingStart && msg.Type != domain.MessageTypeRecordingStop {
			return nil, fmt.Errorf("unsupported message type: %s", msg.Type)
		}
		return nil, fmt.Errorf("invalid %s message: %w", msg.Type, err)
	}
	return &msg, nil
}

// NewProgressMessage converts an orchestrator update for the wire
func NewProgressMessage(p videogen.Progress) domain.ProgressMessage {
	return domain.ProgressMessage{
		Type:      domain.MessageTypeProgress,
		JobID:     p.JobID,
		State:     string(p.State),
		Phase:     string(p.Phase),
		Attempt:   p.Attempt,
		Message:   p.Message,
		Timestamp: p.Timestamp.Format(time.RFC3339),
	}
}

// NewJobResultMessage closes the progress stream of jobID
func NewJobResultMessage(jobID string, err error) domain.JobResultMessage {
	msg := domain.JobResultMessage{
		Type:      domain.MessageTypeJobResult,
		JobID:     jobID,
		Success:   err == nil,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err != nil {
		msg.ErrorKind = domain.KindOf(err)
		msg.Error = domain.MessageFor(err)
	}
	return msg
}

// NewTranscriptionMessage answers a finished recording
func NewTranscriptionMessage(text string, err error) domain.TranscriptionMessage {
	msg := domain.TranscriptionMessage{
		Type:    domain.MessageTypeTranscription,
		Text:    text,
		Success: err == nil,
	}
	if err != nil {
		msg.ErrorKind = domain.KindOf(err)
		msg.Error = domain.MessageFor(err)
	}
	return msg
}

// NewErrorMessage reports a rejected client message
func NewErrorMessage(kind domain.ErrorKind, message string) domain.ErrorMessage {
	return domain.ErrorMessage{
		Type:      domain.MessageTypeError,
		ErrorKind: kind,
		Message:   message,
	}
}
