package entities

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MediaPayload is raw media with its MIME type
type MediaPayload struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}

// Empty reports whether there are no bytes
func (m *MediaPayload) Empty() bool {
	return m == nil || len(m.Data) == 0
}

// AspectRatio of a generated video
type AspectRatio string

const (
	AspectRatioWide AspectRatio = "16:9"
	AspectRatioTall AspectRatio = "9:16"
)

// ParseAspectRatio accepts "wide", "tall" or the ratio itself
func ParseAspectRatio(s string) (AspectRatio, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wide", "16:9", "":
		return AspectRatioWide, nil
	case "tall", "9:16":
		return AspectRatioTall, nil
	default:
		return "", errors.New("aspect ratio must be wide or tall")
	}
}

// JobState is a step of the video generation state machine
type JobState string

const (
	JobStateSubmitting JobState = "submitting"
	JobStatePolling    JobState = "polling"
	JobStateResolved   JobState = "resolved"
	JobStateFailed     JobState = "failed"
)

// Terminal reports whether no further transition can happen
func (s JobState) Terminal() bool {
	return s == JobStateResolved || s == JobStateFailed
}

// GenerationJob is one asynchronous video generation request.
// Only the orchestrator mutates it.
type GenerationJob struct {
	ID             string        `json:"id"`
	AccountID      string        `json:"account_id"`
	Prompt         string        `json:"prompt"`
	AspectRatio    AspectRatio   `json:"aspect_ratio"`
	ReferenceImage *MediaPayload `json:"reference_image,omitempty"`

	Handle      string   `json:"handle,omitempty"`
	State       JobState `json:"state"`
	Done        bool     `json:"done"`
	Err         error    `json:"-"`
	DeliveryURI string   `json:"delivery_uri,omitempty"`
	Polls       int      `json:"polls"`

	SubmittedAt time.Time  `json:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewGenerationJob creates a job in the submitting state
func NewGenerationJob(accountID, prompt string, ratio AspectRatio, ref *MediaPayload) *GenerationJob {
	return &GenerationJob{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Prompt:         prompt,
		AspectRatio:    ratio,
		ReferenceImage: ref,
		State:          JobStateSubmitting,
		SubmittedAt:    time.Now(),
	}
}

// Validate checks the job input
func (j *GenerationJob) Validate() error {
	if strings.TrimSpace(j.Prompt) == "" {
		return errors.New("prompt is required")
	}
	if j.AspectRatio != AspectRatioWide && j.AspectRatio != AspectRatioTall {
		return errors.New("invalid aspect ratio")
	}
	return nil
}

// GeneratedVideo is the final media of a resolved job
type GeneratedVideo struct {
	JobID    string `json:"job_id"`
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
}
