package videogen

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/domain/entities"
)

// Phase is an advisory step of a job, used only for progress reporting
type Phase string

const (
	PhaseOptimizing Phase = "optimizing"
	PhaseSubmitting Phase = "submitting"
	PhaseRendering  Phase = "rendering"
	PhaseFinalizing Phase = "finalizing"
)

var phaseMessages = map[Phase]string{
	PhaseOptimizing: "Optimizing prompt and inputs...",
	PhaseSubmitting: "Submitting request to the render cluster...",
	PhaseRendering:  "Rendering... this usually takes 1 to 2 minutes.",
	PhaseFinalizing: "Finalizing download of the master MP4...",
}

// Progress is a human-readable, non-authoritative update
type Progress struct {
	JobID     string
	State     entities.JobState
	Phase     Phase
	Attempt   int
	Message   string
	Timestamp time.Time
}

// ProgressSink receives progress updates. It must not block for long.
type ProgressSink func(Progress)

// Config tunes the orchestrator
type Config struct {
	Model        string
	Resolution   string
	PollInterval time.Duration
	// MaxDuration bounds the whole job, polling and download included
	MaxDuration time.Duration
}

const (
	DefaultModel        = "veo-3.1-fast-generate-preview"
	DefaultResolution   = "720p"
	DefaultPollInterval = 10 * time.Second
	DefaultMaxDuration  = 10 * time.Minute
)

// ValidateConfig fills defaults and rejects impossible bounds
func ValidateConfig(config *Config, logger *zap.Logger) error {
	if config.Model == "" {
		config.Model = DefaultModel
		logger.Info("Using default video model", zap.String("model", config.Model))
	}
	if config.Resolution == "" {
		config.Resolution = DefaultResolution
	}
	if config.PollInterval == 0 {
		config.PollInterval = DefaultPollInterval
		logger.Info("Using default poll interval", zap.Duration("interval", config.PollInterval))
	}
	if config.MaxDuration == 0 {
		config.MaxDuration = DefaultMaxDuration
		logger.Info("Using default max job duration", zap.Duration("maxDuration", config.MaxDuration))
	}
	if config.PollInterval < 0 {
		return fmt.Errorf("poll interval must be positive, got %s", config.PollInterval)
	}
	if config.MaxDuration < config.PollInterval {
		return fmt.Errorf("max duration %s is shorter than the poll interval %s", config.MaxDuration, config.PollInterval)
	}
	return nil
}
