package videogen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/exbuilderia/studio/server/domain"
	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
	"github.com/exbuilderia/studio/server/internal/media"
)

const (
	opSubmit = "videogen.submit"
	opPoll   = "videogen.poll"
	opFetch  = "videogen.fetch"

	defaultVideoMIME = "video/mp4"
)

var errJobDeadline = errors.New("job exceeded its maximum duration")

// Orchestrator drives one video generation job from submission to downloaded
// bytes: Submitting -> Polling -> Resolved | Failed
type Orchestrator struct {
	inference repositories.Inference
	config    Config
	logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(inference repositories.Inference, config Config, logger *zap.Logger) (*Orchestrator, error) {
	if err := ValidateConfig(&config, logger); err != nil {
		return nil, fmt.Errorf("invalid video generation config: %w", err)
	}
	return &Orchestrator{
		inference: inference,
		config:    config,
		logger:    logger,
	}, nil
}

// Run blocks until job is terminal. The job is owned by this call and
// mutated only here. Cancelling ctx aborts any wait or fetch in progress.
func (o *Orchestrator) Run(ctx context.Context, job *entities.GenerationJob, sink ProgressSink) (*entities.GeneratedVideo, error) {
	if sink == nil {
		sink = func(Progress) {}
	}
	if job.State.Terminal() {
		return nil, domain.Errorf(domain.KindInvalidInput, opSubmit, "job %s already finished as %s", job.ID, job.State)
	}
	if err := job.Validate(); err != nil {
		return nil, o.fail(job, domain.E(domain.KindInvalidInput, opSubmit, err))
	}

	runCtx, cancel := context.WithTimeoutCause(ctx, o.config.MaxDuration, errJobDeadline)
	defer cancel()

	o.logger.Info("Video job started",
		zap.String("jobID", job.ID),
		zap.String("accountID", job.AccountID),
		zap.String("aspectRatio", string(job.AspectRatio)))

	operation, err := o.submit(runCtx, job, sink)
	if err != nil {
		return nil, o.fail(job, err)
	}

	operation, err = o.poll(runCtx, job, operation, sink)
	if err != nil {
		return nil, o.fail(job, err)
	}

	uri, err := deliveryLocator(operation)
	if err != nil {
		return nil, o.fail(job, err)
	}
	job.DeliveryURI = uri

	video, err := o.fetch(runCtx, job, uri, sink)
	if err != nil {
		return nil, o.fail(job, err)
	}

	o.transition(job, entities.JobStateResolved)
	now := time.Now()
	job.CompletedAt = &now

	o.logger.Info("Video job resolved",
		zap.String("jobID", job.ID),
		zap.Int("polls", job.Polls),
		zap.Int("bytes", len(video.Data)),
		zap.Duration("elapsed", now.Sub(job.SubmittedAt)))
	return video, nil
}

func (o *Orchestrator) submit(ctx context.Context, job *entities.GenerationJob, sink ProgressSink) (*genai.GenerateVideosOperation, error) {
	o.emit(sink, job, PhaseOptimizing, 0)

	var image *genai.Image
	if !job.ReferenceImage.Empty() {
		data, mimeType := job.ReferenceImage.Data, job.ReferenceImage.MIMEType
		resized, err := media.Resize(data, media.VideoReferenceBounds)
		if err != nil {
			o.logger.Warn("Failed to resize reference image, sending original",
				zap.String("jobID", job.ID),
				zap.Error(err))
		} else {
			data, mimeType = resized, media.JPEGMIMEType
		}
		image = &genai.Image{ImageBytes: data, MIMEType: mimeType}
	}

	o.emit(sink, job, PhaseSubmitting, 0)
	operation, err := o.inference.GenerateVideos(ctx, o.config.Model, job.Prompt, image, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		Resolution:     o.config.Resolution,
		AspectRatio:    string(job.AspectRatio),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, interrupted(ctx, opSubmit)
		}
		return nil, domain.E(domain.KindSubmissionFailed, opSubmit, err)
	}
	if operation == nil {
		return nil, domain.Errorf(domain.KindSubmissionFailed, opSubmit, "provider returned no job handle")
	}

	job.Handle = operation.Name
	o.transition(job, entities.JobStatePolling)
	return operation, nil
}

// poll inspects the handle until it is done. Every inspection counts as a
// poll, the one of the submission response included.
func (o *Orchestrator) poll(ctx context.Context, job *entities.GenerationJob, operation *genai.GenerateVideosOperation, sink ProgressSink) (*genai.GenerateVideosOperation, error) {
	for {
		job.Polls++
		job.Done = operation.Done

		if operation.Error != nil {
			return nil, domain.Errorf(domain.KindProviderJobFailed, opPoll, "%s", operationErrorMessage(operation.Error))
		}
		if operation.Done {
			return operation, nil
		}

		timer := time.NewTimer(o.config.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, interrupted(ctx, opPoll)
		case <-timer.C:
		}

		o.emit(sink, job, PhaseRendering, job.Polls)

		next, err := o.inference.GetVideosOperation(ctx, operation)
		if err != nil {
			if ctx.Err() != nil {
				return nil, interrupted(ctx, opPoll)
			}
			return nil, domain.E(domain.KindProviderJobFailed, opPoll, fmt.Errorf("failed to refresh job handle: %w", err))
		}
		if next == nil {
			return nil, domain.Errorf(domain.KindProviderJobFailed, opPoll, "provider returned an empty job handle")
		}
		operation = next

		o.logger.Debug("Video job polled",
			zap.String("jobID", job.ID),
			zap.Int("attempt", job.Polls),
			zap.Bool("done", operation.Done))
	}
}

func (o *Orchestrator) fetch(ctx context.Context, job *entities.GenerationJob, uri string, sink ProgressSink) (*entities.GeneratedVideo, error) {
	o.emit(sink, job, PhaseFinalizing, job.Polls)

	data, mimeType, err := o.inference.Download(ctx, uri)
	if err != nil {
		if ctx.Err() != nil {
			return nil, interrupted(ctx, opFetch)
		}
		return nil, domain.E(domain.KindDeliveryFetchFailed, opFetch, err)
	}
	if len(data) == 0 {
		return nil, domain.Errorf(domain.KindDeliveryFetchFailed, opFetch, "delivery returned no bytes")
	}
	if mimeType == "" {
		mimeType = defaultVideoMIME
	}

	return &entities.GeneratedVideo{
		JobID:    job.ID,
		Data:     data,
		MIMEType: mimeType,
	}, nil
}

func deliveryLocator(operation *genai.GenerateVideosOperation) (string, error) {
	if operation.Response == nil || len(operation.Response.GeneratedVideos) == 0 {
		return "", domain.Errorf(domain.KindMissingDeliveryLocator, opFetch, "completed job carried no videos")
	}
	generated := operation.Response.GeneratedVideos[0]
	if generated == nil || generated.Video == nil || generated.Video.URI == "" {
		return "", domain.Errorf(domain.KindMissingDeliveryLocator, opFetch, "completed job carried no delivery URI")
	}
	return generated.Video.URI, nil
}

func operationErrorMessage(opErr map[string]any) string {
	if msg, ok := opErr["message"].(string); ok && msg != "" {
		if code, ok := opErr["code"]; ok {
			return fmt.Sprintf("provider error %v: %s", code, msg)
		}
		return msg
	}
	return "render was interrupted by the provider"
}

// interrupted tells the job deadline apart from caller cancellation
func interrupted(ctx context.Context, op string) error {
	if errors.Is(context.Cause(ctx), errJobDeadline) {
		return domain.E(domain.KindJobTimedOut, op, errJobDeadline)
	}
	return domain.E(domain.KindJobCancelled, op, ctx.Err())
}

func (o *Orchestrator) transition(job *entities.GenerationJob, state entities.JobState) {
	from := job.State
	job.State = state
	o.logger.Info("Video job state changed",
		zap.String("jobID", job.ID),
		zap.String("from", string(from)),
		zap.String("to", string(state)))
}

func (o *Orchestrator) fail(job *entities.GenerationJob, err error) error {
	job.Err = err
	o.transition(job, entities.JobStateFailed)
	now := time.Now()
	job.CompletedAt = &now

	o.logger.Error("Video job failed",
		zap.String("jobID", job.ID),
		zap.String("kind", string(domain.KindOf(err))),
		zap.Int("polls", job.Polls),
		zap.Error(err))
	return err
}

func (o *Orchestrator) emit(sink ProgressSink, job *entities.GenerationJob, phase Phase, attempt int) {
	sink(Progress{
		JobID:     job.ID,
		State:     job.State,
		Phase:     phase,
		Attempt:   attempt,
		Message:   phaseMessages[phase],
		Timestamp: time.Now(),
	})
}
