package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"google.golang.org/genai"

	"github.com/exbuilderia/studio/server/domain"
	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
	"github.com/exbuilderia/studio/server/internal/ledger"
	"github.com/exbuilderia/studio/server/internal/media"
	"github.com/exbuilderia/studio/server/internal/normalize"
	"github.com/exbuilderia/studio/server/internal/videogen"
)

const (
	VoiceZephyr = "Zephyr"
	VoiceKore   = "Kore"

	defaultChatHistoryLimit = 40
	defaultSyncWait         = 2 * time.Second
)

// Voices lists the supported synthesis voices
var Voices = []string{VoiceZephyr, VoiceKore}

// Models names the model used by each operation
type Models struct {
	Audit      string
	Image      string
	Speech     string
	Transcribe string
	Refine     string
}

// StudioConfig tunes the StudioService
type StudioConfig struct {
	Models Models
	// ChatHistoryLimit caps how many recent turns are replayed to the chat model
	ChatHistoryLimit int
	// SyncWait bounds how long a trigger waits to report the balance write
	SyncWait time.Duration
}

// ValidateStudioConfig fills defaults
func ValidateStudioConfig(config *StudioConfig, logger *zap.Logger) error {
	defaults := []struct {
		name  string
		value *string
		def   string
	}{
		{"audit", &config.Models.Audit, "gemini-3-pro-preview"},
		{"image", &config.Models.Image, "gemini-2.5-flash-image"},
		{"speech", &config.Models.Speech, "gemini-2.5-flash-preview-tts"},
		{"transcribe", &config.Models.Transcribe, "gemini-3-flash-preview"},
		{"refine", &config.Models.Refine, "gemini-3-flash-preview"},
	}
	for _, d := range defaults {
		if *d.value == "" {
			*d.value = d.def
			logger.Info("Using default model", zap.String("operation", d.name), zap.String("model", d.def))
		}
	}

	if config.ChatHistoryLimit < 0 {
		return fmt.Errorf("chat history limit must not be negative, got %d", config.ChatHistoryLimit)
	}
	if config.ChatHistoryLimit == 0 {
		config.ChatHistoryLimit = defaultChatHistoryLimit
		logger.Info("Using default chat history limit", zap.Int("limit", config.ChatHistoryLimit))
	}
	if config.SyncWait <= 0 {
		config.SyncWait = defaultSyncWait
	}
	return nil
}

// ChatFactory opens a chat session replaying history
type ChatFactory func(history []entities.ChatTurn) (repositories.ChatSession, error)

// StudioDeps are the collaborators of a StudioService
type StudioDeps struct {
	Ledger        *ledger.Ledger
	Orchestrator  *videogen.Orchestrator
	Inference     repositories.Inference
	Transcriber   repositories.Transcriber
	Conversations repositories.ConversationRepository
	NewChat       ChatFactory
}

// Charge reports what a trigger cost
type Charge struct {
	Operation entities.OperationKind `json:"operation"`
	Cost      decimal.Decimal        `json:"cost"`
	Balance   decimal.Decimal        `json:"balance"`
	// SyncFailed is set when the balance could not be written to the profile store
	SyncFailed bool `json:"ledgerSyncFailed,omitempty"`
}

// AuditResult is a normalized compliance report
type AuditResult struct {
	Report *entities.ComplianceReport `json:"report"`
	Charge Charge                     `json:"charge"`
}

// ImageResult is a generated or edited image
type ImageResult struct {
	Image  *normalize.Image `json:"image"`
	Charge Charge           `json:"charge"`
}

// TranscriptResult is the text of a recording
type TranscriptResult struct {
	Text   string `json:"text"`
	Charge Charge `json:"charge"`
}

// SpeechResult is synthesized audio as WAV
type SpeechResult struct {
	Audio  *normalize.Audio `json:"-"`
	Charge Charge           `json:"charge"`
}

// VideoResult is a resolved generation job
type VideoResult struct {
	Video  *entities.GeneratedVideo `json:"video"`
	Job    *entities.GenerationJob  `json:"job"`
	Charge Charge                   `json:"charge"`
}

// ChatResult is the assistant's reply to a chat turn
type ChatResult struct {
	Reply  string `json:"reply"`
	Charge Charge `json:"charge"`
}

// StudioService runs every metered operation: it guards the account against
// concurrent triggers, charges the ledger, then calls the provider
type StudioService struct {
	ledger        *ledger.Ledger
	orchestrator  *videogen.Orchestrator
	inference     repositories.Inference
	transcriber   repositories.Transcriber
	conversations repositories.ConversationRepository
	newChat       ChatFactory
	config        StudioConfig
	logger        *zap.Logger

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewStudioService creates a StudioService
func NewStudioService(deps StudioDeps, config StudioConfig, logger *zap.Logger) (*StudioService, error) {
	if deps.Ledger == nil || deps.Orchestrator == nil || deps.Inference == nil {
		return nil, errors.New("ledger, orchestrator and inference are required")
	}
	if deps.Transcriber == nil || deps.Conversations == nil || deps.NewChat == nil {
		return nil, errors.New("transcriber, conversation repository and chat factory are required")
	}
	if err := ValidateStudioConfig(&config, logger); err != nil {
		return nil, err
	}

	return &StudioService{
		ledger:        deps.Ledger,
		orchestrator:  deps.Orchestrator,
		inference:     deps.Inference,
		transcriber:   deps.Transcriber,
		conversations: deps.Conversations,
		newChat:       deps.NewChat,
		config:        config,
		logger:        logger,
		locks:         make(map[string]*semaphore.Weighted),
	}, nil
}

// OpenAccount loads a profile into the session
func (s *StudioService) OpenAccount(ctx context.Context, userID, email, name string) (entities.Account, error) {
	return s.ledger.Open(ctx, userID, email, name)
}

// OpenGuest creates an in-memory guest account
func (s *StudioService) OpenGuest() entities.Account {
	return s.ledger.OpenGuest()
}

// Account returns the current balance view
func (s *StudioService) Account(accountID string) (entities.Account, error) {
	return s.ledger.Account(accountID)
}

// CloseAccount drops the account from the session
func (s *StudioService) CloseAccount(accountID string) {
	s.ledger.Close(accountID)

	s.mu.Lock()
	defer s.mu.Unlock()
	// a slot held by a running operation is kept so a reopened session cannot run beside it
	if lock, ok := s.locks[accountID]; ok && lock.TryAcquire(1) {
		delete(s.locks, accountID)
	}
}

// RunComplianceAudit audits a video or image against the community guidelines
func (s *StudioService) RunComplianceAudit(ctx context.Context, accountID string, modality entities.Modality, file entities.MediaPayload) (*AuditResult, error) {
	op := entities.OperationComplianceAuditVideo
	instruction := videoAuditInstruction
	switch modality {
	case entities.ModalityVideo:
	case entities.ModalityImage:
		op = entities.OperationComplianceAuditImage
		instruction = imageAuditInstruction
	default:
		return nil, domain.Errorf(domain.KindInvalidInput, "studio.audit", "unknown modality %q", modality)
	}
	if file.Empty() {
		return nil, domain.Errorf(domain.KindInvalidInput, string(op), "media file is required")
	}

	receipt, release, err := s.begin(ctx, accountID, op)
	if err != nil {
		return nil, err
	}
	defer release()

	if modality == entities.ModalityImage {
		file = s.downscale(file, media.AuditBounds, op)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(auditPreamble()),
			genai.NewPartFromBytes(file.Data, file.MIMEType),
			genai.NewPartFromText(instruction),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Tools:            []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		ResponseMIMEType: "application/json",
	}

	resp, err := s.inference.GenerateContent(ctx, s.config.Models.Audit, contents, config)
	if err != nil {
		return nil, s.fail(accountID, op, err)
	}

	report, err := normalize.ComplianceReport(resp, modality)
	if err != nil {
		return nil, s.fail(accountID, op, err)
	}

	s.logger.Info("Compliance audit completed",
		zap.String("accountID", accountID),
		zap.String("operation", string(op)),
		zap.String("status", string(report.OverallStatus)),
		zap.Int("riskScore", report.RiskScore),
		zap.Int("findings", len(report.Findings)))

	return &AuditResult{Report: report, Charge: s.settle(receipt)}, nil
}

// RunImageEdit applies prompt to image
func (s *StudioService) RunImageEdit(ctx context.Context, accountID string, image entities.MediaPayload, prompt string) (*ImageResult, error) {
	op := entities.OperationImageEdit
	prompt = strings.TrimSpace(prompt)
	if image.Empty() || prompt == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, string(op), "image and prompt are required")
	}

	receipt, release, err := s.begin(ctx, accountID, op)
	if err != nil {
		return nil, err
	}
	defer release()

	image = s.downscale(image, media.AuditBounds, op)
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image.Data, image.MIMEType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	return s.runImage(ctx, accountID, op, contents, receipt)
}

// RunImageGenerate creates an image from prompt
func (s *StudioService) RunImageGenerate(ctx context.Context, accountID string, prompt string) (*ImageResult, error) {
	op := entities.OperationImageGenerate
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, string(op), "prompt is required")
	}

	receipt, release, err := s.begin(ctx, accountID, op)
	if err != nil {
		return nil, err
	}
	defer release()

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	return s.runImage(ctx, accountID, op, contents, receipt)
}

func (s *StudioService) runImage(ctx context.Context, accountID string, op entities.OperationKind, contents []*genai.Content, receipt ledger.Receipt) (*ImageResult, error) {
	resp, err := s.inference.GenerateContent(ctx, s.config.Models.Image, contents, nil)
	if err != nil {
		return nil, s.fail(accountID, op, err)
	}

	image, err := normalize.GeneratedImage(resp, op)
	if err != nil {
		return nil, s.fail(accountID, op, err)
	}

	s.logger.Info("Image produced",
		zap.String("accountID", accountID),
		zap.String("operation", string(op)),
		zap.String("mimeType", image.MIMEType),
		zap.Int("size", len(image.Data)))

	return &ImageResult{Image: image, Charge: s.settle(receipt)}, nil
}

// RunVoiceTranscribe converts a recording to text. Silence is an empty transcript.
func (s *StudioService) RunVoiceTranscribe(ctx context.Context, accountID string, audio entities.MediaPayload) (*TranscriptResult, error) {
	op := entities.OperationVoiceTranscribe
	if audio.Empty() {
		return nil, domain.Errorf(domain.KindInvalidInput, string(op), "recording is empty")
	}

	receipt, release, err := s.begin(ctx, accountID, op)
	if err != nil {
		return nil, err
	}
	defer release()

	text, err := s.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return nil, s.fail(accountID, op, err)
	}

	s.logger.Info("Recording transcribed",
		zap.String("accountID", accountID),
		zap.Int("audioSize", len(audio.Data)),
		zap.Int("textLength", len(text)))

	return &TranscriptResult{Text: text, Charge: s.settle(receipt)}, nil
}

// RunVoiceSynthesize reads text aloud with voice and returns WAV audio
func (s *StudioService) RunVoiceSynthesize(ctx context.Context, accountID string, text, voice string) (*SpeechResult, error) {
	op := entities.OperationVoiceSynthesize
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, string(op), "text is required")
	}
	if voice == "" {
		voice = VoiceZephyr
	}
	if !validVoice(voice) {
		return nil, domain.Errorf(domain.KindInvalidInput, string(op), "unknown voice %q", voice)
	}

	receipt, release, err := s.begin(ctx, accountID, op)
	if err != nil {
		return nil, err
	}
	defer release()

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	resp, err := s.inference.GenerateContent(ctx, s.config.Models.Speech, contents, config)
	if err != nil {
		return nil, s.fail(accountID, op, err)
	}

	audio, err := normalize.SynthesizedAudio(resp, voice)
	if err != nil {
		return nil, s.fail(accountID, op, err)
	}

	s.logger.Info("Speech synthesized",
		zap.String("accountID", accountID),
		zap.String("voice", voice),
		zap.Int("frames", audio.Frames))

	return &SpeechResult{Audio: audio, Charge: s.settle(receipt)}, nil
}

// RunVideoGenerate renders a video, streaming progress to sink
func (s *StudioService) RunVideoGenerate(ctx context.Context, accountID string, prompt string, ratio entities.AspectRatio, reference *entities.MediaPayload, sink videogen.ProgressSink) (*VideoResult, error) {
	op := entities.OperationVideoGenerate
	if reference.Empty() {
		reference = nil
	}
	job := entities.NewGenerationJob(accountID, strings.TrimSpace(prompt), ratio, reference)
	if err := job.Validate(); err != nil {
		return nil, domain.E(domain.KindInvalidInput, string(op), err)
	}

	receipt, release, err := s.begin(ctx, accountID, op)
	if err != nil {
		return nil, err
	}
	defer release()

	video, err := s.orchestrator.Run(ctx, job, sink)
	if err != nil {
		return nil, s.fail(accountID, op, err)
	}

	return &VideoResult{Video: video, Job: job, Charge: s.settle(receipt)}, nil
}

// SendChatTurn sends text to the strategy agent with the recent conversation as context
func (s *StudioService) SendChatTurn(ctx context.Context, accountID string, text string) (*ChatResult, error) {
	op := entities.OperationChatTurn
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, string(op), "message is required")
	}

	receipt, release, err := s.begin(ctx, accountID, op)
	if err != nil {
		return nil, err
	}
	defer release()

	conv, err := s.loadConversation(ctx, accountID)
	if err != nil {
		return nil, s.fail(accountID, op, err)
	}

	session, err := s.newChat(conv.Window(s.config.ChatHistoryLimit))
	if err != nil {
		return nil, s.fail(accountID, op, err)
	}

	reply, err := session.SendMessage(ctx, text)
	if err != nil {
		return nil, s.fail(accountID, op, err)
	}

	conv.Append(entities.ChatRoleUser, text)
	conv.Append(entities.ChatRoleAssistant, reply)
	if err := s.conversations.Save(ctx, conv); err != nil {
		s.logger.Warn("Failed to save conversation",
			zap.String("accountID", accountID),
			zap.Error(err))
	}

	return &ChatResult{Reply: reply, Charge: s.settle(receipt)}, nil
}

// ChatHistory returns the stored conversation
func (s *StudioService) ChatHistory(ctx context.Context, accountID string) ([]entities.ChatTurn, error) {
	conv, err := s.loadConversation(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return conv.Turns, nil
}

// RefinePrompt rewrites a short idea into a detailed cinematic prompt. It is
// free and never fails: any problem returns idea unchanged.
func (s *StudioService) RefinePrompt(ctx context.Context, idea string) string {
	if strings.TrimSpace(idea) == "" {
		return idea
	}

	contents := []*genai.Content{genai.NewContentFromText(refineInstruction(idea), genai.RoleUser)}
	resp, err := s.inference.GenerateContent(ctx, s.config.Models.Refine, contents, nil)
	if err != nil {
		s.logger.Warn("Prompt refinement failed", zap.Error(err))
		return idea
	}

	refined := strings.TrimSpace(normalize.ResponseText(resp))
	if refined == "" {
		return idea
	}
	return refined
}

func (s *StudioService) loadConversation(ctx context.Context, accountID string) (*entities.Conversation, error) {
	conv, err := s.conversations.GetByAccountID(ctx, accountID)
	if errors.Is(err, repositories.ErrNotFound) {
		return entities.NewConversation(accountID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return conv, nil
}

// begin takes the account's operation slot and charges op. The returned
// release must be called once the operation is over.
func (s *StudioService) begin(ctx context.Context, accountID string, op entities.OperationKind) (ledger.Receipt, func(), error) {
	lock := s.lock(accountID)
	if !lock.TryAcquire(1) {
		s.logger.Info("Operation rejected, another is in flight",
			zap.String("accountID", accountID),
			zap.String("operation", string(op)))
		return ledger.Receipt{}, nil, domain.Errorf(domain.KindOperationInFlight, string(op), "another operation is running for %s", accountID)
	}
	release := func() { lock.Release(1) }

	receipt, err := s.ledger.Authorize(ctx, accountID, op)
	if err != nil {
		release()
		return ledger.Receipt{}, nil, err
	}
	if !receipt.Granted {
		release()
		return ledger.Receipt{}, nil, domain.Errorf(domain.KindInsufficientCredits, string(op),
			"cost %s exceeds balance %s", receipt.Amount, receipt.Balance)
	}
	return receipt, release, nil
}

func (s *StudioService) lock(accountID string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[accountID]
	if !ok {
		lock = semaphore.NewWeighted(1)
		s.locks[accountID] = lock
	}
	return lock
}

// settle reports the charge, noting a balance write that failed within SyncWait
func (s *StudioService) settle(receipt ledger.Receipt) Charge {
	charge := Charge{
		Operation: receipt.Operation,
		Cost:      receipt.Amount,
		Balance:   receipt.Balance,
	}

	timer := time.NewTimer(s.config.SyncWait)
	defer timer.Stop()
	select {
	case err := <-receipt.Synced:
		charge.SyncFailed = ledger.IsSyncFailure(err)
	case <-timer.C:
	}
	return charge
}

// downscale fits an image into bounds, sending the original when it cannot be decoded
func (s *StudioService) downscale(file entities.MediaPayload, bounds media.Bounds, op entities.OperationKind) entities.MediaPayload {
	resized, err := media.Resize(file.Data, bounds)
	if err != nil {
		s.logger.Warn("Failed to resize image, sending original",
			zap.String("operation", string(op)),
			zap.Error(err))
		return file
	}
	return entities.MediaPayload{Data: resized, MIMEType: media.JPEGMIMEType}
}

// fail classifies err for op and logs it
func (s *StudioService) fail(accountID string, op entities.OperationKind, err error) error {
	if domain.KindOf(err) == domain.KindUnknown {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			err = domain.E(domain.KindJobTimedOut, string(op), err)
		case errors.Is(err, context.Canceled):
			err = domain.E(domain.KindJobCancelled, string(op), err)
		default:
			err = domain.E(domain.KindSubmissionFailed, string(op), err)
		}
	}

	s.logger.Error("Operation failed",
		zap.String("accountID", accountID),
		zap.String("operation", string(op)),
		zap.String("kind", string(domain.KindOf(err))),
		zap.Error(err))
	return err
}

func validVoice(voice string) bool {
	for _, v := range Voices {
		if v == voice {
			return true
		}
	}
	return false
}
