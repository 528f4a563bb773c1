package llm

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/exbuilderia/studio/server/domain/repositories"
)

var _ repositories.Inference = (*MockInference)(nil)

// ContentCall records one GenerateContent request
type ContentCall struct {
	Model    string
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
}

// MockInference is a scripted inference provider for tests and offline runs
type MockInference struct {
	mu sync.Mutex

	// ContentFunc answers GenerateContent. Without it a fixed text reply is returned.
	ContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

	SubmitResult *genai.GenerateVideosOperation
	SubmitErr    error
	// Operations are handed out by successive GetVideosOperation calls
	Operations   []*genai.GenerateVideosOperation
	OperationErr error

	Downloads   map[string][]byte
	DownloadErr error
	// BlockDownload makes Download wait for its context to end
	BlockDownload bool

	ContentCalls  []ContentCall
	SubmitCalls   int
	PollCalls     int
	DownloadCalls []string
	LastImage     *genai.Image
	LastVideoCfg  *genai.GenerateVideosConfig
}

// NewMockInference creates a mock that echoes a canned text reply
func NewMockInference() *MockInference {
	return &MockInference{Downloads: make(map[string][]byte)}
}

// GenerateContent implements repositories.Inference
func (m *MockInference) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	m.ContentCalls = append(m.ContentCalls, ContentCall{Model: model, Contents: contents, Config: config})
	fn := m.ContentFunc
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, model, contents, config)
	}
	return TextResponse("Mock reply from " + model), nil
}

// GenerateVideos implements repositories.Inference
func (m *MockInference) GenerateVideos(ctx context.Context, model string, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubmitCalls++
	m.LastImage = image
	m.LastVideoCfg = config

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}
	if m.SubmitResult == nil {
		return &genai.GenerateVideosOperation{Name: "operations/mock"}, nil
	}
	copied := *m.SubmitResult
	return &copied, nil
}

// GetVideosOperation implements repositories.Inference
func (m *MockInference) GetVideosOperation(ctx context.Context, operation *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PollCalls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.OperationErr != nil {
		return nil, m.OperationErr
	}
	if len(m.Operations) == 0 {
		return nil, fmt.Errorf("no scripted operation left for %s", operation.Name)
	}
	next := m.Operations[0]
	m.Operations = m.Operations[1:]
	return next, nil
}

// Download implements repositories.Inference
func (m *MockInference) Download(ctx context.Context, uri string) ([]byte, string, error) {
	m.mu.Lock()
	m.DownloadCalls = append(m.DownloadCalls, uri)
	block := m.BlockDownload
	data, ok := m.Downloads[uri]
	downloadErr := m.DownloadErr
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}
	if downloadErr != nil {
		return nil, "", downloadErr
	}
	if !ok {
		return nil, "", fmt.Errorf("unexpected status 404 for %s", uri)
	}
	return data, "video/mp4", nil
}

// Calls returns a copy of the recorded GenerateContent requests
func (m *MockInference) Calls() []ContentCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ContentCall, len(m.ContentCalls))
	copy(out, m.ContentCalls)
	return out
}

// TextResponse builds a single-candidate text response
func TextResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}
}

// InlineResponse builds a single-candidate response carrying binary data
func InlineResponse(data []byte, mimeType string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromBytes(data, mimeType, genai.RoleModel)},
		},
	}
}

// PendingOperation is an unfinished job handle
func PendingOperation(name string) *genai.GenerateVideosOperation {
	return &genai.GenerateVideosOperation{Name: name}
}

// CompletedOperation is a finished job handle pointing at uri
func CompletedOperation(name, uri string) *genai.GenerateVideosOperation {
	return &genai.GenerateVideosOperation{
		Name: name,
		Done: true,
		Response: &genai.GenerateVideosResponse{
			GeneratedVideos: []*genai.GeneratedVideo{
				{Video: &genai.Video{URI: uri, MIMEType: "video/mp4"}},
			},
		},
	}
}

// FailedOperation is a job handle carrying a provider error
func FailedOperation(name, message string) *genai.GenerateVideosOperation {
	return &genai.GenerateVideosOperation{
		Name:  name,
		Error: map[string]any{"code": 3, "message": message},
	}
}
