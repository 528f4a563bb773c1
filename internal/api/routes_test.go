package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/exbuilderia/studio/server/adapters"
	"github.com/exbuilderia/studio/server/adapters/llm"
	"github.com/exbuilderia/studio/server/adapters/stt"
	"github.com/exbuilderia/studio/server/domain"
	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/domain/repositories"
	"github.com/exbuilderia/studio/server/internal/auth"
	"github.com/exbuilderia/studio/server/internal/ledger"
	"github.com/exbuilderia/studio/server/internal/videogen"
	"github.com/exbuilderia/studio/server/internal/websocket"
	"github.com/exbuilderia/studio/server/usecase"
)

const testReport = `{"overallStatus":"Pass","riskScore":5,"summary":"Clean","findings":[],"isEligibleForFYP":true}`

type fakeGateway struct {
	event *repositories.PaymentEvent
}

func (f *fakeGateway) CreateCheckout(ctx context.Context, order *entities.TopupOrder, customerEmail string) (string, string, error) {
	return "cs_" + order.ID, "https://pay.example/" + order.ID, nil
}

func (f *fakeGateway) VerifyWebhook(payload []byte, signature string) (*repositories.PaymentEvent, error) {
	if signature != "valid" {
		return nil, errors.New("signature mismatch")
	}
	return f.event, nil
}

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(ctx context.Context, audio entities.MediaPayload) (string, error) {
	return "hello there", nil
}

type testAPI struct {
	echo    *echo.Echo
	mock    *llm.MockInference
	store   *adapters.MemoryProfileStore
	gateway *fakeGateway
	hub     *websocket.Hub
}

func setupTestAPI(t *testing.T, withPayments bool) *testAPI {
	logger := zaptest.NewLogger(t)
	store := adapters.NewMemoryProfileStore()
	l := ledger.New(store, entities.DefaultCostTable(), logger)
	t.Cleanup(l.Wait)

	mock := llm.NewMockInference()
	orchestrator, err := videogen.NewOrchestrator(mock, videogen.Config{
		PollInterval: time.Millisecond,
		MaxDuration:  time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	studio, err := usecase.NewStudioService(usecase.StudioDeps{
		Ledger:        l,
		Orchestrator:  orchestrator,
		Inference:     mock,
		Transcriber:   stubTranscriber{},
		Conversations: adapters.NewMemoryConversationRepository(),
		NewChat: func(history []entities.ChatTurn) (repositories.ChatSession, error) {
			return llm.NewChatSession(mock, llm.ChatConfig{}, logger, history)
		},
	}, usecase.StudioConfig{}, logger)
	if err != nil {
		t.Fatalf("Failed to create studio: %v", err)
	}

	gateway := &fakeGateway{}
	var topups *usecase.TopupService
	if withPayments {
		topups = usecase.NewTopupService(l, adapters.NewMemoryTopupRepository(), gateway, "brl", logger)
	}

	issuer, err := auth.NewIssuer("test-secret-0123456789", time.Hour)
	if err != nil {
		t.Fatalf("Failed to create issuer: %v", err)
	}

	transcribe := func(ctx context.Context, accountID string, audio entities.MediaPayload) (string, error) {
		result, err := studio.RunVoiceTranscribe(ctx, accountID, audio)
		if err != nil {
			return "", err
		}
		return result.Text, nil
	}
	hub := websocket.NewHub(transcribe, func() repositories.AudioRecorder { return stt.NewBufferRecorder() }, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server, err := NewServer(studio, topups, issuer, hub, logger)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	e := echo.New()
	InitRoutes(e, server)

	return &testAPI{echo: e, mock: mock, store: store, gateway: gateway, hub: hub}
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.echo.ServeHTTP(rec, req)
	return rec
}

func (ta *testAPI) doJSON(t *testing.T, method, path, token string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(payload)
	return ta.do(t, method, path, token, bytes.NewBuffer(data), echo.MIMEApplicationJSON)
}

func (ta *testAPI) login(t *testing.T, userID string) string {
	t.Helper()
	rec := ta.doJSON(t, http.MethodPost, "/api/v1/session", "", map[string]string{"userId": userID, "email": "ana@example.com", "name": "Ana"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on login, got %d: %s", rec.Code, rec.Body)
	}
	var resp SessionResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return resp.Token
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	if file != nil {
		part, err := w.CreateFormFile("file", "upload.bin")
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		part.Write(file)
	}
	w.Close()
	return body, w.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode error %s: %v", rec.Body, err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	ta := setupTestAPI(t, false)
	rec := ta.do(t, http.MethodGet, "/health", "", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestSession_GuestAccount(t *testing.T) {
	ta := setupTestAPI(t, false)

	rec := ta.do(t, http.MethodPost, "/api/v1/session/guest", "", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var session SessionResponse
	json.Unmarshal(rec.Body.Bytes(), &session)
	if session.Token == "" || !session.Account.Guest {
		t.Errorf("Expected a guest token, got %+v", session)
	}

	rec = ta.do(t, http.MethodGet, "/api/v1/account", session.Token, nil, "")
	var account AccountPayload
	json.Unmarshal(rec.Body.Bytes(), &account)
	if !account.Balance.Equal(decimal.NewFromInt(100)) || account.BalanceStale {
		t.Errorf("Expected fresh guest balance 100, got %+v", account)
	}

	// guests cannot be reloaded once closed
	ta.do(t, http.MethodDelete, "/api/v1/session", session.Token, nil, "")
	rec = ta.do(t, http.MethodGet, "/api/v1/account", session.Token, nil, "")
	if rec.Code != http.StatusUnauthorized || decodeError(t, rec).Error != string(domain.KindAccountNotFound) {
		t.Errorf("Expected 401 account not found, got %d: %s", rec.Code, rec.Body)
	}
}

func TestSession_UserReloadedAfterClose(t *testing.T) {
	ta := setupTestAPI(t, false)
	token := ta.login(t, "user-1")

	ta.do(t, http.MethodDelete, "/api/v1/session", token, nil, "")
	rec := ta.do(t, http.MethodGet, "/api/v1/account", token, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 after reload, got %d: %s", rec.Code, rec.Body)
	}
	var account AccountPayload
	json.Unmarshal(rec.Body.Bytes(), &account)
	if account.ID != "user-1" || !account.Balance.Equal(entities.StarterBalance) {
		t.Errorf("Unexpected account: %+v", account)
	}
}

func TestSession_RejectsBadRequests(t *testing.T) {
	ta := setupTestAPI(t, false)

	rec := ta.doJSON(t, http.MethodPost, "/api/v1/session", "", map[string]string{"email": "not-an-email"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without user id, got %d", rec.Code)
	}

	rec = ta.do(t, http.MethodGet, "/api/v1/account", "", nil, "")
	if rec.Code != http.StatusUnauthorized || decodeError(t, rec).Error != "missing_token" {
		t.Errorf("Expected missing token, got %d: %s", rec.Code, rec.Body)
	}

	rec = ta.do(t, http.MethodGet, "/api/v1/account", "garbage", nil, "")
	if rec.Code != http.StatusUnauthorized || decodeError(t, rec).Error != "invalid_token" {
		t.Errorf("Expected invalid token, got %d: %s", rec.Code, rec.Body)
	}
}

func TestAuditImage(t *testing.T) {
	ta := setupTestAPI(t, false)
	token := ta.login(t, "user-1")
	ta.mock.ContentFunc = func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return llm.TextResponse(testReport), nil
	}

	body, contentType := multipartBody(t, nil, pngBytes(t))
	rec := ta.do(t, http.MethodPost, "/api/v1/audits/image", token, body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var result usecase.AuditResult
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result.Report == nil || result.Report.OverallStatus != entities.ComplianceStatusPass {
		t.Errorf("Expected a passing report, got %s", rec.Body)
	}
	if !result.Charge.Balance.Equal(decimal.NewFromInt(9)) {
		t.Errorf("Expected balance 9, got %s", result.Charge.Balance)
	}
}

func TestAudit_MissingFileIsNotCharged(t *testing.T) {
	ta := setupTestAPI(t, false)
	token := ta.login(t, "user-1")

	body, contentType := multipartBody(t, map[string]string{"note": "x"}, nil)
	rec := ta.do(t, http.MethodPost, "/api/v1/audits/video", token, body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	if len(ta.mock.Calls()) != 0 {
		t.Error("Expected no provider call")
	}

	rec = ta.do(t, http.MethodGet, "/api/v1/account", token, nil, "")
	var account AccountPayload
	json.Unmarshal(rec.Body.Bytes(), &account)
	if !account.Balance.Equal(entities.StarterBalance) {
		t.Errorf("Expected untouched balance, got %s", account.Balance)
	}
}

func TestInsufficientCredits(t *testing.T) {
	ta := setupTestAPI(t, false)
	ta.store.SetBalance("user-1", decimal.RequireFromString("1.5"))
	token := ta.login(t, "user-1")

	body, contentType := multipartBody(t, nil, []byte("fake video"))
	rec := ta.do(t, http.MethodPost, "/api/v1/audits/video", token, body, contentType)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d: %s", rec.Code, rec.Body)
	}
	resp := decodeError(t, rec)
	if !resp.TopUpRequired || resp.Message != domain.UserMessage(domain.KindInsufficientCredits) {
		t.Errorf("Expected top-up hint, got %+v", resp)
	}
}

func TestSynthesize_ReturnsWAV(t *testing.T) {
	ta := setupTestAPI(t, false)
	token := ta.login(t, "user-1")

	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm, 1000)
	ta.mock.ContentFunc = func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return llm.InlineResponse(pcm, "audio/L16;codec=pcm;rate=24000"), nil
	}

	rec := ta.doJSON(t, http.MethodPost, "/api/v1/voice/synthesize", token, map[string]string{"text": "hello", "voiceId": "Kore"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if rec.Header().Get(echo.HeaderContentType) != "audio/wav" {
		t.Errorf("Expected audio/wav, got %s", rec.Header().Get(echo.HeaderContentType))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("RIFF")) || rec.Body.Len() != 44+4 {
		t.Errorf("Expected a 48 byte WAV, got %d bytes", rec.Body.Len())
	}
	if rec.Header().Get(headerBalance) != "9" || rec.Header().Get(headerOperation) != string(entities.OperationVoiceSynthesize) {
		t.Errorf("Unexpected charge headers: %v", rec.Header())
	}

	rec = ta.doJSON(t, http.MethodPost, "/api/v1/voice/synthesize", token, map[string]string{"text": "hello", "voiceId": "Robot"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected unknown voice to be rejected, got %d", rec.Code)
	}
}

func TestGenerateImage_RequiresPrompt(t *testing.T) {
	ta := setupTestAPI(t, false)
	token := ta.login(t, "user-1")

	rec := ta.doJSON(t, http.MethodPost, "/api/v1/images/generate", token, map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}

	ta.mock.ContentFunc = func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return llm.TextResponse("I cannot draw that"), nil
	}
	rec = ta.doJSON(t, http.MethodPost, "/api/v1/images/generate", token, map[string]string{"prompt": "a cat"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d: %s", rec.Code, rec.Body)
	}
	resp := decodeError(t, rec)
	if resp.Error != string(domain.KindMissingImagePayload) || resp.Message != domain.MessageFor(domain.E(domain.KindMissingImagePayload, domain.OpImageGenerate, nil)) {
		t.Errorf("Expected the image generation message, got %+v", resp)
	}
}

func TestGenerateVideo_StreamsProgress(t *testing.T) {
	ta := setupTestAPI(t, false)
	token := ta.login(t, "user-1")
	ta.mock.SubmitResult = llm.PendingOperation("operations/1")
	ta.mock.Operations = []*genai.GenerateVideosOperation{llm.CompletedOperation("operations/1", "https://files/v.mp4")}
	ta.mock.Downloads["https://files/v.mp4"] = []byte("mp4 bytes")

	server := httptest.NewServer(ta.echo)
	defer server.Close()

	header := http.Header{}
	header.Set(echo.HeaderAuthorization, "Bearer "+token)
	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", header)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for ta.hub.ClientCount("user-1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	body, contentType := multipartBody(t, map[string]string{"prompt": "a neon city", "aspectRatio": "tall"}, nil)
	rec := ta.do(t, http.MethodPost, "/api/v1/videos", token, body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if rec.Body.String() != "mp4 bytes" || rec.Header().Get(echo.HeaderContentType) != "video/mp4" {
		t.Errorf("Unexpected video response: %s", rec.Body)
	}
	jobID := rec.Header().Get(headerJobID)
	if jobID == "" {
		t.Fatal("Expected a job id header")
	}

	progress := 0
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read progress: %v", err)
		}
		if msg["job_id"] != jobID {
			t.Errorf("Expected job %s, got %v", jobID, msg["job_id"])
		}
		if msg["type"] == domain.MessageTypeJobResult {
			if msg["success"] != true {
				t.Errorf("Expected a successful job result, got %v", msg)
			}
			break
		}
		progress++
	}
	if progress == 0 {
		t.Error("Expected progress before the job result")
	}
}

func TestGenerateVideo_RejectsBadAspectRatio(t *testing.T) {
	ta := setupTestAPI(t, false)
	token := ta.login(t, "user-1")

	rec := ta.doJSON(t, http.MethodPost, "/api/v1/videos", token, map[string]string{"prompt": "x", "aspectRatio": "square"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestChat(t *testing.T) {
	ta := setupTestAPI(t, false)
	token := ta.login(t, "user-1")

	rec := ta.doJSON(t, http.MethodPost, "/api/v1/chat", token, map[string]string{"text": "ideas for a cooking channel"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
	}

	rec = ta.do(t, http.MethodGet, "/api/v1/chat", token, nil, "")
	var history ChatHistoryResponse
	json.Unmarshal(rec.Body.Bytes(), &history)
	if len(history.Turns) != 2 || history.Turns[0].Text != "ideas for a cooking channel" {
		t.Errorf("Expected the stored exchange, got %+v", history.Turns)
	}
}

func TestRefinePrompt_IsFree(t *testing.T) {
	ta := setupTestAPI(t, false)
	token := ta.login(t, "user-1")
	ta.mock.ContentFunc = func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return nil, errors.New("provider down")
	}

	rec := ta.doJSON(t, http.MethodPost, "/api/v1/prompts/refine", token, map[string]string{"text": "cat on a roof"})
	var resp RefineResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if rec.Code != http.StatusOK || resp.Prompt != "cat on a roof" {
		t.Errorf("Expected the idea back unchanged, got %d %+v", rec.Code, resp)
	}
}

func TestTopups(t *testing.T) {
	ta := setupTestAPI(t, true)
	token := ta.login(t, "user-1")

	rec := ta.do(t, http.MethodGet, "/api/v1/topups/packs", token, nil, "")
	var packs PacksResponse
	json.Unmarshal(rec.Body.Bytes(), &packs)
	if packs.Currency != "brl" || len(packs.Packs) != 3 {
		t.Errorf("Unexpected packs: %+v", packs)
	}

	rec = ta.doJSON(t, http.MethodPost, "/api/v1/topups", token, map[string]string{"packId": "starter"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var order entities.TopupOrder
	json.Unmarshal(rec.Body.Bytes(), &order)

	rec = ta.do(t, http.MethodGet, "/api/v1/topups/"+order.ID, token, nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	ta.gateway.event = &repositories.PaymentEvent{
		OrderID:       order.ID,
		TransactionID: order.TransactionID,
		AmountMinor:   order.AmountMinor,
		Currency:      "brl",
		Completed:     true,
	}

	webhook := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/stripe/webhook", strings.NewReader("{}"))
		req.Header.Set("Stripe-Signature", signature)
		rec := httptest.NewRecorder()
		ta.echo.ServeHTTP(rec, req)
		return rec
	}

	if rec := webhook("forged"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a forged signature, got %d", rec.Code)
	}
	for i := 0; i < 2; i++ {
		if rec := webhook("valid"); rec.Code != http.StatusOK {
			t.Errorf("Delivery %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec = ta.do(t, http.MethodGet, "/api/v1/account", token, nil, "")
	var account AccountPayload
	json.Unmarshal(rec.Body.Bytes(), &account)
	if !account.Balance.Equal(decimal.NewFromInt(35)) {
		t.Errorf("Expected balance 35 after one credit, got %s", account.Balance)
	}
}

func TestTopups_Disabled(t *testing.T) {
	ta := setupTestAPI(t, false)
	token := ta.login(t, "user-1")

	rec := ta.doJSON(t, http.MethodPost, "/api/v1/topups", token, map[string]string{"packId": "starter"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind domain.ErrorKind
		want int
	}{
		{domain.KindInsufficientCredits, http.StatusPaymentRequired},
		{domain.KindOperationInFlight, http.StatusConflict},
		{domain.KindInvalidInput, http.StatusBadRequest},
		{domain.KindSubmissionFailed, http.StatusBadGateway},
		{domain.KindMalformedReportPayload, http.StatusBadGateway},
		{domain.KindJobTimedOut, http.StatusGatewayTimeout},
		{domain.KindAccountNotFound, http.StatusUnauthorized},
		{domain.KindUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := StatusForKind(tt.kind); got != tt.want {
			t.Errorf("StatusForKind(%s): expected %d, got %d", tt.kind, tt.want, got)
		}
	}
}
