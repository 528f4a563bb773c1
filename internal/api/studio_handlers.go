package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/domain"
	"github.com/exbuilderia/studio/server/domain/entities"
	"github.com/exbuilderia/studio/server/internal/videogen"
	"github.com/exbuilderia/studio/server/usecase"
)

// maxUploadSize bounds a single uploaded file
const maxUploadSize = 100 << 20

const (
	headerOperation      = "X-Credits-Operation"
	headerCost           = "X-Credits-Cost"
	headerBalance        = "X-Credits-Balance"
	headerLedgerSyncFail = "X-Ledger-Sync-Failed"
	headerJobID          = "X-Job-Id"
)

var errMissingFile = errors.New("file is required")

// formFile reads the multipart field "file". A missing field returns
// errMissingFile so optional uploads can ignore it.
func formFile(c echo.Context) (entities.MediaPayload, error) {
	header, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return entities.MediaPayload{}, errMissingFile
	}
	if err != nil {
		return entities.MediaPayload{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if header.Size > maxUploadSize {
		return entities.MediaPayload{}, fmt.Errorf("file exceeds %d bytes", maxUploadSize)
	}

	f, err := header.Open()
	if err != nil {
		return entities.MediaPayload{}, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadSize+1))
	if err != nil {
		return entities.MediaPayload{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) > maxUploadSize {
		return entities.MediaPayload{}, fmt.Errorf("file exceeds %d bytes", maxUploadSize)
	}

	mimeType := header.Header.Get(echo.HeaderContentType)
	if mimeType == "" || mimeType == echo.MIMEOctetStream {
		mimeType = http.DetectContentType(data)
	}
	return entities.MediaPayload{Data: data, MIMEType: mimeType}, nil
}

func setChargeHeaders(c echo.Context, charge usecase.Charge) {
	h := c.Response().Header()
	h.Set(headerOperation, string(charge.Operation))
	h.Set(headerCost, charge.Cost.String())
	h.Set(headerBalance, charge.Balance.String())
	if charge.SyncFailed {
		h.Set(headerLedgerSyncFail, "true")
	}
}

func (s *Server) auditVideo(c echo.Context) error {
	return s.audit(c, entities.ModalityVideo)
}

func (s *Server) auditImage(c echo.Context) error {
	return s.audit(c, entities.ModalityImage)
}

func (s *Server) audit(c echo.Context, modality entities.Modality) error {
	file, err := formFile(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := s.studio.RunComplianceAudit(c.Request().Context(), accountID(c), modality, file)
	if err != nil {
		return respondError(c, err, s.logger)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) editImage(c echo.Context) error {
	file, err := formFile(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	prompt := strings.TrimSpace(c.FormValue("prompt"))
	if prompt == "" {
		return badRequest(c, "prompt is required")
	}

	result, err := s.studio.RunImageEdit(c.Request().Context(), accountID(c), file, prompt)
	if err != nil {
		return respondError(c, err, s.logger)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) generateImage(c echo.Context) error {
	var req PromptRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request format")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := s.studio.RunImageGenerate(c.Request().Context(), accountID(c), req.Prompt)
	if err != nil {
		return respondError(c, err, s.logger)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) transcribe(c echo.Context) error {
	file, err := formFile(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	result, err := s.studio.RunVoiceTranscribe(c.Request().Context(), accountID(c), file)
	if err != nil {
		return respondError(c, err, s.logger)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) synthesize(c echo.Context) error {
	var req SynthesizeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request format")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := s.studio.RunVoiceSynthesize(c.Request().Context(), accountID(c), req.Text, req.VoiceID)
	if err != nil {
		return respondError(c, err, s.logger)
	}
	setChargeHeaders(c, result.Charge)
	return c.Blob(http.StatusOK, "audio/wav", result.Audio.WAV)
}

// generateVideo blocks until the job resolves. Progress goes to the account's
// websocket connections, closed by a job result message.
func (s *Server) generateVideo(c echo.Context) error {
	var req VideoRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request format")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}
	ratio, err := entities.ParseAspectRatio(req.AspectRatio)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var reference *entities.MediaPayload
	file, err := formFile(c)
	switch {
	case err == nil:
		reference = &file
	case !errors.Is(err, errMissingFile):
		return badRequest(c, err.Error())
	}

	id := accountID(c)
	var jobID string
	progress := s.hub.ProgressSink(id)
	sink := videogen.ProgressSink(func(p videogen.Progress) {
		jobID = p.JobID
		progress(p)
	})

	result, err := s.studio.RunVideoGenerate(c.Request().Context(), id, req.Prompt, ratio, reference, sink)
	if jobID != "" {
		s.hub.PublishJobResult(id, jobID, err)
	}
	if err != nil {
		if domain.IsKind(err, domain.KindJobCancelled) {
			s.logger.Info("Video request abandoned by client", zap.String("accountID", id), zap.String("jobID", jobID))
		}
		return respondError(c, err, s.logger)
	}

	setChargeHeaders(c, result.Charge)
	c.Response().Header().Set(headerJobID, result.Job.ID)
	return c.Blob(http.StatusOK, result.Video.MIMEType, result.Video.Data)
}

func (s *Server) sendChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request format")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := s.studio.SendChatTurn(c.Request().Context(), accountID(c), req.Text)
	if err != nil {
		return respondError(c, err, s.logger)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) chatHistory(c echo.Context) error {
	turns, err := s.studio.ChatHistory(c.Request().Context(), accountID(c))
	if err != nil {
		return respondError(c, err, s.logger)
	}
	if turns == nil {
		turns = []entities.ChatTurn{}
	}
	return c.JSON(http.StatusOK, ChatHistoryResponse{Turns: turns})
}

func (s *Server) refinePrompt(c echo.Context) error {
	var req RefineRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request format")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}
	return c.JSON(http.StatusOK, RefineResponse{Prompt: s.studio.RefinePrompt(c.Request().Context(), req.Text)})
}
