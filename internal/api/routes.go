package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/internal/auth"
	"github.com/exbuilderia/studio/server/internal/websocket"
	"github.com/exbuilderia/studio/server/usecase"
)

// maxBodySize bounds any request, uploads included
const maxBodySize = "120M"

// Server holds what the HTTP handlers need
type Server struct {
	studio *usecase.StudioService
	topups *usecase.TopupService
	issuer *auth.Issuer
	hub    *websocket.Hub
	logger *zap.Logger
}

// NewServer creates a Server. topups may be nil when payments are not
// configured; the top-up routes then answer 503.
func NewServer(studio *usecase.StudioService, topups *usecase.TopupService, issuer *auth.Issuer, hub *websocket.Hub, logger *zap.Logger) (*Server, error) {
	if studio == nil || issuer == nil || hub == nil {
		return nil, errors.New("studio service, token issuer and hub are required")
	}
	return &Server{
		studio: studio,
		topups: topups,
		issuer: issuer,
		hub:    hub,
		logger: logger,
	}, nil
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, s *Server) {
	e.Validator = NewRequestValidator()

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "studio-server",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1", middleware.BodyLimit(maxBodySize))

	// Sessions
	v1.POST("/session", s.createSession)
	v1.POST("/session/guest", s.createGuestSession)

	// Verified by signature, not by bearer token
	v1.POST("/payments/stripe/webhook", s.stripeWebhook)

	authed := v1.Group("", s.requireSession)
	authed.GET("/account", s.getAccount)
	authed.DELETE("/session", s.closeSession)

	authed.POST("/audits/video", s.auditVideo)
	authed.POST("/audits/image", s.auditImage)
	authed.POST("/images/edit", s.editImage)
	authed.POST("/images/generate", s.generateImage)
	authed.POST("/voice/transcribe", s.transcribe)
	authed.POST("/voice/synthesize", s.synthesize)
	authed.POST("/videos", s.generateVideo)
	authed.POST("/chat", s.sendChat)
	authed.GET("/chat", s.chatHistory)
	authed.POST("/prompts/refine", s.refinePrompt)

	authed.GET("/topups/packs", s.listPacks)
	authed.POST("/topups", s.createTopup)
	authed.GET("/topups/:id", s.getTopup)

	// Progress and recordings, per account
	e.GET("/ws", s.requireSession(func(c echo.Context) error {
		s.logger.Info("WebSocket connection authenticated", zap.String("accountID", accountID(c)))
		return websocket.HandleWebSocketWithAuth(s.hub, c, accountID(c), s.logger)
	}))
}

func (s *Server) createSession(c echo.Context) error {
	var req SessionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request format")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	account, err := s.studio.OpenAccount(c.Request().Context(), req.UserID, req.Email, req.Name)
	if err != nil {
		return respondError(c, err, s.logger)
	}
	return s.issueSession(c, account.ID, auth.RoleUser)
}

func (s *Server) createGuestSession(c echo.Context) error {
	account := s.studio.OpenGuest()
	return s.issueSession(c, account.ID, auth.RoleGuest)
}

func (s *Server) issueSession(c echo.Context, id, role string) error {
	token, expiresAt, err := s.issuer.Issue(id, role)
	if err != nil {
		s.logger.Error("Failed to issue token", zap.String("accountID", id), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	account, err := s.studio.Account(id)
	if err != nil {
		return respondError(c, err, s.logger)
	}

	s.logger.Info("Session opened", zap.String("accountID", id), zap.String("role", role))
	return c.JSON(http.StatusOK, SessionResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Account:   newAccountPayload(account),
	})
}

func (s *Server) closeSession(c echo.Context) error {
	s.studio.CloseAccount(accountID(c))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getAccount(c echo.Context) error {
	account, err := s.studio.Account(accountID(c))
	if err != nil {
		return respondError(c, err, s.logger)
	}
	return c.JSON(http.StatusOK, newAccountPayload(account))
}
