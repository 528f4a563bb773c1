package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// maxWebhookSize bounds a payment notification body
const maxWebhookSize = 64 << 10

func (s *Server) paymentsDisabled(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
		Error:   "payments_disabled",
		Message: "Top-ups are not available right now",
	})
}

func (s *Server) listPacks(c echo.Context) error {
	if s.topups == nil {
		return s.paymentsDisabled(c)
	}
	return c.JSON(http.StatusOK, PacksResponse{
		Currency: s.topups.Currency(),
		Packs:    s.topups.Packs(),
	})
}

func (s *Server) createTopup(c echo.Context) error {
	if s.topups == nil {
		return s.paymentsDisabled(c)
	}

	var req TopupRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request format")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(c, err.Error())
	}

	order, err := s.topups.CreateTopup(c.Request().Context(), accountID(c), req.PackID)
	if err != nil {
		return respondError(c, err, s.logger)
	}
	return c.JSON(http.StatusCreated, order)
}

func (s *Server) getTopup(c echo.Context) error {
	if s.topups == nil {
		return s.paymentsDisabled(c)
	}

	order, err := s.topups.GetTopup(c.Request().Context(), accountID(c), c.Param("id"))
	if err != nil {
		return respondError(c, err, s.logger)
	}
	return c.JSON(http.StatusOK, order)
}

// stripeWebhook needs the raw body; the signature covers it byte for byte
func (s *Server) stripeWebhook(c echo.Context) error {
	if s.topups == nil {
		return s.paymentsDisabled(c)
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookSize))
	if err != nil {
		s.logger.Warn("Failed to read payment notification", zap.Error(err))
		return badRequest(c, "Unreadable body")
	}

	if err := s.topups.HandleWebhook(c.Request().Context(), payload, c.Request().Header.Get("Stripe-Signature")); err != nil {
		return respondError(c, err, s.logger)
	}
	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
