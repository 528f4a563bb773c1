package api

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/domain"
	"github.com/exbuilderia/studio/server/internal/auth"
)

const contextAccountID = "accountID"

// RequestValidator adapts validator/v10 to echo.Validator
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a RequestValidator
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validate: validator.New()}
}

// Validate implements echo.Validator
func (v *RequestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// requireSession validates the bearer token and makes sure its account is
// loaded. A signed-in profile dropped from the session (for instance after a
// restart) is reloaded from the profile store; guests cannot be.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "A bearer token is required in the Authorization header",
			})
		}

		claims, err := s.issuer.Validate(token)
		if err != nil {
			s.logger.Warn("Rejected token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired token",
			})
		}

		if _, err := s.studio.Account(claims.AccountID); err != nil {
			if !domain.IsKind(err, domain.KindAccountNotFound) || claims.Role != auth.RoleUser {
				return respondError(c, err, s.logger)
			}
			if _, err := s.studio.OpenAccount(c.Request().Context(), claims.AccountID, "", ""); err != nil {
				return respondError(c, err, s.logger)
			}
			s.logger.Info("Account reloaded into session", zap.String("accountID", claims.AccountID))
		}

		c.Set(contextAccountID, claims.AccountID)
		return next(c)
	}
}

func accountID(c echo.Context) string {
	id, _ := c.Get(contextAccountID).(string)
	return id
}
