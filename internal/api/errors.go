package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/exbuilderia/studio/server/domain"
)

var kindStatus = map[domain.ErrorKind]int{
	domain.KindInsufficientCredits:       http.StatusPaymentRequired,
	domain.KindOperationInFlight:         http.StatusConflict,
	domain.KindInvalidInput:              http.StatusBadRequest,
	domain.KindPaymentVerificationFailed: http.StatusBadRequest,
	domain.KindAccountNotFound:           http.StatusUnauthorized,
	domain.KindDeviceUnavailable:         http.StatusConflict,
	domain.KindSubmissionFailed:          http.StatusBadGateway,
	domain.KindProviderJobFailed:         http.StatusBadGateway,
	domain.KindMissingDeliveryLocator:    http.StatusBadGateway,
	domain.KindDeliveryFetchFailed:       http.StatusBadGateway,
	domain.KindMalformedReportPayload:    http.StatusBadGateway,
	domain.KindMissingAudioPayload:       http.StatusBadGateway,
	domain.KindMissingImagePayload:       http.StatusBadGateway,
	domain.KindJobTimedOut:               http.StatusGatewayTimeout,
	domain.KindJobCancelled:              499,
	domain.KindLedgerSyncFailed:          http.StatusServiceUnavailable,
}

// StatusForKind maps an error kind to its HTTP status
func StatusForKind(kind domain.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes a classified error. The cause stays in the logs.
func respondError(c echo.Context, err error, logger *zap.Logger) error {
	kind := domain.KindOf(err)
	status := StatusForKind(kind)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("path", c.Path()),
			zap.String("errorKind", string(kind)),
			zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{
		Error:         string(kind),
		Message:       domain.MessageFor(err),
		TopUpRequired: kind == domain.KindInsufficientCredits,
	})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   string(domain.KindInvalidInput),
		Message: message,
	})
}
