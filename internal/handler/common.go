package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/kzp/zoo-ticketing/internal/service"
)

// requestTimeout bounds the storage work done for one request.
const requestTimeout = 5 * time.Second

func requestCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// statusFor maps a domain error kind to an HTTP status code.
func statusFor(k service.Kind) int {
	switch k {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes err as {"error": code, "message": text}.  Internal causes
// are logged, never echoed to the client.
func fail(c echo.Context, err error) error {
	var e *service.Error
	if !errors.As(err, &e) {
		log.WithError(err).WithField("path", c.Path()).Error("unclassified handler error")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "internal error"})
	}
	status := statusFor(e.Kind)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{"path": c.Path(), "code": e.Code}).Error("request failed")
	}
	return c.JSON(status, echo.Map{"error": e.Code, "message": e.Message})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_input", "message": msg})
}
