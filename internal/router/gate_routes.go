package router

import (
	"github.com/labstack/echo/v4"

	"github.com/kzp/zoo-ticketing/internal/handler"
	"github.com/kzp/zoo-ticketing/internal/middleware"
	"github.com/kzp/zoo-ticketing/internal/model"
)

// RegisterGate registers entry validation for SCANNER and ADMIN staff.
// limiter is the gate bucket, keyed per staff member.
func RegisterGate(e *echo.Echo, h *handler.GateHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/gate",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleScanner, model.RoleAdmin),
	)
	g.POST("/validate/qr", h.ValidateQR, limiter)
	g.POST("/validate/manual", h.ValidateManual, limiter)
	g.GET("/scans", h.Scans)
}
