package router

import (
	"github.com/labstack/echo/v4"

	"github.com/kzp/zoo-ticketing/internal/handler"
	"github.com/kzp/zoo-ticketing/internal/middleware"
	"github.com/kzp/zoo-ticketing/internal/model"
)

// RegisterAdmin registers tariff catalog administration under
// /v1/admin/tariffs.  ADMIN only.
func RegisterAdmin(e *echo.Echo, h *handler.TariffHandler, jwtSecret string) {
	g := e.Group("/v1/admin/tariffs",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)
	g.GET("", h.List)
	g.POST("", h.Create)
	g.POST("/resequence", h.Resequence)
	g.PATCH("/:itemCode", h.Update)
	g.POST("/:itemCode/toggle", h.Toggle)
	g.POST("/:itemCode/move", h.Move)
	g.DELETE("/:itemCode", h.Delete)
}
