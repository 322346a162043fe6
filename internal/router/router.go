package router // package router registers the HTTP routes of the ticketing API

import (
	"github.com/labstack/echo/v4"

	"github.com/kzp/zoo-ticketing/internal/handler"
	"github.com/kzp/zoo-ticketing/internal/middleware"
	"github.com/kzp/zoo-ticketing/internal/model"
)

// RegisterRoutes registers routes that need no authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers staff authentication routes.  Login, refresh and
// logout are public; /v1/me needs any staff token and /v1/admin/staff an
// ADMIN one.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	g.POST("/logout", a.Logout)

	e.GET("/v1/me", a.Me,
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin, model.RoleCounter, model.RoleScanner),
	)

	admin := e.Group("/v1/admin/staff",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)
	admin.GET("", a.ListStaff)
	admin.POST("", a.CreateStaff)
	admin.POST("/:id/activate", a.SetStaffActive(true))
	admin.POST("/:id/deactivate", a.SetStaffActive(false))
}
