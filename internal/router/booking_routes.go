package router

import (
	"github.com/labstack/echo/v4"

	"github.com/kzp/zoo-ticketing/internal/handler"
	"github.com/kzp/zoo-ticketing/internal/middleware"
	"github.com/kzp/zoo-ticketing/internal/model"
)

// RegisterBooking registers the sale routes.  The price list is served
// through the response cache; sales go through the token bucket.
func RegisterBooking(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limiter, cache echo.MiddlewareFunc) {
	e.GET("/v1/pricing", h.Pricing, cache)
	e.POST("/v1/pricing/quote", h.Quote)
	e.POST("/v1/bookings", h.Create, limiter)
	e.GET("/v1/tickets/:ticketId/qr", h.TicketQR)

	staff := e.Group("/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin, model.RoleCounter),
	)
	staff.POST("/counter/bookings", h.CreateCounter, limiter)
	staff.GET("/tickets/:ticketId", h.GetTicket)
	staff.POST("/admin/tickets/:ticketId/confirm-payment", h.ConfirmPayment)
}
