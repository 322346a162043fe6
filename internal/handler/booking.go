package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/kzp/zoo-ticketing/internal/middleware"
	"github.com/kzp/zoo-ticketing/internal/service"
)

// BookingHandler serves ticket sales and the public price list.
type BookingHandler struct {
	Bookings *service.BookingService
	Catalog  *service.CatalogService
}

// NewBookingHandler panics on nil dependencies.
func NewBookingHandler(bookings *service.BookingService, catalog *service.CatalogService) *BookingHandler {
	if bookings == nil || catalog == nil {
		panic("nil service passed to NewBookingHandler")
	}
	return &BookingHandler{Bookings: bookings, Catalog: catalog}
}

// Pricing handles GET /v1/pricing: active tariffs in display order.
// Catalog read failures degrade to the canonical defaults.
func (h *BookingHandler) Pricing(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	return c.JSON(http.StatusOK, echo.Map{"tariffs": h.Catalog.ActivePricing(ctx)})
}

type quoteReq struct {
	VisitDate string             `json:"visitDate"`
	Items     []service.CartItem `json:"items"`
}

// Quote handles POST /v1/pricing/quote.  Nothing is stored.
func (h *BookingHandler) Quote(c echo.Context) error {
	var req quoteReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	priced, err := h.Bookings.Quote(ctx, req.VisitDate, req.Items)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, priced)
}

// Create handles POST /v1/bookings, the public ONLINE sale.  The
// verification token in the response is the only way to fetch the QR
// image again.
func (h *BookingHandler) Create(c echo.Context) error {
	var req service.BookingRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	res, err := h.Bookings.CreateBooking(ctx, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// CreateCounter handles POST /v1/counter/bookings.  issuedBy is the
// authenticated staff subject.
func (h *BookingHandler) CreateCounter(c echo.Context) error {
	var req service.CounterBookingRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	res, err := h.Bookings.CreateCounterBooking(ctx, req, middleware.StaffID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// TicketQR handles GET /v1/tickets/:ticketId/qr?vt=.  A wrong token and
// an unknown ticket look the same.
func (h *BookingHandler) TicketQR(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	qr, err := h.Bookings.TicketQR(ctx, c.Param("ticketId"), strings.TrimSpace(c.QueryParam("vt")))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ticketId": strings.ToUpper(c.Param("ticketId")), "qrImage": qr})
}

// GetTicket handles GET /v1/tickets/:ticketId for staff: the ticket with
// its usage fields and the booking envelope.
func (h *BookingHandler) GetTicket(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	t, err := h.Bookings.GetTicket(ctx, c.Param("ticketId"))
	if err != nil {
		return fail(c, err)
	}
	b, err := h.Bookings.GetBooking(ctx, t.TicketID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ticket": t, "booking": b})
}

// ConfirmPayment handles POST /v1/admin/tickets/:ticketId/confirm-payment.
func (h *BookingHandler) ConfirmPayment(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	t, err := h.Bookings.ConfirmPayment(ctx, c.Param("ticketId"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}
