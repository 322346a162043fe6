package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/kzp/zoo-ticketing/internal/middleware"
	"github.com/kzp/zoo-ticketing/internal/model"
	"github.com/kzp/zoo-ticketing/internal/service"
)

// GateHandler serves entry validation for scanner staff.
type GateHandler struct {
	Entry *service.EntryService
}

func NewGateHandler(entry *service.EntryService) *GateHandler {
	if entry == nil {
		panic("nil service passed to NewGateHandler")
	}
	return &GateHandler{Entry: entry}
}

type qrScanReq struct {
	Token  string `json:"token"`
	GateID string `json:"gateId"`
}

type manualScanReq struct {
	TicketID string `json:"ticketId"`
	GateID   string `json:"gateId"`
	Reason   string `json:"reason"`
}

type entryResp struct {
	Valid  bool                 `json:"valid"`
	Result string               `json:"result"`
	Ticket *model.TicketSummary `json:"ticket"`
}

// ValidateQR handles POST /v1/gate/validate/qr.  Rejections come back
// with the scan result as the error code.
func (h *GateHandler) ValidateQR(c echo.Context) error {
	var req qrScanReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	summary, err := h.Entry.ValidateQR(ctx, req.Token, gateOf(c, req.GateID))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, entryResp{Valid: true, Result: model.ScanSuccess, Ticket: summary})
}

// ValidateManual handles POST /v1/gate/validate/manual.
func (h *GateHandler) ValidateManual(c echo.Context) error {
	var req manualScanReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	summary, err := h.Entry.ValidateManual(ctx, req.TicketID, gateOf(c, req.GateID), req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, entryResp{Valid: true, Result: model.ScanSuccess, Ticket: summary})
}

// Scans handles GET /v1/gate/scans?ticketId=&limit=.
func (h *GateHandler) Scans(c echo.Context) error {
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = n
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	logs, err := h.Entry.ScanHistory(ctx, c.QueryParam("ticketId"), limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"scans": logs})
}

// gateOf names the scanning point: the gateId the device sent, or the
// authenticated staff subject when it sent none.
func gateOf(c echo.Context, gateID string) string {
	if g := strings.TrimSpace(gateID); g != "" {
		return g
	}
	return "staff:" + middleware.StaffID(c)
}
