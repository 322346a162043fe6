package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/kzp/zoo-ticketing/internal/middleware"
	"github.com/kzp/zoo-ticketing/internal/service"
)

// TariffHandler serves catalog administration.  Every successful write
// purges the cached pricing responses.
type TariffHandler struct {
	Catalog     *service.CatalogService
	Redis       *redis.Client
	CachePrefix string
}

// NewTariffHandler accepts a nil rdb when caching is off.
func NewTariffHandler(catalog *service.CatalogService, rdb *redis.Client, cachePrefix string) *TariffHandler {
	if catalog == nil {
		panic("nil service passed to NewTariffHandler")
	}
	return &TariffHandler{Catalog: catalog, Redis: rdb, CachePrefix: cachePrefix}
}

type moveReq struct {
	DisplayOrder int `json:"displayOrder"`
}

// List handles GET /v1/admin/tariffs.  Inactive rows are included.
func (h *TariffHandler) List(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	list, err := h.Catalog.Resequence(ctx)
	if err != nil {
		return fail(c, service.ErrInternal)
	}
	return c.JSON(http.StatusOK, echo.Map{"tariffs": list, "reservedSlots": h.Catalog.ReservedSlots()})
}

// Create handles POST /v1/admin/tariffs.
func (h *TariffHandler) Create(c echo.Context) error {
	var in service.TariffInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	e, err := h.Catalog.CreateTariff(ctx, in)
	if err != nil {
		return fail(c, err)
	}
	h.written(c, "create", e.ItemCode)
	return c.JSON(http.StatusCreated, e)
}

// Update handles PATCH /v1/admin/tariffs/:itemCode.
func (h *TariffHandler) Update(c echo.Context) error {
	var in service.TariffInput
	if err := c.Bind(&in); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	e, err := h.Catalog.UpdateTariff(ctx, c.Param("itemCode"), in)
	if err != nil {
		return fail(c, err)
	}
	h.written(c, "update", e.ItemCode)
	return c.JSON(http.StatusOK, e)
}

// Toggle handles POST /v1/admin/tariffs/:itemCode/toggle.
func (h *TariffHandler) Toggle(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	e, err := h.Catalog.ToggleTariff(ctx, c.Param("itemCode"))
	if err != nil {
		return fail(c, err)
	}
	h.written(c, "toggle", e.ItemCode)
	return c.JSON(http.StatusOK, e)
}

// Move handles POST /v1/admin/tariffs/:itemCode/move.
func (h *TariffHandler) Move(c echo.Context) error {
	var req moveReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx, cancel := requestCtx(c)
	defer cancel()
	list, err := h.Catalog.MoveTariff(ctx, c.Param("itemCode"), req.DisplayOrder)
	if err != nil {
		return fail(c, err)
	}
	h.written(c, "move", c.Param("itemCode"))
	return c.JSON(http.StatusOK, echo.Map{"tariffs": list})
}

// Delete handles DELETE /v1/admin/tariffs/:itemCode.
func (h *TariffHandler) Delete(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	if err := h.Catalog.DeleteTariff(ctx, c.Param("itemCode")); err != nil {
		return fail(c, err)
	}
	h.written(c, "delete", c.Param("itemCode"))
	return c.NoContent(http.StatusNoContent)
}

// Resequence handles POST /v1/admin/tariffs/resequence.
func (h *TariffHandler) Resequence(c echo.Context) error {
	ctx, cancel := requestCtx(c)
	defer cancel()
	list, err := h.Catalog.Resequence(ctx)
	if err != nil {
		return fail(c, service.ErrInternal)
	}
	h.written(c, "resequence", "")
	return c.JSON(http.StatusOK, echo.Map{"tariffs": list})
}

func (h *TariffHandler) written(c echo.Context, action, code string) {
	log.WithFields(log.Fields{"action": action, "item_code": code, "by": middleware.StaffID(c)}).Info("tariff catalog changed")
	if err := middleware.PurgeCache(context.Background(), h.Redis, h.CachePrefix); err != nil {
		log.WithError(err).Warn("cache: purge after tariff write failed")
	}
}
