package contract

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/revcycle/internal/domain/claim"
	"github.com/ehr/revcycle/internal/platform/auth"
	"github.com/ehr/revcycle/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "billing"))
	read.GET("/contracts", h.ListContracts)
	read.GET("/contracts/:id", h.GetContract)
	read.GET("/contracts/:id/expected/:claimId", h.ExpectedForClaim)

	write := api.Group("", auth.RequireRole("admin"))
	write.POST("/contracts", h.CreateContract)
}

func (h *Handler) CreateContract(c echo.Context) error {
	var pc PayerContract
	if err := c.Bind(&pc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&pc); err != nil {
		return err
	}
	if err := h.svc.CreateContract(c.Request().Context(), &pc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, pc)
}

func (h *Handler) GetContract(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pc, err := h.svc.GetContract(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "contract not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pc)
}

func (h *Handler) ListContracts(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListContracts(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ExpectedForClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	claimID, err := uuid.Parse(c.Param("claimId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid claimId")
	}
	exp, err := h.svc.ExpectedForClaim(c.Request().Context(), id, claimID)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "contract not found")
	case errors.Is(err, claim.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "claim not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, exp)
}
