package claim

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/revcycle/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "billing"))
	read.GET("/claims/:id", h.GetClaim)

	write := api.Group("", auth.RequireRole("admin", "billing"))
	write.POST("/claims", h.CreateClaim)
	write.POST("/claims/:id/validate", h.ValidateClaim)
	write.POST("/claims/batches", h.SubmitBatch)
}

type validateRequest struct {
	OverrideTimelyFiling bool `json:"override_timely_filing"`
}

type batchRequest struct {
	ClaimIDs             []uuid.UUID `json:"claim_ids" validate:"required,min=1"`
	OverrideTimelyFiling bool        `json:"override_timely_filing"`
}

type batchResponse struct {
	*Batch
	EDI string `json:"edi"`
}

func (h *Handler) CreateClaim(c echo.Context) error {
	var cl Claim
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&cl); err != nil {
		return err
	}
	if err := h.svc.CreateClaim(c.Request().Context(), &cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) GetClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cl, err := h.svc.GetClaim(c.Request().Context(), id)
	if err != nil {
		return notFoundOr500(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ValidateClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req validateRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	res, err := h.svc.ValidateClaim(c.Request().Context(), id, ValidateOptions{OverrideTimelyFiling: req.OverrideTimelyFiling})
	if err != nil {
		return notFoundOr500(err)
	}
	return c.JSON(http.StatusOK, res)
}

// SubmitBatch returns the interchange as JSON, or as raw X12 when the
// request asks for format=x12.
func (h *Handler) SubmitBatch(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	batch, err := h.svc.SubmitBatch(c.Request().Context(), req.ClaimIDs, ValidateOptions{OverrideTimelyFiling: req.OverrideTimelyFiling})
	if err != nil {
		var invalid *InvalidBatchError
		if errors.As(err, &invalid) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"error":   invalid.Error(),
				"results": invalid.Results,
			})
		}
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if c.QueryParam("format") == "x12" {
		return c.Blob(http.StatusCreated, "application/edi-x12", []byte(batch.Content))
	}
	return c.JSON(http.StatusCreated, batchResponse{Batch: batch, EDI: batch.Content})
}

func notFoundOr500(err error) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "claim not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
