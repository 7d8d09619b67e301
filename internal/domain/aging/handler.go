package aging

import (
	"net/http"
	"time"

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
	api.GET("/aging", h.Report, auth.RequireRole("admin", "billing"))
}

// Report serves GET /aging?as_of=YYYY-MM-DD. Without as_of the report is
// taken now.
func (h *Handler) Report(c echo.Context) error {
	var asOf time.Time
	if v := c.QueryParam("as_of"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "as_of must be YYYY-MM-DD")
		}
		asOf = t
	}
	r, err := h.svc.Report(c.Request().Context(), asOf)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}
