package posting

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/revcycle/internal/domain/remittance"
	"github.com/ehr/revcycle/internal/platform/auth"
)

// Handler posts uploaded 835 files.
type Handler struct {
	eras     *remittance.Service
	engine   *Engine
	postings Repository
}

func NewHandler(eras *remittance.Service, engine *Engine, postings Repository) *Handler {
	return &Handler{eras: eras, engine: engine, postings: postings}
}

// RegisterRoutes registers posting endpoints.
//
//	POST /api/v1/remittance/post       - Decode, store and post an 835
//	GET  /api/v1/claims/:id/postings   - List postings applied to a claim
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "billing"))
	g.POST("/remittance/post", h.PostERA)
	g.GET("/claims/:id/postings", h.ListByClaim)
}

type postResponse struct {
	*BatchResult
	Existing bool `json:"existing"`
}

// PostERA stores the uploaded remittance and posts it. Uploading a file
// that was already received reposts the stored copy, which only posts claim
// payments that did not post the first time.
func (h *Handler) PostERA(c echo.Context) error {
	raw, err := remittance.ReadDocument(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	ctx := c.Request().Context()

	era, existing, err := h.eras.Receive(ctx, raw)
	if err != nil {
		if era != nil {
			msg := "failed to parse 835: " + err.Error()
			if errors.Is(err, remittance.ErrUnidentified) {
				msg = err.Error()
			}
			return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
				"error": msg,
				"era":   era,
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	res, err := h.engine.PostERA(ctx, era)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	// A repost that posts nothing new leaves the stored status alone.
	if !existing || res.Posted > 0 {
		if err := h.eras.SetStatus(ctx, era.ID, res.Status); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, postResponse{BatchResult: res, Existing: existing})
}

func (h *Handler) ListByClaim(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.postings.ListByClaim(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*PaymentPosting{}
	}
	return c.JSON(http.StatusOK, items)
}
