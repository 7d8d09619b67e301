package remittance

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/revcycle/internal/platform/auth"
	"github.com/ehr/revcycle/pkg/pagination"
)

// Handler provides HTTP endpoints for 835 decoding and stored ERAs.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers remittance endpoints.
//
//	POST /api/v1/remittance/parse     - Decode an 835 to JSON
//	GET  /api/v1/remittance/eras      - List stored ERAs
//	GET  /api/v1/remittance/eras/:id  - Get a stored ERA
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/remittance", auth.RequireRole("admin", "billing"))
	g.POST("/parse", h.ParseERA)
	g.GET("/eras", h.ListERAs)
	g.GET("/eras/:id", h.GetERA)
}

// ParseERA decodes the request body without storing it. A structural error
// returns 422 with whatever claim payments were decoded before it.
func (h *Handler) ParseERA(c echo.Context) error {
	raw, err := ReadDocument(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	era, err := h.svc.Decode(raw)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]interface{}{
			"error": "failed to parse 835: " + err.Error(),
			"era":   era,
		})
	}
	return c.JSON(http.StatusOK, era)
}

func (h *Handler) GetERA(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	era, err := h.svc.GetERA(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "era not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, era)
}

func (h *Handler) ListERAs(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListERAs(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// ReadDocument returns the EDI text of a request: the "file" part of a
// multipart upload, or the raw body otherwise.
func ReadDocument(c echo.Context) (string, error) {
	var r io.Reader = c.Request().Body
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return "", fmt.Errorf("missing file upload: %w", err)
		}
		f, err := fh.Open()
		if err != nil {
			return "", fmt.Errorf("open upload: %w", err)
		}
		defer f.Close()
		r = f
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read request body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", fmt.Errorf("request body is empty")
	}
	return string(body), nil
}
