package translate

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cql2omop/cql2omop/internal/domain/vsac"
	"github.com/cql2omop/cql2omop/internal/platform/auth"
)

// Handler exposes the pipeline over REST.
type Handler struct {
	svc *Service
	env map[string]string
}

// NewHandler creates a handler. env is the redacted configuration reported by
// GET /status.
func NewHandler(svc *Service, env map[string]string) *Handler {
	return &Handler{svc: svc, env: env}
}

// RegisterRoutes registers the translation routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	tr := api.Group("", auth.RequireScope(auth.ScopeTranslate))
	tr.POST("/translate", h.Translate)
	tr.POST("/extract", h.Extract)
	tr.POST("/finalize", h.Finalize)
	tr.POST("/valuesets/scan", h.Scan)
	tr.POST("/codes/lookup", h.LookupCode)

	admin := api.Group("/cache", auth.RequireScope(auth.ScopeCacheAdmin))
	admin.GET("", h.CacheStats)
	admin.DELETE("", h.ClearCache)

	api.GET("/status", h.Status)
}

// Translate handles POST /api/v1/translate
func (h *Handler) Translate(c echo.Context) error {
	req := NewRequest()
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := h.svc.Translate(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Extract handles POST /api/v1/extract
func (h *Handler) Extract(c echo.Context) error {
	var req ExtractRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := h.svc.Extract(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Finalize handles POST /api/v1/finalize
func (h *Handler) Finalize(c echo.Context) error {
	var req FinalizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.Finalize(req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// Scan handles POST /api/v1/valuesets/scan
func (h *Handler) Scan(c echo.Context) error {
	var req Source
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CQLText == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "cql_text is required")
	}
	return c.JSON(http.StatusOK, h.svc.Scan(req.CQLText))
}

// LookupCode handles POST /api/v1/codes/lookup
func (h *Handler) LookupCode(c echo.Context) error {
	var req CodeLookupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp, err := h.svc.LookupCode(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// CacheStats handles GET /api/v1/cache
func (h *Handler) CacheStats(c echo.Context) error {
	stats, err := h.svc.CacheStats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

// ClearCache handles DELETE /api/v1/cache
func (h *Handler) ClearCache(c echo.Context) error {
	n, err := h.svc.ClearCache(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"cleared": n})
}

// Status handles GET /api/v1/status
func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Status(c.Request().Context(), h.env))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrMissingCredentials):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"error":      err.Error(),
			"code":       vsac.CodeAuthRequired,
			"suggestion": vsac.Guidance(vsac.CodeAuthRequired),
		})
	case errors.Is(err, ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDatabaseUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
}
