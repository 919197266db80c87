package reportvalidation

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/apierror"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleSafetyOfficer))
	g.POST("/reports/validate", h.Validate)
}

func (h *Handler) Validate(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.Validate(c.Request().Context(), req)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, res)
}
