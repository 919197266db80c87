package intake

import (
	"net/http"

	"github.com/google/uuid"
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
	clin := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RoleSafetyOfficer))
	clin.GET("/intakes/:id/policy", h.GetPolicy)
	clin.GET("/intakes/:id/override/audit", h.GetOverrideAudit)

	write := api.Group("", auth.RequireRole(auth.RoleClinician))
	write.PUT("/intakes/:id/override", h.PutOverride)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) GetPolicy(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Assess(c.Request().Context(), id)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, a)
}

type overrideRequest struct {
	Level  string `json:"level"`
	Reason string `json:"reason"`
}

func (h *Handler) PutOverride(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req overrideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	res, err := h.svc.SetOverride(ctx, id, req.Level, req.Reason, auth.UserIDFromContext(ctx))
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetOverrideAudit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.OverrideHistory(c.Request().Context(), id)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, entries)
}
