package rules

import (
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/apierror"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/auth"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleRuleAuthor, auth.RoleSafetyOfficer, auth.RoleClinician))
	read.GET("/rules", h.ListRules)
	read.GET("/rules/:id/versions", h.History)
	read.GET("/rule-versions/:id", h.GetVersion)

	author := api.Group("", auth.RequireRole(auth.RoleRuleAuthor))
	author.POST("/rules", h.CreateRule)
	author.POST("/rules/:id/drafts", h.CreateDraft)
	author.PATCH("/rule-versions/:id", h.UpdateDraft)
	author.POST("/rules/import", h.Import)

	officer := api.Group("", auth.RequireRole(auth.RoleSafetyOfficer))
	officer.POST("/rule-versions/:id/activate", h.Activate)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func (h *Handler) ListRules(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.ListRules(c.Request().Context(), c.QueryParam("domain"))
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(items, pg), len(items), pg))
}

type createRuleRequest struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Domain string `json:"domain"`
}

func (h *Handler) CreateRule(c echo.Context) error {
	var req createRuleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	def, err := h.svc.CreateRule(c.Request().Context(), req.Key, req.Title, req.Domain)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusCreated, def)
}

func (h *Handler) History(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	versions, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return apierror.From(err)
	}
	if versions == nil {
		versions = []*RuleVersion{}
	}
	return c.JSON(http.StatusOK, versions)
}

func (h *Handler) GetVersion(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.GetVersion(c.Request().Context(), id)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) CreateDraft(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in DraftInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, err := h.svc.CreateDraft(c.Request().Context(), id, in, actor(c))
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) UpdateDraft(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in PatchInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, err := h.svc.UpdateDraft(c.Request().Context(), id, in)
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, v)
}

type activateRequest struct {
	ChangeReason string `json:"change_reason"`
}

func (h *Handler) Activate(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req activateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	v, err := h.svc.Activate(c.Request().Context(), id, req.ChangeReason, actor(c))
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, v)
}

// Import accepts a YAML bundle as the raw request body.
// Query: activate=true|false, reason=<change reason>.
func (h *Handler) Import(c echo.Context) error {
	activate, _ := strconv.ParseBool(c.QueryParam("activate"))
	ctx := c.Request().Context()
	if activate && !auth.HasRole(auth.RolesFromContext(ctx), auth.RoleSafetyOfficer) {
		return echo.NewHTTPError(http.StatusForbidden, "required role: safety_officer")
	}
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read bundle")
	}
	res, err := h.svc.ImportBundle(ctx, data, activate, c.QueryParam("reason"), actor(c))
	if err != nil {
		return apierror.From(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"rules": res})
}
