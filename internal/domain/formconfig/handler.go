package formconfig

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinform/clinform/internal/platform/auth"
	"github.com/clinform/clinform/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

var validate = validator.New()

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Configuration lifecycle and assignment, admin only
	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/form-configurations", h.CreateConfiguration)
	admin.GET("/form-configurations", h.ListConfigurations)
	admin.GET("/form-configurations/:id", h.GetConfiguration)
	admin.GET("/form-configurations/:id/versions", h.ListVersions)
	admin.POST("/form-configurations/:id/activate", h.ActivateConfiguration)
	admin.POST("/form-configurations/:id/deactivate", h.DeactivateConfiguration)
	admin.PUT("/teams/:teamId/form-assignments/:formKind", h.AssignConfiguration)
	admin.DELETE("/teams/:teamId/form-assignments/:formKind", h.UnassignConfiguration)

	// Resolution: what a form renderer fetches before display. Any role.
	read := api.Group("", auth.RequireRole("admin", "clinician", "viewer"))
	read.GET("/teams/:teamId/form-configurations/:formKind", h.ResolveCurrent)
}

func (h *Handler) CreateConfiguration(c echo.Context) error {
	var req CreateConfigurationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	cfg, res, err := h.svc.CreateConfiguration(ctx, &req, auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if res != nil {
		return c.JSON(http.StatusBadRequest, res)
	}
	return c.JSON(http.StatusCreated, cfg)
}

func (h *Handler) GetConfiguration(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cfg, err := h.svc.GetConfiguration(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "configuration not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) ListConfigurations(c echo.Context) error {
	pg := pagination.FromContext(c)
	filter := ListFilter{
		FormKind: c.QueryParam("form_kind"),
		Status:   c.QueryParam("status"),
	}
	if owner := c.QueryParam("owner_team_id"); owner != "" {
		id, err := uuid.Parse(owner)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid owner_team_id")
		}
		filter.OwnerTeamID = &id
	}
	cfgs, total, err := h.svc.ListConfigurations(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(cfgs, total, pg))
}

func (h *Handler) ListVersions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	versions, err := h.svc.ListVersions(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "configuration not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, versions)
}

func (h *Handler) ActivateConfiguration(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cfg, res, err := h.svc.Activate(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "configuration not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if res != nil {
		return c.JSON(http.StatusBadRequest, res)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) DeactivateConfiguration(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cfg, err := h.svc.Deactivate(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "configuration not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) AssignConfiguration(c echo.Context) error {
	teamID, err := uuid.Parse(c.Param("teamId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid team id")
	}
	var req AssignmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	a, err := h.svc.AssignToTeam(ctx, teamID, c.Param("formKind"), req.ConfigurationID, auth.UserIDFromContext(ctx))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UnassignConfiguration(c echo.Context) error {
	teamID, err := uuid.Parse(c.Param("teamId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid team id")
	}
	if err := h.svc.Unassign(c.Request().Context(), teamID, c.Param("formKind")); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "assignment not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ResolveCurrent(c echo.Context) error {
	teamID, err := uuid.Parse(c.Param("teamId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid team id")
	}
	cfg, err := h.svc.ResolveCurrent(c.Request().Context(), teamID, c.Param("formKind"))
	if err != nil {
		if errors.Is(err, ErrNoConfiguration) {
			return echo.NewHTTPError(http.StatusNotFound, "no configuration for this team and form kind")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}
