package submission

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinform/clinform/internal/domain/formconfig"
	"github.com/clinform/clinform/internal/platform/auth"
	"github.com/clinform/clinform/internal/platform/forms"
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
	// Submitting and deleting records is clinician work
	write := api.Group("", auth.RequireRole("clinician"))
	write.POST("/submissions", h.CreateSubmission)
	write.DELETE("/submissions/:id", h.DeleteSubmission)

	// Reads are open to any role
	read := api.Group("", auth.RequireRole("admin", "clinician", "viewer"))
	read.GET("/submissions/:id", h.GetSubmission)
	read.GET("/submissions/:id/answers", h.GetAnswers)
	read.GET("/subjects/:subjectId/submissions", h.ListBySubject)
	read.GET("/form-kinds/:formKind/summary", h.Summary)
}

func (h *Handler) CreateSubmission(c echo.Context) error {
	var req SubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rec, res, err := h.svc.Submit(ctx, &req, auth.UserIDFromContext(ctx))
	if err != nil {
		if errors.Is(err, formconfig.ErrNoConfiguration) {
			return echo.NewHTTPError(http.StatusNotFound, "no configuration for this team and form kind")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if res != nil {
		return c.JSON(http.StatusUnprocessableEntity, res)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetSubmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "submission not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetAnswers(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	set, err := h.svc.Answers(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "submission not found")
		case errors.Is(err, forms.ErrConfigurationVersionUnavailable):
			return echo.NewHTTPError(http.StatusConflict, "configuration version unavailable")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, set)
}

func (h *Handler) ListBySubject(c echo.Context) error {
	subjectID := c.Param("subjectId")
	pg := pagination.FromContext(c)
	recs, total, err := h.svc.ListBySubject(c.Request().Context(), subjectID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs, total, pg))
}

func (h *Handler) DeleteSubmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req DeleteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.Delete(ctx, id, auth.UserIDFromContext(ctx), req.Reason); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "submission not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Summary(c echo.Context) error {
	formKind := c.Param("formKind")
	teamID, err := uuid.Parse(c.QueryParam("team_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid team_id")
	}
	report, err := h.svc.Summary(c.Request().Context(), teamID, formKind)
	if err != nil {
		if errors.Is(err, formconfig.ErrNoConfiguration) {
			return echo.NewHTTPError(http.StatusNotFound, "no configuration for this team and form kind")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}
