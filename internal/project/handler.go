package project

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-tms/meridian-tms/internal/platform/httpx"
)

// Handler manages project endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers project routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Patch("/projects/{projectID}/status", h.transitionStatus)
	r.Post("/projects/status/batch", h.batchTransitionStatus)
	r.Get("/users/{userID}/projects", h.accessibleProjects)
}

type transitionRequest struct {
	Status Status `json:"status" validate:"required"`
}

func (h *Handler) transitionStatus(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "projectID must be a UUID")
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	change, err := h.service.TransitionStatus(r.Context(), projectID, req.Status)
	if err != nil {
		h.logger.Error("transition status", slog.String("project", projectID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, change)
}

type batchTransitionRequest struct {
	ProjectIDs []uuid.UUID `json:"project_ids" validate:"required,min=1"`
	Status     Status      `json:"status" validate:"required"`
}

func (h *Handler) batchTransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req batchTransitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	results := h.service.BatchTransitionStatus(r.Context(), req.ProjectIDs, req.Status)
	httpx.JSON(w, http.StatusOK, results)
}

func (h *Handler) accessibleProjects(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "userID must be a UUID")
		return
	}
	projects, err := h.service.ListAccessibleProjects(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, projects)
}
