package permission

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/meridian-tms/meridian-tms/internal/platform/httpx"
)

// Handler exposes the permission engine over HTTP.
type Handler struct {
	logger   *slog.Logger
	resolver *Resolver
	mutator  *Mutator
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, resolver *Resolver, mutator *Mutator, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		resolver: resolver,
		mutator:  mutator,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/users/{userID}/permissions", h.resolvePermissions)
	r.Get("/users/{userID}/permissions/stats", h.permissionStats)
	r.Post("/users/{userID}/grants/batch-assign", h.batchAssign)
	r.Post("/users/{userID}/grants/batch-remove", h.batchRemove)
	r.Put("/users/{userID}/overrides", h.saveOverride)
	r.Delete("/users/{userID}/overrides", h.deleteOverride)

	r.Get("/projects/{projectID}/access/{userID}", h.projectAccess)
	r.Put("/projects/{projectID}/grants/{userID}", h.assignGrant)
	r.Post("/projects/{projectID}/grants/{userID}/restrict", h.restrictGrant)
	r.Delete("/projects/{projectID}/grants/{userID}", h.removeGrant)

	r.Get("/roles/templates", h.listTemplates)
	r.Put("/roles/templates/{role}", h.saveTemplate)
}

func (h *Handler) resolvePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	projectID, ok := queryProjectID(w, r)
	if !ok {
		return
	}
	set, err := h.resolver.Resolve(r.Context(), userID, projectID)
	if err != nil {
		h.logger.Error("resolve permissions", slog.String("user", userID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, set)
}

func (h *Handler) permissionStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	projectID, ok := queryProjectID(w, r)
	if !ok {
		return
	}
	set, err := h.resolver.Resolve(r.Context(), userID, projectID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, set.Stats())
}

func (h *Handler) projectAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "projectID")
	if !ok {
		return
	}
	allowed, err := h.resolver.HasProjectAccess(r.Context(), userID, projectID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"has_access": allowed})
}

type assignGrantRequest struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) assignGrant(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "projectID")
	if !ok {
		return
	}
	var req assignGrantRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.mutator.Assign(r.Context(), userID, projectID, req.Role); err != nil {
		h.logger.Error("assign grant", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) restrictGrant(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "projectID")
	if !ok {
		return
	}
	if err := h.mutator.Restrict(r.Context(), userID, projectID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) removeGrant(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	projectID, ok := pathUUID(w, r, "projectID")
	if !ok {
		return
	}
	if err := h.mutator.Remove(r.Context(), userID, projectID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
}

type batchAssignRequest struct {
	ProjectIDs []uuid.UUID `json:"project_ids" validate:"required,min=1"`
	Role       string      `json:"role" validate:"required"`
}

func (h *Handler) batchAssign(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	var req batchAssignRequest
	if !h.decode(w, r, &req) {
		return
	}
	result := h.mutator.AssignProjects(r.Context(), userID, req.ProjectIDs, req.Role)
	status := http.StatusOK
	if result.Partial() {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, result)
}

type batchRemoveRequest struct {
	ProjectIDs []uuid.UUID `json:"project_ids" validate:"required,min=1"`
}

func (h *Handler) batchRemove(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	var req batchRemoveRequest
	if !h.decode(w, r, &req) {
		return
	}
	result := h.mutator.RemoveProjects(r.Context(), userID, req.ProjectIDs)
	status := http.StatusOK
	if result.Partial() {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, result)
}

type overrideRequest struct {
	ProjectID   *uuid.UUID `json:"project_id,omitempty"`
	Menu        []string   `json:"menu"`
	Function    []string   `json:"function"`
	Project     []string   `json:"project"`
	Data        []string   `json:"data"`
	InheritRole bool       `json:"inherit_role"`
}

func (h *Handler) saveOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	var req overrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	saved, err := h.service.SaveOverride(r.Context(), Override{
		UserID:    userID,
		ProjectID: req.ProjectID,
		Permissions: PermissionSet{
			Menu:     req.Menu,
			Function: req.Function,
			Project:  req.Project,
			Data:     req.Data,
		},
		InheritRole: req.InheritRole,
	})
	if err != nil {
		h.logger.Error("save override", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) deleteOverride(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	projectID, ok := queryProjectID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteOverride(r.Context(), userID, projectID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.service.ListTemplates(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, templates)
}

type templateRequest struct {
	Menu        []string `json:"menu"`
	Function    []string `json:"function"`
	Project     []string `json:"project"`
	Data        []string `json:"data"`
	Description string   `json:"description"`
}

func (h *Handler) saveTemplate(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	var req templateRequest
	if !h.decode(w, r, &req) {
		return
	}
	saved, err := h.service.SaveTemplate(r.Context(), RoleTemplate{
		Role: role,
		Permissions: PermissionSet{
			Menu:     req.Menu,
			Function: req.Function,
			Project:  req.Project,
			Data:     req.Data,
		},
		Description: req.Description,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", param+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryProjectID(w http.ResponseWriter, r *http.Request) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get("project_id")
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "project_id must be a UUID")
		return nil, false
	}
	return &id, true
}
