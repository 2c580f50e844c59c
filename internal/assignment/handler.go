package assignment

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warrant-labs/sentinel/internal/platform/httpx"
)

// Handler serves the assignment administration API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers assignment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.assign)
	r.Delete("/", h.revoke)
}

type assignRequest struct {
	PrincipalID   string   `json:"principalId" validate:"required,uuid4"`
	PrincipalType string   `json:"principalType" validate:"required,oneof=user group department"`
	RoleIDs       []string `json:"roleIds" validate:"required,min=1,dive,uuid4"`
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	principalID, err := uuid.Parse(req.PrincipalID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid principal id")
		return
	}
	roleIDs := make([]uuid.UUID, 0, len(req.RoleIDs))
	for _, raw := range req.RoleIDs {
		rid, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
			return
		}
		roleIDs = append(roleIDs, rid)
	}
	version, err := h.service.Assign(r.Context(), principalID, PrincipalType(req.PrincipalType), roleIDs)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"snapshotVersion": version})
}

type revokeRequest struct {
	PrincipalID string `json:"principalId" validate:"required,uuid4"`
	RoleID      string `json:"roleId" validate:"required,uuid4"`
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	principalID, _ := uuid.Parse(req.PrincipalID)
	roleID, _ := uuid.Parse(req.RoleID)
	version, err := h.service.Revoke(r.Context(), principalID, roleID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"snapshotVersion": version})
}
