package policy

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warrant-labs/sentinel/internal/platform/httpx"
)

// Handler serves the role and policy administration API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoles registers role routes.
func (h *Handler) MountRoles(r chi.Router) {
	r.Post("/", h.createRole)
	r.Get("/", h.listRoles)
	r.Patch("/{id}", h.updateRole)
}

// MountPolicies registers policy routes.
func (h *Handler) MountPolicies(r chi.Router) {
	r.Post("/", h.createPolicy)
	r.Get("/", h.listPolicies)
	r.Patch("/{id}", h.updatePolicy)
}

type createPolicyRequest struct {
	Name            string   `json:"name" validate:"required"`
	ResourcePattern string   `json:"resourcePattern" validate:"required"`
	Actions         []string `json:"actions" validate:"required,min=1"`
	Effect          string   `json:"effect" validate:"required,oneof=Allow Deny"`
	Status          string   `json:"status" validate:"omitempty,oneof=active inactive"`
}

func (h *Handler) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	p, version, err := h.service.CreatePolicy(r.Context(), CreatePolicyInput{
		Name:            req.Name,
		ResourcePattern: req.ResourcePattern,
		Actions:         req.Actions,
		Effect:          Effect(req.Effect),
		Status:          Status(req.Status),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"policy": p, "snapshotVersion": version})
}

type updatePolicyRequest struct {
	Name            *string  `json:"name"`
	ResourcePattern *string  `json:"resourcePattern"`
	Actions         []string `json:"actions"`
	Effect          *string  `json:"effect" validate:"omitempty,oneof=Allow Deny"`
	Status          *string  `json:"status" validate:"omitempty,oneof=active inactive"`
	ExpectedVersion int64    `json:"expectedVersion" validate:"required,min=1"`
}

func (h *Handler) updatePolicy(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid policy id")
		return
	}
	var req updatePolicyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := UpdatePolicyInput{
		Name:            req.Name,
		ResourcePattern: req.ResourcePattern,
		Actions:         req.Actions,
		ExpectedVersion: req.ExpectedVersion,
	}
	if req.Effect != nil {
		effect := Effect(*req.Effect)
		in.Effect = &effect
	}
	if req.Status != nil {
		status := Status(*req.Status)
		in.Status = &status
	}
	p, version, err := h.service.UpdatePolicy(r.Context(), id, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"policy": p, "snapshotVersion": version})
}

func (h *Handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"policies": h.service.ListPolicies()})
}

type createRoleRequest struct {
	Name      string   `json:"name" validate:"required"`
	Type      string   `json:"type" validate:"omitempty,oneof=system custom"`
	Status    string   `json:"status" validate:"omitempty,oneof=active inactive"`
	PolicyIDs []string `json:"policyIds" validate:"omitempty,dive,uuid4"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	policyIDs, err := parseUUIDs(req.PolicyIDs)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid policy id")
		return
	}
	role, version, err := h.service.CreateRole(r.Context(), CreateRoleInput{
		Name:      req.Name,
		Type:      RoleType(req.Type),
		Status:    Status(req.Status),
		PolicyIDs: policyIDs,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"role": role, "snapshotVersion": version})
}

type updateRoleRequest struct {
	Name            *string  `json:"name"`
	Status          *string  `json:"status" validate:"omitempty,oneof=active inactive"`
	PolicyIDs       []string `json:"policyIds" validate:"omitempty,dive,uuid4"`
	ExpectedVersion int64    `json:"expectedVersion" validate:"required,min=1"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid role id")
		return
	}
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := UpdateRoleInput{Name: req.Name, ExpectedVersion: req.ExpectedVersion}
	if req.Status != nil {
		status := Status(*req.Status)
		in.Status = &status
	}
	if req.PolicyIDs != nil {
		policyIDs, err := parseUUIDs(req.PolicyIDs)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid policy id")
			return
		}
		in.PolicyIDs = policyIDs
	}
	role, version, err := h.service.UpdateRole(r.Context(), id, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role, "snapshotVersion": version})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": h.service.ListRoles()})
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
