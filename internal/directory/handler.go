package directory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warrant-labs/sentinel/internal/platform/httpx"
)

// Handler serves the directory administration API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountUsers registers user routes.
func (h *Handler) MountUsers(r chi.Router) {
	r.Post("/", h.createUser)
	r.Get("/", h.listUsers)
	r.Get("/{id}", h.getUser)
	r.Patch("/{id}", h.updateUser)
}

// MountGroups registers group routes.
func (h *Handler) MountGroups(r chi.Router) {
	r.Post("/", h.createGroup)
	r.Patch("/{id}/members", h.setGroupMembers)
}

// MountDepartments registers department routes.
func (h *Handler) MountDepartments(r chi.Router) {
	r.Post("/", h.createDepartment)
	r.Patch("/{id}/parent", h.reparentDepartment)
	r.Get("/{id}/ancestors", h.ancestors)
}

type userResponse struct {
	ID           uuid.UUID `json:"id"`
	DisplayName  string    `json:"displayName"`
	Email        string    `json:"email"`
	DepartmentID string    `json:"departmentId,omitempty"`
	Status       string    `json:"status"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toUserResponse(u User) userResponse {
	resp := userResponse{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		Status:      string(u.Status),
		Version:     u.Version,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
	if u.DepartmentID != uuid.Nil {
		resp.DepartmentID = u.DepartmentID.String()
	}
	return resp
}

type createUserRequest struct {
	DisplayName  string `json:"displayName" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
	DepartmentID string `json:"departmentId" validate:"omitempty,uuid4"`
	Status       string `json:"status" validate:"omitempty,oneof=active inactive pending"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	dept, err := parseOptionalUUID(req.DepartmentID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid department id")
		return
	}
	u, version, err := h.service.CreateUser(r.Context(), CreateUserInput{
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		DepartmentID: dept,
		Status:       UserStatus(req.Status),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"user": toUserResponse(u), "snapshotVersion": version})
}

type updateUserRequest struct {
	Status          *string `json:"status" validate:"omitempty,oneof=active inactive pending"`
	DepartmentID    *string `json:"departmentId"`
	ExpectedVersion int64   `json:"expectedVersion" validate:"required,min=1"`
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	var req updateUserRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	in := UpdateUserInput{ExpectedVersion: req.ExpectedVersion}
	if req.Status != nil {
		status := UserStatus(*req.Status)
		in.Status = &status
	}
	if req.DepartmentID != nil {
		dept, err := parseOptionalUUID(*req.DepartmentID)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid department id")
			return
		}
		in.DepartmentID = &dept
	}
	u, version, err := h.service.UpdateUser(r.Context(), id, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": toUserResponse(u), "snapshotVersion": version})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return
	}
	u, err := h.service.GetUser(id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user": toUserResponse(u)})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	users, pagination := h.service.ListUsers(page, perPage)
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": out, "pagination": pagination})
}

type createGroupRequest struct {
	Name      string   `json:"name" validate:"required"`
	MemberIDs []string `json:"memberIds" validate:"omitempty,dive,uuid4"`
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	members, err := parseUUIDs(req.MemberIDs)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid member id")
		return
	}
	g, version, err := h.service.CreateGroup(r.Context(), req.Name, members)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"group": g, "snapshotVersion": version})
}

type setMembersRequest struct {
	MemberIDs       []string `json:"memberIds" validate:"dive,uuid4"`
	ExpectedVersion int64    `json:"expectedVersion" validate:"required,min=1"`
}

func (h *Handler) setGroupMembers(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid group id")
		return
	}
	var req setMembersRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	members, err := parseUUIDs(req.MemberIDs)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid member id")
		return
	}
	g, version, err := h.service.SetGroupMembers(r.Context(), id, members, req.ExpectedVersion)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"group": g, "snapshotVersion": version})
}

type createDepartmentRequest struct {
	Name     string `json:"name" validate:"required"`
	ParentID string `json:"parentId" validate:"omitempty,uuid4"`
}

func (h *Handler) createDepartment(w http.ResponseWriter, r *http.Request) {
	var req createDepartmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	parent, err := parseOptionalUUID(req.ParentID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid parent id")
		return
	}
	d, version, err := h.service.CreateDepartment(r.Context(), req.Name, parent)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"department": d, "snapshotVersion": version})
}

type reparentRequest struct {
	ParentID        string `json:"parentId" validate:"omitempty,uuid4"`
	ExpectedVersion int64  `json:"expectedVersion" validate:"required,min=1"`
}

func (h *Handler) reparentDepartment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid department id")
		return
	}
	var req reparentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	parent, err := parseOptionalUUID(req.ParentID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid parent id")
		return
	}
	d, version, err := h.service.ReparentDepartment(r.Context(), id, parent, req.ExpectedVersion)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"department": d, "snapshotVersion": version})
}

func (h *Handler) ancestors(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid department id")
		return
	}
	chain, err := h.service.Ancestors(id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ancestors": chain})
}

func parseOptionalUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(raw)
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
