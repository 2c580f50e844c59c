package importer

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warrant-labs/sentinel/internal/platform/httpx"
)

// Handler exposes the bulk import endpoint.
type Handler struct {
	service *Service
}

// NewHandler constructs the import handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Mount registers the import routes.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/users", h.importUsers)
}

func (h *Handler) importUsers(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	report, err := h.service.Import(r.Context(), r.Body)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid CSV", err.Error())
		return
	}
	status := http.StatusOK
	if report.Imported > 0 && report.Failed > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, report)
}
