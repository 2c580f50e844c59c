package engine

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warrant-labs/sentinel/internal/platform/httpx"
)

// Handler exposes the evaluation endpoint.
type Handler struct {
	evaluator *Evaluator
	validate  *validator.Validate
}

// NewHandler constructs the evaluation handler.
func NewHandler(evaluator *Evaluator) *Handler {
	return &Handler{evaluator: evaluator, validate: validator.New()}
}

// Mount registers the evaluation routes.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/", h.authorize)
}

type authorizeRequest struct {
	Principal string `json:"principal" validate:"required"`
	Resource  string `json:"resource"`
	Action    string `json:"action"`
}

type authorizeResponse struct {
	Decision         string      `json:"decision"`
	MatchedPolicyIDs []uuid.UUID `json:"matchedPolicyIds"`
	Reason           string      `json:"reason,omitempty"`
	SnapshotVersion  uint64      `json:"snapshotVersion"`
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	result, err := h.evaluator.Authorize(r.Context(), Request{
		Principal: req.Principal,
		Resource:  req.Resource,
		Action:    req.Action,
		SourceIP:  clientIP(r),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	matched := result.MatchedPolicyIDs
	if matched == nil {
		matched = []uuid.UUID{}
	}
	httpx.JSON(w, http.StatusOK, authorizeResponse{
		Decision:         string(result.Decision),
		MatchedPolicyIDs: matched,
		Reason:           result.Reason,
		SnapshotVersion:  result.SnapshotVersion,
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
