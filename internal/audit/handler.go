package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warrant-labs/sentinel/internal/platform/httpx"
)

// Handler serves the audit query API.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.query)
}

type entryResponse struct {
	Seq              int64       `json:"seq"`
	At               time.Time   `json:"at"`
	ActorPrincipal   string      `json:"actorPrincipal"`
	Action           string      `json:"action"`
	Resource         string      `json:"resource"`
	Decision         string      `json:"decision"`
	Reason           string      `json:"reason,omitempty"`
	MatchedPolicyIDs []uuid.UUID `json:"matchedPolicyIds"`
	SourceIP         string      `json:"sourceIp,omitempty"`
}

type pageResponse struct {
	Entries      []entryResponse `json:"entries"`
	NextAfterSeq int64           `json:"nextAfterSeq"`
	HasNext      bool            `json:"hasNext"`
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilters(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	page, err := h.service.Query(r.Context(), f)
	if err != nil {
		h.logger.Error("audit query", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := pageResponse{
		Entries:      make([]entryResponse, 0, len(page.Entries)),
		NextAfterSeq: page.NextAfterSeq,
		HasNext:      page.HasNext,
	}
	for _, e := range page.Entries {
		matched := e.MatchedPolicyIDs
		if matched == nil {
			matched = []uuid.UUID{}
		}
		resp.Entries = append(resp.Entries, entryResponse{
			Seq:              e.Seq,
			At:               e.At,
			ActorPrincipal:   e.ActorPrincipal,
			Action:           e.Action,
			Resource:         e.Resource,
			Decision:         e.Decision,
			Reason:           e.Reason,
			MatchedPolicyIDs: matched,
			SourceIP:         e.SourceIP,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	f := Filters{
		Principal: q.Get("principal"),
		Action:    q.Get("action"),
		Resource:  q.Get("resource"),
		Decision:  q.Get("decision"),
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filters{}, err
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Filters{}, err
		}
		f.To = t
	}
	if raw := q.Get("afterSeq"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Filters{}, err
		}
		f.AfterSeq = seq
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return Filters{}, err
		}
		f.Limit = limit
	}
	return f, nil
}
