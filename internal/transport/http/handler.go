package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"quiz-progress-service/internal/app"
	"quiz-progress-service/internal/domain"
	"quiz-progress-service/internal/platform/logger"
)

// Handler exposes the progress use cases as JSON over HTTP.
type Handler struct {
	service *app.ProgressService
	log     *logger.Logger
}

func NewHandler(service *app.ProgressService, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{service: service, log: log.With("component", "http")}
}

// NewRouter wires the REST endpoints, the websocket endpoint and the health check.
func NewRouter(service *app.ProgressService, log *logger.Logger) *http.ServeMux {
	h := NewHandler(service, log)
	ws := NewWSHandler(service, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /users/{userID}/events", h.ingest)
	mux.HandleFunc("GET /users/{userID}/progress", h.overview)
	mux.HandleFunc("DELETE /users/{userID}/progress", h.reset)
	mux.HandleFunc("GET /users/{userID}/progress/{kind}", h.progress)
	mux.HandleFunc("GET /users/{userID}/progress/{kind}/archive", h.archive)
	mux.HandleFunc("GET /users/{userID}/dashboard/{kind}", h.dashboard)
	mux.HandleFunc("GET /ws", ws.ServeWS)
	return mux
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	var event domain.QuizCompletionEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err))
		return
	}
	view, err := h.service.Ingest(r.Context(), r.PathValue("userID"), event)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Overview(r.Context(), r.PathValue("userID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParsePeriodKind(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	record, err := h.service.Progress(r.Context(), r.PathValue("userID"), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParsePeriodKind(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
	}
	records, err := h.service.Archive(r.Context(), r.PathValue("userID"), kind, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParsePeriodKind(r.PathValue("kind"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	selector, err := parseSelector(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	q := domain.DashboardQuery{Kind: kind, Selector: selector, Bucketing: domain.BucketingAggregate}
	if breakdown, _ := strconv.ParseBool(r.URL.Query().Get("breakdown")); breakdown ||
		r.URL.Query().Get("bucketing") == string(domain.BucketingBreakdown) {
		q.Bucketing = domain.BucketingBreakdown
	}

	summary, err := h.service.Dashboard(r.Context(), r.PathValue("userID"), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(r.Context(), r.PathValue("userID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseSelector(r *http.Request) (domain.DateSelector, error) {
	query := r.URL.Query()
	var sel domain.DateSelector
	fields := []struct {
		name string
		dst  *int
	}{
		{"year", &sel.Year},
		{"month", &sel.Month},
		{"week", &sel.Week},
		{"day", &sel.Day},
	}
	for _, f := range fields {
		raw := query.Get(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return domain.DateSelector{}, fmt.Errorf("%w: %s=%q", domain.ErrInvalidSelector, f.name, raw)
		}
		*f.dst = v
	}
	return sel, nil
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidEvent),
		errors.Is(err, domain.ErrUnknownPeriodKind),
		errors.Is(err, domain.ErrInvalidSelector):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStateNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPersistenceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "error", err, "status", status)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
