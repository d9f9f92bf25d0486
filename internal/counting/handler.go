package counting

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"movement-tally/internal/platform/logger"
	"movement-tally/internal/platform/metrics"
	"movement-tally/internal/tally"

	"github.com/go-chi/chi/v5"
)

const csvContentType = "text/csv; charset=utf-8"

// errBadRequest marks malformed request input; it maps to 400.
var errBadRequest = errors.New("bad request")

// Handler exposes counting HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: logger.WithComponent(log, "counting"), metrics: m}
}

// Routes mounts every counting endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/registries/{kind}", h.GetRegistry)
	r.Post("/sessions", h.CreateSession)
	r.Route("/sessions/{session_id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Delete("/", h.DeleteSession)
		r.Post("/events", h.TagEvent)
		r.Delete("/events", h.ClearEvents)
		r.Post("/clear", h.ClearSession)
		r.Post("/undo", h.Undo)
		r.Get("/counts", h.GetCounts)
		r.Put("/segments/{segment}/anchor", h.SetAnchor)
		r.Delete("/segments/{segment}/anchor", h.RemoveAnchor)
		r.Get("/intervals", h.GetIntervals)
		r.Post("/export", h.Export)
	})
}

// CreateSession handles POST /sessions.
// Body: { "kind": "pedestrian" }.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	id, reg, err := h.svc.CreateSession(r.Context(), req.Kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	logger.WithSession(h.log, string(id)).Info("session created", slog.String("kind", reg.Name()))
	h.writeJSON(w, http.StatusCreated, sessionResponse{ID: id, Kind: reg.Name(), Version: reg.Version()})
}

// GetSession handles GET /sessions/{session_id} and returns the persisted state.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.State(r.Context(), sessionID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, st)
}

// DeleteSession handles DELETE /sessions/{session_id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if err := h.svc.DeleteSession(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.WithSession(h.log, string(id)).Info("session deleted")
	w.WriteHeader(http.StatusNoContent)
}

// TagEvent handles POST /sessions/{session_id}/events.
// Body: { "key": "3", "timestamp": 12.4, "segment": 0 }.
func (h *Handler) TagEvent(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)

	var req tagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.Timestamp == nil {
		h.writeError(w, r, fmt.Errorf("%w: timestamp is required", errBadRequest))
		return
	}

	ev, err := h.svc.Tag(r.Context(), id, req.Key, *req.Timestamp, req.Segment)
	if err != nil {
		if errors.Is(err, tally.ErrInvalidTag) && h.metrics != nil {
			if sess, serr := h.svc.Session(r.Context(), id); serr == nil {
				h.metrics.IncTagsRejected(sess.Registry().Name())
			}
		}
		h.writeError(w, r, err)
		return
	}

	logger.WithSession(h.log, string(id)).Debug("event tagged",
		slog.String("key", ev.Tag.Key),
		slog.Float64("timestamp", ev.Timestamp),
		slog.Int("segment", ev.Segment))
	if h.metrics != nil {
		h.metrics.IncEventsTagged(ev.Tag.Kind.RegistryName())
	}
	h.writeJSON(w, http.StatusCreated, newEventResponse(ev))
}

// ClearEvents handles DELETE /sessions/{session_id}/events. Anchors are kept.
func (h *Handler) ClearEvents(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if err := h.svc.ClearEvents(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.WithSession(h.log, string(id)).Info("events cleared")
	w.WriteHeader(http.StatusNoContent)
}

// ClearSession handles POST /sessions/{session_id}/clear: events and anchors are dropped.
func (h *Handler) ClearSession(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if err := h.svc.ClearSession(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.WithSession(h.log, string(id)).Info("session cleared")
	w.WriteHeader(http.StatusNoContent)
}

// Undo handles POST /sessions/{session_id}/undo. An empty log answers 204.
func (h *Handler) Undo(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	ev, ok, err := h.svc.Undo(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	logger.WithSession(h.log, string(id)).Debug("event undone", slog.String("key", ev.Tag.Key))
	if h.metrics != nil {
		h.metrics.IncUndos()
	}
	h.writeJSON(w, http.StatusOK, newEventResponse(ev))
}

// GetCounts handles GET /sessions/{session_id}/counts.
func (h *Handler) GetCounts(w http.ResponseWriter, r *http.Request) {
	counts, last, err := h.svc.Counts(r.Context(), sessionID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := countsResponse{Counts: make([]countResponse, 0, len(counts))}
	for _, c := range counts {
		resp.Total += c.Count
		resp.Counts = append(resp.Counts, countResponse{
			Key:    c.Tag.Key,
			Column: c.Tag.Column(),
			Label:  c.Tag.Label(),
			Count:  c.Count,
		})
	}
	if last != nil {
		ev := newEventResponse(*last)
		resp.Last = &ev
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// SetAnchor handles PUT /sessions/{session_id}/segments/{segment}/anchor.
// Body: { "recording_start": "2024-03-01T08:30:00Z" }.
func (h *Handler) SetAnchor(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	seg, err := segmentParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req anchorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.RecordingStart.IsZero() {
		h.writeError(w, r, fmt.Errorf("%w: recording_start is required", errBadRequest))
		return
	}

	if err := h.svc.SetAnchor(r.Context(), id, seg, req.RecordingStart); err != nil {
		h.writeError(w, r, err)
		return
	}
	logger.WithSession(h.log, string(id)).Info("segment anchored",
		slog.Int("segment", seg),
		slog.String("recording_start", req.RecordingStart.Format(time.RFC3339)))
	w.WriteHeader(http.StatusNoContent)
}

// RemoveAnchor handles DELETE /sessions/{session_id}/segments/{segment}/anchor.
func (h *Handler) RemoveAnchor(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	seg, err := segmentParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.RemoveAnchor(r.Context(), id, seg); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetIntervals handles GET /sessions/{session_id}/intervals?bucket=N.
func (h *Handler) GetIntervals(w http.ResponseWriter, r *http.Request) {
	bucket, err := bucketParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entries, reg, err := h.svc.Intervals(r.Context(), sessionID(r), bucket)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if bucket == 0 {
		bucket = h.svc.BucketSeconds()
	}
	h.writeJSON(w, http.StatusOK, newIntervalsResponse(bucket, reg.Tags(), entries))
}

// Export handles POST /sessions/{session_id}/export?bucket=N&keep=true and
// answers with the CSV as an attachment. The session is cleared afterwards
// unless keep is true.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	bucket, err := bucketParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	keep, _ := strconv.ParseBool(r.URL.Query().Get("keep"))

	out, err := h.svc.Export(r.Context(), id, bucket, keep)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	logger.WithSession(h.log, string(id)).Info("session exported",
		slog.String("filename", out.Filename),
		slog.Int("events", out.Events),
		slog.Int("intervals", len(out.Entries)),
		slog.Bool("kept", keep))
	if h.metrics != nil {
		h.metrics.IncExports()
	}

	w.Header().Set("Content-Type", csvContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(out.CSV)); err != nil {
		// The session may already be cleared; the filename lets an operator
		// match the loss against the export log line above.
		logger.WithSession(h.log, string(id)).Warn("export write failed",
			slog.String("filename", out.Filename),
			slog.Bool("kept", keep),
			slog.String("error", err.Error()))
	}
}

// GetRegistry handles GET /registries/{kind}.
func (h *Handler) GetRegistry(w http.ResponseWriter, r *http.Request) {
	reg, err := tally.RegistryByName(chi.URLParam(r, "kind"))
	if err != nil {
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}

	resp := registryResponse{Name: reg.Name(), Version: reg.Version()}
	for _, t := range reg.Tags() {
		resp.Tags = append(resp.Tags, countResponse{Key: t.Key, Column: t.Column(), Label: t.Label()})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// writeError maps err to a status code and writes it as a JSON error body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	attrs := []any{
		slog.String("session_id", chi.URLParam(r, "session_id")),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", attrs...)
	} else {
		h.log.Debug("request rejected", attrs...)
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, tally.ErrEmptyLog):
		return http.StatusConflict
	case errors.Is(err, tally.ErrInvalidTag),
		errors.Is(err, tally.ErrInvalidTimestamp),
		errors.Is(err, tally.ErrInvalidSegment),
		errors.Is(err, tally.ErrInvalidBucket),
		errors.Is(err, tally.ErrTooManyIntervals),
		errors.Is(err, tally.ErrUnknownRegistry):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("response write failed", slog.String("error", err.Error()))
	}
}

func sessionID(r *http.Request) SessionID {
	return SessionID(chi.URLParam(r, "session_id"))
}

func segmentParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "segment")
	seg, err := strconv.Atoi(raw)
	if err != nil || seg < 0 {
		return 0, fmt.Errorf("%w: %q", tally.ErrInvalidSegment, raw)
	}
	return seg, nil
}

// bucketParam reads ?bucket=N. Absent means 0, i.e. the service default.
func bucketParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("bucket")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", tally.ErrInvalidBucket, raw)
	}
	return n, nil
}
