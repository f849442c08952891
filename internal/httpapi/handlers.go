package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/signalsfoundry/groundtrack/core"
	"github.com/signalsfoundry/groundtrack/internal/archive"
	"github.com/signalsfoundry/groundtrack/internal/feed"
	"github.com/signalsfoundry/groundtrack/internal/logging"
	"github.com/signalsfoundry/groundtrack/internal/service"
	"github.com/signalsfoundry/groundtrack/internal/tracker"
	"github.com/signalsfoundry/groundtrack/kb"
	"github.com/signalsfoundry/groundtrack/model"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error string `json:"error"`
}

type catalogView struct {
	Names     []string   `json:"names"`
	Count     int        `json:"count"`
	Source    string     `json:"source"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
}

type positionView struct {
	Name    string                `json:"name"`
	NoradID int                   `json:"norad_id"`
	Sample  model.KinematicSample `json:"sample"`
}

type trackView struct {
	Name    string                `json:"name"`
	NoradID int                   `json:"norad_id"`
	Current model.KinematicSample `json:"current"`
	History model.Series          `json:"history"`
}

type liveView struct {
	Satellite   string                 `json:"satellite"`
	NoradID     int                    `json:"norad_id,omitempty"`
	Status      tracker.Status         `json:"status"`
	Reason      string                 `json:"reason,omitempty"`
	Current     *model.KinematicSample `json:"current,omitempty"`
	History     model.Series           `json:"history"`
	SpanMinutes float64                `json:"span_minutes"`
	StepMinutes float64                `json:"step_minutes"`
	UpdatedAt   *time.Time             `json:"updated_at,omitempty"`
	LastGood    *time.Time             `json:"last_good,omitempty"`
}

func newLiveView(s tracker.Snapshot) liveView {
	v := liveView{
		Satellite:   s.Satellite,
		NoradID:     s.Elements.NoradID,
		Status:      s.Status,
		Reason:      s.Reason,
		Current:     s.Current,
		History:     s.History.Series(),
		SpanMinutes: s.Span.Minutes(),
		StepMinutes: s.Step.Minutes(),
	}
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		v.UpdatedAt = &t
	}
	if !s.LastGood.IsZero() {
		t := s.LastGood
		v.LastGood = &t
	}
	return v
}

type selectionRequest struct {
	Name        string `json:"name"`
	SpanMinutes *int   `json:"span_minutes"`
	StepMinutes *int   `json:"step_minutes"`
}

type archiveRequest struct {
	Password string `json:"password"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// readyz reports 503 until a catalog with at least one satellite is loaded.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if !s.svc.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("catalog unavailable\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

func (s *Server) listSatellites(w http.ResponseWriter, _ *http.Request) {
	cat := s.svc.Catalog()
	v := catalogView{
		Names:  cat.Names(),
		Count:  cat.Len(),
		Source: cat.Source(),
	}
	if v.Names == nil {
		v.Names = []string{}
	}
	if at := cat.FetchedAt(); !at.IsZero() {
		v.FetchedAt = &at
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) position(w http.ResponseWriter, r *http.Request) {
	at, err := queryInstant(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	es, cur, err := s.svc.Position(r.PathValue("name"), at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView{Name: es.Name, NoradID: es.NoradID, Sample: cur})
}

func (s *Server) track(w http.ResponseWriter, r *http.Request) {
	at, err := queryInstant(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	span, err := queryMinutes(r, "span", tracker.DefaultSpan)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	step, err := queryMinutes(r, "step", tracker.DefaultStep)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	es, cur, history, err := s.svc.Track(r.PathValue("name"), at, span, step)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trackView{
		Name:    es.Name,
		NoradID: es.NoradID,
		Current: cur,
		History: history.Series(),
	})
}

func (s *Server) live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newLiveView(s.svc.Live()))
}

func (s *Server) selection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var span, step time.Duration
	if req.SpanMinutes != nil || req.StepMinutes != nil {
		span, step = tracker.DefaultSpan, tracker.DefaultStep
		if req.SpanMinutes != nil {
			span = time.Duration(*req.SpanMinutes) * time.Minute
		}
		if req.StepMinutes != nil {
			step = time.Duration(*req.StepMinutes) * time.Minute
		}
	}
	if err := s.svc.Select(req.Name, span, step); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newLiveView(s.svc.Live()))
}

func (s *Server) archive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, sealed, err := s.svc.Archive(req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "archive-"+b.FID+".gta"))
	w.Header().Set("X-Archive-Manifest", b.Manifest())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(sealed)
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	cat, err := s.svc.Reload(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": cat.Len(), "source": cat.Source()})
}

func queryInstant(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return time.Time{}, nil
	}
	return core.ParseInstant(raw)
}

func queryMinutes(r *http.Request, key string, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a whole number of minutes", core.ErrInvalidWindow, key, raw)
	}
	return core.Minutes(n)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, kb.ErrSatelliteNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrInvalidInstant),
		errors.Is(err, core.ErrInvalidWindow),
		errors.Is(err, archive.ErrEmptyPassword):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrPropagation),
		errors.Is(err, core.ErrInvalidElements),
		errors.Is(err, archive.ErrNoSample):
		return http.StatusUnprocessableEntity
	case errors.Is(err, feed.ErrFeedUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	log := requestLogger(r, s.log)
	if service.IsClientError(err) || errors.Is(err, errBadRequest) {
		log.Debug(r.Context(), "request rejected", logging.Int("status", code), logging.Err(err))
	} else {
		log.Warn(r.Context(), "request failed", logging.Int("status", code), logging.Err(err))
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
