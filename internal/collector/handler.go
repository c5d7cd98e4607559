package collector

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"autoreload/internal/model"
	logx "autoreload/pkg/logx"
)

const maxRequestBody = 1 << 20

// envelope is the response shape of every route.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handler builds the collector REST API.
func Handler(svc *Service, lim *rate.Limiter, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &api{svc: svc, log: log.With(logx.String("comp", "collector.http"))}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: "ok"})
	})
	mux.HandleFunc("GET /api/schedules", h.listSchedules)
	mux.HandleFunc("POST /api/schedules", h.createSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", h.updateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", h.deleteSchedule)
	mux.HandleFunc("POST /api/reports", h.report)
	mux.HandleFunc("GET /api/logs", h.logs)
	mux.HandleFunc("GET /api/logs/{scheduleId}", h.logs)
	mux.HandleFunc("GET /api/settings", h.getSettings)
	mux.HandleFunc("PUT /api/settings", h.putSettings)
	mux.HandleFunc("GET /api/audit", h.audit)

	return h.logRequests(limit(lim, mux))
}

type api struct {
	svc *Service
	log logx.Logger
}

func (a *api) listSchedules(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.List(r.Context())
	a.reply(w, r, http.StatusOK, out, err)
}

func (a *api) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRequest
	if !a.decode(w, r, &req) {
		return
	}
	out, err := a.svc.Create(r.Context(), req, r.UserAgent())
	a.reply(w, r, http.StatusCreated, out, err)
}

func (a *api) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var patch model.SchedulePatch
	if !a.decode(w, r, &patch) {
		return
	}
	out, err := a.svc.Update(r.Context(), r.PathValue("id"), patch)
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, envelope{Error: "Schedule not found"})
		return
	}
	a.reply(w, r, http.StatusOK, out, err)
}

func (a *api) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	err := a.svc.Delete(r.Context(), r.PathValue("id"))
	if errors.Is(err, ErrNotFound) {
		writeJSON(w, http.StatusNotFound, envelope{Error: "Schedule not found"})
		return
	}
	a.reply(w, r, http.StatusOK, nil, err)
}

func (a *api) report(w http.ResponseWriter, r *http.Request) {
	var rep model.Report
	if !a.decode(w, r, &rep) {
		return
	}
	_, err := a.svc.Report(r.Context(), rep)
	a.reply(w, r, http.StatusOK, nil, err)
}

func (a *api) logs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("scheduleId")
	if id == "" {
		id = r.URL.Query().Get("scheduleId")
	}
	out, err := a.svc.Logs(r.Context(), id)
	a.reply(w, r, http.StatusOK, out, err)
}

func (a *api) getSettings(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.Settings(r.Context())
	a.reply(w, r, http.StatusOK, out, err)
}

func (a *api) putSettings(w http.ResponseWriter, r *http.Request) {
	var in model.Settings
	if !a.decode(w, r, &in) {
		return
	}
	out, err := a.svc.PutSettings(r.Context(), in)
	a.reply(w, r, http.StatusOK, out, err)
}

func (a *api) audit(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.Audit(r.Context())
	a.reply(w, r, http.StatusOK, out, err)
}

func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (a *api) reply(w http.ResponseWriter, r *http.Request, status int, data any, err error) {
	if err == nil {
		writeJSON(w, status, envelope{Success: true, Data: data})
		return
	}
	code := statusOf(err)
	if code >= 500 {
		a.log.Error("request failed", logx.String("method", r.Method), logx.String("path", r.URL.Path), logx.Err(err))
	}
	writeJSON(w, code, envelope{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConcurrency), errors.Is(err, ErrDailyCap):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// limit rejects requests beyond the shared token bucket. A nil limiter
// disables limiting.
func limit(lim *rate.Limiter, next http.Handler) http.Handler {
	if lim == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !lim.Allow() {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, envelope{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Debug("request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rec.status),
			logx.Duration("took", time.Since(start)),
		)
	})
}
