package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/livetalk/internal/observe"
	"github.com/MrWong99/livetalk/internal/resilience"
	"github.com/MrWong99/livetalk/internal/session"
	"github.com/MrWong99/livetalk/internal/transcript"
)

// sessionView is the JSON body of the session endpoints.
type sessionView struct {
	session.Status
	Transcript []transcript.TurnRecord `json:"transcript"`
}

// errorBody is the JSON body of failed requests.
type errorBody struct {
	Error string `json:"error"`
}

// routes builds the control surface mux.
func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session/start", a.handleStart)
	mux.HandleFunc("POST /session/stop", a.handleStop)
	mux.HandleFunc("GET /session", a.handleStatus)
	mux.HandleFunc("GET /session/export.wav", a.handleExport)
	mux.Handle("GET /metrics", a.metricsHandler)
	a.health.Register(mux)
	return mux
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := a.ctrl.Start(r.Context()); err != nil {
		observe.Logger(r.Context()).Warn("session start failed", "err", err)
		writeError(w, startStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.view())
}

// startStatus maps a [session.Controller.Start] error to an HTTP status.
func startStatus(err error) int {
	var serr *session.SessionError
	switch {
	case errors.Is(err, session.ErrActive), errors.Is(err, session.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, session.ErrCaptureUnavailable), errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.As(err, &serr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := a.StopSession(); err != nil {
		observe.Logger(r.Context()).Warn("session stop reported errors", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view())
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.view())
}

func (a *App) handleExport(w http.ResponseWriter, r *http.Request) {
	name := a.ctrl.SessionID()
	if name == "" {
		name = "recording"
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.wav"`)
	if err := a.ctrl.Export(w); err != nil {
		// Headers are gone once the body started; only log.
		observe.Logger(r.Context()).Warn("recording download failed", "err", err)
	}
}

func (a *App) view() sessionView {
	return sessionView{Status: a.ctrl.Status(), Transcript: a.ctrl.Transcript()}
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}
