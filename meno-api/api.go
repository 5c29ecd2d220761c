// Package menoapi serves the HTTP side of realtime sessions: hydration
// snapshots, the session registry, lease control outside a websocket and the
// presence roster.
package menoapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	menorest "github.com/meno-tutor/meno-go-realtime/meno-rest"
	menows "github.com/meno-tutor/meno-go-realtime/meno-ws"
	"github.com/rs/zerolog"
)

// Relay forwards an encoded event to every connection of a session.
// publish.Publisher and menows.Dispatcher both satisfy it.
type Relay interface {
	Send(ctx context.Context, sessionID string, frame []byte) error
}

type API struct {
	Registry *menows.Registry
	Hydrator *menows.Hydrator
	Leases   *menows.Leases
	Presence *menows.Presence
	Relay    Relay // optional
}

type okResponse struct {
	OK   bool        `json:"ok"`
	Data interface{} `json:"data"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (a *API) Routes(r chi.Router) {
	r.Get("/realtime/session/{sessionId}", a.hydrate)
	r.Post("/sessions", a.createSession)
	r.Post("/sessions/join", a.joinSession)
	r.Get("/sessions/{sessionId}", a.getSession)
	r.Post("/sessions/{sessionId}/lease/take", a.takeLease)
	r.Post("/sessions/{sessionId}/lease/release", a.releaseLease)
	r.Get("/presence/{sessionId}", a.listPresence)
}

func writeOK(w http.ResponseWriter, req *http.Request, data interface{}) {
	menorest.WriteJSON(w, req, http.StatusOK, okResponse{OK: true, Data: data})
}

func writeError(w http.ResponseWriter, req *http.Request, err error) {
	var ce *menows.ClientError
	status, message := http.StatusInternalServerError, "Internal server error"
	switch {
	case errors.As(err, &ce):
		status, message = http.StatusBadRequest, ce.Message
	case errors.Is(err, menows.ErrSessionNotFound):
		status, message = http.StatusNotFound, "Session not found"
	case errors.Is(err, menows.ErrSessionExpired):
		status, message = http.StatusGone, "Session expired"
	case errors.Is(err, menows.ErrSessionFull):
		status, message = http.StatusConflict, "Session is full"
	case errors.Is(err, menows.ErrLeaseContention):
		status, message = http.StatusConflict, err.Error()
	default:
		zerolog.Ctx(req.Context()).Error().Err(err).Msg("request failed")
	}
	menorest.WriteJSON(w, req, status, errorResponse{Error: message})
}

func (a *API) hydrate(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("chatLimit"))

	snapshot, err := a.Hydrator.Hydrate(req.Context(), chi.URLParam(req, "sessionId"), limit)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeOK(w, req, snapshot)
}

type createSessionRequest struct {
	Name        string                `json:"name"`
	Difficulty  string                `json:"difficulty"`
	Participant menows.NewParticipant `json:"participant"`
}

func (a *API) createSession(w http.ResponseWriter, req *http.Request) {
	var body createSessionRequest
	if err := menorest.DecodeJSON(req, &body); err != nil {
		menorest.WriteJSON(w, req, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	summary, err := a.Registry.Create(req.Context(), body.Name, body.Difficulty, body.Participant)
	if err != nil {
		writeError(w, req, err)
		return
	}
	zerolog.Ctx(req.Context()).Info().
		Str("session_id", summary.SessionID).
		Str("code", summary.Code).
		Msg("session created")
	writeOK(w, req, summary)
}

type joinSessionRequest struct {
	SessionID   string                `json:"sessionId"`
	Code        string                `json:"code"`
	Participant menows.NewParticipant `json:"participant"`
}

func (a *API) joinSession(w http.ResponseWriter, req *http.Request) {
	var body joinSessionRequest
	if err := menorest.DecodeJSON(req, &body); err != nil {
		menorest.WriteJSON(w, req, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	summary, err := a.Registry.Join(req.Context(), body.SessionID, body.Code, body.Participant)
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeOK(w, req, summary)
}

func (a *API) getSession(w http.ResponseWriter, req *http.Request) {
	summary, err := a.Registry.Get(req.Context(), chi.URLParam(req, "sessionId"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeOK(w, req, summary)
}

func (a *API) takeLease(w http.ResponseWriter, req *http.Request) {
	sessionID := chi.URLParam(req, "sessionId")

	var raw json.RawMessage
	if err := menorest.DecodeJSON(req, &raw); err != nil {
		menorest.WriteJSON(w, req, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	set, err := menows.ParseLeaseSet(raw)
	if err != nil {
		writeError(w, req, err)
		return
	}

	lease, err := a.Leases.TakeWithID(req.Context(), sessionID, set.LeaseID, set.StepIndex, set.LeaseTo, set.Duration)
	if err != nil {
		writeError(w, req, err)
		return
	}
	a.relay(req, sessionID, menows.LeaseState(sessionID, &lease))
	writeOK(w, req, lease)
}

func (a *API) releaseLease(w http.ResponseWriter, req *http.Request) {
	sessionID := chi.URLParam(req, "sessionId")

	if err := a.Leases.Release(req.Context(), sessionID); err != nil {
		writeError(w, req, err)
		return
	}
	a.relay(req, sessionID, menows.LeaseState(sessionID, nil))
	writeOK(w, req, nil)
}

func (a *API) listPresence(w http.ResponseWriter, req *http.Request) {
	records, err := a.Presence.List(req.Context(), chi.URLParam(req, "sessionId"))
	if err != nil {
		writeError(w, req, err)
		return
	}
	writeOK(w, req, records)
}

// relay tells connected clients about a change made over HTTP. Failures are
// logged; clients converge on their next hydration.
func (a *API) relay(req *http.Request, sessionID string, event menows.Event) {
	if a.Relay == nil {
		return
	}
	logger := zerolog.Ctx(req.Context())

	frame, err := menows.Encode(event)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode relayed event")
		return
	}
	if err := a.Relay.Send(req.Context(), sessionID, frame); err != nil {
		logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to relay event")
	}
}
