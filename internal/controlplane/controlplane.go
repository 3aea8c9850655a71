// Package controlplane is the Control Plane (C6): the HTTP/JSON surface
// an operator dashboard or automation drives a call through. Every
// handler authenticates via a shared secret query parameter and maps
// apperrors.Kind onto an HTTP status before writing a response.
package controlplane

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agentplexus/voicebridge/internal/apperrors"
	"github.com/agentplexus/voicebridge/internal/callstate"
	"github.com/agentplexus/voicebridge/internal/carrier"
	"github.com/agentplexus/voicebridge/internal/eventbus"
	"github.com/agentplexus/voicebridge/internal/observability"
	"github.com/agentplexus/voicebridge/internal/persistence"
	"github.com/agentplexus/voicebridge/internal/sessionmanager"
)

// Deps bundles the collaborators the control plane's handlers need.
type Deps struct {
	Manager     *sessionmanager.Manager
	Persistence persistence.Gateway
	Control     *carrier.ControlClient
	Events      *eventbus.Bus

	APISecret       string
	DefaultProvider string
	DefaultVoice    string
}

// Router builds the control plane's http.Handler, covering every
// operation in the external interface plus the supplemented call-read
// endpoint.
func Router(deps Deps) http.Handler {
	mux := http.NewServeMux()
	h := &handlers{deps: deps}

	mux.HandleFunc("POST /calls/create", h.withAuth(h.createOutboundCall))
	mux.HandleFunc("GET /calls/{callId}", h.withAuth(h.getCall))
	mux.HandleFunc("POST /calls/{callId}/hold", h.withAuth(h.hold))
	mux.HandleFunc("POST /calls/{callId}/resume", h.withAuth(h.resume))
	mux.HandleFunc("POST /calls/{callId}/hangup", h.withAuth(h.hangup))
	mux.HandleFunc("POST /calls/{callId}/inject-context", h.withAuth(h.injectContext))
	mux.HandleFunc("POST /calls/{callId}/dtmf", h.withAuth(h.dtmf))
	mux.HandleFunc("POST /emergency-shutdown", h.withAuth(h.emergencyShutdown))

	return mux
}

type handlers struct {
	deps Deps
}

func (h *handlers) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("secret") != h.deps.APISecret || h.deps.APISecret == "" {
			writeError(w, apperrors.New(apperrors.KindUnauthorized, "invalid or missing secret"))
			return
		}
		next(w, r)
	}
}

type createCallRequest struct {
	To                 string `json:"to"`
	Voice              string `json:"voice"`
	Provider           string `json:"provider"`
	SystemInstructions string `json:"systemInstructions"`
	CallInstructions   string `json:"callInstructions"`
}

type createCallResponse struct {
	CallID  string `json:"callId"`
	CallSid string `json:"callSid"`
	Status  string `json:"status"`
}

// createOutboundCall implements the control plane's createOutboundCall
// operation. It mints a provisional ULID call id before dialing: the
// carrier has not assigned a CallSid yet, and the call record must exist
// before the media stream's `start` event can look it up.
func (h *handlers) createOutboundCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindInvalidArgument, "malformed request body", err))
		return
	}
	if req.To == "" {
		writeError(w, apperrors.New(apperrors.KindInvalidArgument, "to is required"))
		return
	}
	if req.SystemInstructions == "" {
		writeError(w, apperrors.New(apperrors.KindInvalidArgument, "systemInstructions is required"))
		return
	}

	if !h.deps.Manager.CanAccept(callstate.DirectionOutbound) {
		writeCapacity(w, h.deps.Manager.Stats())
		return
	}

	callID := ulid.Make().String()
	provider := req.Provider
	if provider == "" {
		provider = h.deps.DefaultProvider
	}
	voice := req.Voice
	if voice == "" {
		voice = h.deps.DefaultVoice
	}

	call := &callstate.Call{
		CallID:             callID,
		Direction:          callstate.DirectionOutbound,
		ToNumber:           req.To,
		Voice:              voice,
		Provider:           provider,
		SystemInstructions: req.SystemInstructions,
		CallInstructions:   req.CallInstructions,
		StartedAt:          time.Now(),
		Status:             callstate.StatusInitiated,
	}
	if err := h.deps.Persistence.CreateCall(r.Context(), call); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindStorage, "creating call record", err))
		return
	}

	callSid, err := h.deps.Control.Originate(req.To, callID, voice, req.SystemInstructions, req.CallInstructions)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindTransport, "originating call", err))
		return
	}
	if err := h.deps.Persistence.SetCarrierCallSid(r.Context(), callID, callSid); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindStorage, "recording carrier call sid", err))
		return
	}

	writeJSON(w, http.StatusOK, createCallResponse{CallID: callID, CallSid: callSid, Status: "originated"})
}

func (h *handlers) getCall(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callId")
	call, err := h.deps.Persistence.GetCall(r.Context(), callID)
	if err != nil {
		if err == persistence.ErrNotFound {
			writeError(w, apperrors.New(apperrors.KindNotFound, "no call with that id"))
			return
		}
		writeError(w, apperrors.Wrap(apperrors.KindStorage, "loading call", err))
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (h *handlers) hold(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callId")
	handle, ok := h.deps.Manager.Get(callID)
	if !ok {
		writeError(w, apperrors.New(apperrors.KindNotFound, "no active session for that call id"))
		return
	}
	if err := handle.Hold(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: "call placed on hold"})
}

// resume implements the control plane's resume operation. The session
// that was handling the call already tore itself down when the call went
// on hold (see internal/session's hold teardown), so resume never touches
// a live SessionHandle. It just redirects the carrier leg back to the
// media-stream TwiML, which produces a fresh `start` event that a new
// Session will pick up and restore from the persisted, on-hold record.
func (h *handlers) resume(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callId")
	call, err := h.deps.Persistence.GetCall(r.Context(), callID)
	if err != nil {
		if err == persistence.ErrNotFound {
			writeError(w, apperrors.New(apperrors.KindNotFound, "no call with that id"))
			return
		}
		writeError(w, apperrors.Wrap(apperrors.KindStorage, "loading call", err))
		return
	}
	if call.Status != callstate.StatusOnHold {
		writeError(w, apperrors.New(apperrors.KindInvalidArgument, "call is not on hold"))
		return
	}

	if err := h.deps.Control.RedirectToStream(call.CarrierCallSid, callID, call.Voice, call.SystemInstructions, call.CallInstructions); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindTransport, "redirecting to stream", err))
		return
	}

	observability.RecordResume()
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: "call resuming"})
}

func (h *handlers) hangup(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callId")
	handle, ok := h.deps.Manager.Get(callID)
	if !ok {
		writeError(w, apperrors.New(apperrors.KindNotFound, "no active session for that call id"))
		return
	}
	if err := handle.EndCall(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: "call ended"})
}

type injectContextRequest struct {
	Text string `json:"text"`
}

type injectContextResponse struct {
	Status  string `json:"status"`
	Resumed bool   `json:"resumed"`
}

func (h *handlers) injectContext(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callId")

	var req injectContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindInvalidArgument, "malformed request body", err))
		return
	}

	if handle, ok := h.deps.Manager.Get(callID); ok {
		resumed, err := handle.InjectContext(req.Text)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, injectContextResponse{Status: "ok", Resumed: resumed})
		return
	}

	// No live session: the usual case once a call has been on hold for a
	// while, since hold teardown tears the session down as soon as hold
	// music starts playing. Fall back to the persisted record. Anything
	// other than on-hold means there is genuinely nothing listening.
	h.injectContextOnHold(w, r, callID, req.Text)
}

// injectContextOnHold implements inject-context against a call that has
// no live session, which is every on-hold call. If a request is pending
// (the agent asked a question before the operator put the call on hold),
// answering it auto-resumes: the combined instruction-plus-summary block
// is queued as PendingResumeContext and the carrier leg is redirected
// back to the stream, which produces a fresh start event that a new
// session will restore from this record and inject the block into once
// its provider connection signals ready. Otherwise the note is persisted
// to be surfaced whenever the call is next resumed.
func (h *handlers) injectContextOnHold(w http.ResponseWriter, r *http.Request, callID, text string) {
	if strings.TrimSpace(text) == "" {
		writeError(w, apperrors.New(apperrors.KindInvalidArgument, "context text must not be empty"))
		return
	}

	call, err := h.deps.Persistence.GetCall(r.Context(), callID)
	if err != nil {
		if err == persistence.ErrNotFound {
			writeError(w, apperrors.New(apperrors.KindNotFound, "no call with that id"))
			return
		}
		writeError(w, apperrors.Wrap(apperrors.KindStorage, "loading call", err))
		return
	}
	if call.Status != callstate.StatusOnHold {
		writeError(w, apperrors.New(apperrors.KindNotFound, "no active session for that call id"))
		return
	}

	note := callstate.Message{Role: callstate.RoleSystem, Content: "Operator note: " + text, Timestamp: time.Now()}
	call.ConversationHistory = append(call.ConversationHistory, note)
	if err := h.deps.Persistence.UpdateConversationHistory(r.Context(), callID, call.ConversationHistory); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindStorage, "persisting history", err))
		return
	}

	if call.PendingContextRequest == nil {
		observability.RecordContextInjection(false)
		writeJSON(w, http.StatusOK, injectContextResponse{Status: "ok", Resumed: false})
		return
	}

	composed := fmt.Sprintf("OPERATOR INSTRUCTION:\n%s\n\nCONVERSATION SUMMARY:\n%s", text, callstate.Summarize(call.ConversationHistory))
	if err := h.deps.Persistence.SetPendingResumeContext(r.Context(), callID, composed); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindStorage, "persisting resume context", err))
		return
	}
	if err := h.deps.Persistence.SetPendingContextRequest(r.Context(), callID, nil); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindStorage, "clearing pending context request", err))
		return
	}

	if err := h.deps.Control.RedirectToStream(call.CarrierCallSid, callID, call.Voice, call.SystemInstructions, call.CallInstructions); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindTransport, "redirecting to stream", err))
		return
	}

	observability.RecordContextInjection(true)
	observability.RecordResume()
	writeJSON(w, http.StatusOK, injectContextResponse{Status: "ok", Resumed: true})
}

type dtmfRequest struct {
	Digits string `json:"digits"`
}

func (h *handlers) dtmf(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callId")
	handle, ok := h.deps.Manager.Get(callID)
	if !ok {
		writeError(w, apperrors.New(apperrors.KindNotFound, "no active session for that call id"))
		return
	}

	var req dtmfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.KindInvalidArgument, "malformed request body", err))
		return
	}

	if err := handle.SendDTMF(req.Digits); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: "dtmf sent"})
}

func (h *handlers) emergencyShutdown(w http.ResponseWriter, r *http.Request) {
	report := h.deps.Manager.EmergencyShutdown()
	writeJSON(w, http.StatusOK, report)
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeCapacity(w http.ResponseWriter, stats sessionmanager.Stats) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(stats)
}

// writeError maps an apperrors.Kind to the HTTP status the external
// interface specifies: 401 unauthorized, 404 not found, 400 invalid
// argument, 429 at capacity, 500 everything else (provider unavailable,
// storage, transport).
func writeError(w http.ResponseWriter, err error) {
	kind := apperrors.KindTransport
	message := err.Error()

	switch e := err.(type) {
	case *apperrors.Error:
		kind = e.Kind
	case *sessionmanager.NotFound:
		kind = apperrors.KindNotFound
		message = e.Error()
	}

	status := http.StatusInternalServerError
	switch kind {
	case apperrors.KindUnauthorized:
		status = http.StatusUnauthorized
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindInvalidArgument:
		status = http.StatusBadRequest
	case apperrors.KindCapacityExceeded:
		status = http.StatusTooManyRequests
	}

	writeJSON(w, status, map[string]string{"error": kind.String(), "message": message})
}
