// Package webhook implements the telephony HTTP surface: the voice
// webhook that opens the media stream, the stream-ended callback that
// moves escalated calls into Amazon Connect, and the escalation
// fallbacks.
package webhook

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go/twiml"

	"github.com/lexvoice/voicegate/internal/bridge"
	"github.com/lexvoice/voicegate/internal/server"
	"github.com/lexvoice/voicegate/internal/session"
)

// Handlers carries the webhook dependencies.
type Handlers struct {
	// PublicHost is the externally reachable hostname used in stream
	// URLs and callbacks.
	PublicHost string
	// ConnectNumber is the Amazon Connect inbound number escalated
	// calls are dialed to.
	ConnectNumber string
	// TokenLength is used to sanity-check stored handover tokens.
	TokenLength int

	Registry *session.Registry
	Bridge   *bridge.Handler
	Logger   *slog.Logger

	upgrader websocket.Upgrader
}

// Mount attaches all routes. The stream route stays outside the timeout
// group; its socket lives for the length of the call.
func (h *Handlers) Mount(r chi.Router) {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	r.Get("/twilio/stream", h.Stream)
	r.Group(func(r chi.Router) {
		r.Use(server.TimeoutMiddleware(15 * time.Second))
		r.Get("/health", h.Health)
		r.HandleFunc("/twilio/voice", h.Voice)
		r.HandleFunc("/twilio/stream-ended", h.StreamEnded)
		r.HandleFunc("/twilio/escalate", h.Escalate)
		r.HandleFunc("/twilio/escalate-status", h.EscalateStatus)
	})
}

// Health reports liveness and the live session count.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, h.Registry.Len())
}

// Voice answers the inbound call webhook with TwiML that opens the
// bidirectional media stream. The caller's number rides along as a
// custom parameter since the stream start frame does not carry it.
func (h *Handlers) Voice(w http.ResponseWriter, r *http.Request) {
	from := r.FormValue("From")

	stream := &twiml.VoiceStream{
		Url: fmt.Sprintf("wss://%s/twilio/stream", h.PublicHost),
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: "From", Value: from},
		},
	}
	connect := &twiml.VoiceConnect{
		Action:        fmt.Sprintf("https://%s/twilio/stream-ended", h.PublicHost),
		InnerElements: []twiml.Element{stream},
	}
	h.writeTwiML(w, connect)
}

// Stream upgrades to WebSocket and runs the bridge for the call.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if err := h.Bridge.Handle(r.Context(), conn); err != nil {
		h.Logger.Error("bridge failed", "error", err)
	}
}

// StreamEnded fires when the media stream closes. An escalated call is
// dialed into Connect with the handover token as DTMF; anything else
// gets a goodbye. Either way the session's registry entry is done.
func (h *Handlers) StreamEnded(w http.ResponseWriter, r *http.Request) {
	callSID := r.FormValue("CallSid")
	sess, ok := h.Registry.ByCallSID(callSID)
	if !ok {
		h.Logger.Warn("stream-ended for unknown call", "call_sid", callSID)
		h.writeTwiML(w, &twiml.VoiceHangup{})
		return
	}
	defer h.Registry.Remove(sess.StreamSID)

	token, escalated := sess.Metadata(session.MetadataHandoverToken)
	if !escalated {
		h.writeTwiML(w,
			&twiml.VoiceSay{Message: "Thank you for calling. Goodbye."},
			&twiml.VoiceHangup{})
		return
	}

	h.Logger.Info("dialing escalated call into connect",
		"conversation_id", sess.ConversationID, "call_sid", callSID)
	h.writeTwiML(w,
		&twiml.VoiceSay{Message: "Connecting you with a team member now."},
		h.connectDial(token))
}

// Escalate is the redirect target for moving a live call; it performs
// the same token dial as StreamEnded but keeps the session.
func (h *Handlers) Escalate(w http.ResponseWriter, r *http.Request) {
	callSID := r.FormValue("CallSid")
	sess, ok := h.Registry.ByCallSID(callSID)
	if !ok {
		h.writeTwiML(w,
			&twiml.VoiceSay{Message: "We were unable to transfer your call. Goodbye."},
			&twiml.VoiceHangup{})
		return
	}

	token, escalated := sess.Metadata(session.MetadataHandoverToken)
	if !escalated {
		h.writeTwiML(w,
			&twiml.VoiceSay{Message: "We were unable to transfer your call. Goodbye."},
			&twiml.VoiceHangup{})
		return
	}
	h.writeTwiML(w,
		&twiml.VoiceSay{Message: "Please hold while we connect you."},
		h.connectDial(token))
}

// EscalateStatus handles the dial outcome. A failed dial apologizes
// instead of dropping the caller into dead air.
func (h *Handlers) EscalateStatus(w http.ResponseWriter, r *http.Request) {
	status := r.FormValue("DialCallStatus")
	if status == "completed" || status == "answered" {
		h.writeTwiML(w, &twiml.VoiceHangup{})
		return
	}
	h.Logger.Warn("connect dial did not complete", "dial_status", status)
	h.writeTwiML(w,
		&twiml.VoiceSay{Message: "We could not reach an agent. Please try again later. Goodbye."},
		&twiml.VoiceHangup{})
}

// connectDial builds the Dial verb that carries the token. The leading
// pause digits give the Connect flow time to start collecting.
func (h *Handlers) connectDial(token string) twiml.Element {
	return &twiml.VoiceDial{
		Action: fmt.Sprintf("https://%s/twilio/escalate-status", h.PublicHost),
		InnerElements: []twiml.Element{
			&twiml.VoiceNumber{
				PhoneNumber: h.ConnectNumber,
				SendDigits:  "wwww" + token + "#",
			},
		},
	}
}

func (h *Handlers) writeTwiML(w http.ResponseWriter, verbs ...twiml.Element) {
	doc, err := twiml.Voice(verbs)
	if err != nil {
		h.Logger.Error("twiml render failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprint(w, doc)
}
