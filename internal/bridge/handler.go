// Package bridge pumps audio between a Twilio media stream and a voice
// AI session, watching the conversation for the moment it should be
// handed to a human.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lexvoice/voicegate/internal/escalation"
	"github.com/lexvoice/voicegate/internal/handover"
	"github.com/lexvoice/voicegate/internal/session"
	"github.com/lexvoice/voicegate/internal/twilio"
	"github.com/lexvoice/voicegate/internal/voice"
)

const (
	// startTimeout bounds the wait for the stream's start frame.
	startTimeout = 10 * time.Second

	// readPoll is the read deadline on the telephony socket. Short so
	// a cancelled bridge stops pumping promptly.
	readPoll = 100 * time.Millisecond

	// cancelSettle gives the provider a beat to process a cancel
	// before the farewell turn is injected.
	cancelSettle = 100 * time.Millisecond

	// drainPause lets the last queued audio reach the caller before
	// the stream is torn down.
	drainPause = 500 * time.Millisecond

	// farewellTimeout bounds the wait for the farewell turn to finish.
	farewellTimeout = 15 * time.Second
)

const farewellMessage = "I understand you'd like to speak with a human agent. " +
	"Let me transfer you now. Please hold for just a moment."

// Conn is the telephony WebSocket. *websocket.Conn satisfies it; tests
// substitute a scripted fake.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// NewClientFunc builds the voice client for one call.
type NewClientFunc func(ctx context.Context, s *session.Session) (voice.Client, error)

// Handler bridges one media stream per Handle call.
type Handler struct {
	registry  *session.Registry
	policy    escalation.Policy
	publisher *handover.Publisher
	newClient NewClientFunc
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New wires a handler.
func New(registry *session.Registry, policy escalation.Policy, publisher *handover.Publisher, newClient NewClientFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:  registry,
		policy:    policy,
		publisher: publisher,
		newClient: newClient,
		logger:    logger,
		tracer:    otel.Tracer("voicegate/bridge"),
	}
}

// Handle runs the bridge for one connection and returns when the call
// is over. The session stays in the registry; the stream-ended webhook
// removes it after reading the handover token.
func (h *Handler) Handle(ctx context.Context, conn Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bridge panic: %v", r)
		}
	}()

	start, err := h.awaitStart(conn)
	if err != nil {
		return err
	}

	sess := h.registry.Create(start.CallSID, start.StreamSID, start.CallerPhone())
	log := h.logger.With(
		"conversation_id", sess.ConversationID,
		"call_sid", sess.CallSID,
		"stream_sid", sess.StreamSID,
	)
	log.Info("media stream started")

	ctx, span := h.tracer.Start(ctx, "bridge.call",
		trace.WithAttributes(
			attribute.String("call.conversation_id", sess.ConversationID),
			attribute.String("call.stream_sid", sess.StreamSID),
		))
	defer span.End()

	client, err := h.newClient(ctx, sess)
	if err != nil {
		sess.SetStatus(session.StatusFailed)
		return fmt.Errorf("create voice client: %w", err)
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		sess.SetStatus(session.StatusFailed)
		return fmt.Errorf("connect voice client: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		defer cancel()
		return h.telephonyLoop(ctx, conn, client, sess, log)
	})
	g.Go(func() error {
		defer cancel()
		return h.aiLoop(ctx, conn, client, sess, log)
	})
	err = g.Wait()

	if err != nil {
		sess.SetStatus(session.StatusFailed)
		log.Error("bridge ended with error", "error", err)
		return err
	}
	if sess.Status() != session.StatusEscalating {
		sess.SetStatus(session.StatusCompleted)
	}
	log.Info("media stream finished", "status", string(sess.Status()))
	return nil
}

// awaitStart reads frames until the start frame arrives, tolerating the
// connected preamble.
func (h *Handler) awaitStart(conn Conn) (*twilio.StartPayload, error) {
	deadline := time.Now().Add(startTimeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set start deadline: %w", err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("await start frame: %w", err)
		}
		msg, err := twilio.ParseMessage(data)
		if err != nil {
			h.logger.Warn("bad frame before start", "error", err)
			continue
		}
		switch msg.Event {
		case twilio.EventStart:
			return msg.Start, nil
		case twilio.EventConnected, twilio.EventUnknown:
			continue
		default:
			h.logger.Warn("unexpected frame before start", "event", string(msg.Event))
		}
	}
}

// telephonyLoop pumps caller audio into the voice client until the
// stream stops or the bridge is cancelled.
func (h *Handler) telephonyLoop(ctx context.Context, conn Conn, client voice.Client, sess *session.Session, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(readPoll)); err != nil {
			return nil
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			// Any other read failure means the stream is gone.
			return nil
		}

		msg, err := twilio.ParseMessage(data)
		if err != nil {
			log.Warn("unparseable media frame", "error", err)
			continue
		}
		switch msg.Event {
		case twilio.EventMedia:
			sess.Touch()
			if err := client.SendAudioBase64(ctx, msg.Media.Payload); err != nil {
				log.Warn("audio forward failed", "error", err)
			}
		case twilio.EventStop:
			log.Info("stop frame received")
			return nil
		case twilio.EventDTMF:
			log.Debug("dtmf during stream", "digit", msg.DTMF.Digit)
		}
	}
}

// aiLoop relays provider events to the caller and watches for the
// escalation trigger.
func (h *Handler) aiLoop(ctx context.Context, conn Conn, client voice.Client, sess *session.Session, log *slog.Logger) error {
	var turnSpan trace.Span
	endTurn := func() {
		if turnSpan != nil {
			turnSpan.End()
			turnSpan = nil
		}
	}
	defer endTurn()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-client.Events():
			if !ok {
				return nil
			}
			switch e := ev.(type) {
			case voice.ResponseStarted:
				endTurn()
				_, turnSpan = h.tracer.Start(ctx, "bridge.turn")
			case voice.AudioDelta:
				if err := h.writeMedia(conn, sess.StreamSID, e.PayloadB64); err != nil {
					return nil
				}
			case voice.UserTranscript:
				log.Debug("caller said", "text", e.Text)
				if should, reason := h.policy.Evaluate(sess, e.Text); should {
					return h.escalate(ctx, conn, client, sess, reason, false, log)
				}
			case voice.AssistantTranscript:
				sess.AppendTranscript("Assistant: " + e.Text)
			case voice.ResponseDone:
				endTurn()
			case voice.EscalationRequested:
				return h.escalate(ctx, conn, client, sess, escalation.ReasonAgentDecision, true, log)
			case voice.ErrorEvent:
				log.Warn("provider error", "message", e.Message)
			}
		}
	}
}

// escalate runs the handover sequence. For transcript-triggered
// escalations the assistant speaks a farewell first; when the model
// itself asked, it has already told the caller and the farewell is
// skipped.
func (h *Handler) escalate(ctx context.Context, conn Conn, client voice.Client, sess *session.Session, reason escalation.Reason, modelInitiated bool, log *slog.Logger) error {
	log.Info("escalating call", "reason", string(reason), "model_initiated", modelInitiated)

	if err := client.CancelResponse(ctx); err != nil {
		log.Warn("cancel before escalation failed", "error", err)
	}
	time.Sleep(cancelSettle)

	if !modelInitiated {
		if err := client.SendUserMessage(ctx, farewellMessage); err != nil {
			log.Warn("farewell injection failed", "error", err)
		} else {
			h.relayFarewell(ctx, conn, client, sess)
		}
	}
	time.Sleep(drainPause)

	if _, err := h.publisher.Execute(ctx, sess, reason); err != nil {
		return fmt.Errorf("execute escalation: %w", err)
	}
	return nil
}

// relayFarewell forwards the farewell turn's audio, returning when the
// turn completes or the wait expires.
func (h *Handler) relayFarewell(ctx context.Context, conn Conn, client voice.Client, sess *session.Session) {
	deadline := time.After(farewellTimeout)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case ev, ok := <-client.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case voice.AudioDelta:
				if err := h.writeMedia(conn, sess.StreamSID, e.PayloadB64); err != nil {
					return
				}
			case voice.ResponseDone, voice.ErrorEvent:
				return
			}
		}
	}
}

func (h *Handler) writeMedia(conn Conn, streamSID, payloadB64 string) error {
	data, err := twilio.MediaEnvelope(streamSID, payloadB64)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
