package handover

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lexvoice/voicegate/internal/escalation"
	"github.com/lexvoice/voicegate/internal/session"
)

// crmPlaceholderPhone is stored on the CRM contact when the caller's
// number is withheld. CRM contacts require a phone; the agent sees the
// real situation in the ticket body.
const crmPlaceholderPhone = "+10000000000"

// CRM is the slice of the ticketing system the publisher needs. All CRM
// work is best effort.
type CRM interface {
	Enabled() bool
	UpsertContact(ctx context.Context, phone string) (string, error)
	CreateTicket(ctx context.Context, contactID, subject, content, priority string) (string, error)
	AddNote(ctx context.Context, ticketID, body string) error
}

// Publisher executes an escalation: mints the token, records CRM
// context, and persists the handover payload. It never touches
// telephony; the caller is moved by the stream-ended webhook once the
// media stream closes.
type Publisher struct {
	store       Store
	crm         CRM
	tokenLength int
	ttl         time.Duration
	logger      *slog.Logger
}

// NewPublisher wires a publisher. crm may be nil.
func NewPublisher(store Store, crm CRM, tokenLength int, ttl time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, crm: crm, tokenLength: tokenLength, ttl: ttl, logger: logger}
}

// Execute runs the full escalation sequence for a session and returns
// the handover token. A store failure fails the escalation; CRM
// failures are logged and skipped so an outage there cannot block a
// transfer.
func (p *Publisher) Execute(ctx context.Context, s *session.Session, reason escalation.Reason) (string, error) {
	s.SetStatus(session.StatusEscalating)

	token, err := GenerateToken(p.tokenLength)
	if err != nil {
		return "", err
	}

	log := p.logger.With(
		"conversation_id", s.ConversationID,
		"call_sid", s.CallSID,
		"reason", string(reason),
	)
	log.Info("executing escalation")

	summary := escalation.Summary(s)
	contactID, ticketID := p.recordCRM(ctx, s, reason, token, summary, log)

	now := time.Now()
	payload := Payload{
		Token:          token,
		ConversationID: s.ConversationID,
		CallerPhone:    s.CallerPhone,
		CreatedAt:      now,
		ExpiresAt:      now.Add(p.ttl),
		ContactID:      contactID,
		TicketID:       ticketID,
		Summary:        summary,
		Intent:         "User requested human assistance",
		Priority:       "medium",
		Reason:         string(reason),
	}
	if err := p.store.Put(ctx, payload); err != nil {
		return "", fmt.Errorf("store handover payload: %w", err)
	}

	s.SetMetadata(session.MetadataHandoverToken, token)
	log.Info("handover token issued")
	return token, nil
}

func (p *Publisher) recordCRM(ctx context.Context, s *session.Session, reason escalation.Reason, token, summary string, log *slog.Logger) (contactID, ticketID string) {
	if p.crm == nil || !p.crm.Enabled() {
		return "", ""
	}

	phone := s.CallerPhone
	if phone == "" {
		phone = crmPlaceholderPhone
	}

	contactID, err := p.crm.UpsertContact(ctx, phone)
	if err != nil {
		log.Warn("crm contact upsert failed", "error", err)
		return "", ""
	}

	subject := fmt.Sprintf("Escalated call from %s", phone)
	ticketID, err = p.crm.CreateTicket(ctx, contactID, subject, summary, "MEDIUM")
	if err != nil {
		log.Warn("crm ticket creation failed", "error", err)
		return contactID, ""
	}

	note := fmt.Sprintf(
		"Conversation ID: %s\nCall SID: %s\nStream SID: %s\nEscalation reason: %s\nHandover token: %s",
		s.ConversationID, s.CallSID, s.StreamSID, reason, token,
	)
	if err := p.crm.AddNote(ctx, ticketID, note); err != nil {
		log.Warn("crm note failed", "error", err)
	}
	return contactID, ticketID
}
