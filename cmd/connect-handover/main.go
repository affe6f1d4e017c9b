// Command connect-handover is the Lambda behind the Amazon Connect
// contact flow. Connect collects the DTMF token the gateway dialed in,
// invokes this function, and branches on the returned attributes.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/lexvoice/voicegate/internal/handover"
)

const (
	queueEscalation = "escalation"
	queueFallback   = "fallback"
)

type handler struct {
	store       handover.Store
	tokenLength int
	logger      *slog.Logger
}

// Handle resolves the collected token into contact attributes. It never
// returns an error to Connect: a failed lookup routes the caller to the
// fallback queue instead of crashing the contact flow.
func (h *handler) Handle(ctx context.Context, event events.ConnectEvent) (events.ConnectResponse, error) {
	token := event.Details.Parameters["token"]

	if !handover.ValidateToken(token, h.tokenLength) {
		h.logger.Warn("malformed handover token", "token_length", len(token))
		return fallbackResponse(), nil
	}

	payload, err := h.store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, handover.ErrNotFound) {
			h.logger.Warn("handover token not found or expired")
		} else {
			h.logger.Error("handover lookup failed", "error", err)
		}
		return fallbackResponse(), nil
	}

	// Tokens are single use. Best effort: a failed delete leaves an
	// entry the TTL will reap.
	if err := h.store.Delete(ctx, token); err != nil {
		h.logger.Warn("handover token delete failed", "error", err)
	}

	h.logger.Info("handover token resolved",
		"conversation_id", payload.ConversationID)
	return events.ConnectResponse{
		"success":           "true",
		"route_to_queue":    queueEscalation,
		"conversation_id":   payload.ConversationID,
		"caller_phone":      payload.CallerPhone,
		"contact_id":        payload.ContactID,
		"ticket_id":         payload.TicketID,
		"summary":           payload.Summary,
		"intent":            payload.Intent,
		"priority":          payload.Priority,
		"escalation_reason": payload.Reason,
	}, nil
}

func fallbackResponse() events.ConnectResponse {
	return events.ConnectResponse{
		"success":        "false",
		"route_to_queue": queueFallback,
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	table := os.Getenv("HANDOVER_TABLE")
	if table == "" {
		table = "HandoverTokens"
	}
	tokenLength := handover.DefaultTokenLength
	if v := os.Getenv("HANDOVER_TOKEN_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			tokenLength = n
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("aws config load failed", "error", err)
		os.Exit(1)
	}

	h := &handler{
		store:       handover.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), table),
		tokenLength: tokenLength,
		logger:      logger,
	}
	lambda.Start(h.Handle)
}
