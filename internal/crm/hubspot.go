// Package crm records escalation context in HubSpot so the human agent
// has a contact, a ticket, and the call notes waiting for them. All
// operations here are best effort from the caller's point of view.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultBaseURL is the public HubSpot API endpoint.
const DefaultBaseURL = "https://api.hubapi.com"

// HubSpot is a minimal client for the contact/ticket/note objects.
type HubSpot struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHubSpot creates a client. An empty token disables it. httpClient
// may be nil.
func NewHubSpot(token, baseURL string, httpClient *http.Client, logger *slog.Logger) *HubSpot {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HubSpot{baseURL: baseURL, token: token, httpClient: httpClient, logger: logger}
}

// Enabled reports whether the client has credentials.
func (h *HubSpot) Enabled() bool {
	return h.token != ""
}

// UpsertContact finds the contact with the given phone number, creating
// one if missing, and returns its ID.
func (h *HubSpot) UpsertContact(ctx context.Context, phone string) (string, error) {
	search := map[string]any{
		"filterGroups": []any{
			map[string]any{
				"filters": []any{
					map[string]any{"propertyName": "phone", "operator": "EQ", "value": phone},
				},
			},
		},
		"limit": 1,
	}
	var searchResp struct {
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := h.doJSON(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", search, &searchResp); err != nil {
		return "", fmt.Errorf("search contact: %w", err)
	}
	if len(searchResp.Results) > 0 {
		return searchResp.Results[0].ID, nil
	}

	create := map[string]any{
		"properties": map[string]string{
			"phone":          phone,
			"lifecyclestage": "lead",
		},
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := h.doJSON(ctx, http.MethodPost, "/crm/v3/objects/contacts", create, &created); err != nil {
		return "", fmt.Errorf("create contact: %w", err)
	}
	return created.ID, nil
}

// CreateTicket opens a ticket in the default pipeline and associates it
// with the contact. A failed association is logged, not returned; the
// ticket itself is the valuable part.
func (h *HubSpot) CreateTicket(ctx context.Context, contactID, subject, content, priority string) (string, error) {
	body := map[string]any{
		"properties": map[string]string{
			"subject":            subject,
			"content":            content,
			"hs_pipeline":        "0",
			"hs_pipeline_stage":  "1",
			"hs_ticket_priority": priority,
		},
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := h.doJSON(ctx, http.MethodPost, "/crm/v3/objects/tickets", body, &created); err != nil {
		return "", fmt.Errorf("create ticket: %w", err)
	}

	assocPath := fmt.Sprintf("/crm/v4/objects/ticket/%s/associations/default/contact/%s", created.ID, contactID)
	if err := h.doJSON(ctx, http.MethodPut, assocPath, nil, nil); err != nil {
		h.logger.Warn("ticket association failed", "ticket_id", created.ID, "error", err)
	}
	return created.ID, nil
}

// AddNote attaches a note to a ticket.
func (h *HubSpot) AddNote(ctx context.Context, ticketID, noteBody string) error {
	body := map[string]any{
		"properties": map[string]string{
			"hs_note_body": noteBody,
			"hs_timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := h.doJSON(ctx, http.MethodPost, "/crm/v3/objects/notes", body, &created); err != nil {
		return fmt.Errorf("create note: %w", err)
	}

	assocPath := fmt.Sprintf("/crm/v4/objects/note/%s/associations/default/ticket/%s", created.ID, ticketID)
	if err := h.doJSON(ctx, http.MethodPut, assocPath, nil, nil); err != nil {
		h.logger.Warn("note association failed", "note_id", created.ID, "error", err)
	}
	return nil
}

// doJSON issues one API call with retry on 429 and 5xx.
func (h *HubSpot) doJSON(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(4, retry.NewExponential(time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+h.token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := h.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("hubspot %s %s: status %d", method, path, resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("hubspot %s %s: status %d: %s", method, path, resp.StatusCode, data)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	})
}
