package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lexvoice/voicegate/internal/testutil"
)

func TestEnabled(t *testing.T) {
	if NewHubSpot("", "", nil, nil).Enabled() {
		t.Error("client with no token reports enabled")
	}
	if !NewHubSpot("tok", "", nil, nil).Enabled() {
		t.Error("client with token reports disabled")
	}
}

func TestUpsertContactExisting(t *testing.T) {
	client := NewHubSpot("test-token", DefaultBaseURL, testutil.NewVCRClient(t, "hubspot_upsert_contact"), nil)

	id, err := client.UpsertContact(context.Background(), "+61400000000")
	if err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	if id != "301" {
		t.Errorf("contact id = %q, want 301", id)
	}
}

func TestEscalationFlow(t *testing.T) {
	var searchCalled, contactCreated, ticketAssociated, noteAssociated bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization = %q", got)
		}
		switch {
		case r.URL.Path == "/crm/v3/objects/contacts/search":
			searchCalled = true
			json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
		case r.URL.Path == "/crm/v3/objects/contacts":
			contactCreated = true
			var body struct {
				Properties map[string]string `json:"properties"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if body.Properties["phone"] != "+61400000000" {
				t.Errorf("contact phone = %q", body.Properties["phone"])
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "77"})
		case r.URL.Path == "/crm/v3/objects/tickets":
			json.NewEncoder(w).Encode(map[string]string{"id": "500"})
		case strings.HasPrefix(r.URL.Path, "/crm/v4/objects/ticket/500/associations/default/contact/77"):
			ticketAssociated = true
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/crm/v3/objects/notes":
			json.NewEncoder(w).Encode(map[string]string{"id": "900"})
		case strings.HasPrefix(r.URL.Path, "/crm/v4/objects/note/900/associations/default/ticket/500"):
			noteAssociated = true
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewHubSpot("test-token", srv.URL, srv.Client(), nil)
	ctx := context.Background()

	contactID, err := client.UpsertContact(ctx, "+61400000000")
	if err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	if contactID != "77" {
		t.Errorf("contact id = %q", contactID)
	}

	ticketID, err := client.CreateTicket(ctx, contactID, "Escalated call", "summary", "MEDIUM")
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if ticketID != "500" {
		t.Errorf("ticket id = %q", ticketID)
	}

	if err := client.AddNote(ctx, ticketID, "token: 1234567890"); err != nil {
		t.Fatalf("AddNote: %v", err)
	}

	for name, called := range map[string]bool{
		"search":           searchCalled,
		"contact create":   contactCreated,
		"ticket associate": ticketAssociated,
		"note associate":   noteAssociated,
	} {
		if !called {
			t.Errorf("%s endpoint never hit", name)
		}
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"bad phone"}`))
	}))
	defer srv.Close()

	client := NewHubSpot("test-token", srv.URL, srv.Client(), nil)
	if _, err := client.UpsertContact(context.Background(), "nope"); err == nil {
		t.Fatal("expected error on 400")
	}
	if calls != 1 {
		t.Errorf("400 was retried %d times", calls-1)
	}
}
