package webhook

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/lexvoice/voicegate/internal/session"
)

func newTestHandlers() (*Handlers, *session.Registry) {
	registry := session.NewRegistry()
	h := &Handlers{
		PublicHost:    "voice.example.com",
		ConnectNumber: "+61280000000",
		TokenLength:   10,
		Registry:      registry,
	}
	return h, registry
}

func postForm(t *testing.T, h *Handlers, path string, form url.Values) (int, string) {
	t.Helper()
	r := chi.NewRouter()
	h.Mount(r)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestVoiceWebhook(t *testing.T) {
	h, _ := newTestHandlers()
	code, body := postForm(t, h, "/twilio/voice", url.Values{"From": {"+61400000000"}})

	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	for _, want := range []string{
		"wss://voice.example.com/twilio/stream",
		"https://voice.example.com/twilio/stream-ended",
		`name="From"`,
		"+61400000000",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("twiml missing %q:\n%s", want, body)
		}
	}
}

func TestStreamEndedWithoutEscalation(t *testing.T) {
	h, registry := newTestHandlers()
	registry.Create("CA1", "MZ1", "+61400000000")

	_, body := postForm(t, h, "/twilio/stream-ended", url.Values{"CallSid": {"CA1"}})
	if !strings.Contains(body, "Goodbye") || !strings.Contains(body, "<Hangup") {
		t.Errorf("expected goodbye + hangup, got:\n%s", body)
	}
	if registry.Len() != 0 {
		t.Error("session not removed after stream-ended")
	}
}

func TestStreamEndedWithHandover(t *testing.T) {
	h, registry := newTestHandlers()
	s := registry.Create("CA1", "MZ1", "+61400000000")
	s.SetMetadata(session.MetadataHandoverToken, "1234567890")

	_, body := postForm(t, h, "/twilio/stream-ended", url.Values{"CallSid": {"CA1"}})
	for _, want := range []string{
		"+61280000000",
		`sendDigits="wwww1234567890#"`,
		"https://voice.example.com/twilio/escalate-status",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("twiml missing %q:\n%s", want, body)
		}
	}
	if registry.Len() != 0 {
		t.Error("session not removed after handover dial")
	}
}

func TestStreamEndedUnknownCall(t *testing.T) {
	h, _ := newTestHandlers()
	code, body := postForm(t, h, "/twilio/stream-ended", url.Values{"CallSid": {"CA404"}})
	if code != http.StatusOK || !strings.Contains(body, "<Hangup") {
		t.Errorf("code=%d body:\n%s", code, body)
	}
}

func TestEscalateStatusFallback(t *testing.T) {
	h, _ := newTestHandlers()

	_, body := postForm(t, h, "/twilio/escalate-status", url.Values{"DialCallStatus": {"no-answer"}})
	if !strings.Contains(body, "could not reach an agent") {
		t.Errorf("missing fallback message:\n%s", body)
	}

	_, body = postForm(t, h, "/twilio/escalate-status", url.Values{"DialCallStatus": {"completed"}})
	if strings.Contains(body, "could not reach an agent") {
		t.Errorf("fallback message on completed dial:\n%s", body)
	}
}

func TestHealth(t *testing.T) {
	h, registry := newTestHandlers()
	registry.Create("CA1", "MZ1", "")

	r := chi.NewRouter()
	h.Mount(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Result().Body)
	if !strings.Contains(string(body), `"sessions":1`) {
		t.Errorf("body = %s", body)
	}
}
